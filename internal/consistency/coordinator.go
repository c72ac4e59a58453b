// Package consistency is the only place where the record store and the
// vector index are mutated together. Every dual write follows one order:
// relational record first (authoritative), then batched index payload
// propagation. An index failure never rolls the record back; it is queued
// for reconciliation and surfaced as OutcomeReconcilePending.
package consistency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/your-org/faceid/internal/centroid"
	"github.com/your-org/faceid/internal/cluster"
	"github.com/your-org/faceid/internal/index"
	"github.com/your-org/faceid/internal/models"
	"github.com/your-org/faceid/internal/observability"
)

// RecordStore is the relational surface the coordinator mutates. Implemented
// by storage.PostgresStore; narrowed to an interface so dual-write ordering
// is testable against fakes.
type RecordStore interface {
	GetFace(ctx context.Context, id uuid.UUID) (*models.FaceRecord, error)
	GetFaces(ctx context.Context, ids []uuid.UUID) ([]models.FaceRecord, error)
	ListFacesByPerson(ctx context.Context, personID uuid.UUID) ([]models.FaceRecord, error)
	ListFacesWithPoints(ctx context.Context, afterID uuid.UUID, limit int) ([]models.FaceRecord, error)
	UpdateFaceAssignment(ctx context.Context, faceID uuid.UUID, personID *uuid.UUID, groupLabel *string, expectedVersion int64) error
	BatchSetGroupLabels(ctx context.Context, labels map[uuid.UUID]string) error
	ReassignFaces(ctx context.Context, src, dst uuid.UUID) ([]uuid.UUID, error)

	GetPerson(ctx context.Context, id uuid.UUID) (*models.Person, error)
	MarkPersonMerged(ctx context.Context, src, dst uuid.UUID) error

	GetActiveCentroid(ctx context.Context, key models.CentroidKey) (*models.Centroid, error)
	InsertBuildingCentroid(ctx context.Context, c *models.Centroid) error
	UpdateCentroidVector(ctx context.Context, id uuid.UUID, vector []float32, faceCount int, sourceHash string, trim float64) error
	MarkCentroidFailed(ctx context.Context, id uuid.UUID) error
	ActivateCentroid(ctx context.Context, id uuid.UUID, key models.CentroidKey, pointID uint64) error
	DeprecateCentroidsForPerson(ctx context.Context, personID uuid.UUID) error

	GetSuggestion(ctx context.Context, id uuid.UUID) (*models.Suggestion, error)
	InsertPendingSuggestion(ctx context.Context, sg *models.Suggestion) error
	ResolveSuggestion(ctx context.Context, id uuid.UUID, status models.SuggestionStatus) error

	DismissGroup(ctx context.Context, membershipHash string, faceCount int) error
	IsGroupDismissed(ctx context.Context, membershipHash string) (bool, error)

	CreatePrototype(ctx context.Context, p *models.Prototype) error
	SetPrimaryPrototype(ctx context.Context, personID, faceID uuid.UUID) error
	CountExemplars(ctx context.Context, personID uuid.UUID) (int, error)

	EnqueueReconcile(ctx context.Context, faceIDs []uuid.UUID, reason string) error
	FetchReconcileBatch(ctx context.Context, limit int) ([]models.ReconcileEntry, error)
	DeleteReconcileEntries(ctx context.Context, ids []uuid.UUID) error
}

type Coordinator struct {
	store  RecordStore
	idx    index.Client
	logger *slog.Logger

	centroidParams centroid.Params
	maxExemplars   int

	faceLocks   keyedLocks
	personLocks keyedLocks
}

func NewCoordinator(store RecordStore, idx index.Client, centroidParams centroid.Params, maxExemplars int, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:          store,
		idx:            idx,
		logger:         logger,
		centroidParams: centroidParams,
		maxExemplars:   maxExemplars,
	}
}

// AssignFace links a face to a person: record first under the face's
// version, then index payload. Serialized per face so two concurrent accepts
// surface as a version conflict instead of a silent last-write-wins.
func (c *Coordinator) AssignFace(ctx context.Context, faceID, personID uuid.UUID, score float32, source models.SuggestionSource) (models.Outcome, error) {
	unlock := c.faceLocks.lock(faceID)
	defer unlock()

	face, err := c.store.GetFace(ctx, faceID)
	if err != nil {
		return models.OutcomeFailed, err
	}

	if face.PersonID == nil || *face.PersonID != personID {
		err = c.store.UpdateFaceAssignment(ctx, faceID, &personID, nil, face.Version)
		if err != nil {
			if errors.Is(err, models.ErrVersionConflict) || errors.Is(err, models.ErrNotFound) {
				return models.OutcomeFailed, err
			}
			return models.OutcomeFailed, &models.StoreWriteError{Store: models.StoreRecord, Op: "assign face", Err: err}
		}
	}

	c.logger.Info("face assigned",
		"face_id", faceID, "person_id", personID,
		"score", score, "source", string(source.Kind))

	if face.PointID == nil {
		return models.OutcomeCompleted, nil
	}
	return c.propagateAssignment(ctx, []uint64{*face.PointID}, []uuid.UUID{faceID}, &personID, nil, "assign face")
}

// propagateAssignment pushes assignment payload for already-written records
// to the index. Failure queues the faces for reconciliation; the records
// stay as written.
func (c *Coordinator) propagateAssignment(ctx context.Context, pointIDs []uint64, faceIDs []uuid.UUID, personID *uuid.UUID, groupLabel *string, op string) (models.Outcome, error) {
	if len(pointIDs) == 0 {
		return models.OutcomeCompleted, nil
	}
	if err := c.idx.BatchSetPayload(ctx, pointIDs, personID, groupLabel); err != nil {
		observability.DualWriteFailures.WithLabelValues(string(models.StoreIndex), op).Inc()
		c.logger.Warn("index propagation failed, queued for reconciliation",
			"op", op, "faces", len(faceIDs), "error", err)
		if qerr := c.store.EnqueueReconcile(ctx, faceIDs, op); qerr != nil {
			// Both stores failing is not recoverable here.
			return models.OutcomeFailed, &models.StoreWriteError{Store: models.StoreRecord, Op: "enqueue reconcile", Err: qerr}
		}
		return models.OutcomeReconcilePending, nil
	}
	return models.OutcomeCompleted, nil
}

// ApplyClusterResult persists one clustering run: supervised assignments,
// group labels, and noise pseudo-labels. Groups whose exact membership was
// previously dismissed keep their faces unlabeled. Index propagation is
// batched per target value.
func (c *Coordinator) ApplyClusterResult(ctx context.Context, res *cluster.Result) (models.Outcome, error) {
	outcome := models.OutcomeCompleted

	for _, a := range res.Assignments {
		o, err := c.AssignFace(ctx, a.FaceID, a.PersonID, float32(a.Score), models.SuggestionSource{Kind: models.SourceFace, ID: a.FaceID})
		if err != nil {
			if errors.Is(err, models.ErrVersionConflict) {
				// The face changed under us, likely a concurrent user
				// action. Their write wins.
				c.logger.Debug("skipping clustered face after concurrent update", "face_id", a.FaceID)
				continue
			}
			return models.OutcomeFailed, err
		}
		observability.FacesClustered.WithLabelValues("assigned").Inc()
		if o == models.OutcomeReconcilePending {
			outcome = o
		}
	}

	labels := make(map[uuid.UUID]string)
	for label, members := range res.Groups {
		hash := models.MembershipHash(members)
		dismissed, err := c.store.IsGroupDismissed(ctx, hash)
		if err != nil {
			return models.OutcomeFailed, err
		}
		if dismissed {
			c.logger.Debug("skipping dismissed group", "label", label, "faces", len(members))
			continue
		}
		for _, id := range members {
			labels[id] = label
			observability.FacesClustered.WithLabelValues("grouped").Inc()
		}
	}
	for _, id := range res.Noise {
		labels[id] = cluster.NoiseLabel(id)
		observability.FacesClustered.WithLabelValues("noise").Inc()
	}

	if err := c.store.BatchSetGroupLabels(ctx, labels); err != nil {
		return models.OutcomeFailed, &models.StoreWriteError{Store: models.StoreRecord, Op: "set group labels", Err: err}
	}

	o, err := c.propagateGroupLabels(ctx, labels)
	if err != nil {
		return models.OutcomeFailed, err
	}
	if o == models.OutcomeReconcilePending {
		outcome = o
	}
	return outcome, nil
}

// propagateGroupLabels pushes group labels to the index, one batched call
// per label value.
func (c *Coordinator) propagateGroupLabels(ctx context.Context, labels map[uuid.UUID]string) (models.Outcome, error) {
	byLabel := make(map[string][]uuid.UUID)
	for id, label := range labels {
		byLabel[label] = append(byLabel[label], id)
	}

	outcome := models.OutcomeCompleted
	for label, faceIDs := range byLabel {
		faces, err := c.store.GetFaces(ctx, faceIDs)
		if err != nil {
			return models.OutcomeFailed, err
		}
		var pointIDs []uint64
		var withPoints []uuid.UUID
		for _, f := range faces {
			// Labels only apply to still-unassigned faces; mirror that
			// filter here so the index agrees with the records.
			if f.PointID == nil || f.PersonID != nil {
				continue
			}
			pointIDs = append(pointIDs, *f.PointID)
			withPoints = append(withPoints, f.ID)
		}
		l := label
		o, err := c.propagateAssignment(ctx, pointIDs, withPoints, nil, &l, "set group labels")
		if err != nil {
			return models.OutcomeFailed, err
		}
		if o == models.OutcomeReconcilePending {
			outcome = o
		}
	}
	return outcome, nil
}

// AcceptSuggestion applies a reviewer's accept: assignment and suggestion
// status change in the record store, then payload propagation. The index
// write failing does not fail the accept; it is queued for reconciliation.
func (c *Coordinator) AcceptSuggestion(ctx context.Context, suggestionID uuid.UUID) (models.Outcome, error) {
	sg, err := c.store.GetSuggestion(ctx, suggestionID)
	if err != nil {
		return models.OutcomeFailed, err
	}
	if sg.Status != models.SuggestionStatusPending {
		if sg.Status == models.SuggestionStatusAccepted {
			return models.OutcomeCompleted, nil
		}
		return models.OutcomeFailed, fmt.Errorf("suggestion %s already %s: %w", suggestionID, sg.Status, models.ErrNotFound)
	}

	unlock := c.faceLocks.lock(sg.FaceID)
	defer unlock()

	face, err := c.store.GetFace(ctx, sg.FaceID)
	if err != nil {
		return models.OutcomeFailed, err
	}
	err = c.store.UpdateFaceAssignment(ctx, sg.FaceID, &sg.PersonID, nil, face.Version)
	if err != nil {
		if errors.Is(err, models.ErrVersionConflict) || errors.Is(err, models.ErrNotFound) {
			return models.OutcomeFailed, err
		}
		return models.OutcomeFailed, &models.StoreWriteError{Store: models.StoreRecord, Op: "accept suggestion", Err: err}
	}
	if err := c.store.ResolveSuggestion(ctx, suggestionID, models.SuggestionStatusAccepted); err != nil {
		return models.OutcomeFailed, &models.StoreWriteError{Store: models.StoreRecord, Op: "resolve suggestion", Err: err}
	}

	c.logger.Info("suggestion accepted",
		"suggestion_id", suggestionID, "face_id", sg.FaceID, "person_id", sg.PersonID)

	if face.PointID == nil {
		return models.OutcomeCompleted, nil
	}
	return c.propagateAssignment(ctx, []uint64{*face.PointID}, []uuid.UUID{sg.FaceID}, &sg.PersonID, nil, "accept suggestion")
}

// RejectSuggestion resolves a pending suggestion as rejected. Record store
// only; the face's index payload is untouched.
func (c *Coordinator) RejectSuggestion(ctx context.Context, suggestionID uuid.UUID) (models.Outcome, error) {
	if err := c.store.ResolveSuggestion(ctx, suggestionID, models.SuggestionStatusRejected); err != nil {
		return models.OutcomeFailed, err
	}
	return models.OutcomeCompleted, nil
}

// CreatePendingSuggestion persists a new pending suggestion. The storage
// unique constraint is the final dedup guard; a concurrent duplicate
// surfaces as ErrDuplicateSuggestion.
func (c *Coordinator) CreatePendingSuggestion(ctx context.Context, sg *models.Suggestion) error {
	return c.store.InsertPendingSuggestion(ctx, sg)
}

// DismissGroup marks an exact face set as unwanted, keyed by membership
// hash so the decision survives relabeling by later clustering runs.
func (c *Coordinator) DismissGroup(ctx context.Context, faceIDs []uuid.UUID) (models.Outcome, error) {
	if len(faceIDs) == 0 {
		return models.OutcomeFailed, fmt.Errorf("dismiss group: empty face set: %w", models.ErrInsufficientData)
	}
	hash := models.MembershipHash(faceIDs)
	if err := c.store.DismissGroup(ctx, hash, len(faceIDs)); err != nil {
		return models.OutcomeFailed, &models.StoreWriteError{Store: models.StoreRecord, Op: "dismiss group", Err: err}
	}
	return models.OutcomeCompleted, nil
}

// MergePersons moves every face of src onto dst, marks src merged, and
// deprecates src's centroids. dst's centroid stays active; the changed face
// set makes it read as stale before any reuse.
func (c *Coordinator) MergePersons(ctx context.Context, src, dst uuid.UUID) (models.Outcome, error) {
	if src == dst {
		return models.OutcomeFailed, fmt.Errorf("merge person into itself: %s", src)
	}
	// Lock both persons in fixed order so concurrent opposite merges
	// cannot deadlock.
	first, second := src, dst
	if stripeFor(second) < stripeFor(first) {
		first, second = second, first
	}
	unlockFirst := c.personLocks.lock(first)
	defer unlockFirst()
	if stripeFor(first) != stripeFor(second) {
		unlockSecond := c.personLocks.lock(second)
		defer unlockSecond()
	}

	if _, err := c.store.GetPerson(ctx, dst); err != nil {
		return models.OutcomeFailed, fmt.Errorf("merge target: %w", err)
	}

	moved, err := c.store.ReassignFaces(ctx, src, dst)
	if err != nil {
		return models.OutcomeFailed, &models.StoreWriteError{Store: models.StoreRecord, Op: "merge persons", Err: err}
	}
	if err := c.store.MarkPersonMerged(ctx, src, dst); err != nil {
		return models.OutcomeFailed, &models.StoreWriteError{Store: models.StoreRecord, Op: "mark person merged", Err: err}
	}
	if err := c.store.DeprecateCentroidsForPerson(ctx, src); err != nil {
		return models.OutcomeFailed, &models.StoreWriteError{Store: models.StoreRecord, Op: "deprecate centroids", Err: err}
	}

	c.logger.Info("persons merged", "src", src, "dst", dst, "faces_moved", len(moved))

	faces, err := c.store.GetFaces(ctx, moved)
	if err != nil {
		return models.OutcomeFailed, err
	}
	var pointIDs []uint64
	var withPoints []uuid.UUID
	for _, f := range faces {
		if f.PointID != nil {
			pointIDs = append(pointIDs, *f.PointID)
			withPoints = append(withPoints, f.ID)
		}
	}
	return c.propagateAssignment(ctx, pointIDs, withPoints, &dst, nil, "merge persons")
}

// EnsureExemplars tops up a person's exemplar prototypes from its
// highest-quality faces and guarantees a primary exists.
func (c *Coordinator) EnsureExemplars(ctx context.Context, personID uuid.UUID) error {
	count, err := c.store.CountExemplars(ctx, personID)
	if err != nil {
		return err
	}
	if count >= c.maxExemplars {
		return nil
	}

	faces, err := c.store.ListFacesByPerson(ctx, personID)
	if err != nil {
		return err
	}
	if len(faces) == 0 {
		return nil
	}

	best := bestQualityFaces(faces, c.maxExemplars)
	if count == 0 {
		if err := c.store.SetPrimaryPrototype(ctx, personID, best[0].ID); err != nil {
			return fmt.Errorf("set primary prototype: %w", err)
		}
		best = best[1:]
	}
	for _, f := range best {
		p := &models.Prototype{
			ID:       uuid.New(),
			PersonID: personID,
			FaceID:   f.ID,
			Role:     models.RoleExemplar,
		}
		if err := c.store.CreatePrototype(ctx, p); err != nil {
			return fmt.Errorf("create exemplar prototype: %w", err)
		}
	}
	return nil
}

func bestQualityFaces(faces []models.FaceRecord, k int) []models.FaceRecord {
	out := make([]models.FaceRecord, len(faces))
	copy(out, faces)
	// Quality descending, ID ascending for determinism.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Quality != out[j].Quality {
			return out[i].Quality > out[j].Quality
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}
