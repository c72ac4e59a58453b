package consistency

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/your-org/faceid/internal/index"
	"github.com/your-org/faceid/internal/models"
	"github.com/your-org/faceid/internal/observability"
)

// Reconciler repairs record/index divergence. The record store always wins:
// whatever assignment or group label the relational row carries is written
// over the index payload. Running it twice in a row is a no-op.
type Reconciler struct {
	store     RecordStore
	idx       index.Client
	logger    *slog.Logger
	batchSize int
}

func NewReconciler(store RecordStore, idx index.Client, batchSize int, logger *slog.Logger) *Reconciler {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Reconciler{store: store, idx: idx, batchSize: batchSize, logger: logger}
}

// Report summarizes one reconciliation run.
type Report struct {
	QueueEntries  int `json:"queue_entries"`
	FacesScanned  int `json:"faces_scanned"`
	Repaired      int `json:"repaired"`
	MissingPoints int `json:"missing_points"`
}

// Run drains the reconcile queue, then scans every indexed face and rewrites
// payloads that disagree with the record store. queueOnly skips the scan, so
// targeted repair after a dual-write failure stays cheap.
func (r *Reconciler) Run(ctx context.Context, queueOnly bool) (*Report, error) {
	report := &Report{}

	if err := r.drainQueue(ctx, report); err != nil {
		return report, err
	}
	if !queueOnly {
		if err := r.scan(ctx, report); err != nil {
			return report, err
		}
	}

	r.logger.Info("reconciliation finished",
		"queue_entries", report.QueueEntries,
		"faces_scanned", report.FacesScanned,
		"repaired", report.Repaired,
		"missing_points", report.MissingPoints)
	return report, nil
}

func (r *Reconciler) drainQueue(ctx context.Context, report *Report) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		entries, err := r.store.FetchReconcileBatch(ctx, r.batchSize)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		report.QueueEntries += len(entries)

		seen := make(map[uuid.UUID]bool)
		var faceIDs []uuid.UUID
		entryIDs := make([]uuid.UUID, len(entries))
		for i, e := range entries {
			entryIDs[i] = e.ID
			if !seen[e.FaceID] {
				seen[e.FaceID] = true
				faceIDs = append(faceIDs, e.FaceID)
			}
		}

		faces, err := r.store.GetFaces(ctx, faceIDs)
		if err != nil {
			return err
		}
		if err := r.repairFaces(ctx, faces, report); err != nil {
			return err
		}
		if err := r.store.DeleteReconcileEntries(ctx, entryIDs); err != nil {
			return err
		}
	}
}

func (r *Reconciler) scan(ctx context.Context, report *Report) error {
	after := uuid.Nil
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		faces, err := r.store.ListFacesWithPoints(ctx, after, r.batchSize)
		if err != nil {
			return err
		}
		if len(faces) == 0 {
			return nil
		}
		report.FacesScanned += len(faces)
		after = faces[len(faces)-1].ID

		if err := r.repairFaces(ctx, faces, report); err != nil {
			return err
		}
	}
}

// repairFaces compares each face's record state against its index payload
// and overwrites diverging payloads from the record values, batched per
// target value.
func (r *Reconciler) repairFaces(ctx context.Context, faces []models.FaceRecord, report *Report) error {
	type target struct {
		personID   *uuid.UUID
		groupLabel *string
	}
	diverged := make(map[string][]uint64)
	targets := make(map[string]target)

	indexed := make([]models.FaceRecord, 0, len(faces))
	pointIDs := make([]uint64, 0, len(faces))
	for _, f := range faces {
		if f.PointID == nil {
			continue
		}
		indexed = append(indexed, f)
		pointIDs = append(pointIDs, *f.PointID)
	}
	if len(indexed) == 0 {
		return nil
	}

	points, err := r.idx.BatchRetrieve(ctx, pointIDs)
	if err != nil {
		var stale *models.StaleReferenceError
		if !errors.As(err, &stale) {
			return err
		}
		// At least one record references a point the index no longer
		// has. Retry one by one to isolate the missing ones; the batch
		// path stays the common case.
		points = points[:0]
		kept := indexed[:0]
		for _, f := range indexed {
			pts, err := r.idx.BatchRetrieve(ctx, []uint64{*f.PointID})
			if err != nil {
				if errors.As(err, &stale) {
					report.MissingPoints++
					r.logger.Warn("face references missing index point",
						"face_id", f.ID, "point_id", *f.PointID)
					continue
				}
				return err
			}
			points = append(points, pts[0])
			kept = append(kept, f)
		}
		indexed = kept
	}

	for i, f := range indexed {
		pt := points[i]
		if uuidPtrEqual(pt.PersonID, f.PersonID) && strPtrEqual(pt.GroupLabel, f.GroupLabel) {
			continue
		}
		key := payloadKey(f.PersonID, f.GroupLabel)
		diverged[key] = append(diverged[key], *f.PointID)
		targets[key] = target{personID: f.PersonID, groupLabel: f.GroupLabel}
	}

	for key, pointIDs := range diverged {
		t := targets[key]
		if err := r.idx.BatchSetPayload(ctx, pointIDs, t.personID, t.groupLabel); err != nil {
			return &models.StoreWriteError{Store: models.StoreIndex, Op: "reconcile payload", Err: err}
		}
		report.Repaired += len(pointIDs)
		observability.ReconcileDivergences.Add(float64(len(pointIDs)))
	}
	return nil
}

func payloadKey(personID *uuid.UUID, groupLabel *string) string {
	key := "/"
	if personID != nil {
		key = personID.String() + key
	}
	if groupLabel != nil {
		key += *groupLabel
	}
	return key
}

func uuidPtrEqual(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
