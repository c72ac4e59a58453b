package consistency

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/your-org/faceid/internal/centroid"
	"github.com/your-org/faceid/internal/index"
	"github.com/your-org/faceid/internal/models"
	"github.com/your-org/faceid/internal/observability"
)

// ActiveCentroid returns the person's current global centroid, building and
// publishing one when none is active or the active one is stale. Satisfies
// the suggestion engine's provider contract so every centroid in the system
// comes out of the same pipeline.
func (c *Coordinator) ActiveCentroid(ctx context.Context, personID uuid.UUID) (*models.Centroid, error) {
	key := c.globalKey(personID)
	existing, err := c.store.GetActiveCentroid(ctx, key)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		faces, err := c.store.ListFacesByPerson(ctx, personID)
		if err != nil {
			return nil, err
		}
		if !centroid.IsStale(existing, c.centroidParams.ModelVersion, c.centroidParams.AlgoVersion, indexedFaceIDs(faces)) {
			return existing, nil
		}
	}

	built, _, err := c.PublishCentroid(ctx, personID)
	if err != nil {
		if errors.Is(err, models.ErrBuildInProgress) && existing != nil {
			// Someone else is rebuilding. The stale one is still the
			// best available reference.
			return existing, nil
		}
		return nil, err
	}
	return built, nil
}

// PublishCentroid recomputes and publishes the person's global centroid via
// create-before-deprecate:
//
//  1. Insert a building row. The storage uniqueness constraint on the
//     building state serializes concurrent recomputes for the same key.
//  2. Compute the robust mean and store the vector on the building row.
//  3. Insert the vector into the index. On failure the building row is
//     marked failed and the prior active centroid stays untouched, so the
//     person never loses its last usable reference.
//  4. Atomically deprecate the prior active row and promote the new one.
//
// The superseded index point is deleted best-effort afterwards; a leftover
// point is unreferenced, not incorrect.
func (c *Coordinator) PublishCentroid(ctx context.Context, personID uuid.UUID) (*models.Centroid, models.Outcome, error) {
	unlock := c.personLocks.lock(personID)
	defer unlock()

	key := c.globalKey(personID)

	faces, err := c.store.ListFacesByPerson(ctx, personID)
	if err != nil {
		return nil, models.OutcomeFailed, err
	}

	prior, err := c.store.GetActiveCentroid(ctx, key)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, models.OutcomeFailed, err
	}
	if prior != nil && !centroid.IsStale(prior, c.centroidParams.ModelVersion, c.centroidParams.AlgoVersion, indexedFaceIDs(faces)) {
		return prior, models.OutcomeCompleted, nil
	}

	building := &models.Centroid{
		ID:           uuid.New(),
		PersonID:     personID,
		ModelVersion: key.ModelVersion,
		AlgoVersion:  key.AlgoVersion,
		Type:         key.Type,
		Status:       models.CentroidStatusBuilding,
	}
	if err := c.store.InsertBuildingCentroid(ctx, building); err != nil {
		if errors.Is(err, models.ErrBuildInProgress) {
			return nil, models.OutcomeFailed, err
		}
		return nil, models.OutcomeFailed, &models.StoreWriteError{Store: models.StoreRecord, Op: "insert building centroid", Err: err}
	}

	result, err := c.computeFromFaces(ctx, faces)
	if err != nil {
		c.failBuild(ctx, building.ID)
		return nil, models.OutcomeFailed, err
	}

	err = c.store.UpdateCentroidVector(ctx, building.ID, result.Vector, result.SourceFaces, result.SourceHash, result.TrimFraction)
	if err != nil {
		c.failBuild(ctx, building.ID)
		return nil, models.OutcomeFailed, &models.StoreWriteError{Store: models.StoreRecord, Op: "store centroid vector", Err: err}
	}

	pointIDs, err := c.idx.BatchInsert(ctx, []index.Point{{
		FaceID:   building.ID,
		Vector:   result.Vector,
		PersonID: &personID,
	}})
	if err != nil {
		observability.DualWriteFailures.WithLabelValues(string(models.StoreIndex), "publish centroid").Inc()
		c.failBuild(ctx, building.ID)
		// Prior active centroid is intact; the caller retries later.
		return nil, models.OutcomeFailed, &models.StoreWriteError{Store: models.StoreIndex, Op: "publish centroid", Err: err}
	}

	if err := c.store.ActivateCentroid(ctx, building.ID, key, pointIDs[0]); err != nil {
		c.failBuild(ctx, building.ID)
		return nil, models.OutcomeFailed, &models.StoreWriteError{Store: models.StoreRecord, Op: "activate centroid", Err: err}
	}
	observability.CentroidBuilds.WithLabelValues(string(models.CentroidStatusActive)).Inc()

	if prior != nil && prior.PointID != nil {
		if err := c.idx.Delete(ctx, *prior.PointID); err != nil {
			c.logger.Warn("failed to delete superseded centroid point",
				"centroid_id", prior.ID, "point_id", *prior.PointID, "error", err)
		}
	}

	c.logger.Info("centroid published",
		"person_id", personID, "centroid_id", building.ID,
		"faces", result.SourceFaces, "trim", result.TrimFraction)

	published := *building
	published.Status = models.CentroidStatusActive
	published.Vector = result.Vector
	published.FaceCount = result.SourceFaces
	published.SourceHash = result.SourceHash
	published.TrimFraction = result.TrimFraction
	published.PointID = &pointIDs[0]
	return &published, models.OutcomeCompleted, nil
}

// computeFromFaces pulls the face embeddings from the index in one batched
// call and runs the robust mean over them.
func (c *Coordinator) computeFromFaces(ctx context.Context, faces []models.FaceRecord) (*centroid.Result, error) {
	var (
		pointIDs []uint64
		indexed  []models.FaceRecord
	)
	for _, f := range faces {
		if f.PointID != nil {
			pointIDs = append(pointIDs, *f.PointID)
			indexed = append(indexed, f)
		}
	}
	if len(indexed) < 2 {
		return nil, fmt.Errorf("centroid: %d indexed faces: %w", len(indexed), models.ErrInsufficientData)
	}

	points, err := c.idx.BatchRetrieve(ctx, pointIDs)
	if err != nil {
		return nil, err
	}
	withEmbeddings := make([]models.FaceWithEmbedding, len(indexed))
	for i := range indexed {
		withEmbeddings[i] = models.FaceWithEmbedding{Face: indexed[i], Embedding: points[i].Vector}
	}
	return centroid.Compute(withEmbeddings, c.centroidParams)
}

func (c *Coordinator) failBuild(ctx context.Context, id uuid.UUID) {
	observability.CentroidBuilds.WithLabelValues(string(models.CentroidStatusFailed)).Inc()
	if err := c.store.MarkCentroidFailed(ctx, id); err != nil {
		c.logger.Error("failed to mark centroid build failed", "centroid_id", id, "error", err)
	}
}

func (c *Coordinator) globalKey(personID uuid.UUID) models.CentroidKey {
	return models.CentroidKey{
		PersonID:     personID,
		ModelVersion: c.centroidParams.ModelVersion,
		AlgoVersion:  c.centroidParams.AlgoVersion,
		Type:         models.CentroidTypeGlobal,
	}
}

// indexedFaceIDs filters to faces that have index points. Centroids are
// computed over exactly this subset, so staleness is judged against it; an
// unindexed face neither contributes to a centroid nor invalidates one.
func indexedFaceIDs(faces []models.FaceRecord) []uuid.UUID {
	var ids []uuid.UUID
	for _, f := range faces {
		if f.PointID != nil {
			ids = append(ids, f.ID)
		}
	}
	return ids
}
