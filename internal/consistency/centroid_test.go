package consistency

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/faceid/internal/models"
)

func seedPersonFaces(store *fakeRecordStore, idx *fakeIdx, personID uuid.UUID, n int) {
	for i := 0; i < n; i++ {
		addIndexedFace(store, idx, uint64(i+1), &personID, []float32{1, 0, 0})
	}
}

func TestPublishCentroid(t *testing.T) {
	store := newFakeRecordStore()
	idx := newFakeIdx(nil)
	coord := newTestCoordinator(store, idx)

	personID := uuid.New()
	seedPersonFaces(store, idx, personID, 3)

	c, outcome, err := coord.PublishCentroid(context.Background(), personID)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCompleted, outcome)

	assert.Equal(t, models.CentroidStatusActive, c.Status)
	assert.Equal(t, personID, c.PersonID)
	assert.Equal(t, 3, c.FaceCount)
	assert.NotEmpty(t, c.SourceHash)
	require.NotNil(t, c.PointID)

	// The vector made it into the index, tagged to the person.
	pt, ok := idx.points[*c.PointID]
	require.True(t, ok)
	assert.Equal(t, c.Vector, pt.Vector)
	require.NotNil(t, pt.PersonID)
	assert.Equal(t, personID, *pt.PersonID)

	stored := store.centroids[c.ID]
	require.NotNil(t, stored)
	assert.Equal(t, models.CentroidStatusActive, stored.Status)
}

// Republishing over an unchanged face set returns the existing centroid
// without creating a new row.
func TestPublishCentroidFreshPriorIdempotent(t *testing.T) {
	store := newFakeRecordStore()
	idx := newFakeIdx(nil)
	coord := newTestCoordinator(store, idx)

	personID := uuid.New()
	seedPersonFaces(store, idx, personID, 3)

	first, _, err := coord.PublishCentroid(context.Background(), personID)
	require.NoError(t, err)

	second, outcome, err := coord.PublishCentroid(context.Background(), personID)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCompleted, outcome)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, store.centroids, 1)
}

// A changed face set makes the prior centroid stale: republish deprecates
// it, promotes a new row, and drops the superseded index point.
func TestPublishCentroidSupersedesStale(t *testing.T) {
	store := newFakeRecordStore()
	idx := newFakeIdx(nil)
	coord := newTestCoordinator(store, idx)

	personID := uuid.New()
	seedPersonFaces(store, idx, personID, 3)

	first, _, err := coord.PublishCentroid(context.Background(), personID)
	require.NoError(t, err)

	addIndexedFace(store, idx, 50, &personID, []float32{0.9, 0.1, 0})

	second, _, err := coord.PublishCentroid(context.Background(), personID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 4, second.FaceCount)

	assert.Equal(t, models.CentroidStatusDeprecated, store.centroids[first.ID].Status)
	assert.Equal(t, models.CentroidStatusActive, store.centroids[second.ID].Status)
	assert.Contains(t, idx.deleted, *first.PointID, "superseded point removed")
}

// An index-side publish failure marks the building row failed and leaves
// the prior active centroid untouched.
func TestPublishCentroidIndexFailureKeepsPrior(t *testing.T) {
	store := newFakeRecordStore()
	idx := newFakeIdx(nil)
	coord := newTestCoordinator(store, idx)

	personID := uuid.New()
	seedPersonFaces(store, idx, personID, 3)

	prior, _, err := coord.PublishCentroid(context.Background(), personID)
	require.NoError(t, err)

	addIndexedFace(store, idx, 50, &personID, []float32{0.9, 0.1, 0})
	idx.insertErr = errors.New("index down")

	_, outcome, err := coord.PublishCentroid(context.Background(), personID)
	assert.Equal(t, models.OutcomeFailed, outcome)
	var swe *models.StoreWriteError
	require.ErrorAs(t, err, &swe)
	assert.Equal(t, models.StoreIndex, swe.Store)

	assert.Equal(t, models.CentroidStatusActive, store.centroids[prior.ID].Status, "prior centroid survives")
	failed := 0
	for _, c := range store.centroids {
		if c.Status == models.CentroidStatusFailed {
			failed++
		}
	}
	assert.Equal(t, 1, failed, "building row marked failed")
}

func TestPublishCentroidInsufficientFaces(t *testing.T) {
	store := newFakeRecordStore()
	idx := newFakeIdx(nil)
	coord := newTestCoordinator(store, idx)

	personID := uuid.New()
	seedPersonFaces(store, idx, personID, 1)

	_, outcome, err := coord.PublishCentroid(context.Background(), personID)
	assert.Equal(t, models.OutcomeFailed, outcome)
	require.ErrorIs(t, err, models.ErrInsufficientData)
}

func TestPublishCentroidBuildInProgress(t *testing.T) {
	store := newFakeRecordStore()
	idx := newFakeIdx(nil)
	coord := newTestCoordinator(store, idx)

	personID := uuid.New()
	seedPersonFaces(store, idx, personID, 3)

	// Another worker's build holds the key.
	building := &models.Centroid{
		ID: uuid.New(), PersonID: personID,
		ModelVersion: "arcface-r100-v1", AlgoVersion: 1,
		Type: models.CentroidTypeGlobal, Status: models.CentroidStatusBuilding,
	}
	store.centroids[building.ID] = building

	_, outcome, err := coord.PublishCentroid(context.Background(), personID)
	assert.Equal(t, models.OutcomeFailed, outcome)
	require.ErrorIs(t, err, models.ErrBuildInProgress)
}

// A face without an index point contributes nothing to a centroid, so its
// presence must not make a freshly published centroid read stale.
func TestActiveCentroidUnindexedFaceDoesNotInvalidate(t *testing.T) {
	store := newFakeRecordStore()
	idx := newFakeIdx(nil)
	coord := newTestCoordinator(store, idx)

	personID := uuid.New()
	seedPersonFaces(store, idx, personID, 2)
	unindexed := uuid.New()
	store.faces[unindexed] = &models.FaceRecord{ID: unindexed, PersonID: &personID}

	published, _, err := coord.PublishCentroid(context.Background(), personID)
	require.NoError(t, err)

	c, err := coord.ActiveCentroid(context.Background(), personID)
	require.NoError(t, err)
	assert.Equal(t, published.ID, c.ID, "fresh centroid reused, not rebuilt")
	assert.Len(t, store.centroids, 1)
}

func TestActiveCentroidBuildsOnDemand(t *testing.T) {
	store := newFakeRecordStore()
	idx := newFakeIdx(nil)
	coord := newTestCoordinator(store, idx)

	personID := uuid.New()
	seedPersonFaces(store, idx, personID, 3)

	c, err := coord.ActiveCentroid(context.Background(), personID)
	require.NoError(t, err)
	assert.Equal(t, models.CentroidStatusActive, c.Status)

	// Second call reuses the fresh centroid.
	again, err := coord.ActiveCentroid(context.Background(), personID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, again.ID)
	assert.Len(t, store.centroids, 1)
}

// When a concurrent rebuild holds the building slot, the stale centroid is
// still returned as the best available reference.
func TestActiveCentroidStaleDuringRebuild(t *testing.T) {
	store := newFakeRecordStore()
	idx := newFakeIdx(nil)
	coord := newTestCoordinator(store, idx)

	personID := uuid.New()
	seedPersonFaces(store, idx, personID, 3)

	stale, _, err := coord.PublishCentroid(context.Background(), personID)
	require.NoError(t, err)

	// Face set changes, and another worker grabs the rebuild.
	addIndexedFace(store, idx, 50, &personID, []float32{0.9, 0.1, 0})
	building := &models.Centroid{
		ID: uuid.New(), PersonID: personID,
		ModelVersion: "arcface-r100-v1", AlgoVersion: 1,
		Type: models.CentroidTypeGlobal, Status: models.CentroidStatusBuilding,
	}
	store.centroids[building.ID] = building

	c, err := coord.ActiveCentroid(context.Background(), personID)
	require.NoError(t, err)
	assert.Equal(t, stale.ID, c.ID)
}
