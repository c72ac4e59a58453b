package consistency

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/faceid/internal/index"
	"github.com/your-org/faceid/internal/models"
)

func newTestReconciler(store RecordStore, idx index.Client) *Reconciler {
	return NewReconciler(store, idx, 100, discardLogger())
}

// The record store is authoritative: a payload that disagrees with the
// relational row is rewritten from the row. A second run finds nothing.
func TestReconcilerRepairsDivergence(t *testing.T) {
	store := newFakeRecordStore()
	idx := newFakeIdx(nil)

	personID := uuid.New()
	// Record says assigned, index payload still says unassigned.
	faceID := addIndexedFace(store, idx, 1, nil, []float32{1, 0})
	store.faces[faceID].PersonID = &personID

	// This one agrees on both sides.
	addIndexedFace(store, idx, 2, &personID, []float32{0, 1})

	r := newTestReconciler(store, idx)
	report, err := r.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 0, report.QueueEntries)
	assert.Equal(t, 2, report.FacesScanned)
	assert.Equal(t, 1, report.Repaired)

	pt := idx.points[1]
	require.NotNil(t, pt.PersonID)
	assert.Equal(t, personID, *pt.PersonID)

	report, err = r.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Repaired, "second run is a no-op")
}

func TestReconcilerDrainsQueue(t *testing.T) {
	store := newFakeRecordStore()
	idx := newFakeIdx(nil)

	personID := uuid.New()
	faceID := addIndexedFace(store, idx, 1, nil, []float32{1, 0})
	store.faces[faceID].PersonID = &personID
	require.NoError(t, store.EnqueueReconcile(context.Background(), []uuid.UUID{faceID}, "assign face"))

	r := newTestReconciler(store, idx)
	report, err := r.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 1, report.QueueEntries)
	assert.Empty(t, store.queue, "processed entries are deleted")
	require.NotNil(t, idx.points[1].PersonID)
	assert.Equal(t, personID, *idx.points[1].PersonID)
}

// Queue-only runs repair the queued faces and leave the rest of the index
// unscanned.
func TestReconcilerQueueOnly(t *testing.T) {
	store := newFakeRecordStore()
	idx := newFakeIdx(nil)

	personID := uuid.New()
	queued := addIndexedFace(store, idx, 1, nil, []float32{1, 0})
	store.faces[queued].PersonID = &personID
	require.NoError(t, store.EnqueueReconcile(context.Background(), []uuid.UUID{queued}, "assign face"))

	// Diverged but not queued; only a full scan would find it.
	unqueued := addIndexedFace(store, idx, 2, nil, []float32{0, 1})
	store.faces[unqueued].PersonID = &personID

	r := newTestReconciler(store, idx)
	report, err := r.Run(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, 1, report.QueueEntries)
	assert.Equal(t, 0, report.FacesScanned)
	assert.Equal(t, 1, report.Repaired)
	require.NotNil(t, idx.points[1].PersonID)
	assert.Nil(t, idx.points[2].PersonID, "unqueued divergence untouched without a scan")
}

func TestReconcilerGroupLabelDivergence(t *testing.T) {
	store := newFakeRecordStore()
	idx := newFakeIdx(nil)

	label := "group-abc123"
	faceID := addIndexedFace(store, idx, 1, nil, []float32{1, 0})
	store.faces[faceID].GroupLabel = &label

	r := newTestReconciler(store, idx)
	report, err := r.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Repaired)

	pt := idx.points[1]
	require.NotNil(t, pt.GroupLabel)
	assert.Equal(t, label, *pt.GroupLabel)
}

// A record referencing a point the index no longer has is reported, and
// the remaining faces in the batch are still repaired.
func TestReconcilerMissingPoint(t *testing.T) {
	store := newFakeRecordStore()
	idx := newFakeIdx(nil)

	personID := uuid.New()
	orphan := uuid.New()
	missing := uint64(99)
	store.faces[orphan] = &models.FaceRecord{ID: orphan, PointID: &missing, PersonID: &personID}

	diverged := addIndexedFace(store, idx, 1, nil, []float32{1, 0})
	store.faces[diverged].PersonID = &personID

	r := newTestReconciler(store, idx)
	report, err := r.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 1, report.MissingPoints)
	assert.Equal(t, 1, report.Repaired)
	require.NotNil(t, idx.points[1].PersonID)
	assert.Equal(t, personID, *idx.points[1].PersonID)
}
