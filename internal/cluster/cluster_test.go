package cluster

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/faceid/internal/models"
)

func testParams() Params {
	return Params{
		PersonMatchThreshold: 0.70,
		Epsilon:              0.30,
		MinClusterSize:       3,
		MinSamples:           2,
		MaxFaces:             20000,
	}
}

func face(id uuid.UUID, embedding []float32) models.FaceWithEmbedding {
	return models.FaceWithEmbedding{
		Face:      models.FaceRecord{ID: id},
		Embedding: embedding,
	}
}

// Three near-identical vectors, with min cluster size 3: one group of
// three, zero noise.
func TestClusterTightTriple(t *testing.T) {
	faces := []models.FaceWithEmbedding{
		face(uuid.New(), []float32{1, 0.01, 0}),
		face(uuid.New(), []float32{1, 0, 0.01}),
		face(uuid.New(), []float32{0.99, 0.01, 0.01}),
	}

	res, err := Cluster(faces, nil, testParams())
	require.NoError(t, err)

	require.Len(t, res.Groups, 1)
	for _, members := range res.Groups {
		assert.Len(t, members, 3)
	}
	assert.Empty(t, res.Noise)
	assert.Empty(t, res.Assignments)
}

// Two similar vectors fall below min cluster size and are reported as
// noise, not silently dropped.
func TestClusterPairBelowMinSize(t *testing.T) {
	a := uuid.New()
	b := uuid.New()
	faces := []models.FaceWithEmbedding{
		face(a, []float32{1, 0.01, 0}),
		face(b, []float32{1, 0, 0.01}),
	}

	res, err := Cluster(faces, nil, testParams())
	require.NoError(t, err)

	assert.Empty(t, res.Groups)
	assert.ElementsMatch(t, []uuid.UUID{a, b}, res.Noise)
}

func TestClusterSupervisedAssignment(t *testing.T) {
	personID := uuid.New()
	persons := []PersonEmbeddings{
		{PersonID: personID, Embeddings: [][]float32{{1, 0, 0}, {0.99, 0.01, 0}}},
	}
	faceID := uuid.New()
	faces := []models.FaceWithEmbedding{
		face(faceID, []float32{0.98, 0.02, 0}),
		face(uuid.New(), []float32{0, 0, 1}), // nowhere near the person
	}

	res, err := Cluster(faces, persons, testParams())
	require.NoError(t, err)

	require.Len(t, res.Assignments, 1)
	assert.Equal(t, faceID, res.Assignments[0].FaceID)
	assert.Equal(t, personID, res.Assignments[0].PersonID)
	assert.GreaterOrEqual(t, res.Assignments[0].Score, 0.70)
	assert.Len(t, res.Noise, 1)
}

// A face below the match threshold is not assigned, even to its best match.
func TestClusterBelowThresholdNotAssigned(t *testing.T) {
	persons := []PersonEmbeddings{
		{PersonID: uuid.New(), Embeddings: [][]float32{{1, 0, 0}}},
	}
	faces := []models.FaceWithEmbedding{
		face(uuid.New(), []float32{0.5, 0.86, 0}), // ~0.5 similarity
	}

	res, err := Cluster(faces, persons, testParams())
	require.NoError(t, err)
	assert.Empty(t, res.Assignments)
	assert.Len(t, res.Noise, 1)
}

// Two persons with identical means: the tie resolves to the lower UUID.
func TestClusterTieBreakLowerUUID(t *testing.T) {
	low := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	high := uuid.MustParse("ffffffff-ffff-ffff-ffff-ffffffffffff")
	persons := []PersonEmbeddings{
		{PersonID: high, Embeddings: [][]float32{{1, 0, 0}}},
		{PersonID: low, Embeddings: [][]float32{{1, 0, 0}}},
	}
	faces := []models.FaceWithEmbedding{
		face(uuid.New(), []float32{1, 0, 0}),
	}

	res, err := Cluster(faces, persons, testParams())
	require.NoError(t, err)
	require.Len(t, res.Assignments, 1)
	assert.Equal(t, low, res.Assignments[0].PersonID)
}

// Inputs above the cap are rejected outright, never truncated.
func TestClusterFaceCeiling(t *testing.T) {
	params := testParams()
	params.MaxFaces = 3

	faces := make([]models.FaceWithEmbedding, 4)
	for i := range faces {
		faces[i] = face(uuid.New(), []float32{1, 0, 0})
	}

	_, err := Cluster(faces, nil, params)
	require.ErrorIs(t, err, models.ErrResourceExceeded)
}

func TestClusterEmptyInput(t *testing.T) {
	_, err := Cluster(nil, nil, testParams())
	require.ErrorIs(t, err, models.ErrInsufficientData)
}

// Group labels depend only on membership, so reruns over the same faces
// produce the same label.
func TestClusterStableGroupLabels(t *testing.T) {
	faces := []models.FaceWithEmbedding{
		face(uuid.New(), []float32{1, 0.01, 0}),
		face(uuid.New(), []float32{1, 0, 0.01}),
		face(uuid.New(), []float32{0.99, 0.01, 0.01}),
	}

	res1, err := Cluster(faces, nil, testParams())
	require.NoError(t, err)
	res2, err := Cluster(faces, nil, testParams())
	require.NoError(t, err)
	assert.Equal(t, res1.Groups, res2.Groups)
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := CosineSimilarity(tc.a, tc.b)
			assert.InDelta(t, tc.want, got, 1e-6)
		})
	}
}

func TestNoiseLabel(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, "noise-"+id.String(), NoiseLabel(id))
}
