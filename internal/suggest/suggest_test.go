package suggest

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/faceid/internal/index"
	"github.com/your-org/faceid/internal/models"
)

type fakeStore struct {
	faces      map[uuid.UUID]*models.FaceRecord
	byPerson   map[uuid.UUID][]models.FaceRecord
	prototypes map[uuid.UUID][]models.Prototype
	pending    map[[2]uuid.UUID]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		faces:      make(map[uuid.UUID]*models.FaceRecord),
		byPerson:   make(map[uuid.UUID][]models.FaceRecord),
		prototypes: make(map[uuid.UUID][]models.Prototype),
		pending:    make(map[[2]uuid.UUID]bool),
	}
}

func (s *fakeStore) GetFace(_ context.Context, id uuid.UUID) (*models.FaceRecord, error) {
	f, ok := s.faces[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return f, nil
}

func (s *fakeStore) ListFacesByPerson(_ context.Context, personID uuid.UUID) ([]models.FaceRecord, error) {
	return s.byPerson[personID], nil
}

func (s *fakeStore) ListPrototypes(_ context.Context, personID uuid.UUID) ([]models.Prototype, error) {
	return s.prototypes[personID], nil
}

func (s *fakeStore) HasPendingSuggestion(_ context.Context, faceID, personID uuid.UUID) (bool, error) {
	return s.pending[[2]uuid.UUID{faceID, personID}], nil
}

type fakeIndex struct {
	points map[uint64]index.Point
	hits   []index.Hit

	lastMinScore float32
	searches     int
}

func (f *fakeIndex) Search(_ context.Context, _ []float32, _ index.Filter, limit int, minScore float32) ([]index.Hit, error) {
	f.searches++
	f.lastMinScore = minScore
	out := make([]index.Hit, 0, len(f.hits))
	for _, h := range f.hits {
		if h.Score >= minScore {
			out = append(out, h)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeIndex) BatchRetrieve(_ context.Context, ids []uint64) ([]index.Point, error) {
	out := make([]index.Point, 0, len(ids))
	for _, id := range ids {
		p, ok := f.points[id]
		if !ok {
			return nil, &models.StaleReferenceError{Kind: "point", Reason: "missing"}
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeIndex) BatchInsert(context.Context, []index.Point) ([]uint64, error) {
	return nil, nil
}

func (f *fakeIndex) BatchSetPayload(context.Context, []uint64, *uuid.UUID, *string) error {
	return nil
}

func (f *fakeIndex) Delete(context.Context, uint64) error { return nil }
func (f *fakeIndex) Flush(context.Context) error          { return nil }
func (f *fakeIndex) Close() error                         { return nil }

type fakeCentroids struct {
	centroid *models.Centroid
	err      error
}

func (f *fakeCentroids) ActiveCentroid(context.Context, uuid.UUID) (*models.Centroid, error) {
	return f.centroid, f.err
}

type fakeApplier struct {
	mu        sync.Mutex
	assigned  []uuid.UUID
	created   []*models.Suggestion
	createErr error
}

func (a *fakeApplier) AssignFace(_ context.Context, faceID, _ uuid.UUID, _ float32, _ models.SuggestionSource) (models.Outcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.assigned = append(a.assigned, faceID)
	return models.OutcomeCompleted, nil
}

func (a *fakeApplier) CreatePendingSuggestion(_ context.Context, s *models.Suggestion) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.createErr != nil {
		return a.createErr
	}
	a.created = append(a.created, s)
	return nil
}

func testEngineParams() Params {
	return Params{
		AutoAssignThreshold: 0.83,
		SuggestionThreshold: 0.62,
		MaxResults:          50,
		BatchSize:           100,
		Workers:             2,
		MaxExemplars:        3,
	}
}

func newTestEngine(store *fakeStore, idx *fakeIndex, centroids *fakeCentroids, applier *fakeApplier, params Params) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(store, idx, centroids, applier, params, rand.New(rand.NewSource(1)), logger)
}

func assignedFace(store *fakeStore, idx *fakeIndex, personID uuid.UUID, pointID uint64, vec []float32) uuid.UUID {
	id := uuid.New()
	pid := pointID
	store.faces[id] = &models.FaceRecord{ID: id, PersonID: &personID, PointID: &pid}
	idx.points[pointID] = index.Point{PointID: pointID, FaceID: id, Vector: vec, PersonID: &personID}
	return id
}

func TestGenerateUnknownStrategy(t *testing.T) {
	e := newTestEngine(newFakeStore(), &fakeIndex{points: map[uint64]index.Point{}}, &fakeCentroids{}, &fakeApplier{}, testEngineParams())

	_, err := e.Generate(context.Background(), Request{Strategy: "bogus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown suggestion strategy")
}

func TestGenerateSingle(t *testing.T) {
	store := newFakeStore()
	idx := &fakeIndex{points: map[uint64]index.Point{}}
	personID := uuid.New()
	faceID := assignedFace(store, idx, personID, 1, []float32{1, 0, 0})

	target := uuid.New()
	idx.hits = []index.Hit{
		{PointID: 2, FaceID: faceID, Score: 1.0}, // the reference itself
		{PointID: 3, FaceID: target, Score: 0.75},
		{PointID: 4, FaceID: uuid.New(), Score: 0.40}, // below threshold
	}

	e := newTestEngine(store, idx, &fakeCentroids{}, &fakeApplier{}, testEngineParams())
	candidates, err := e.Generate(context.Background(), Request{Strategy: StrategySingle, FaceID: faceID})
	require.NoError(t, err)

	require.Len(t, candidates, 1, "own face excluded, sub-threshold hit dropped")
	assert.Equal(t, target, candidates[0].FaceID)
	assert.Equal(t, personID, candidates[0].PersonID)
	assert.Equal(t, models.SourceFace, candidates[0].Source.Kind)
	assert.Equal(t, faceID, candidates[0].Source.ID)
}

func TestGenerateSingleUnassignedFace(t *testing.T) {
	store := newFakeStore()
	faceID := uuid.New()
	store.faces[faceID] = &models.FaceRecord{ID: faceID}

	e := newTestEngine(store, &fakeIndex{points: map[uint64]index.Point{}}, &fakeCentroids{}, &fakeApplier{}, testEngineParams())
	_, err := e.Generate(context.Background(), Request{Strategy: StrategySingle, FaceID: faceID})
	require.ErrorIs(t, err, models.ErrInsufficientData)
}

// Two prototypes match the same target face: the candidate keeps the max
// score, records both contributing sources, and counts both matches.
func TestGenerateMultiMaxOverSources(t *testing.T) {
	store := newFakeStore()
	idx := &fakeIndex{points: map[uint64]index.Point{}}
	personID := uuid.New()

	f1 := assignedFace(store, idx, personID, 1, []float32{1, 0, 0})
	f2 := assignedFace(store, idx, personID, 2, []float32{0.9, 0.1, 0})
	p1 := models.Prototype{ID: uuid.New(), PersonID: personID, FaceID: f1, Role: models.RolePrimary}
	p2 := models.Prototype{ID: uuid.New(), PersonID: personID, FaceID: f2, Role: models.RoleExemplar}
	store.prototypes[personID] = []models.Prototype{p1, p2}

	target := uuid.New()
	idx.hits = []index.Hit{{PointID: 9, FaceID: target, Score: 0.70}}

	e := newTestEngine(store, idx, &fakeCentroids{}, &fakeApplier{}, testEngineParams())
	candidates, err := e.Generate(context.Background(), Request{Strategy: StrategyMulti, PersonID: personID})
	require.NoError(t, err)

	require.Len(t, candidates, 1)
	c := candidates[0]
	assert.Equal(t, 2, c.MatchCount)
	assert.Len(t, c.Sources, 2)
	assert.InDelta(t, 0.70, float64(c.Score), 1e-6)
	assert.Equal(t, models.SourcePrototype, c.Source.Kind)
	assert.Equal(t, 2, idx.searches, "one query per prototype")
}

func TestGenerateMultiNoPrototypes(t *testing.T) {
	e := newTestEngine(newFakeStore(), &fakeIndex{points: map[uint64]index.Point{}}, &fakeCentroids{}, &fakeApplier{}, testEngineParams())
	_, err := e.Generate(context.Background(), Request{Strategy: StrategyMulti, PersonID: uuid.New()})
	require.ErrorIs(t, err, models.ErrInsufficientData)
}

// The configured offset is subtracted from raw centroid scores before
// tiering, and raised into the index-side floor so the index does the
// filtering.
func TestGenerateCentroidScoreOffset(t *testing.T) {
	params := testEngineParams()
	params.CentroidScoreOffset = 0.10

	centroidID := uuid.New()
	centroids := &fakeCentroids{centroid: &models.Centroid{ID: centroidID, Vector: []float32{1, 0, 0}}}

	target := uuid.New()
	idx := &fakeIndex{
		points: map[uint64]index.Point{},
		hits:   []index.Hit{{PointID: 5, FaceID: target, Score: 0.80}},
	}

	e := newTestEngine(newFakeStore(), idx, centroids, &fakeApplier{}, params)
	candidates, err := e.Generate(context.Background(), Request{Strategy: StrategyCentroid, PersonID: uuid.New()})
	require.NoError(t, err)

	assert.InDelta(t, 0.72, float64(idx.lastMinScore), 1e-6)
	require.Len(t, candidates, 1)
	assert.InDelta(t, 0.70, float64(candidates[0].Score), 1e-6)
	assert.Equal(t, models.SourceCentroid, candidates[0].Source.Kind)
	assert.Equal(t, centroidID, candidates[0].Source.ID)
}

func TestApplyTwoTierPolicy(t *testing.T) {
	applier := &fakeApplier{}
	e := newTestEngine(newFakeStore(), &fakeIndex{points: map[uint64]index.Point{}}, &fakeCentroids{}, applier, testEngineParams())

	autoFace := uuid.New()
	pendFace := uuid.New()
	personID := uuid.New()
	candidates := []Candidate{
		{FaceID: autoFace, PersonID: personID, Score: 0.90},
		{FaceID: pendFace, PersonID: personID, Score: 0.70},
		{FaceID: uuid.New(), PersonID: personID, Score: 0.50},
	}

	stats, err := e.Apply(context.Background(), StrategyCentroid, candidates)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.AutoAssigned)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Discarded)
	assert.Equal(t, []uuid.UUID{autoFace}, applier.assigned)
	require.Len(t, applier.created, 1)
	assert.Equal(t, pendFace, applier.created[0].FaceID)
	assert.Equal(t, models.SuggestionStatusPending, applier.created[0].Status)
}

func TestApplyBoundaryScores(t *testing.T) {
	applier := &fakeApplier{}
	e := newTestEngine(newFakeStore(), &fakeIndex{points: map[uint64]index.Point{}}, &fakeCentroids{}, applier, testEngineParams())

	// Thresholds are inclusive.
	candidates := []Candidate{
		{FaceID: uuid.New(), PersonID: uuid.New(), Score: 0.83},
		{FaceID: uuid.New(), PersonID: uuid.New(), Score: 0.62},
	}
	stats, err := e.Apply(context.Background(), StrategySingle, candidates)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.AutoAssigned)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 0, stats.Discarded)
}

func TestApplyDedupPreCheck(t *testing.T) {
	store := newFakeStore()
	faceID := uuid.New()
	personID := uuid.New()
	store.pending[[2]uuid.UUID{faceID, personID}] = true

	applier := &fakeApplier{}
	e := newTestEngine(store, &fakeIndex{points: map[uint64]index.Point{}}, &fakeCentroids{}, applier, testEngineParams())

	stats, err := e.Apply(context.Background(), StrategySingle, []Candidate{
		{FaceID: faceID, PersonID: personID, Score: 0.70},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Duplicates)
	assert.Empty(t, applier.created)
}

// The storage unique constraint can still fire when two passes race past
// the pre-check; that surfaces as a duplicate, not an error.
func TestApplyDedupConstraintRace(t *testing.T) {
	applier := &fakeApplier{createErr: models.ErrDuplicateSuggestion}
	e := newTestEngine(newFakeStore(), &fakeIndex{points: map[uint64]index.Point{}}, &fakeCentroids{}, applier, testEngineParams())

	stats, err := e.Apply(context.Background(), StrategySingle, []Candidate{
		{FaceID: uuid.New(), PersonID: uuid.New(), Score: 0.70},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Duplicates)
	assert.Equal(t, 0, stats.Pending)
}

func TestGenerateExploratoryReproducible(t *testing.T) {
	personID := uuid.New()
	imageA := uuid.New()
	targetID := uuid.New()

	build := func() (*fakeStore, *fakeIndex) {
		store := newFakeStore()
		idx := &fakeIndex{points: map[uint64]index.Point{}}
		for i := 0; i < 10; i++ {
			pointID := uint64(i + 1)
			var id uuid.UUID
			id[15] = byte(i + 1)
			store.faces[id] = &models.FaceRecord{ID: id, PersonID: &personID, PointID: &pointID}
			idx.points[pointID] = index.Point{PointID: pointID, FaceID: id, Vector: []float32{1, 0, 0}, PersonID: &personID}
			f := store.faces[id]
			f.ImageID = imageA
			f.Quality = 0.5 + float32(i)*0.05
			store.byPerson[personID] = append(store.byPerson[personID], *f)
		}
		idx.hits = []index.Hit{{PointID: 99, FaceID: targetID, Score: 0.70}}
		return store, idx
	}

	store1, idx1 := build()
	e1 := newTestEngine(store1, idx1, &fakeCentroids{}, &fakeApplier{}, testEngineParams())
	c1, err := e1.Generate(context.Background(), Request{Strategy: StrategyExploratory, PersonID: personID})
	require.NoError(t, err)

	store2, idx2 := build()
	e2 := newTestEngine(store2, idx2, &fakeCentroids{}, &fakeApplier{}, testEngineParams())
	c2, err := e2.Generate(context.Background(), Request{Strategy: StrategyExploratory, PersonID: personID})
	require.NoError(t, err)

	assert.Equal(t, c1, c2, "same seed draws the same sample")
	assert.Equal(t, 3, idx1.searches, "sample capped at max exemplars")
}

func TestSampleFacesWithoutReplacement(t *testing.T) {
	e := newTestEngine(newFakeStore(), &fakeIndex{points: map[uint64]index.Point{}}, &fakeCentroids{}, &fakeApplier{}, testEngineParams())

	faces := make([]models.FaceRecord, 8)
	for i := range faces {
		faces[i] = models.FaceRecord{ID: uuid.New(), ImageID: uuid.New(), Quality: 0.8}
	}

	picked := e.sampleFaces(faces, 5)
	require.Len(t, picked, 5)
	seen := make(map[uuid.UUID]bool)
	for _, f := range picked {
		assert.False(t, seen[f.ID], "face drawn twice")
		seen[f.ID] = true
	}

	// Fewer faces than k returns everything.
	all := e.sampleFaces(faces[:3], 5)
	assert.Len(t, all, 3)
}

func TestRunForPersonsSkipsInsufficient(t *testing.T) {
	store := newFakeStore()
	idx := &fakeIndex{points: map[uint64]index.Point{}}
	applier := &fakeApplier{}

	// One person with a prototype, one with none.
	personID := uuid.New()
	f1 := assignedFace(store, idx, personID, 1, []float32{1, 0, 0})
	store.prototypes[personID] = []models.Prototype{
		{ID: uuid.New(), PersonID: personID, FaceID: f1, Role: models.RolePrimary},
	}
	idx.hits = []index.Hit{{PointID: 9, FaceID: uuid.New(), Score: 0.70}}

	e := newTestEngine(store, idx, &fakeCentroids{}, applier, testEngineParams())
	stats, err := e.RunForPersons(context.Background(), StrategyMulti, []uuid.UUID{personID, uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
}
