// Package suggest generates reviewable (face, person) match candidates from
// four strategies sharing one score-aggregation contract. Strategies only
// read; everything they decide is persisted through the consistency
// coordinator, which the engine reaches via the Applier interface.
package suggest

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/faceid/internal/config"
	"github.com/your-org/faceid/internal/index"
	"github.com/your-org/faceid/internal/models"
	"github.com/your-org/faceid/internal/observability"
)

// Strategy is the closed set of candidate generators. Adding one means
// touching the dispatch in Generate, which is intentional: strategies share
// the payload and score contract, and an unknown strategy is a bug.
type Strategy string

const (
	StrategySingle      Strategy = "single"
	StrategyMulti       Strategy = "multi"
	StrategyCentroid    Strategy = "centroid"
	StrategyExploratory Strategy = "exploratory"
)

// Candidate is one proposed match before tiering.
type Candidate struct {
	FaceID     uuid.UUID
	PersonID   uuid.UUID
	Score      float32
	Source     models.SuggestionSource
	Sources    []models.SourceScore
	MatchCount int
}

// Request selects a strategy and its subject. FaceID is only meaningful for
// StrategySingle; the other strategies operate per person.
type Request struct {
	Strategy Strategy
	PersonID uuid.UUID
	FaceID   uuid.UUID
}

// RecordStore is the read surface the engine needs from the record store.
type RecordStore interface {
	GetFace(ctx context.Context, id uuid.UUID) (*models.FaceRecord, error)
	ListFacesByPerson(ctx context.Context, personID uuid.UUID) ([]models.FaceRecord, error)
	ListPrototypes(ctx context.Context, personID uuid.UUID) ([]models.Prototype, error)
	HasPendingSuggestion(ctx context.Context, faceID, personID uuid.UUID) (bool, error)
}

// CentroidProvider returns the person's active centroid, building and
// publishing one first if none exists. Implemented by the consistency
// coordinator so every centroid in the system comes from the same
// robust-mean pipeline.
type CentroidProvider interface {
	ActiveCentroid(ctx context.Context, personID uuid.UUID) (*models.Centroid, error)
}

// Applier is the coordinator surface candidates are resolved through.
type Applier interface {
	AssignFace(ctx context.Context, faceID, personID uuid.UUID, score float32, source models.SuggestionSource) (models.Outcome, error)
	CreatePendingSuggestion(ctx context.Context, s *models.Suggestion) error
}

type Params struct {
	AutoAssignThreshold float64
	SuggestionThreshold float64
	CentroidScoreOffset float64
	MaxResults          int
	BatchSize           int
	Workers             int
	MaxExemplars        int
}

func ParamsFromConfig(cfg config.EngineConfig) Params {
	return Params{
		AutoAssignThreshold: cfg.AutoAssignThreshold,
		SuggestionThreshold: cfg.SuggestionThreshold,
		CentroidScoreOffset: cfg.CentroidScoreOffset,
		MaxResults:          cfg.SuggestionMaxResults,
		BatchSize:           cfg.SuggestionBatchSize,
		Workers:             cfg.SuggestionWorkers,
		MaxExemplars:        cfg.MaxExemplars,
	}
}

type Engine struct {
	store     RecordStore
	idx       index.Client
	centroids CentroidProvider
	applier   Applier
	params    Params
	logger    *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewEngine wires a suggestion engine. rng is injected so exploratory
// sampling is reproducible in tests; pass nil for a time-seeded source.
func NewEngine(store RecordStore, idx index.Client, centroids CentroidProvider, applier Applier, params Params, rng *rand.Rand, logger *slog.Logger) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Engine{
		store:     store,
		idx:       idx,
		centroids: centroids,
		applier:   applier,
		params:    params,
		rng:       rng,
		logger:    logger,
	}
}

// Generate produces candidates for one request without persisting anything.
func (e *Engine) Generate(ctx context.Context, req Request) ([]Candidate, error) {
	switch req.Strategy {
	case StrategySingle:
		return e.generateSingle(ctx, req.FaceID)
	case StrategyMulti:
		return e.generateMulti(ctx, req.PersonID)
	case StrategyCentroid:
		return e.generateCentroid(ctx, req.PersonID)
	case StrategyExploratory:
		return e.generateExploratory(ctx, req.PersonID)
	default:
		return nil, fmt.Errorf("unknown suggestion strategy %q", req.Strategy)
	}
}

// Stats summarizes one apply pass.
type Stats struct {
	AutoAssigned int
	Pending      int
	Discarded    int
	Duplicates   int
}

// Apply resolves candidates through the two-tier policy: auto-assign at the
// top tier, pending suggestion in the middle, discard below. Runs in batches
// and honors cancellation between them since a pass may cover thousands of
// candidates.
func (e *Engine) Apply(ctx context.Context, strategy Strategy, candidates []Candidate) (Stats, error) {
	var stats Stats
	batch := e.params.BatchSize
	if batch <= 0 {
		batch = len(candidates)
	}

	for start := 0; start < len(candidates); start += batch {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		end := min(start+batch, len(candidates))
		for _, c := range candidates[start:end] {
			tier, err := e.applyOne(ctx, c)
			if err != nil {
				return stats, err
			}
			observability.SuggestionsGenerated.WithLabelValues(string(strategy), tier).Inc()
			switch tier {
			case "auto_assign":
				stats.AutoAssigned++
			case "pending":
				stats.Pending++
			case "duplicate":
				stats.Duplicates++
			default:
				stats.Discarded++
			}
		}
	}
	return stats, nil
}

func (e *Engine) applyOne(ctx context.Context, c Candidate) (string, error) {
	// Candidate scores are float32; compare at that precision so a score
	// exactly at a threshold lands in the inclusive tier.
	switch {
	case c.Score >= float32(e.params.AutoAssignThreshold):
		if _, err := e.applier.AssignFace(ctx, c.FaceID, c.PersonID, c.Score, c.Source); err != nil {
			return "", fmt.Errorf("auto-assign face %s: %w", c.FaceID, err)
		}
		return "auto_assign", nil

	case c.Score >= float32(e.params.SuggestionThreshold):
		// Cheap pre-check; the storage unique constraint is the final
		// guard under concurrent generation.
		exists, err := e.store.HasPendingSuggestion(ctx, c.FaceID, c.PersonID)
		if err != nil {
			return "", err
		}
		if exists {
			return "duplicate", nil
		}
		sg := &models.Suggestion{
			ID:         uuid.New(),
			FaceID:     c.FaceID,
			PersonID:   c.PersonID,
			Score:      c.Score,
			Source:     c.Source,
			Status:     models.SuggestionStatusPending,
			Sources:    c.Sources,
			MatchCount: c.MatchCount,
		}
		err = e.applier.CreatePendingSuggestion(ctx, sg)
		if err != nil {
			if errorsIsDuplicate(err) {
				return "duplicate", nil
			}
			return "", fmt.Errorf("create suggestion for face %s: %w", c.FaceID, err)
		}
		return "pending", nil

	default:
		return "discarded", nil
	}
}

// RunForPersons fans one strategy out across many persons with bounded
// concurrency, so a library-wide pass does not storm the stores with one
// job per person.
func (e *Engine) RunForPersons(ctx context.Context, strategy Strategy, personIDs []uuid.UUID) (Stats, error) {
	var (
		mu    sync.Mutex
		total Stats
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(e.params.Workers, 1))

	for _, personID := range personIDs {
		g.Go(func() error {
			candidates, err := e.Generate(ctx, Request{Strategy: strategy, PersonID: personID})
			if err != nil {
				if errorsIsInsufficient(err) {
					e.logger.Debug("skipping person with insufficient data",
						"person_id", personID, "strategy", strategy)
					return nil
				}
				return fmt.Errorf("generate %s for person %s: %w", strategy, personID, err)
			}
			stats, err := e.Apply(ctx, strategy, candidates)
			mu.Lock()
			total.AutoAssigned += stats.AutoAssigned
			total.Pending += stats.Pending
			total.Discarded += stats.Discarded
			total.Duplicates += stats.Duplicates
			mu.Unlock()
			return err
		})
	}
	err := g.Wait()
	return total, err
}
