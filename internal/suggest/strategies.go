package suggest

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/your-org/faceid/internal/index"
	"github.com/your-org/faceid/internal/models"
)

// reference is one query vector plus the source it will be attributed to.
type reference struct {
	source models.SuggestionSource
	vector []float32
	// exclude drops the reference's own face from its hit list.
	exclude uuid.UUID
}

// generateSingle propagates one newly labeled face: every unassigned face
// similar enough to it becomes a candidate for the same person.
func (e *Engine) generateSingle(ctx context.Context, faceID uuid.UUID) ([]Candidate, error) {
	face, err := e.store.GetFace(ctx, faceID)
	if err != nil {
		return nil, err
	}
	if face.PersonID == nil {
		return nil, fmt.Errorf("face %s is not assigned to a person: %w", faceID, models.ErrInsufficientData)
	}
	ref, err := e.faceReference(ctx, face)
	if err != nil {
		return nil, err
	}
	return e.aggregate(ctx, *face.PersonID, []reference{ref}, 0)
}

// generateMulti queries once per prototype and keeps, for each target face,
// the maximum similarity over all matching prototypes. Maximum rather than
// average: a strong match to one reference should not be diluted by weak
// matches to others.
func (e *Engine) generateMulti(ctx context.Context, personID uuid.UUID) ([]Candidate, error) {
	prototypes, err := e.store.ListPrototypes(ctx, personID)
	if err != nil {
		return nil, err
	}
	if len(prototypes) == 0 {
		return nil, fmt.Errorf("person %s has no prototypes: %w", personID, models.ErrInsufficientData)
	}

	refs := make([]reference, 0, len(prototypes))
	for _, p := range prototypes {
		face, err := e.store.GetFace(ctx, p.FaceID)
		if err != nil {
			var stale *models.StaleReferenceError
			if errors.Is(err, models.ErrNotFound) || errors.As(err, &stale) {
				// Prototype points at a deleted face; skip it rather
				// than failing the whole person.
				continue
			}
			return nil, err
		}
		ref, err := e.faceReference(ctx, face)
		if err != nil {
			continue
		}
		ref.source = models.SuggestionSource{Kind: models.SourcePrototype, ID: p.ID}
		refs = append(refs, ref)
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("person %s has no usable prototypes: %w", personID, models.ErrInsufficientData)
	}
	return e.aggregate(ctx, personID, refs, 0)
}

// generateCentroid is the cheap strategy: one index query against the
// person's active centroid. The provider builds a centroid through the
// shared robust-mean pipeline when none is active.
func (e *Engine) generateCentroid(ctx context.Context, personID uuid.UUID) ([]Candidate, error) {
	c, err := e.centroids.ActiveCentroid(ctx, personID)
	if err != nil {
		return nil, err
	}
	ref := reference{
		source: models.SuggestionSource{Kind: models.SourceCentroid, ID: c.ID},
		vector: c.Vector,
	}
	// Centroid similarity runs systematically high for the same pair, so
	// deployments can subtract a configured offset before tiering.
	return e.aggregate(ctx, personID, []reference{ref}, float32(e.params.CentroidScoreOffset))
}

// aggregate runs every reference query, merges hits per target face with
// max-over-sources scoring, and returns the top candidates.
func (e *Engine) aggregate(ctx context.Context, personID uuid.UUID, refs []reference, scoreOffset float32) ([]Candidate, error) {
	minRaw := float32(e.params.SuggestionThreshold) + scoreOffset
	byFace := make(map[uuid.UUID]*Candidate)

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hits, err := e.idx.Search(ctx, ref.vector, index.Filter{OnlyUnassigned: true}, e.params.MaxResults, minRaw)
		if err != nil {
			return nil, fmt.Errorf("search for person %s: %w", personID, err)
		}
		for _, hit := range hits {
			if hit.FaceID == ref.exclude {
				continue
			}
			score := hit.Score - scoreOffset
			if score < float32(e.params.SuggestionThreshold) {
				continue
			}
			c, ok := byFace[hit.FaceID]
			if !ok {
				c = &Candidate{FaceID: hit.FaceID, PersonID: personID}
				byFace[hit.FaceID] = c
			}
			c.MatchCount++
			c.Sources = append(c.Sources, models.SourceScore{Source: ref.source, Score: score})
			if score > c.Score {
				c.Score = score
				c.Source = ref.source
			}
		}
	}

	candidates := make([]Candidate, 0, len(byFace))
	for _, c := range byFace {
		candidates = append(candidates, *c)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].FaceID.String() < candidates[j].FaceID.String()
	})
	if len(candidates) > e.params.MaxResults {
		candidates = candidates[:e.params.MaxResults]
	}
	return candidates, nil
}

// faceReference resolves a face's embedding from the index, attributed to
// the face itself.
func (e *Engine) faceReference(ctx context.Context, face *models.FaceRecord) (reference, error) {
	if face.PointID == nil {
		return reference{}, &models.StaleReferenceError{
			Kind:   "face",
			Reason: fmt.Sprintf("face %s has no index point", face.ID),
		}
	}
	points, err := e.idx.BatchRetrieve(ctx, []uint64{*face.PointID})
	if err != nil {
		return reference{}, err
	}
	return reference{
		source:  models.SuggestionSource{Kind: models.SourceFace, ID: face.ID},
		vector:  points[0].Vector,
		exclude: face.ID,
	}, nil
}

func errorsIsDuplicate(err error) bool {
	return errors.Is(err, models.ErrDuplicateSuggestion)
}

func errorsIsInsufficient(err error) bool {
	return errors.Is(err, models.ErrInsufficientData)
}
