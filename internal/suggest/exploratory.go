package suggest

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/your-org/faceid/internal/models"
)

// Sampling weights. Quality dominates; the diversity term damps repeated
// picks from the same source image so the sample covers more capture
// conditions.
const (
	weightQuality   = 0.7
	weightDiversity = 0.3
)

// generateExploratory samples a handful of the person's labeled faces by
// quality and image diversity, then aggregates exactly like the
// multi-reference strategy with the sampled faces as sources.
func (e *Engine) generateExploratory(ctx context.Context, personID uuid.UUID) ([]Candidate, error) {
	faces, err := e.store.ListFacesByPerson(ctx, personID)
	if err != nil {
		return nil, err
	}
	if len(faces) == 0 {
		return nil, fmt.Errorf("person %s has no labeled faces: %w", personID, models.ErrInsufficientData)
	}

	sampled := e.sampleFaces(faces, e.params.MaxExemplars)

	refs := make([]reference, 0, len(sampled))
	for i := range sampled {
		ref, err := e.faceReference(ctx, &sampled[i])
		if err != nil {
			continue
		}
		refs = append(refs, ref)
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("person %s has no indexed faces: %w", personID, models.ErrInsufficientData)
	}
	return e.aggregate(ctx, personID, refs, 0)
}

// sampleFaces draws up to k distinct faces without replacement, weighted by
// 0.7*quality + 0.3*diversity. Diversity decays for images already drawn.
func (e *Engine) sampleFaces(faces []models.FaceRecord, k int) []models.FaceRecord {
	if k <= 0 || len(faces) <= k {
		out := make([]models.FaceRecord, len(faces))
		copy(out, faces)
		return out
	}

	// Stable input order keeps sampling reproducible under an injected rng.
	ordered := make([]models.FaceRecord, len(faces))
	copy(ordered, faces)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].ID.String() < ordered[j].ID.String()
	})

	picked := make([]models.FaceRecord, 0, k)
	imageSeen := make(map[uuid.UUID]int)
	remaining := ordered

	e.mu.Lock()
	defer e.mu.Unlock()

	for len(picked) < k && len(remaining) > 0 {
		weights := make([]float64, len(remaining))
		var total float64
		for i, f := range remaining {
			diversity := 1.0 / float64(1+imageSeen[f.ImageID])
			w := weightQuality*float64(f.Quality) + weightDiversity*diversity
			if w <= 0 {
				w = 1e-6
			}
			weights[i] = w
			total += w
		}

		target := e.rng.Float64() * total
		idx := len(remaining) - 1
		for i, w := range weights {
			target -= w
			if target <= 0 {
				idx = i
				break
			}
		}

		f := remaining[idx]
		picked = append(picked, f)
		imageSeen[f.ImageID]++
		remaining = append(remaining[:idx:idx], remaining[idx+1:]...)
	}
	return picked
}
