// Package centroid computes robust reference vectors for persons. Like the
// clusterer it is pure compute; the consistency coordinator owns the
// create-before-deprecate publish lifecycle.
package centroid

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/your-org/faceid/internal/cluster"
	"github.com/your-org/faceid/internal/config"
	"github.com/your-org/faceid/internal/models"
)

// Breakpoints for size-dependent trimming. Below the small breakpoint no
// faces are dropped; between the two the small fraction applies; above the
// large breakpoint the large fraction applies.
const (
	trimSmallBreakpoint = 50
	trimLargeBreakpoint = 300
)

type Params struct {
	ModelVersion string
	AlgoVersion  int
	TrimSmall    float64
	TrimLarge    float64
}

func ParamsFromConfig(cfg config.EngineConfig) Params {
	return Params{
		ModelVersion: cfg.ModelVersion,
		AlgoVersion:  cfg.CentroidAlgoVersion,
		TrimSmall:    cfg.CentroidTrimSmall,
		TrimLarge:    cfg.CentroidTrimLarge,
	}
}

// Result is a computed, not yet published centroid.
type Result struct {
	Vector       []float32
	SourceFaces  int
	TrimFraction float64
	SourceHash   string
}

// Compute derives the robust mean of the given face embeddings: take the
// unit-normalized arithmetic mean, rank every embedding by similarity to it,
// drop the lowest-similarity tail per the size-dependent trim fraction, then
// recompute and normalize over the retained set.
func Compute(faces []models.FaceWithEmbedding, params Params) (*Result, error) {
	if len(faces) < 2 {
		return nil, fmt.Errorf("centroid: %d source faces, need at least 2: %w",
			len(faces), models.ErrInsufficientData)
	}

	embeddings := make([][]float32, len(faces))
	faceIDs := make([]uuid.UUID, len(faces))
	for i, f := range faces {
		embeddings[i] = f.Embedding
		faceIDs[i] = f.Face.ID
	}

	initial := mean(embeddings)
	cluster.Normalize(initial)

	trim := trimFraction(len(faces), params)
	retained := embeddings
	if trim > 0 {
		type ranked struct {
			vec []float32
			sim float32
		}
		rankedVecs := make([]ranked, len(embeddings))
		for i, e := range embeddings {
			rankedVecs[i] = ranked{vec: e, sim: cluster.CosineSimilarity(e, initial)}
		}
		sort.SliceStable(rankedVecs, func(i, j int) bool {
			return rankedVecs[i].sim > rankedVecs[j].sim
		})

		drop := int(float64(len(rankedVecs)) * trim)
		keep := len(rankedVecs) - drop
		retained = make([][]float32, keep)
		for i := 0; i < keep; i++ {
			retained[i] = rankedVecs[i].vec
		}
	}

	final := mean(retained)
	cluster.Normalize(final)

	return &Result{
		Vector:       final,
		SourceFaces:  len(faces),
		TrimFraction: trim,
		SourceHash:   models.MembershipHash(faceIDs),
	}, nil
}

// IsStale reports whether a centroid can no longer represent the person:
// the embedding model moved, the algorithm moved, or the source face set
// changed since the centroid was built. Checked before every reuse, because
// a recently built centroid can still be keyed to an outdated face set.
func IsStale(c *models.Centroid, modelVersion string, algoVersion int, currentFaceIDs []uuid.UUID) bool {
	if c.ModelVersion != modelVersion {
		return true
	}
	if c.AlgoVersion != algoVersion {
		return true
	}
	return c.SourceHash != models.MembershipHash(currentFaceIDs)
}

func trimFraction(n int, params Params) float64 {
	switch {
	case n < trimSmallBreakpoint:
		return 0
	case n <= trimLargeBreakpoint:
		return params.TrimSmall
	default:
		return params.TrimLarge
	}
}

func mean(vectors [][]float32) []float32 {
	out := make([]float32, len(vectors[0]))
	for _, v := range vectors {
		for i := range out {
			out[i] += v[i]
		}
	}
	n := float32(len(vectors))
	for i := range out {
		out[i] /= n
	}
	return out
}
