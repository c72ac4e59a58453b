// Package cluster implements the two-phase face clusterer. It is pure
// compute: it reads its inputs, writes nothing, and returns a result the
// caller persists. That keeps invocations retryable and testable without
// any store.
package cluster

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/your-org/faceid/internal/config"
	"github.com/your-org/faceid/internal/models"
)

// Params bounds and tunes a clustering run.
type Params struct {
	// PersonMatchThreshold is the minimum cosine similarity to a person
	// mean for a supervised assignment.
	PersonMatchThreshold float64

	// Epsilon is the neighborhood radius in cosine distance for the
	// density phase.
	Epsilon float64

	MinClusterSize int
	MinSamples     int

	// MaxFaces caps the input size. The density phase allocates an
	// O(N^2) distance matrix, so inputs above the cap are rejected
	// outright instead of truncated.
	MaxFaces int
}

func ParamsFromConfig(cfg config.EngineConfig) Params {
	return Params{
		PersonMatchThreshold: cfg.PersonMatchThreshold,
		Epsilon:              cfg.ClusterEpsilon,
		MinClusterSize:       cfg.MinClusterSize,
		MinSamples:           cfg.MinSamples,
		MaxFaces:             cfg.MaxFacesPerRun,
	}
}

// PersonEmbeddings is a known person together with the embeddings of its
// currently labeled faces.
type PersonEmbeddings struct {
	PersonID   uuid.UUID
	Embeddings [][]float32
}

// Assignment links a face to a person with the similarity that justified it.
type Assignment struct {
	FaceID   uuid.UUID
	PersonID uuid.UUID
	Score    float64
}

// Result is the outcome of one clustering run. Every input face appears in
// exactly one of Assignments, Groups, or Noise.
type Result struct {
	Assignments []Assignment
	Groups      map[string][]uuid.UUID
	Noise       []uuid.UUID
}

// Cluster runs the supervised pass against person means, then density
// clustering over the remainder. Faces that end up in no group get an
// individual noise pseudo-label so callers see "could not group" as data.
func Cluster(faces []models.FaceWithEmbedding, persons []PersonEmbeddings, params Params) (*Result, error) {
	if len(faces) == 0 {
		return nil, fmt.Errorf("cluster: no input faces: %w", models.ErrInsufficientData)
	}
	if params.MaxFaces > 0 && len(faces) > params.MaxFaces {
		return nil, fmt.Errorf("cluster: %d faces exceeds cap %d: %w",
			len(faces), params.MaxFaces, models.ErrResourceExceeded)
	}

	result := &Result{Groups: make(map[string][]uuid.UUID)}

	means := personMeans(persons)
	remaining := make([]models.FaceWithEmbedding, 0, len(faces))
	for _, f := range faces {
		if a, ok := bestPersonMatch(f, means, params.PersonMatchThreshold); ok {
			result.Assignments = append(result.Assignments, a)
			continue
		}
		remaining = append(remaining, f)
	}

	labels := densityCluster(remaining, params)
	grouped := make(map[int][]uuid.UUID)
	for i, label := range labels {
		if label < 0 {
			continue
		}
		grouped[label] = append(grouped[label], remaining[i].Face.ID)
	}

	for _, members := range grouped {
		if len(members) < 2 {
			// A group of one is noise, not a cluster.
			result.Noise = append(result.Noise, members...)
			continue
		}
		sortUUIDs(members)
		result.Groups[groupLabel(members)] = members
	}
	for i, label := range labels {
		if label < 0 {
			result.Noise = append(result.Noise, remaining[i].Face.ID)
		}
	}
	sortUUIDs(result.Noise)

	return result, nil
}

// NoiseLabel is the pseudo-group label for a face that could not be grouped.
func NoiseLabel(faceID uuid.UUID) string {
	return "noise-" + faceID.String()
}

// groupLabel derives a stable label from the sorted member set, so reruns
// over the same faces produce the same label.
func groupLabel(members []uuid.UUID) string {
	return "group-" + models.MembershipHash(members)[:12]
}

type personMean struct {
	personID uuid.UUID
	mean     []float32
}

func personMeans(persons []PersonEmbeddings) []personMean {
	means := make([]personMean, 0, len(persons))
	for _, p := range persons {
		if len(p.Embeddings) == 0 {
			continue
		}
		m := meanVector(p.Embeddings)
		Normalize(m)
		means = append(means, personMean{personID: p.PersonID, mean: m})
	}
	// Deterministic iteration order for tie-breaking.
	sort.Slice(means, func(i, j int) bool {
		return lessUUID(means[i].personID, means[j].personID)
	})
	return means
}

func bestPersonMatch(f models.FaceWithEmbedding, means []personMean, threshold float64) (Assignment, bool) {
	best := Assignment{}
	found := false
	for _, pm := range means {
		score := float64(CosineSimilarity(f.Embedding, pm.mean))
		if score < threshold {
			continue
		}
		// Strict greater keeps the lower UUID on a tie because means
		// are iterated in ascending UUID order.
		if !found || score > best.Score {
			best = Assignment{FaceID: f.Face.ID, PersonID: pm.personID, Score: score}
			found = true
		}
	}
	return best, found
}

func meanVector(vectors [][]float32) []float32 {
	mean := make([]float32, len(vectors[0]))
	for _, v := range vectors {
		for i := range mean {
			mean[i] += v[i]
		}
	}
	n := float32(len(vectors))
	for i := range mean {
		mean[i] /= n
	}
	return mean
}

func sortUUIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool { return lessUUID(ids[i], ids[j]) })
}

func lessUUID(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
