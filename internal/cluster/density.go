package cluster

import "github.com/your-org/faceid/internal/models"

const (
	labelUnvisited = -2
	labelNoise     = -1
)

// densityCluster is a DBSCAN pass over a precomputed cosine distance matrix.
// Returns one label per input face; labelNoise for faces in no cluster.
func densityCluster(faces []models.FaceWithEmbedding, params Params) []int {
	n := len(faces)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = labelUnvisited
	}
	if n < params.MinClusterSize {
		for i := range labels {
			labels[i] = labelNoise
		}
		return labels
	}

	dist := distanceMatrix(faces)
	eps := float32(params.Epsilon)

	neighbors := func(i int) []int {
		var out []int
		for j := 0; j < n; j++ {
			if j != i && dist[i][j] <= eps {
				out = append(out, j)
			}
		}
		return out
	}

	next := 0
	for i := 0; i < n; i++ {
		if labels[i] != labelUnvisited {
			continue
		}
		nbrs := neighbors(i)
		if len(nbrs)+1 < params.MinSamples {
			labels[i] = labelNoise
			continue
		}

		label := next
		next++
		labels[i] = label

		// Expand the cluster; nbrs grows as core points are found.
		for k := 0; k < len(nbrs); k++ {
			j := nbrs[k]
			if labels[j] == labelNoise {
				labels[j] = label // border point
				continue
			}
			if labels[j] != labelUnvisited {
				continue
			}
			labels[j] = label
			jnbrs := neighbors(j)
			if len(jnbrs)+1 >= params.MinSamples {
				nbrs = append(nbrs, jnbrs...)
			}
		}
	}

	// Clusters below the minimum size collapse to noise.
	counts := make(map[int]int)
	for _, l := range labels {
		if l >= 0 {
			counts[l]++
		}
	}
	for i, l := range labels {
		if l >= 0 && counts[l] < params.MinClusterSize {
			labels[i] = labelNoise
		}
	}
	return labels
}

func distanceMatrix(faces []models.FaceWithEmbedding) [][]float32 {
	n := len(faces)
	dist := make([][]float32, n)
	for i := range dist {
		dist[i] = make([]float32, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := 1 - CosineSimilarity(faces[i].Embedding, faces[j].Embedding)
			dist[i][j] = d
			dist[j][i] = d
		}
	}
	return dist
}
