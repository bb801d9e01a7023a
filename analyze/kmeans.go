package analyze

import (
	"math"
	"math/rand"

	"github.com/tracefield/tracefield/errors"
)

// KMeansResult is a deterministic clustering of points: same seed, same
// input, same assignments.
type KMeansResult struct {
	Assignments []int       `json:"assignments"`
	Centroids   [][]float64 `json:"centroids"`
	Iterations  int         `json:"iterations"`
}

// KMeans runs Lloyd's algorithm with a seeded RNG and an iteration cap.
// Points must all have equal dimensionality and k must not exceed the point
// count. Ties in distance resolve to the lowest cluster index.
func KMeans(points [][]float64, k int, seed int64, maxIter int) (*KMeansResult, error) {
	if k < 1 {
		return nil, errors.NewConfigError("k must be at least 1, got %d", k)
	}
	if len(points) < k {
		return nil, errors.NewDataError("need at least %d points for k=%d, got %d", k, k, len(points))
	}
	dim := len(points[0])
	for i, p := range points {
		if len(p) != dim {
			return nil, errors.NewDataError("point %d has dimension %d, want %d", i, len(p), dim)
		}
	}
	if maxIter <= 0 {
		maxIter = 100
	}

	// Seeded initialization: k distinct points chosen by a fixed RNG.
	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(len(points))
	centroids := make([][]float64, k)
	for i := 0; i < k; i++ {
		centroids[i] = append([]float64(nil), points[perm[i]]...)
	}

	assignments := make([]int, len(points))
	iterations := 0
	for iter := 0; iter < maxIter; iter++ {
		iterations = iter + 1

		changed := iter == 0
		for i, p := range points {
			best := nearestCentroid(p, centroids)
			if best != assignments[i] {
				assignments[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}

		// Recompute centroids; an emptied cluster keeps its old position.
		sums := make([][]float64, k)
		counts := make([]int, k)
		for i := range sums {
			sums[i] = make([]float64, dim)
		}
		for i, p := range points {
			c := assignments[i]
			counts[c]++
			for d, v := range p {
				sums[c][d] += v
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				continue
			}
			for d := 0; d < dim; d++ {
				centroids[c][d] = sums[c][d] / float64(counts[c])
			}
		}
	}

	return &KMeansResult{
		Assignments: assignments,
		Centroids:   centroids,
		Iterations:  iterations,
	}, nil
}

func nearestCentroid(p []float64, centroids [][]float64) int {
	best := 0
	bestDist := math.Inf(1)
	for c, centroid := range centroids {
		var dist float64
		for d, v := range p {
			diff := v - centroid[d]
			dist += diff * diff
		}
		if dist < bestDist {
			best = c
			bestDist = dist
		}
	}
	return best
}
