package fingerprint

import (
	"fmt"
	"math"
)

const (
	// GridSize is the side of the comparison grid. The vector column in
	// Postgres is sized to GridSize*GridSize.
	GridSize = 100

	DefaultSimilarityThreshold = 0.85
)

// MaxDistance is the Euclidean distance between an all-black and an
// all-white grid of n cells.
func MaxDistance(n int) float64 {
	return math.Sqrt(float64(n)) * 255
}

// Distance is the Euclidean distance between two grids of equal length.
func Distance(a, b []uint8) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("grid size mismatch: %d vs %d", len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// Similarity returns 1 - distance/maxDistance, in [0,1].
func Similarity(a, b []uint8) (float64, error) {
	if len(a) == 0 {
		return 0, fmt.Errorf("empty grid")
	}
	dist, err := Distance(a, b)
	if err != nil {
		return 0, err
	}
	return 1 - dist/MaxDistance(len(a)), nil
}

// DistanceBound converts a similarity threshold into the largest distance
// that can still exceed it for grids of n cells.
func DistanceBound(threshold float64, n int) float64 {
	return (1 - threshold) * MaxDistance(n)
}
