package episode

import (
	"fmt"
	"math"
	"math/rand"
)

// SyntheticClusters draws perClass points around one random center per class. Centers
// are uniform in [-1, 1]^dim scaled by sqrt(dim); points add N(0, spread^2) noise.
func SyntheticClusters(rng *rand.Rand, classes, perClass, dim int, spread float64) (*Dataset, error) {
	if classes <= 0 || perClass <= 0 || dim <= 0 {
		return nil, fmt.Errorf("synthetic: non-positive size %d x %d x %d", classes, perClass, dim)
	}
	scale := math.Sqrt(float64(dim))
	data := make([]float64, 0, classes*perClass*dim)
	labels := make([]int, 0, classes*perClass)
	center := make([]float64, dim)
	for c := 0; c < classes; c++ {
		for k := range center {
			center[k] = (2*rng.Float64() - 1) * scale
		}
		for i := 0; i < perClass; i++ {
			for k := range center {
				data = append(data, center[k]+spread*rng.NormFloat64())
			}
			labels = append(labels, c)
		}
	}
	return NewDataset([]int{dim}, data, labels)
}
