package distance

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-protonet/autograd"
	"go-protonet/tensor"
)

func randomMatrix(t *testing.T, rng *rand.Rand, rows, cols int) *tensor.Tensor {
	t.Helper()
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	out, err := tensor.NewTensor([]int{rows, cols}, data)
	require.NoError(t, err)
	return out
}

func TestEuclideanValues(t *testing.T) {
	x, err := tensor.FromRows([][]float64{{1, 2, 3}, {0, 0, 0}})
	require.NoError(t, err)
	y, err := tensor.FromRows([][]float64{{4, 5, 6}})
	require.NoError(t, err)

	d, err := Euclidean(x, y)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, d.Shape())
	// squared: 27, not sqrt(27)
	assert.Equal(t, []float64{27, 77}, d.Data())
}

func TestEuclideanProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for _, dev := range []tensor.Device{tensor.CPU, tensor.BLAS} {
		t.Run(dev.Name(), func(t *testing.T) {
			x := randomMatrix(t, rng, 5, 4).To(dev)
			y := randomMatrix(t, rng, 3, 4).To(dev)

			xy, err := Euclidean(x, y)
			require.NoError(t, err)
			yx, err := Euclidean(y, x)
			require.NoError(t, err)
			yxT, err := tensor.Transpose(yx)
			require.NoError(t, err)

			t.Run("SwapTransposeSymmetry", func(t *testing.T) {
				assert.InDeltaSlice(t, xy.Data(), yxT.Data(), 1e-9)
			})

			t.Run("NonNegative", func(t *testing.T) {
				for _, v := range xy.Data() {
					assert.GreaterOrEqual(t, v, 0.0)
				}
			})

			t.Run("ZeroSelfDistance", func(t *testing.T) {
				xx, err := Euclidean(x, x)
				require.NoError(t, err)
				n := x.Shape()[0]
				for i := 0; i < n; i++ {
					assert.InDelta(t, 0.0, xx.Data()[i*n+i], 1e-9)
				}
			})
		})
	}
}

func TestEuclideanSelfDistanceExactOnCPU(t *testing.T) {
	x := randomMatrix(t, rand.New(rand.NewSource(3)), 4, 6)
	xx, err := Euclidean(x, x)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		assert.Equal(t, 0.0, xx.Data()[i*4+i])
	}
}

func TestEuclideanDevicesAgree(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	x := randomMatrix(t, rng, 64, 16)
	y := randomMatrix(t, rng, 10, 16)

	cpu, err := Euclidean(x, y)
	require.NoError(t, err)
	blas, err := Euclidean(x.To(tensor.BLAS), y.To(tensor.BLAS))
	require.NoError(t, err)

	assert.Equal(t, "blas", blas.Device().Name())
	assert.InDeltaSlice(t, cpu.Data(), blas.Data(), 1e-9)
}

func TestEuclideanRejectsMismatch(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	x := randomMatrix(t, rng, 2, 3)

	tests := []struct {
		name string
		y    *tensor.Tensor
	}{
		{"FeatureDim", randomMatrix(t, rng, 2, 4)},
		{"Rank", func() *tensor.Tensor {
			v, err := tensor.NewTensor([]int{3}, nil)
			require.NoError(t, err)
			return v
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Euclidean(x, tt.y)
			assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
		})
	}

	t.Run("Device", func(t *testing.T) {
		_, err := Euclidean(x, randomMatrix(t, rng, 2, 3).To(tensor.BLAS))
		assert.ErrorIs(t, err, tensor.ErrDeviceMismatch)
	})
}

func TestEuclideanGradient(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	x := randomMatrix(t, rng, 3, 2)
	y := randomMatrix(t, rng, 2, 2)
	x.RequiresGrad = true
	y.RequiresGrad = true
	weights := randomMatrix(t, rng, 3, 2)

	loss := func() (*tensor.Tensor, error) {
		d, err := Euclidean(x, y)
		if err != nil {
			return nil, err
		}
		weighted, err := tensor.MulTensor(d, weights)
		if err != nil {
			return nil, err
		}
		return tensor.Sum(weighted)
	}

	require.NoError(t, autograd.CheckGradients(loss, []*tensor.Tensor{x, y}, 1e-6, 1e-5))
}

func BenchmarkEuclidean(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	mk := func(rows, cols int) *tensor.Tensor {
		data := make([]float64, rows*cols)
		for i := range data {
			data[i] = rng.Float64()
		}
		out, _ := tensor.NewTensor([]int{rows, cols}, data)
		return out
	}
	queries, protos := mk(75, 1600), mk(5, 1600)

	for _, dev := range []tensor.Device{tensor.CPU, tensor.BLAS} {
		q, p := queries.To(dev), protos.To(dev)
		b.Run(dev.Name(), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				if _, err := Euclidean(q, p); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
