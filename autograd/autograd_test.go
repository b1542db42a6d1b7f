package autograd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-protonet/tensor"
)

func TestBackwardRejectsBadRoots(t *testing.T) {
	leaf, err := tensor.NewTensor([]int{1}, []float64{2})
	require.NoError(t, err)
	assert.ErrorIs(t, Backward(leaf), ErrNotDifferentiable)

	vec, err := tensor.NewTensor([]int{2}, []float64{1, 2})
	require.NoError(t, err)
	vec.RequiresGrad = true
	assert.ErrorIs(t, Backward(vec), tensor.ErrShapeMismatch)

	assert.Error(t, Backward(nil))
}

func TestCheckGradientsSquare(t *testing.T) {
	x, err := tensor.NewTensor([]int{3}, []float64{0.5, -1, 2})
	require.NoError(t, err)
	x.RequiresGrad = true

	loss := func() (*tensor.Tensor, error) {
		sq, err := tensor.MulTensor(x, x)
		if err != nil {
			return nil, err
		}
		return tensor.Sum(sq)
	}

	require.NoError(t, CheckGradients(loss, []*tensor.Tensor{x}, 1e-5, 1e-6))
	assert.InDeltaSlice(t, []float64{1, -2, 4}, x.Grad.Data(), 1e-12)
}

func TestCheckGradientsDetectsWrongGradient(t *testing.T) {
	x, err := tensor.NewTensor([]int{1}, []float64{3})
	require.NoError(t, err)
	x.RequiresGrad = true

	// a node whose backward deliberately reports zero gradient
	loss := func() (*tensor.Tensor, error) {
		out, err := tensor.NewTensor([]int{1}, []float64{x.Data()[0] * x.Data()[0]})
		if err != nil {
			return nil, err
		}
		out.RequiresGrad = true
		out.Parents = []*tensor.Tensor{x}
		out.BackwardFunc = func(*tensor.Tensor) {
			zero, _ := tensor.NewTensor([]int{1}, nil)
			x.Backward(zero)
		}
		return out, nil
	}

	err = CheckGradients(loss, []*tensor.Tensor{x}, 1e-5, 1e-6)
	var mismatch *GradientMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.InDelta(t, 6.0, mismatch.Numerical, 1e-6)
}
