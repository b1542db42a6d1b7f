package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-protonet/tensor"
)

func param(t *testing.T, data ...float64) *tensor.Tensor {
	t.Helper()
	p, err := tensor.NewTensor([]int{len(data)}, data)
	require.NoError(t, err)
	p.RequiresGrad = true
	return p
}

func setGrad(t *testing.T, p *tensor.Tensor, grad ...float64) {
	t.Helper()
	g, err := tensor.NewTensor(p.GetShape(), grad)
	require.NoError(t, err)
	p.Grad = g
}

func TestSGDStep(t *testing.T) {
	p := param(t, 1, 2)
	skipped := param(t, 5)
	opt, err := NewSGD([]*tensor.Tensor{p, skipped}, 0.5)
	require.NoError(t, err)

	setGrad(t, p, 2, -2)
	require.NoError(t, opt.Step())
	assert.Equal(t, []float64{0, 3}, p.GetData())
	assert.Equal(t, []float64{5}, skipped.GetData())

	opt.ZeroGrad()
	assert.Equal(t, []float64{0, 0}, p.Grad.GetData())
}

func TestOptimizerValidation(t *testing.T) {
	frozen, err := tensor.NewTensor([]int{1}, nil)
	require.NoError(t, err)

	_, err = NewSGD([]*tensor.Tensor{param(t, 1)}, 0)
	assert.Error(t, err)
	_, err = NewSGD(nil, 0.1)
	assert.Error(t, err)
	_, err = NewAdam([]*tensor.Tensor{frozen}, 0.1)
	assert.Error(t, err)
}

func TestAdamFirstStepMovesByLearningRate(t *testing.T) {
	p := param(t, 1, 1)
	opt, err := NewAdam([]*tensor.Tensor{p}, 0.1)
	require.NoError(t, err)

	// after bias correction the first update is lr * sign(grad)
	setGrad(t, p, 3, -0.01)
	require.NoError(t, opt.Step())
	assert.InDelta(t, 0.9, p.GetData()[0], 1e-6)
	assert.InDelta(t, 1.1, p.GetData()[1], 1e-5)
}

func TestAdamMinimizesQuadratic(t *testing.T) {
	p := param(t, 4)
	opt, err := NewAdam([]*tensor.Tensor{p}, 0.1)
	require.NoError(t, err)

	for i := 0; i < 500; i++ {
		opt.ZeroGrad()
		x := p.GetData()[0]
		setGrad(t, p, 2*(x-1))
		require.NoError(t, opt.Step())
	}
	assert.InDelta(t, 1.0, p.GetData()[0], 1e-2)
}

func TestStepRejectsMismatchedGradient(t *testing.T) {
	p := param(t, 1, 2)
	opt, err := NewSGD([]*tensor.Tensor{p}, 0.1)
	require.NoError(t, err)

	g, err := tensor.NewTensor([]int{3}, nil)
	require.NoError(t, err)
	p.Grad = g
	assert.Error(t, opt.Step())
}
