package protonet

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-protonet/autograd"
	"go-protonet/nn"
	"go-protonet/tensor"
)

func episode(t *testing.T, shape []int, data []float64) *tensor.Tensor {
	t.Helper()
	x, err := tensor.NewTensor(shape, data)
	require.NoError(t, err)
	return x
}

func randomEpisode(t *testing.T, rng *rand.Rand, shape ...int) *tensor.Tensor {
	t.Helper()
	x := episode(t, shape, nil)
	for i := range x.Data() {
		x.Data()[i] = rng.NormFloat64()
	}
	return x
}

func newNet(t *testing.T, embed Embedder, task Task, opts ...Option) *ProtoNet {
	t.Helper()
	p, err := New(embed, task, opts...)
	require.NoError(t, err)
	return p
}

// twoWay is a 2-way 1-shot 1-query feature episode: supports 0 and 10, queries 0.1 and 9.9.
func twoWay(t *testing.T) *tensor.Tensor {
	return episode(t, []int{2, 2, 1}, []float64{0, 0.1, 10, 9.9})
}

func TestScoreClassAlignment(t *testing.T) {
	p := newNet(t, nil, Task{NWay: 2, NSupport: 1, NQuery: 1})

	scores, err := p.Score(twoWay(t), true)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, scores.Shape())

	s := scores.Data()
	assert.Greater(t, s[0], s[1], "query 0 should prefer class 0")
	assert.Greater(t, s[3], s[2], "query 1 should prefer class 1")
	// negated squared distance
	assert.InDelta(t, -0.01, s[0], 1e-12)
	assert.InDelta(t, -98.01, s[1], 1e-12)

	correct, total, err := p.Correct(twoWay(t), true)
	require.NoError(t, err)
	assert.Equal(t, 2, correct)
	assert.Equal(t, 2, total)
}

func TestPrototypeIsSupportMean(t *testing.T) {
	p := newNet(t, nil, Task{NWay: 1, NSupport: 3, NQuery: 1})

	protos, err := p.Prototypes(episode(t, []int{1, 4, 1}, []float64{1, 2, 3, 7}), true)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1}, protos.Shape())
	assert.InDelta(t, 2.0, protos.Data()[0], 1e-12)
}

func TestQueryLabels(t *testing.T) {
	labels, err := QueryLabels(3, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 1, 1, 2, 2}, labels)

	_, err = QueryLabels(0, 2)
	assert.ErrorIs(t, err, ErrConfiguration)
	_, err = QueryLabels(3, -1)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestLossPositiveAndDecreasing(t *testing.T) {
	p := newNet(t, nil, Task{NWay: 2, NSupport: 1, NQuery: 1})

	// margins stay small enough that the loss never rounds to exactly zero
	prev := 0.0
	for i, q := range []float64{2, 1.5, 1, 0.5, 0} {
		loss, err := p.Loss(episode(t, []int{2, 2, 1}, []float64{0, q, 3, 2.9}), true)
		require.NoError(t, err)
		v, err := loss.Item()
		require.NoError(t, err)

		assert.Greater(t, v, 0.0)
		if i > 0 {
			assert.Less(t, v, prev, "query at %v", q)
		}
		prev = v
	}
}

func TestParseFeatureSplit(t *testing.T) {
	p := newNet(t, nil, Task{NWay: 2, NSupport: 2, NQuery: 1})
	x := episode(t, []int{2, 3, 2}, []float64{
		1, 1, 2, 2, 3, 3,
		4, 4, 5, 5, 6, 6,
	})

	support, query, err := p.ParseFeature(x, true)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 2}, support.Shape())
	assert.Equal(t, []int{2, 1, 2}, query.Shape())
	assert.Equal(t, []float64{1, 1, 2, 2, 4, 4, 5, 5}, support.Data())
	assert.Equal(t, []float64{3, 3, 6, 6}, query.Data())
}

func TestFeatureTrailingDimsFlattened(t *testing.T) {
	p := newNet(t, nil, Task{NWay: 2, NSupport: 1, NQuery: 1})
	x := randomEpisode(t, rand.New(rand.NewSource(1)), 2, 2, 2, 3)

	protos, err := p.Prototypes(x, true)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 6}, protos.Shape())
}

type badEmbedder struct{}

func (badEmbedder) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.NewTensor([]int{1, 3}, nil)
}

func TestErrors(t *testing.T) {
	task := Task{NWay: 2, NSupport: 1, NQuery: 1}

	t.Run("InvalidTask", func(t *testing.T) {
		for _, bad := range []Task{
			{NWay: 0, NSupport: 1, NQuery: 1},
			{NWay: 2, NSupport: -1, NQuery: 1},
			{NWay: 2, NSupport: 1, NQuery: 0},
		} {
			_, err := New(nil, bad)
			var cfg *ConfigurationError
			require.ErrorAs(t, err, &cfg)
			assert.ErrorIs(t, err, ErrConfiguration)
		}
	})

	p := newNet(t, nil, task)
	tests := []struct {
		name  string
		shape []int
		want  error
	}{
		{"WrongWay", []int{3, 2, 1}, tensor.ErrShapeMismatch},
		{"TooFewPerClass", []int{2, 1, 1}, ErrConfiguration},
		{"TooManyPerClass", []int{2, 3, 1}, tensor.ErrShapeMismatch},
		{"RankTooLow", []int{2, 2}, tensor.ErrShapeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := episode(t, tt.shape, nil)
			_, err := p.Score(x, true)
			assert.ErrorIs(t, err, tt.want)
			_, err = p.Loss(x, true)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("RawWithoutEmbedder", func(t *testing.T) {
		_, err := p.Score(twoWay(t), false)
		assert.Error(t, err)
	})

	t.Run("EmbedderOutputShape", func(t *testing.T) {
		q := newNet(t, badEmbedder{}, task)
		_, err := q.Score(twoWay(t), false)
		assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
	})
}

func TestAdaptiveTask(t *testing.T) {
	task := Task{NWay: 5, NSupport: 1, NQuery: 15}
	p := newNet(t, nil, task, WithAdaptiveTask())
	x := randomEpisode(t, rand.New(rand.NewSource(2)), 3, 4, 2)

	scores, err := p.Score(x, true)
	require.NoError(t, err)
	assert.Equal(t, []int{9, 3}, scores.Shape())
	assert.Equal(t, task, p.Task())

	_, total, err := p.Correct(x, true)
	require.NoError(t, err)
	assert.Equal(t, 9, total)

	_, err = p.Score(episode(t, []int{3, 1, 2}, nil), true)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestScoreDevicesAgree(t *testing.T) {
	p := newNet(t, nil, Task{NWay: 3, NSupport: 2, NQuery: 2})
	x := randomEpisode(t, rand.New(rand.NewSource(3)), 3, 4, 5)

	cpu, err := p.Score(x, true)
	require.NoError(t, err)
	blas, err := p.Score(x.To(tensor.BLAS), true)
	require.NoError(t, err)

	assert.Equal(t, "blas", blas.Device().Name())
	assert.InDeltaSlice(t, cpu.Data(), blas.Data(), 1e-9)
}

func TestLossGradientThroughEmbedding(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	embed, err := nn.NewMLP(rng, 4, 6, 3)
	require.NoError(t, err)
	p := newNet(t, embed, Task{NWay: 2, NSupport: 2, NQuery: 2})
	x := randomEpisode(t, rng, 2, 4, 4)

	loss := func() (*tensor.Tensor, error) { return p.Loss(x, false) }
	require.NoError(t, autograd.CheckGradients(loss, embed.Parameters(), 1e-6, 1e-5))

	for _, param := range embed.Parameters() {
		require.NotNil(t, param.Grad)
	}
}

func TestLossGradientThroughFeatures(t *testing.T) {
	p := newNet(t, nil, Task{NWay: 3, NSupport: 2, NQuery: 1})
	x := randomEpisode(t, rand.New(rand.NewSource(5)), 3, 3, 2)
	x.RequiresGrad = true

	loss := func() (*tensor.Tensor, error) { return p.Loss(x, true) }
	require.NoError(t, autograd.CheckGradients(loss, []*tensor.Tensor{x}, 1e-6, 1e-5))
}
