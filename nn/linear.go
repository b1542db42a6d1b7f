package nn

import (
	"fmt"
	"math"
	"math/rand"

	"go-protonet/tensor"
)

// linear dense layer: output = input @ weight + bias
type Linear struct {
	weight *tensor.Tensor // Shape: [inputDimensions, outputDimensions]
	bias   *tensor.Tensor // Shape: [outputDimensions]
}

// NewLinear creates a Linear layer with weights and biases drawn uniformly from
// [-1/sqrt(in), 1/sqrt(in)]. rng is explicit so initialization is reproducible.
func NewLinear(inputDimensions, outputDimensions int, rng *rand.Rand) (*Linear, error) {
	if inputDimensions <= 0 || outputDimensions <= 0 {
		return nil, fmt.Errorf("linear layer dimensions must be positive, got input %d, output %d", inputDimensions, outputDimensions)
	}
	if rng == nil {
		return nil, fmt.Errorf("linear layer: nil random source")
	}

	bound := 1 / math.Sqrt(float64(inputDimensions))
	uniform := func(n int) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = (2*rng.Float64() - 1) * bound
		}
		return out
	}

	weights, err := tensor.NewTensor([]int{inputDimensions, outputDimensions}, uniform(inputDimensions*outputDimensions))
	if err != nil {
		return nil, fmt.Errorf("linear layer failed to create weight tensor: %w", err)
	}
	weights.RequiresGrad = true

	bias, err := tensor.NewTensor([]int{outputDimensions}, uniform(outputDimensions))
	if err != nil {
		return nil, fmt.Errorf("linear layer failed to create bias tensor: %w", err)
	}
	bias.RequiresGrad = true

	return &Linear{weight: weights, bias: bias}, nil
}

// NewLinearFrom wraps existing weight [in, out] and bias [out] tensors.
func NewLinearFrom(weight, bias *tensor.Tensor) (*Linear, error) {
	ws, bs := weight.GetShape(), bias.GetShape()
	if len(ws) != 2 || len(bs) != 1 || bs[0] != ws[1] {
		return nil, &tensor.ShapeMismatchError{Op: "linear", Got: bs, Want: []int{ws[len(ws)-1]}, Detail: "bias must match weight output dimension"}
	}
	return &Linear{weight: weight, bias: bias}, nil
}

// Forward maps [batch_size, input_dimensions] to [batch_size, output_dimensions].
func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	inputShape := input.GetShape()
	if len(inputShape) != 2 {
		return nil, &tensor.ShapeMismatchError{Op: "linear", Got: inputShape, Detail: "expected [batch_size, input_dimensions]"}
	}
	if inputShape[1] != l.weight.GetShape()[0] {
		return nil, &tensor.ShapeMismatchError{
			Op:     "linear",
			Got:    inputShape,
			Want:   []int{inputShape[0], l.weight.GetShape()[0]},
			Detail: "input dimension does not match weight",
		}
	}

	step, err := tensor.MatMulTensor(input, l.weight)
	if err != nil {
		return nil, fmt.Errorf("linear layer matmul failed: %w", err)
	}

	// bias is broadcast along the batch axis; its gradient is the column sum
	output, err := tensor.AddTensorBroadcast(step, l.bias)
	if err != nil {
		return nil, fmt.Errorf("linear layer bias addition failed: %w", err)
	}
	return output, nil
}

// Parameters returns weight then bias, skipping frozen tensors.
func (l *Linear) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	if l.weight != nil && l.weight.RequiresGrad {
		params = append(params, l.weight)
	}
	if l.bias != nil && l.bias.RequiresGrad {
		params = append(params, l.bias)
	}
	return params
}

func (l *Linear) ZeroGrad() {
	if l.weight != nil {
		l.weight.ZeroGrad()
	}
	if l.bias != nil {
		l.bias.ZeroGrad()
	}
}

func (l *Linear) Name() string { return "Linear" }
