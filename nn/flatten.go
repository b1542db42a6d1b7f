package nn

import (
	"go-protonet/tensor"
)

// Flatten reshapes a [Batch, ...] tensor into [Batch, Features].
type Flatten struct{}

func NewFlatten() *Flatten {
	return &Flatten{}
}

func (f *Flatten) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	shape := input.GetShape()
	if len(shape) == 0 {
		return nil, &tensor.ShapeMismatchError{Op: "flatten", Got: shape, Detail: "batch axis required"}
	}
	batchSize := shape[0]
	// Reshape is already autograd-aware
	return tensor.Reshape(input, []int{batchSize, tensor.Numel(input) / batchSize})
}

func (f *Flatten) Parameters() []*tensor.Tensor { return nil }
func (f *Flatten) ZeroGrad()                    {}
func (f *Flatten) Name() string                 { return "Flatten" }
