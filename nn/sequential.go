package nn

import (
	"fmt"

	"go-protonet/tensor"
)

// Sequential runs layers in order. It is itself a Layer, so it can be used directly as a
// prototypical network's embedding function.
type Sequential struct {
	layers []Layer
}

func NewSequential(layers ...Layer) *Sequential {
	return &Sequential{
		layers: append(make([]Layer, 0, len(layers)), layers...),
	}
}

// Add appends a layer.
func (s *Sequential) Add(layer Layer) {
	s.layers = append(s.layers, layer)
}

func (s *Sequential) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	for i, layer := range s.layers {
		x, err = layer.Forward(x)
		if err != nil {
			return nil, fmt.Errorf("layer %d (%s): %w", i, layer.Name(), err)
		}
	}
	return x, nil
}

// Parameters returns every layer's parameters in layer order.
func (s *Sequential) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, layer := range s.layers {
		params = append(params, layer.Parameters()...)
	}
	return params
}

func (s *Sequential) ZeroGrad() {
	for _, layer := range s.layers {
		layer.ZeroGrad()
	}
}

func (s *Sequential) Name() string { return "Sequential" }

func (s *Sequential) Layers() []Layer {
	return s.layers
}
