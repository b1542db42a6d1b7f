package nn

import (
	"fmt"
	"math/rand"
)

// NewMLP builds Linear layers through dims (input, hidden..., output) with ReLU between
// them and no activation after the last, the usual embedding head for feature-vector
// episodes.
func NewMLP(rng *rand.Rand, dims ...int) (*Sequential, error) {
	if len(dims) < 2 {
		return nil, fmt.Errorf("mlp: need at least input and output dimensions, got %v", dims)
	}
	model := NewSequential()
	for i := 0; i+1 < len(dims); i++ {
		layer, err := NewLinear(dims[i], dims[i+1], rng)
		if err != nil {
			return nil, fmt.Errorf("mlp layer %d: %w", i, err)
		}
		model.Add(layer)
		if i+2 < len(dims) {
			model.Add(NewRELU())
		}
	}
	return model, nil
}

// NewConvNet builds depth blocks of conv3x3(pad 1) -> ReLU -> maxpool2, then flattens.
// A [B, inChannels, H, W] batch embeds to [B, hidden * (H>>depth) * (W>>depth)].
func NewConvNet(rng *rand.Rand, inChannels, hidden, depth int) (*Sequential, error) {
	if depth <= 0 || hidden <= 0 {
		return nil, fmt.Errorf("convnet: depth and hidden must be positive, got depth %d hidden %d", depth, hidden)
	}
	model := NewSequential()
	channels := inChannels
	for i := 0; i < depth; i++ {
		conv, err := NewConv2D(channels, hidden, 3, 1, 1, rng)
		if err != nil {
			return nil, fmt.Errorf("convnet block %d: %w", i, err)
		}
		model.Add(conv)
		model.Add(NewRELU())
		model.Add(NewMaxPooling2D(2, 2))
		channels = hidden
	}
	model.Add(NewFlatten())
	return model, nil
}
