package nn

import (
	"fmt"
	"math"
	"math/rand"

	"go-protonet/tensor"
)

// Conv2D is a 2D convolution lowered to im2col + matmul, so autograd comes from those ops.
type Conv2D struct {
	Weight  *tensor.Tensor // Shape: [OutChannels, InChannels, KernelHeight, KernelWidth]
	Bias    *tensor.Tensor // Shape: [OutChannels]
	Stride  int
	Padding int
}

// NewConv2D draws weights uniformly from [-1/sqrt(fanIn), 1/sqrt(fanIn)]; bias starts at zero.
func NewConv2D(inChannels, outChannels, kernelSize, stride, padding int, rng *rand.Rand) (*Conv2D, error) {
	if inChannels <= 0 || outChannels <= 0 || kernelSize <= 0 || stride <= 0 || padding < 0 {
		return nil, fmt.Errorf("conv2d: invalid geometry in=%d out=%d kernel=%d stride=%d padding=%d", inChannels, outChannels, kernelSize, stride, padding)
	}
	if rng == nil {
		return nil, fmt.Errorf("conv2d: nil random source")
	}

	fanIn := inChannels * kernelSize * kernelSize
	bound := 1 / math.Sqrt(float64(fanIn))
	weightData := make([]float64, outChannels*fanIn)
	for i := range weightData {
		weightData[i] = (2*rng.Float64() - 1) * bound
	}
	weights, err := tensor.NewTensor([]int{outChannels, inChannels, kernelSize, kernelSize}, weightData)
	if err != nil {
		return nil, fmt.Errorf("failed to create weight tensor: %w", err)
	}
	weights.RequiresGrad = true

	bias, err := tensor.NewTensor([]int{outChannels}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create bias tensor: %w", err)
	}
	bias.RequiresGrad = true

	return &Conv2D{Weight: weights, Bias: bias, Stride: stride, Padding: padding}, nil
}

// Forward maps [B, InChannels, H, W] to [B, OutChannels, outH, outW].
func (c *Conv2D) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	wShape := c.Weight.GetShape()
	outChannels, inChannels, kernelHeight, kernelWidth := wShape[0], wShape[1], wShape[2], wShape[3]

	inShape := input.GetShape()
	if len(inShape) != 4 || inShape[1] != inChannels {
		return nil, &tensor.ShapeMismatchError{Op: "conv2d", Got: inShape, Detail: fmt.Sprintf("expected [B, %d, H, W]", inChannels)}
	}

	// [C*kh*kw, B*outH*outW]
	inputCols, err := tensor.Im2Col(input, kernelHeight, kernelWidth, c.Stride, c.Padding)
	if err != nil {
		return nil, fmt.Errorf("conv forward failed during im2col: %w", err)
	}

	kernelMatrix, err := tensor.Reshape(c.Weight, []int{outChannels, inChannels * kernelHeight * kernelWidth})
	if err != nil {
		return nil, fmt.Errorf("conv forward failed reshaping kernel: %w", err)
	}

	// [OutChannels, B*outH*outW]
	product, err := tensor.MatMulTensor(kernelMatrix, inputCols)
	if err != nil {
		return nil, fmt.Errorf("conv forward failed during matmul: %w", err)
	}

	outHeight, outWidth := tensor.ConvGeometry(inShape[2], inShape[3], kernelHeight, kernelWidth, c.Stride, c.Padding)
	reshaped, err := tensor.Reshape(product, []int{outChannels, inShape[0], outHeight, outWidth})
	if err != nil {
		return nil, fmt.Errorf("conv forward failed reshaping output: %w", err)
	}

	permuted, err := tensor.Permute(reshaped, []int{1, 0, 2, 3})
	if err != nil {
		return nil, fmt.Errorf("conv forward failed during permute: %w", err)
	}

	out, err := tensor.AddTensorBroadcast(permuted, c.Bias)
	if err != nil {
		return nil, fmt.Errorf("conv forward failed during bias add: %w", err)
	}
	return out, nil
}

func (c *Conv2D) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{c.Weight, c.Bias}
}

func (c *Conv2D) ZeroGrad() {
	c.Weight.ZeroGrad()
	c.Bias.ZeroGrad()
}

func (c *Conv2D) Name() string { return "Conv2D" }
