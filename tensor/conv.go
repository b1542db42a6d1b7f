package tensor

import (
	"fmt"
	"log/slog"
)

// ConvGeometry is the output size of a square-stride convolution window.
func ConvGeometry(height, width, kernelHeight, kernelWidth, stride, padding int) (outHeight, outWidth int) {
	outHeight = (height+2*padding-kernelHeight)/stride + 1
	outWidth = (width+2*padding-kernelWidth)/stride + 1
	return outHeight, outWidth
}

// Im2Col unfolds a [B, C, H, W] input into a [C*kh*kw, B*outH*outW] column matrix.
// Batches are unfolded in parallel.
func Im2Col(input *Tensor, kernelHeight, kernelWidth, stride, padding int) (*Tensor, error) {
	shape := input.GetShape()
	if len(shape) != 4 {
		return nil, &ShapeMismatchError{Op: "im2col", Got: shape, Detail: "4-D input required"}
	}
	if stride <= 0 {
		return nil, fmt.Errorf("im2col: stride must be positive, got %d", stride)
	}
	batchSize, channels, height, width := shape[0], shape[1], shape[2], shape[3]

	outHeight, outWidth := ConvGeometry(height, width, kernelHeight, kernelWidth, stride, padding)
	if outHeight <= 0 || outWidth <= 0 {
		return nil, fmt.Errorf("convolution produces invalid output size: %dx%d", outHeight, outWidth)
	}

	outputCols := outHeight * outWidth
	colShape := []int{channels * kernelHeight * kernelWidth, batchSize * outputCols}
	colData := make([]float64, colShape[0]*colShape[1])
	inputData := input.GetData()

	parallelFor(batchSize, 0, func(sB, eB int) {
		for b := sB; b < eB; b++ {
			for c := 0; c < channels; c++ {
				for kh := 0; kh < kernelHeight; kh++ {
					for kw := 0; kw < kernelWidth; kw++ {
						colRow := c*(kernelHeight*kernelWidth) + kh*kernelWidth + kw
						for oh := 0; oh < outHeight; oh++ {
							row := kh - padding + oh*stride
							if row < 0 || row >= height {
								continue
							}
							for ow := 0; ow < outWidth; ow++ {
								col := kw - padding + ow*stride
								if col < 0 || col >= width {
									continue
								}
								dst := colRow*colShape[1] + b*outputCols + oh*outWidth + ow
								colData[dst] = inputData[((b*channels+c)*height+row)*width+col]
							}
						}
					}
				}
			}
		}
	})

	cols, err := newResult(input, colShape, colData)
	if err != nil {
		return nil, fmt.Errorf("im2col failed to create output tensor: %w", err)
	}

	if input.RequiresGrad {
		cols.RequiresGrad = true
		cols.Parents = []*Tensor{input}
		cols.Operation = "im2col"
		cols.BackwardFunc = func(grad *Tensor) {
			img, err := Col2Im(grad, shape, kernelHeight, kernelWidth, stride, padding)
			if err != nil {
				slog.Warn("im2col backward failed", "error", err)
				return
			}
			input.Backward(img)
		}
	}
	return cols, nil
}

// Col2Im folds a column matrix back into inputShape, summing overlapping windows.
// It is the adjoint of Im2Col and is used in the convolution backward pass.
func Col2Im(cols *Tensor, inputShape []int, kernelHeight, kernelWidth, stride, padding int) (*Tensor, error) {
	if len(inputShape) != 4 {
		return nil, &ShapeMismatchError{Op: "col2im", Got: inputShape, Detail: "4-D target shape required"}
	}
	batchSize, channels, height, width := inputShape[0], inputShape[1], inputShape[2], inputShape[3]
	outHeight, outWidth := ConvGeometry(height, width, kernelHeight, kernelWidth, stride, padding)

	colsShape := cols.GetShape()
	wantCols := []int{channels * kernelHeight * kernelWidth, batchSize * outHeight * outWidth}
	if !sameShape(colsShape, wantCols) {
		return nil, &ShapeMismatchError{Op: "col2im", Got: colsShape, Want: wantCols}
	}

	imgData := make([]float64, batchSize*channels*height*width)
	colsData := cols.GetData()

	// each job owns one (batch, channel) plane, so writes never overlap
	parallelFor(batchSize*channels, 0, func(start, end int) {
		for job := start; job < end; job++ {
			b, c := job/channels, job%channels
			for kh := 0; kh < kernelHeight; kh++ {
				for kw := 0; kw < kernelWidth; kw++ {
					colRow := c*(kernelHeight*kernelWidth) + kh*kernelWidth + kw
					for oh := 0; oh < outHeight; oh++ {
						row := kh - padding + oh*stride
						if row < 0 || row >= height {
							continue
						}
						for ow := 0; ow < outWidth; ow++ {
							col := kw - padding + ow*stride
							if col < 0 || col >= width {
								continue
							}
							src := colRow*colsShape[1] + b*outHeight*outWidth + oh*outWidth + ow
							imgData[((b*channels+c)*height+row)*width+col] += colsData[src]
						}
					}
				}
			}
		}
	})

	img, err := newResult(cols, inputShape, imgData)
	if err != nil {
		return nil, fmt.Errorf("col2im failed to create output tensor: %w", err)
	}
	return img, nil
}

func stridesOf(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

// Permute reorders axes: output axis i is input axis order[i].
func Permute(t *Tensor, order []int) (*Tensor, error) {
	shape := t.GetShape()
	if len(order) != len(shape) {
		return nil, &ShapeMismatchError{Op: "permute", Got: order, Want: shape, Detail: "order must name every axis"}
	}
	seen := make([]bool, len(order))
	outShape := make([]int, len(order))
	for i, axis := range order {
		if axis < 0 || axis >= len(shape) || seen[axis] {
			return nil, fmt.Errorf("permute: invalid axis order %v", order)
		}
		seen[axis] = true
		outShape[i] = shape[axis]
	}

	inStrides := stridesOf(shape)
	outStrides := stridesOf(outShape)
	// srcOffset maps a flat output index to the flat input index it reads.
	srcOffset := func(flat int) int {
		src := 0
		for i := range outShape {
			idx := flat / outStrides[i]
			flat %= outStrides[i]
			src += idx * inStrides[order[i]]
		}
		return src
	}

	outData := make([]float64, len(t.data))
	for i := range outData {
		outData[i] = t.data[srcOffset(i)]
	}

	out, err := newResult(t, outShape, outData)
	if err != nil {
		return nil, err
	}

	if t.RequiresGrad {
		out.RequiresGrad = true
		out.Parents = []*Tensor{t}
		out.Operation = "permute"
		out.BackwardFunc = func(grad *Tensor) {
			g := make([]float64, len(t.data))
			for i, v := range grad.data {
				g[srcOffset(i)] = v
			}
			tGrad, _ := NewTensor(t.shape, g)
			t.Backward(tGrad)
		}
	}
	return out, nil
}

// AddTensorBroadcast adds a per-channel bias [C] to a [B, C, ...] tensor.
func AddTensorBroadcast(t *Tensor, bias *Tensor) (*Tensor, error) {
	shape := t.GetShape()
	if len(shape) < 2 || len(bias.shape) != 1 || bias.shape[0] != shape[1] {
		return nil, &ShapeMismatchError{Op: "add_broadcast", Got: bias.shape, Want: []int{channelsOf(shape)}}
	}
	outer, channels, inner := splitAt(shape, 1)

	outData := make([]float64, len(t.data))
	for o := 0; o < outer; o++ {
		for c := 0; c < channels; c++ {
			base := (o*channels + c) * inner
			for i := 0; i < inner; i++ {
				outData[base+i] = t.data[base+i] + bias.data[c]
			}
		}
	}

	out, err := newResult(t, shape, outData)
	if err != nil {
		return nil, err
	}

	if t.RequiresGrad || bias.RequiresGrad {
		out.RequiresGrad = true
		out.Parents = []*Tensor{t, bias}
		out.Operation = "add_broadcast"
		out.BackwardFunc = func(grad *Tensor) {
			if t.RequiresGrad {
				tGrad, _ := NewTensor(t.shape, grad.data)
				t.Backward(tGrad)
			}
			if bias.RequiresGrad {
				g := make([]float64, channels)
				for o := 0; o < outer; o++ {
					for c := 0; c < channels; c++ {
						base := (o*channels + c) * inner
						for i := 0; i < inner; i++ {
							g[c] += grad.data[base+i]
						}
					}
				}
				bGrad, err := NewTensor(bias.shape, g)
				if err != nil {
					slog.Warn("bias backward failed", "error", err)
					return
				}
				bias.Backward(bGrad)
			}
		}
	}
	return out, nil
}

func channelsOf(shape []int) int {
	if len(shape) < 2 {
		return 0
	}
	return shape[1]
}
