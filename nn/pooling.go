package nn

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"go-protonet/tensor"
)

// MaxPooling2D implements a 2D max pooling layer.
type MaxPooling2D struct {
	KernelSize int
	Stride     int
}

func NewMaxPooling2D(kernelSize, stride int) *MaxPooling2D {
	return &MaxPooling2D{KernelSize: kernelSize, Stride: stride}
}

func (p *MaxPooling2D) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	inputShape := input.GetShape()
	if len(inputShape) != 4 {
		return nil, &tensor.ShapeMismatchError{Op: "maxpool", Got: inputShape, Detail: "4-D input required"}
	}
	b, c, h, w := inputShape[0], inputShape[1], inputShape[2], inputShape[3]

	outH := (h-p.KernelSize)/p.Stride + 1
	outW := (w-p.KernelSize)/p.Stride + 1
	if outH <= 0 || outW <= 0 {
		return nil, fmt.Errorf("maxpool: window %d does not fit input %dx%d", p.KernelSize, h, w)
	}
	outShape := []int{b, c, outH, outW}
	outData := make([]float64, b*c*outH*outW)
	maxIndices := make([]int, len(outData))
	inputData := input.GetData()

	numGoroutines := runtime.NumCPU()
	var wg sync.WaitGroup

	// one job per (batch, channel) plane
	totalJobs := b * c
	jobsPerGo := (totalJobs + numGoroutines - 1) / numGoroutines

	for g := 0; g < numGoroutines; g++ {
		startJob, endJob := g*jobsPerGo, (g+1)*jobsPerGo
		if endJob > totalJobs {
			endJob = totalJobs
		}
		if startJob >= endJob {
			continue
		}

		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for job := s; job < e; job++ {
				plane := job * h * w
				outPlane := job * outH * outW
				for k := 0; k < outH; k++ {
					for l := 0; l < outW; l++ {
						maxVal := -math.MaxFloat64
						maxIndex := -1
						for y := 0; y < p.KernelSize; y++ {
							for x := 0; x < p.KernelSize; x++ {
								src := plane + (k*p.Stride+y)*w + l*p.Stride + x
								if inputData[src] > maxVal {
									maxVal = inputData[src]
									maxIndex = src
								}
							}
						}
						outData[outPlane+k*outW+l] = maxVal
						maxIndices[outPlane+k*outW+l] = maxIndex
					}
				}
			}
		}(startJob, endJob)
	}
	wg.Wait()

	output, err := tensor.NewTensor(outShape, outData)
	if err != nil {
		return nil, err
	}
	output = output.To(input.Device())

	if input.RequiresGrad {
		output.RequiresGrad = true
		output.Parents = []*tensor.Tensor{input}
		output.Operation = "maxpool"
		output.BackwardFunc = func(grad *tensor.Tensor) {
			gradInputData := make([]float64, tensor.Numel(input))
			for i, g := range grad.GetData() {
				gradInputData[maxIndices[i]] += g
			}
			gradForInput, _ := tensor.NewTensor(inputShape, gradInputData)
			input.Backward(gradForInput)
		}
	}
	return output, nil
}

// MaxPooling has no learnable parameters.
func (p *MaxPooling2D) Parameters() []*tensor.Tensor { return nil }
func (p *MaxPooling2D) ZeroGrad()                    {}
func (p *MaxPooling2D) Name() string                 { return "MaxPool2D" }
