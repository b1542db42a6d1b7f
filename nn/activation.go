package nn

import (
	"fmt"
	"log/slog"
	"math"

	"go-protonet/tensor"
)

// elementwise applies f to every element. deriv receives the input and output values
// and returns dy/dx for the backward pass.
func elementwise(t *tensor.Tensor, op string, f func(float64) float64, deriv func(x, y float64) float64) (*tensor.Tensor, error) {
	tData := t.GetData()
	outData := make([]float64, len(tData))
	for i, v := range tData {
		outData[i] = f(v)
	}

	r, err := tensor.NewTensor(t.GetShape(), outData)
	if err != nil {
		return nil, fmt.Errorf("%s failed to create output tensor: %w", op, err)
	}
	r = r.To(t.Device())

	if t.RequiresGrad {
		r.RequiresGrad = true
		r.Parents = []*tensor.Tensor{t}
		r.Operation = op
		r.BackwardFunc = func(grad *tensor.Tensor) {
			gradData := grad.GetData()
			g := make([]float64, len(gradData))
			for i := range g {
				g[i] = gradData[i] * deriv(tData[i], outData[i])
			}
			gradForT, err := tensor.NewTensor(t.GetShape(), g)
			if err != nil {
				slog.Warn("activation backward failed", "op", op, "error", err)
				return
			}
			t.Backward(gradForT)
		}
	}
	return r, nil
}

// RELU: out = max(0, t)
func RELU(t *tensor.Tensor) (*tensor.Tensor, error) {
	return elementwise(t, "relu",
		func(v float64) float64 { return math.Max(v, 0) },
		func(x, _ float64) float64 {
			if x > 0 {
				return 1
			}
			return 0
		})
}

// Sigmoid: out = 1 / (1 + exp(-t)); dy/dx = y(1-y)
func Sigmoid(t *tensor.Tensor) (*tensor.Tensor, error) {
	return elementwise(t, "sigmoid",
		func(v float64) float64 { return 1 / (1 + math.Exp(-v)) },
		func(_, y float64) float64 { return y * (1 - y) })
}

// Tanh: dy/dx = 1 - y²
func Tanh(t *tensor.Tensor) (*tensor.Tensor, error) {
	return elementwise(t, "tanh", math.Tanh,
		func(_, y float64) float64 { return 1 - y*y })
}

// Softmax normalizes each row of the last axis into probabilities, using the max-shift
// for stability.
func Softmax(t *tensor.Tensor) (*tensor.Tensor, error) {
	shape := t.GetShape()
	if len(shape) == 0 {
		return nil, &tensor.ShapeMismatchError{Op: "softmax", Got: shape, Detail: "at least one axis required"}
	}
	width := shape[len(shape)-1]
	tData := t.GetData()
	rows := len(tData) / width
	outData := make([]float64, len(tData))

	for r := 0; r < rows; r++ {
		in := tData[r*width : (r+1)*width]
		out := outData[r*width : (r+1)*width]
		maxv := in[0]
		for _, v := range in {
			maxv = math.Max(maxv, v)
		}
		var sum float64
		for i, v := range in {
			out[i] = math.Exp(v - maxv)
			sum += out[i]
		}
		for i := range out {
			out[i] /= sum
		}
	}

	s, err := tensor.NewTensor(shape, outData)
	if err != nil {
		return nil, fmt.Errorf("softmax failed to create output tensor: %w", err)
	}
	s = s.To(t.Device())

	if t.RequiresGrad {
		s.RequiresGrad = true
		s.Parents = []*tensor.Tensor{t}
		s.Operation = "softmax"
		s.BackwardFunc = func(grad *tensor.Tensor) {
			// dL/dx_j = y_j * (dL/dy_j - sum_i dL/dy_i * y_i), per row
			gradData := grad.GetData()
			g := make([]float64, len(gradData))
			for r := 0; r < rows; r++ {
				y := outData[r*width : (r+1)*width]
				gy := gradData[r*width : (r+1)*width]
				var dot float64
				for i := range y {
					dot += gy[i] * y[i]
				}
				for i := range y {
					g[r*width+i] = y[i] * (gy[i] - dot)
				}
			}
			gradForT, err := tensor.NewTensor(shape, g)
			if err != nil {
				slog.Warn("softmax backward failed", "error", err)
				return
			}
			t.Backward(gradForT)
		}
	}
	return s, nil
}
