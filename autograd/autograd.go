// Package autograd drives the reverse pass over tensor graphs and checks analytic
// gradients against finite differences.
package autograd

import (
	"errors"
	"fmt"
	"math"

	"go-protonet/tensor"
)

// ErrNotDifferentiable is returned when the root of a backward pass does not require grad.
var ErrNotDifferentiable = errors.New("root does not require grad")

// Backward seeds a scalar root with 1.0 and propagates gradients to every tensor in its
// graph that requires grad. Gradients accumulate; zero them between steps.
func Backward(root *tensor.Tensor) error {
	if root == nil {
		return fmt.Errorf("backward: nil root")
	}
	if !root.RequiresGrad {
		return ErrNotDifferentiable
	}
	if tensor.Numel(root) != 1 {
		return &tensor.ShapeMismatchError{Op: "backward", Got: root.Shape(), Want: []int{1}, Detail: "scalar root required"}
	}
	root.Backward(nil)
	return nil
}

// GradientMismatchError reports the first parameter element whose analytic gradient
// disagrees with the finite-difference estimate.
type GradientMismatchError struct {
	Param     int
	Index     int
	Analytic  float64
	Numerical float64
}

func (e *GradientMismatchError) Error() string {
	return fmt.Sprintf("gradient mismatch at param %d index %d: analytic %g, numerical %g", e.Param, e.Index, e.Analytic, e.Numerical)
}

// NumericalGradient estimates d f / d param by central differences, perturbing param's
// data in place and restoring it afterwards.
func NumericalGradient(f func() (float64, error), param *tensor.Tensor, eps float64) ([]float64, error) {
	data := param.Data()
	grad := make([]float64, len(data))
	for i := range data {
		orig := data[i]

		data[i] = orig + eps
		plus, err := f()
		if err != nil {
			data[i] = orig
			return nil, err
		}
		data[i] = orig - eps
		minus, err := f()
		data[i] = orig
		if err != nil {
			return nil, err
		}

		grad[i] = (plus - minus) / (2 * eps)
	}
	return grad, nil
}

// CheckGradients runs one backward pass of loss and compares each params gradient with a
// central-difference estimate. Agreement is |a-n| <= tol * max(1, |a|+|n|).
func CheckGradients(loss func() (*tensor.Tensor, error), params []*tensor.Tensor, eps, tol float64) error {
	for _, p := range params {
		p.Grad = nil
	}
	root, err := loss()
	if err != nil {
		return err
	}
	if err := Backward(root); err != nil {
		return err
	}

	analytic := make([][]float64, len(params))
	for i, p := range params {
		if p.Grad == nil {
			analytic[i] = make([]float64, tensor.Numel(p))
			continue
		}
		analytic[i] = append([]float64{}, p.Grad.Data()...)
	}

	value := func() (float64, error) {
		out, err := loss()
		if err != nil {
			return 0, err
		}
		return out.Item()
	}

	for pi, p := range params {
		numerical, err := NumericalGradient(value, p, eps)
		if err != nil {
			return err
		}
		for i, n := range numerical {
			a := analytic[pi][i]
			if math.Abs(a-n) > tol*math.Max(1, math.Abs(a)+math.Abs(n)) {
				return &GradientMismatchError{Param: pi, Index: i, Analytic: a, Numerical: n}
			}
		}
	}
	return nil
}
