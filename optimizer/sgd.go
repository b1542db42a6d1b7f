package optimizer

import (
	"fmt"

	"go-protonet/tensor"
)

// Optimizer updates a fixed set of parameters from their accumulated gradients.
type Optimizer interface {
	Step() error
	ZeroGrad()
	Parameters() []*tensor.Tensor
}

// trainable filters out nil and frozen tensors.
func trainable(parameters []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(parameters) == 0 {
		return nil, fmt.Errorf("optimizer: created with empty parameters list")
	}
	var valid []*tensor.Tensor
	for _, p := range parameters {
		if p != nil && p.RequiresGrad {
			valid = append(valid, p)
		}
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("optimizer: no parameters requiring gradients provided")
	}
	return valid, nil
}

// checkGrad reports whether p has a usable gradient. A nil Grad means p did not take
// part in the last forward pass and is skipped.
func checkGrad(p *tensor.Tensor) (bool, error) {
	if p.Grad == nil {
		return false, nil
	}
	if !tensor.IsSameSize(p, p.Grad) {
		return false, fmt.Errorf("optimizer: gradient shape %v does not match parameter shape %v", p.Grad.GetShape(), p.GetShape())
	}
	return true, nil
}

// SGD : Stochastic Gradient Descent optimizer.
type SGD struct {
	learningRate float64
	parameters   []*tensor.Tensor
}

func NewSGD(parameters []*tensor.Tensor, learningRate float64) (*SGD, error) {
	if learningRate <= 0 {
		return nil, fmt.Errorf("optimizer: learning rate must be positive, got %f", learningRate)
	}
	valid, err := trainable(parameters)
	if err != nil {
		return nil, err
	}
	return &SGD{learningRate: learningRate, parameters: valid}, nil
}

// Step applies parameter = parameter - learning_rate * gradient.
func (s *SGD) Step() error {
	for _, p := range s.parameters {
		ok, err := checkGrad(p)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		paramData := p.GetData()
		for i, g := range p.Grad.GetData() {
			paramData[i] -= s.learningRate * g
		}
	}
	return nil
}

func (s *SGD) ZeroGrad() {
	for _, p := range s.parameters {
		p.ZeroGrad()
	}
}

func (s *SGD) Parameters() []*tensor.Tensor {
	return s.parameters
}
