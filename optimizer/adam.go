package optimizer

import (
	"fmt"
	"math"

	"go-protonet/tensor"
)

// Adam keeps per-element first and second moment estimates with bias correction.
// WeightDecay > 0 applies decoupled (AdamW-style) decay to the weights.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64

	parameters []*tensor.Tensor
	m, v       [][]float64
	step       int
}

// NewAdam uses beta1 0.9, beta2 0.999, epsilon 1e-8 and no weight decay.
func NewAdam(parameters []*tensor.Tensor, learningRate float64) (*Adam, error) {
	if learningRate <= 0 {
		return nil, fmt.Errorf("optimizer: learning rate must be positive, got %f", learningRate)
	}
	valid, err := trainable(parameters)
	if err != nil {
		return nil, err
	}
	a := &Adam{
		LearningRate: learningRate,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		parameters:   valid,
		m:            make([][]float64, len(valid)),
		v:            make([][]float64, len(valid)),
	}
	for i, p := range valid {
		a.m[i] = make([]float64, tensor.Numel(p))
		a.v[i] = make([]float64, tensor.Numel(p))
	}
	return a, nil
}

func (a *Adam) Step() error {
	a.step++
	correction1 := 1 - math.Pow(a.Beta1, float64(a.step))
	correction2 := 1 - math.Pow(a.Beta2, float64(a.step))

	for pi, p := range a.parameters {
		ok, err := checkGrad(p)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		data, m, v := p.GetData(), a.m[pi], a.v[pi]
		for i, g := range p.Grad.GetData() {
			m[i] = a.Beta1*m[i] + (1-a.Beta1)*g
			v[i] = a.Beta2*v[i] + (1-a.Beta2)*g*g
			mHat := m[i] / correction1
			vHat := v[i] / correction2
			data[i] -= a.LearningRate * (mHat/(math.Sqrt(vHat)+a.Epsilon) + a.WeightDecay*data[i])
		}
	}
	return nil
}

func (a *Adam) ZeroGrad() {
	for _, p := range a.parameters {
		p.ZeroGrad()
	}
}

func (a *Adam) Parameters() []*tensor.Tensor {
	return a.parameters
}
