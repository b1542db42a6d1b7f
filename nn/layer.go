package nn

import "go-protonet/tensor"

// Layer defines the interface that all neural network layers must implement.
// Forward must only read parameters so a layer can serve concurrent forward passes.
type Layer interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor
	ZeroGrad()
	Name() string
}

// --- Activation Layers ---

type RELUActivation struct{}

func (r *RELUActivation) Forward(input *tensor.Tensor) (*tensor.Tensor, error) { return RELU(input) }
func (r *RELUActivation) Parameters() []*tensor.Tensor                         { return nil }
func (r *RELUActivation) ZeroGrad()                                            {}
func (r *RELUActivation) Name() string                                         { return "ReLU" }

func NewRELU() *RELUActivation {
	return &RELUActivation{}
}

type TanhActivation struct{}

func (a *TanhActivation) Forward(input *tensor.Tensor) (*tensor.Tensor, error) { return Tanh(input) }
func (a *TanhActivation) Parameters() []*tensor.Tensor                         { return nil }
func (a *TanhActivation) ZeroGrad()                                            {}
func (a *TanhActivation) Name() string                                         { return "Tanh" }

func NewTanh() *TanhActivation {
	return &TanhActivation{}
}

type SigmoidActivation struct{}

func (a *SigmoidActivation) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return Sigmoid(input)
}
func (a *SigmoidActivation) Parameters() []*tensor.Tensor { return nil }
func (a *SigmoidActivation) ZeroGrad()                    {}
func (a *SigmoidActivation) Name() string                 { return "Sigmoid" }

func NewSigmoid() *SigmoidActivation {
	return &SigmoidActivation{}
}
