package tensor

import (
	"fmt"
	"log/slog"
)

// NOTE: most element-wise ops below follow one pattern: compute the forward values, then,
// if any operand requires grad, attach a closure that turns the incoming gradient into
// per-parent gradients and pushes them with Backward.

// DType identifies the element type of an Array. Only float64 storage exists today.
type DType int

const (
	Float64 DType = iota
)

func (d DType) String() string {
	switch d {
	case Float64:
		return "float64"
	default:
		return fmt.Sprintf("DType(%d)", int(d))
	}
}

// Array is the read-only capability every tensor exposes: its shape, element type,
// placement and row-major storage.
type Array interface {
	Shape() []int
	DType() DType
	Device() Device
	Data() []float64
}

// Tensor is a dense row-major float64 array with closure-based reverse-mode autograd.
type Tensor struct {
	shape        []int
	data         []float64
	device       Device
	Grad         *Tensor
	RequiresGrad bool
	Parents      []*Tensor
	Operation    string
	BackwardFunc func(*Tensor)
}

var _ Array = (*Tensor)(nil)

// IsSameSize reports whether a and b have identical shapes.
func IsSameSize(a, b *Tensor) bool {
	return sameShape(a.shape, b.shape)
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// NewTensor builds a tensor on the CPU device. A nil or empty data slice allocates zeros.
// The shape and data are copied.
func NewTensor(shape []int, data []float64) (*Tensor, error) {
	total := 1
	for _, dim := range shape {
		if dim <= 0 {
			return nil, fmt.Errorf("shape %v contains non-positive dimension", shape)
		}
		total *= dim
	}
	if len(data) > 0 && total != len(data) {
		return nil, &ShapeMismatchError{
			Op:     "new",
			Got:    []int{len(data)},
			Want:   []int{total},
			Detail: fmt.Sprintf("shape %v implies %d elements", shape, total),
		}
	}

	stored := make([]float64, total)
	copy(stored, data)

	return &Tensor{
		shape:  append([]int{}, shape...),
		data:   stored,
		device: CPU,
	}, nil
}

// FromRows builds a [len(rows), d] tensor. Every row must have the same length.
func FromRows(rows [][]float64) (*Tensor, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("from rows: no rows")
	}
	d := len(rows[0])
	data := make([]float64, 0, len(rows)*d)
	for i, r := range rows {
		if len(r) != d {
			return nil, &ShapeMismatchError{Op: "from_rows", Got: []int{len(r)}, Want: []int{d}, Detail: fmt.Sprintf("row %d", i)}
		}
		data = append(data, r...)
	}
	return NewTensor([]int{len(rows), d}, data)
}

// CloneTensor copies shape, data, device and RequiresGrad. The clone is a new graph leaf.
func CloneTensor(t *Tensor) *Tensor {
	return &Tensor{
		shape:        append([]int{}, t.shape...),
		data:         append([]float64{}, t.data...),
		device:       t.Device(),
		RequiresGrad: t.RequiresGrad,
	}
}

// To returns a leaf copy of t placed on dev.
func (t *Tensor) To(dev Device) *Tensor {
	out := CloneTensor(t)
	if dev != nil {
		out.device = dev
	}
	return out
}

func (t *Tensor) Shape() []int    { return t.shape }
func (t *Tensor) Data() []float64 { return t.data }
func (t *Tensor) DType() DType    { return Float64 }

func (t *Tensor) Device() Device {
	if t.device == nil {
		return CPU
	}
	return t.device
}

// GetData and GetShape are kept as the spelling used across nn and optimizer.
func (t *Tensor) GetData() []float64 { return t.data }
func (t *Tensor) GetShape() []int    { return t.shape }

// Item returns the single value of a one-element tensor.
func (t *Tensor) Item() (float64, error) {
	if len(t.data) != 1 {
		return 0, &ShapeMismatchError{Op: "item", Got: t.shape, Want: []int{1}}
	}
	return t.data[0], nil
}

// newResult allocates an op output that inherits the device of like.
func newResult(like *Tensor, shape []int, data []float64) (*Tensor, error) {
	out, err := NewTensor(shape, data)
	if err != nil {
		return nil, err
	}
	out.device = like.Device()
	return out, nil
}

func AddTensor(t1 *Tensor, t2 *Tensor) (*Tensor, error) {
	if !IsSameSize(t1, t2) {
		return nil, &ShapeMismatchError{Op: "add", Got: t2.shape, Want: t1.shape}
	}

	outData := make([]float64, len(t1.data))
	for i := range t1.data {
		outData[i] = t1.data[i] + t2.data[i]
	}

	out, err := newResult(t1, t1.shape, outData)
	if err != nil {
		return nil, err
	}

	if t1.RequiresGrad || t2.RequiresGrad {
		out.RequiresGrad = true
		out.Parents = []*Tensor{t1, t2}
		out.Operation = "add"
		out.BackwardFunc = func(grad *Tensor) {
			for _, p := range []*Tensor{t1, t2} {
				if !p.RequiresGrad {
					continue
				}
				pg, _ := NewTensor(p.shape, grad.data)
				p.Backward(pg)
			}
		}
	}
	return out, nil
}

// MulTensor multiplies element-wise.
func MulTensor(t1 *Tensor, t2 *Tensor) (*Tensor, error) {
	if !IsSameSize(t1, t2) {
		return nil, &ShapeMismatchError{Op: "mul", Got: t2.shape, Want: t1.shape}
	}

	outData := make([]float64, len(t1.data))
	for i := range t1.data {
		outData[i] = t1.data[i] * t2.data[i]
	}

	out, err := newResult(t1, t1.shape, outData)
	if err != nil {
		return nil, err
	}

	if t1.RequiresGrad || t2.RequiresGrad {
		out.RequiresGrad = true
		out.Parents = []*Tensor{t1, t2}
		out.Operation = "mul"
		out.BackwardFunc = func(grad *Tensor) {
			if t1.RequiresGrad {
				g := make([]float64, len(grad.data))
				for i := range g {
					g[i] = grad.data[i] * t2.data[i]
				}
				t1Grad, _ := NewTensor(t1.shape, g)
				t1.Backward(t1Grad)
			}
			if t2.RequiresGrad {
				g := make([]float64, len(grad.data))
				for i := range g {
					g[i] = grad.data[i] * t1.data[i]
				}
				t2Grad, _ := NewTensor(t2.shape, g)
				t2.Backward(t2Grad)
			}
		}
	}
	return out, nil
}

// Scale multiplies every element by c.
func Scale(t *Tensor, c float64) (*Tensor, error) {
	outData := make([]float64, len(t.data))
	for i, v := range t.data {
		outData[i] = v * c
	}
	out, err := newResult(t, t.shape, outData)
	if err != nil {
		return nil, err
	}

	if t.RequiresGrad {
		out.RequiresGrad = true
		out.Parents = []*Tensor{t}
		out.Operation = "scale"
		out.BackwardFunc = func(grad *Tensor) {
			g := make([]float64, len(grad.data))
			for i, v := range grad.data {
				g[i] = v * c
			}
			tGrad, _ := NewTensor(t.shape, g)
			t.Backward(tGrad)
		}
	}
	return out, nil
}

// Neg returns -t.
func Neg(t *Tensor) (*Tensor, error) {
	out, err := Scale(t, -1)
	if err != nil {
		return nil, err
	}
	if out.RequiresGrad {
		out.Operation = "neg"
	}
	return out, nil
}

// Numel returns the number of elements described by t's shape.
func Numel(t *Tensor) int {
	if t == nil {
		return 0
	}
	return numelOf(t.shape)
}

func numelOf(shape []int) int {
	n := 1
	for _, s := range shape {
		if s <= 0 {
			return 0
		}
		n *= s
	}
	return n
}

// Reshape returns a copy of t with newShape. The element count must be preserved.
func Reshape(t *Tensor, newShape []int) (*Tensor, error) {
	for _, dim := range newShape {
		if dim <= 0 {
			return nil, fmt.Errorf("reshape: shape %v contains non-positive dimension", newShape)
		}
	}
	if numelOf(newShape) != Numel(t) {
		return nil, &ShapeMismatchError{
			Op:     "reshape",
			Got:    t.shape,
			Want:   newShape,
			Detail: fmt.Sprintf("%d elements cannot be viewed as %d", Numel(t), numelOf(newShape)),
		}
	}

	out, err := newResult(t, newShape, t.data)
	if err != nil {
		return nil, err
	}

	if t.RequiresGrad {
		out.RequiresGrad = true
		out.Parents = []*Tensor{t}
		out.Operation = "reshape"
		out.BackwardFunc = func(grad *Tensor) {
			tGrad, _ := NewTensor(t.shape, grad.data)
			t.Backward(tGrad)
		}
	}
	return out, nil
}

// OnesLike returns a tensor of ones with t's shape and device.
func OnesLike(t *Tensor) (*Tensor, error) {
	data := make([]float64, Numel(t))
	for i := range data {
		data[i] = 1
	}
	return newResult(t, t.shape, data)
}

// ZeroGrad clears accumulated gradient. Tensors that require grad get a zero Grad.
func (t *Tensor) ZeroGrad() {
	if t.Grad != nil {
		for i := range t.Grad.data {
			t.Grad.data[i] = 0
		}
		return
	}
	if t.RequiresGrad {
		t.Grad, _ = NewTensor(t.shape, nil)
	}
}

// Backward accumulates grad into t.Grad and pushes it to t's parents.
// A nil grad is only valid on a single-element tensor and seeds 1.0.
func (t *Tensor) Backward(grad *Tensor) {
	if !t.RequiresGrad {
		return
	}

	if grad == nil {
		if Numel(t) != 1 {
			slog.Warn("backward called with nil grad on non-scalar tensor", "shape", t.shape, "op", t.Operation)
			return
		}
		grad, _ = NewTensor(t.shape, []float64{1})
	} else if len(grad.data) != len(t.data) {
		slog.Warn("backward gradient shape mismatch", "shape", t.shape, "grad_shape", grad.shape, "op", t.Operation)
		return
	}

	if t.Grad == nil {
		t.Grad, _ = NewTensor(t.shape, grad.data)
	} else {
		for i := range t.Grad.data {
			t.Grad.data[i] += grad.data[i]
		}
	}

	if t.BackwardFunc != nil {
		t.BackwardFunc(grad)
	}
}

// Transpose swaps the two axes of a 2-D tensor.
func Transpose(t *Tensor) (*Tensor, error) {
	if len(t.shape) != 2 {
		return nil, &ShapeMismatchError{Op: "transpose", Got: t.shape, Detail: "2-D tensor required"}
	}
	rows, cols := t.shape[0], t.shape[1]

	outData := make([]float64, len(t.data))
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			outData[c*rows+r] = t.data[r*cols+c]
		}
	}

	out, err := newResult(t, []int{cols, rows}, outData)
	if err != nil {
		return nil, fmt.Errorf("transpose failed to create output tensor: %w", err)
	}

	if t.RequiresGrad {
		out.RequiresGrad = true
		out.Parents = []*Tensor{t}
		out.Operation = "transpose"
		out.BackwardFunc = func(grad *Tensor) {
			tGrad, err := Transpose(grad)
			if err != nil {
				slog.Warn("transpose backward failed", "error", err)
				return
			}
			t.Backward(tGrad)
		}
	}
	return out, nil
}

// MatMulTensor computes [M, K] @ [K, N] -> [M, N].
func MatMulTensor(t1 *Tensor, t2 *Tensor) (*Tensor, error) {
	if len(t1.shape) != 2 || len(t2.shape) != 2 {
		return nil, &ShapeMismatchError{Op: "matmul", Got: t1.shape, Want: t2.shape, Detail: "2-D operands required"}
	}
	m, k := t1.shape[0], t1.shape[1]
	if t2.shape[0] != k {
		return nil, &ShapeMismatchError{Op: "matmul", Got: t2.shape, Want: []int{k, t2.shape[1]}, Detail: "inner dimensions differ"}
	}
	n := t2.shape[1]

	outData := make([]float64, m*n)
	for i := 0; i < m; i++ {
		row := t1.data[i*k : (i+1)*k]
		dst := outData[i*n : (i+1)*n]
		for p, a := range row {
			if a == 0 {
				continue
			}
			bRow := t2.data[p*n : (p+1)*n]
			for j, b := range bRow {
				dst[j] += a * b
			}
		}
	}

	out, err := newResult(t1, []int{m, n}, outData)
	if err != nil {
		return nil, fmt.Errorf("matmul failed to create output tensor: %w", err)
	}

	if t1.RequiresGrad || t2.RequiresGrad {
		out.RequiresGrad = true
		out.Parents = []*Tensor{t1, t2}
		out.Operation = "matmul"
		out.BackwardFunc = func(grad *Tensor) {
			// dL/dA = G @ Bᵀ, dL/dB = Aᵀ @ G
			if t1.RequiresGrad {
				if g, err := matmulPlain(grad, t2, false, true); err == nil {
					t1.Backward(g)
				} else {
					slog.Warn("matmul backward failed", "operand", 0, "error", err)
				}
			}
			if t2.RequiresGrad {
				if g, err := matmulPlain(t1, grad, true, false); err == nil {
					t2.Backward(g)
				} else {
					slog.Warn("matmul backward failed", "operand", 1, "error", err)
				}
			}
		}
	}
	return out, nil
}

// matmulPlain multiplies without building graph nodes, optionally transposing either side.
func matmulPlain(a, b *Tensor, transA, transB bool) (*Tensor, error) {
	ar, ac := a.shape[0], a.shape[1]
	if transA {
		ar, ac = ac, ar
	}
	br, bc := b.shape[0], b.shape[1]
	if transB {
		br, bc = bc, br
	}
	if ac != br {
		return nil, &ShapeMismatchError{Op: "matmul", Got: []int{br, bc}, Want: []int{ac, bc}}
	}
	at := func(i, j int) float64 {
		if transA {
			return a.data[j*a.shape[1]+i]
		}
		return a.data[i*a.shape[1]+j]
	}
	bt := func(i, j int) float64 {
		if transB {
			return b.data[j*b.shape[1]+i]
		}
		return b.data[i*b.shape[1]+j]
	}
	out := make([]float64, ar*bc)
	for i := 0; i < ar; i++ {
		for j := 0; j < bc; j++ {
			var sum float64
			for p := 0; p < ac; p++ {
				sum += at(i, p) * bt(p, j)
			}
			out[i*bc+j] = sum
		}
	}
	return NewTensor([]int{ar, bc}, out)
}

// String renders shape, data and autograd metadata.
func (t *Tensor) String() string {
	if t == nil {
		return "<nil tensor>"
	}
	s := fmt.Sprintf("Tensor(shape=%v, data=%v, device=%s, requires_grad=%v", t.shape, t.data, t.Device().Name(), t.RequiresGrad)
	if t.Grad != nil {
		s += fmt.Sprintf(", grad=%v", t.Grad.data)
	}
	if t.Operation != "" {
		s += ", op=" + t.Operation
	}
	return s + ")"
}

// PrintTensor prints t on stdout.
func PrintTensor(t *Tensor) {
	fmt.Println(t.String())
}
