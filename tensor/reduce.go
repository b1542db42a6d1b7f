package tensor

import "fmt"

// splitAt views shape as [outer, shape[axis], inner] around axis.
func splitAt(shape []int, axis int) (outer, length, inner int) {
	outer, inner = 1, 1
	for _, s := range shape[:axis] {
		outer *= s
	}
	for _, s := range shape[axis+1:] {
		inner *= s
	}
	return outer, shape[axis], inner
}

// Narrow keeps indices [start, start+length) of axis. The result is a copy.
func Narrow(t *Tensor, axis, start, length int) (*Tensor, error) {
	if axis < 0 || axis >= len(t.shape) {
		return nil, fmt.Errorf("narrow: axis %d out of range for shape %v", axis, t.shape)
	}
	if start < 0 || length <= 0 || start+length > t.shape[axis] {
		return nil, &ShapeMismatchError{
			Op:     "narrow",
			Got:    t.shape,
			Detail: fmt.Sprintf("range [%d, %d) outside axis %d", start, start+length, axis),
		}
	}

	outer, full, inner := splitAt(t.shape, axis)
	outShape := append([]int{}, t.shape...)
	outShape[axis] = length

	outData := make([]float64, outer*length*inner)
	for o := 0; o < outer; o++ {
		src := t.data[(o*full+start)*inner : (o*full+start+length)*inner]
		copy(outData[o*length*inner:(o+1)*length*inner], src)
	}

	out, err := newResult(t, outShape, outData)
	if err != nil {
		return nil, err
	}

	if t.RequiresGrad {
		out.RequiresGrad = true
		out.Parents = []*Tensor{t}
		out.Operation = "narrow"
		out.BackwardFunc = func(grad *Tensor) {
			g := make([]float64, len(t.data))
			for o := 0; o < outer; o++ {
				copy(g[(o*full+start)*inner:(o*full+start+length)*inner], grad.data[o*length*inner:(o+1)*length*inner])
			}
			tGrad, _ := NewTensor(t.shape, g)
			t.Backward(tGrad)
		}
	}
	return out, nil
}

// MeanAxis averages over axis and drops it. Reducing a 1-D tensor yields shape [1].
func MeanAxis(t *Tensor, axis int) (*Tensor, error) {
	if axis < 0 || axis >= len(t.shape) {
		return nil, fmt.Errorf("mean: axis %d out of range for shape %v", axis, t.shape)
	}

	outer, length, inner := splitAt(t.shape, axis)
	outShape := append(append([]int{}, t.shape[:axis]...), t.shape[axis+1:]...)
	if len(outShape) == 0 {
		outShape = []int{1}
	}

	outData := make([]float64, outer*inner)
	for o := 0; o < outer; o++ {
		dst := outData[o*inner : (o+1)*inner]
		for l := 0; l < length; l++ {
			src := t.data[(o*length+l)*inner : (o*length+l+1)*inner]
			for i, v := range src {
				dst[i] += v
			}
		}
		for i := range dst {
			dst[i] /= float64(length)
		}
	}

	out, err := newResult(t, outShape, outData)
	if err != nil {
		return nil, err
	}

	if t.RequiresGrad {
		out.RequiresGrad = true
		out.Parents = []*Tensor{t}
		out.Operation = "mean"
		out.BackwardFunc = func(grad *Tensor) {
			g := make([]float64, len(t.data))
			scale := 1 / float64(length)
			for o := 0; o < outer; o++ {
				src := grad.data[o*inner : (o+1)*inner]
				for l := 0; l < length; l++ {
					dst := g[(o*length+l)*inner : (o*length+l+1)*inner]
					for i, v := range src {
						dst[i] = v * scale
					}
				}
			}
			tGrad, _ := NewTensor(t.shape, g)
			t.Backward(tGrad)
		}
	}
	return out, nil
}

// Sum adds every element into a [1] tensor.
func Sum(t *Tensor) (*Tensor, error) {
	var total float64
	for _, v := range t.data {
		total += v
	}
	out, err := newResult(t, []int{1}, []float64{total})
	if err != nil {
		return nil, err
	}
	if t.RequiresGrad {
		out.RequiresGrad = true
		out.Parents = []*Tensor{t}
		out.Operation = "sum"
		out.BackwardFunc = func(grad *Tensor) {
			g := make([]float64, len(t.data))
			for i := range g {
				g[i] = grad.data[0]
			}
			tGrad, _ := NewTensor(t.shape, g)
			t.Backward(tGrad)
		}
	}
	return out, nil
}
