// Package episode turns labeled example collections into few-shot episodes.
package episode

import (
	"fmt"
	"sort"

	"go-protonet/tensor"
)

// Dataset is a flat collection of equally shaped examples with integer class labels.
type Dataset struct {
	exampleShape []int
	exampleSize  int
	data         []float64
	labels       []int
	byClass      map[int][]int
	classes      []int
}

// NewDataset takes ownership of data, which holds len(labels) examples of exampleShape
// back to back.
func NewDataset(exampleShape []int, data []float64, labels []int) (*Dataset, error) {
	size := 1
	for _, dim := range exampleShape {
		if dim <= 0 {
			return nil, fmt.Errorf("example shape %v contains non-positive dimension", exampleShape)
		}
		size *= dim
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("dataset: no examples")
	}
	if len(data) != size*len(labels) {
		return nil, &tensor.ShapeMismatchError{
			Op:     "dataset",
			Got:    []int{len(data)},
			Want:   []int{size * len(labels)},
			Detail: fmt.Sprintf("%d examples of shape %v", len(labels), exampleShape),
		}
	}

	byClass := make(map[int][]int)
	for i, l := range labels {
		if l < 0 {
			return nil, fmt.Errorf("dataset: example %d has negative label %d", i, l)
		}
		byClass[l] = append(byClass[l], i)
	}
	classes := make([]int, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	return &Dataset{
		exampleShape: append([]int{}, exampleShape...),
		exampleSize:  size,
		data:         data,
		labels:       labels,
		byClass:      byClass,
		classes:      classes,
	}, nil
}

func (d *Dataset) Len() int            { return len(d.labels) }
func (d *Dataset) ExampleShape() []int { return d.exampleShape }
func (d *Dataset) ExampleSize() int    { return d.exampleSize }
func (d *Dataset) Label(i int) int     { return d.labels[i] }

// Classes returns the distinct labels in ascending order.
func (d *Dataset) Classes() []int { return d.classes }

// ClassIndices returns the example indices of class c.
func (d *Dataset) ClassIndices(c int) []int { return d.byClass[c] }

// Example returns a view of example i's values.
func (d *Dataset) Example(i int) []float64 {
	return d.data[i*d.exampleSize : (i+1)*d.exampleSize]
}

// Gather copies the given examples into a [len(indices), exampleShape...] tensor.
func (d *Dataset) Gather(indices []int) (*tensor.Tensor, error) {
	out := make([]float64, 0, len(indices)*d.exampleSize)
	for _, i := range indices {
		if i < 0 || i >= d.Len() {
			return nil, fmt.Errorf("dataset: index %d out of range [0, %d)", i, d.Len())
		}
		out = append(out, d.Example(i)...)
	}
	return tensor.NewTensor(append([]int{len(indices)}, d.exampleShape...), out)
}

// SplitClasses partitions the dataset by class: the first n classes (in ascending label
// order) go to base, the rest to novel. Few-shot evaluation uses classes never seen in
// training.
func (d *Dataset) SplitClasses(n int) (base, novel *Dataset, err error) {
	if n <= 0 || n >= len(d.classes) {
		return nil, nil, fmt.Errorf("dataset: cannot split %d classes at %d", len(d.classes), n)
	}
	base, err = d.subset(d.classes[:n])
	if err != nil {
		return nil, nil, err
	}
	novel, err = d.subset(d.classes[n:])
	if err != nil {
		return nil, nil, err
	}
	return base, novel, nil
}

func (d *Dataset) subset(classes []int) (*Dataset, error) {
	var data []float64
	var labels []int
	for _, c := range classes {
		for _, i := range d.byClass[c] {
			data = append(data, d.Example(i)...)
			labels = append(labels, c)
		}
	}
	return NewDataset(d.exampleShape, data, labels)
}
