// Package protonet implements a prototypical-network few-shot classifier.
//
// An episode is a tensor of shape [n_way, n_support+n_query, ...]. Each class's support
// examples are embedded and averaged into a prototype, and each query is scored against
// every prototype by its negated squared Euclidean distance. Class k is the k-th block
// along the leading axis; labels are implicit in that position.
package protonet

import (
	"fmt"

	"go-protonet/distance"
	"go-protonet/nn"
	"go-protonet/tensor"
)

// Embedder maps a batch of raw inputs [N, ...] to fixed-length feature vectors [N, d].
// Every nn.Layer satisfies it. It must be differentiable to train through it.
type Embedder interface {
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
}

// ProtoNet scores episodes. It holds no per-call state, so concurrent calls are safe as
// long as the embedder's Forward is.
type ProtoNet struct {
	embed Embedder
	task  Task
	opts  options
}

// New returns a classifier for task. embed may be nil when only pre-embedded features
// are scored.
func New(embed Embedder, task Task, opts ...Option) (*ProtoNet, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &ProtoNet{embed: embed, task: task, opts: o}, nil
}

// Task returns the configured task.
func (p *ProtoNet) Task() Task { return p.task }

// Embedder returns the embedding function, or nil.
func (p *ProtoNet) Embedder() Embedder { return p.embed }

// taskFor checks x against the configured task, or derives the per-call task when
// adaptive.
func (p *ProtoNet) taskFor(x *tensor.Tensor) (Task, error) {
	shape := x.Shape()
	if len(shape) < 3 {
		return Task{}, &tensor.ShapeMismatchError{
			Op:     "episode",
			Got:    shape,
			Detail: "want [n_way, n_support+n_query, ...]",
		}
	}
	if p.opts.adaptive {
		t := Task{NWay: shape[0], NSupport: p.task.NSupport, NQuery: shape[1] - p.task.NSupport}
		if t.NQuery <= 0 {
			return Task{}, &ConfigurationError{
				Field:  "n_query",
				Value:  t.NQuery,
				Reason: fmt.Sprintf("%d examples per class leave no queries after %d support", shape[1], t.NSupport),
			}
		}
		return t, nil
	}

	t := p.task
	if shape[0] != t.NWay {
		return Task{}, &tensor.ShapeMismatchError{
			Op:     "episode",
			Got:    shape,
			Want:   []int{t.NWay, t.PerClass()},
			Detail: fmt.Sprintf("episode has %d classes, task has %d", shape[0], t.NWay),
		}
	}
	if shape[1] < t.PerClass() {
		return Task{}, &ConfigurationError{
			Field:  "n_query",
			Value:  t.NQuery,
			Reason: fmt.Sprintf("needs %d examples per class, episode has %d", t.PerClass(), shape[1]),
		}
	}
	if shape[1] > t.PerClass() {
		return Task{}, &tensor.ShapeMismatchError{
			Op:     "episode",
			Got:    shape,
			Want:   []int{t.NWay, t.PerClass()},
			Detail: fmt.Sprintf("episode has %d examples per class, task uses %d", shape[1], t.PerClass()),
		}
	}
	return t, nil
}

// ParseFeature embeds x when isFeature is false and splits it into support
// [n_way, n_support, d] and query [n_way, n_query, d]. Pre-embedded trailing dimensions
// are flattened into d.
func (p *ProtoNet) ParseFeature(x *tensor.Tensor, isFeature bool) (support, query *tensor.Tensor, err error) {
	t, err := p.taskFor(x)
	if err != nil {
		return nil, nil, err
	}
	z, err := p.features(x, isFeature)
	if err != nil {
		return nil, nil, err
	}
	return split(z, t)
}

func (p *ProtoNet) features(x *tensor.Tensor, isFeature bool) (*tensor.Tensor, error) {
	shape := x.Shape()
	nWay, perClass := shape[0], shape[1]
	n := nWay * perClass

	if isFeature {
		d := tensor.Numel(x) / n
		return tensor.Reshape(x, []int{nWay, perClass, d})
	}

	if p.embed == nil {
		return nil, fmt.Errorf("protonet: raw episode given but no embedder configured")
	}
	flat, err := tensor.Reshape(x, append([]int{n}, shape[2:]...))
	if err != nil {
		return nil, err
	}
	z, err := p.embed.Forward(flat)
	if err != nil {
		return nil, fmt.Errorf("protonet: embedding: %w", err)
	}
	zs := z.Shape()
	if len(zs) != 2 || zs[0] != n {
		return nil, &tensor.ShapeMismatchError{
			Op:     "embed",
			Got:    zs,
			Want:   []int{n, -1},
			Detail: "embedder must return one feature vector per example",
		}
	}
	return tensor.Reshape(z, []int{nWay, perClass, zs[1]})
}

func split(z *tensor.Tensor, t Task) (support, query *tensor.Tensor, err error) {
	support, err = tensor.Narrow(z, 1, 0, t.NSupport)
	if err != nil {
		return nil, nil, err
	}
	query, err = tensor.Narrow(z, 1, t.NSupport, t.NQuery)
	if err != nil {
		return nil, nil, err
	}
	return support, query, nil
}

// Prototypes returns the per-class mean support embedding, [n_way, d].
func (p *ProtoNet) Prototypes(x *tensor.Tensor, isFeature bool) (*tensor.Tensor, error) {
	support, _, err := p.ParseFeature(x, isFeature)
	if err != nil {
		return nil, err
	}
	return tensor.MeanAxis(support, 1)
}

// Score returns [n_way*n_query, n_way] scores. Row i is query i in class-major order and
// column j is class j; a higher score means a closer prototype.
func (p *ProtoNet) Score(x *tensor.Tensor, isFeature bool) (*tensor.Tensor, error) {
	scores, _, err := p.score(x, isFeature)
	return scores, err
}

func (p *ProtoNet) score(x *tensor.Tensor, isFeature bool) (*tensor.Tensor, Task, error) {
	t, err := p.taskFor(x)
	if err != nil {
		return nil, Task{}, err
	}
	z, err := p.features(x, isFeature)
	if err != nil {
		return nil, Task{}, err
	}
	support, query, err := split(z, t)
	if err != nil {
		return nil, Task{}, err
	}

	protos, err := tensor.MeanAxis(support, 1)
	if err != nil {
		return nil, Task{}, err
	}
	d := protos.Shape()[1]
	queries, err := tensor.Reshape(query, []int{t.NWay * t.NQuery, d})
	if err != nil {
		return nil, Task{}, err
	}

	dists, err := distance.Euclidean(queries, protos)
	if err != nil {
		return nil, Task{}, err
	}
	scores, err := tensor.Neg(dists)
	if err != nil {
		return nil, Task{}, err
	}
	return scores, t, nil
}

// Loss is the mean cross-entropy between the scores of x and the implicit query labels.
// It is differentiable through the embedder, the prototype mean and the distance.
func (p *ProtoNet) Loss(x *tensor.Tensor, isFeature bool) (*tensor.Tensor, error) {
	scores, t, err := p.score(x, isFeature)
	if err != nil {
		return nil, err
	}
	labels, err := QueryLabels(t.NWay, t.NQuery)
	if err != nil {
		return nil, err
	}
	if rows := scores.Shape()[0]; rows != len(labels) {
		return nil, &tensor.ShapeMismatchError{Op: "loss", Got: []int{len(labels)}, Want: []int{rows}, Detail: "one label per score row"}
	}
	return nn.CrossEntropyLoss(scores, labels)
}

// Correct counts queries whose highest-scoring prototype is their own class.
func (p *ProtoNet) Correct(x *tensor.Tensor, isFeature bool) (correct, total int, err error) {
	scores, t, err := p.score(x, isFeature)
	if err != nil {
		return 0, 0, err
	}
	labels, err := QueryLabels(t.NWay, t.NQuery)
	if err != nil {
		return 0, 0, err
	}
	data := scores.Data()
	for i, label := range labels {
		row := data[i*t.NWay : (i+1)*t.NWay]
		best := 0
		for j, v := range row {
			if v > row[best] {
				best = j
			}
		}
		if best == label {
			correct++
		}
	}
	return correct, len(labels), nil
}
