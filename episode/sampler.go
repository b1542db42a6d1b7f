package episode

import (
	"fmt"
	"math/rand"

	"go-protonet/protonet"
	"go-protonet/tensor"
)

// Sampler draws a fixed number of episodes from a Dataset. Episode i always contains the
// same examples for a given seed, so sources can be replayed and read concurrently.
type Sampler struct {
	ds       *Dataset
	task     protonet.Task
	episodes int
	seed     int64
}

// NewSampler checks that ds has at least task.NWay classes with task.PerClass() examples
// each.
func NewSampler(ds *Dataset, task protonet.Task, episodes int, seed int64) (*Sampler, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}
	if episodes <= 0 {
		return nil, fmt.Errorf("sampler: episodes must be positive, got %d", episodes)
	}

	eligible := 0
	for _, c := range ds.Classes() {
		if len(ds.ClassIndices(c)) >= task.PerClass() {
			eligible++
		}
	}
	if eligible < task.NWay {
		return nil, &protonet.ConfigurationError{
			Field:  "n_way",
			Value:  task.NWay,
			Reason: fmt.Sprintf("only %d classes have %d examples", eligible, task.PerClass()),
		}
	}
	return &Sampler{ds: ds, task: task, episodes: episodes, seed: seed}, nil
}

func (s *Sampler) Len() int            { return s.episodes }
func (s *Sampler) Task() protonet.Task { return s.task }
func (s *Sampler) Dataset() *Dataset   { return s.ds }

// Indices returns the example indices of episode i, one row per class, support first.
func (s *Sampler) Indices(i int) ([][]int, error) {
	if i < 0 || i >= s.episodes {
		return nil, fmt.Errorf("sampler: episode %d out of range [0, %d)", i, s.episodes)
	}
	rng := rand.New(rand.NewSource(s.seed*1_000_003 + int64(i)))

	perClass := s.task.PerClass()
	var candidates []int
	for _, c := range s.ds.Classes() {
		if len(s.ds.ClassIndices(c)) >= perClass {
			candidates = append(candidates, c)
		}
	}

	rows := make([][]int, s.task.NWay)
	for w, ci := range rng.Perm(len(candidates))[:s.task.NWay] {
		members := s.ds.ClassIndices(candidates[ci])
		row := make([]int, perClass)
		for k, mi := range rng.Perm(len(members))[:perClass] {
			row[k] = members[mi]
		}
		rows[w] = row
	}
	return rows, nil
}

// Episode returns episode i as a [n_way, n_support+n_query, exampleShape...] tensor.
func (s *Sampler) Episode(i int) (*tensor.Tensor, error) {
	rows, err := s.Indices(i)
	if err != nil {
		return nil, err
	}
	flat := make([]int, 0, s.task.NWay*s.task.PerClass())
	for _, row := range rows {
		flat = append(flat, row...)
	}
	x, err := s.ds.Gather(flat)
	if err != nil {
		return nil, err
	}
	return tensor.Reshape(x, append([]int{s.task.NWay, s.task.PerClass()}, s.ds.ExampleShape()...))
}
