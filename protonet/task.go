package protonet

import "fmt"

// Task is the shape of one episode: NWay classes, each contributing NSupport labeled and
// NQuery unlabeled examples, laid out contiguously by class. Class identity is the
// position along the leading axis and is never stored.
type Task struct {
	NWay     int
	NSupport int
	NQuery   int
}

// PerClass is the number of examples every class contributes.
func (t Task) PerClass() int { return t.NSupport + t.NQuery }

// Validate rejects non-positive fields.
func (t Task) Validate() error {
	for _, f := range []struct {
		name  string
		value int
	}{
		{"n_way", t.NWay},
		{"n_support", t.NSupport},
		{"n_query", t.NQuery},
	} {
		if f.value <= 0 {
			return &ConfigurationError{Field: f.name, Value: f.value, Reason: "must be positive"}
		}
	}
	return nil
}

func (t Task) String() string {
	return fmt.Sprintf("%d-way %d-shot (%d query)", t.NWay, t.NSupport, t.NQuery)
}

// QueryLabels builds the implicit query targets: each class index 0..nWay-1 repeated
// nQuery times, in the class-major order the scores are produced in.
func QueryLabels(nWay, nQuery int) ([]int, error) {
	if nWay <= 0 {
		return nil, &ConfigurationError{Field: "n_way", Value: nWay, Reason: "must be positive"}
	}
	if nQuery <= 0 {
		return nil, &ConfigurationError{Field: "n_query", Value: nQuery, Reason: "must be positive"}
	}
	labels := make([]int, 0, nWay*nQuery)
	for c := 0; c < nWay; c++ {
		for q := 0; q < nQuery; q++ {
			labels = append(labels, c)
		}
	}
	return labels, nil
}
