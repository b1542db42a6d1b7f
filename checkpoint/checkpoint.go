// Package checkpoint saves and restores model parameters as compressed gob records.
//
// A checkpoint starts with a five byte preamble, the magic "PNCK" followed by the
// codec, so Read picks the decompressor without being told.
package checkpoint

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"

	"go-protonet/tensor"
)

const formatVersion = 2

var magic = [4]byte{'P', 'N', 'C', 'K'}

// ErrNotFound is returned by a Store when the named checkpoint does not exist.
var ErrNotFound = errors.New("checkpoint not found")

type header struct {
	Version int
	Meta    map[string]string
	Count   int
}

// record is one parameter. Tensor keeps its storage unexported, so shape and data are
// copied out explicitly.
type record struct {
	Shape []int
	Data  []float64
}

// Option configures how a checkpoint is written.
type Option func(*options)

type options struct {
	codec Codec
}

// WithCodec selects the compression codec. The default is Zstd.
func WithCodec(c Codec) Option {
	return func(o *options) {
		o.codec = c
	}
}

func buildOptions(opts []Option) options {
	o := options{codec: Zstd}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Save writes params to path, replacing any existing file. meta is stored alongside and
// may be nil.
func Save(path string, params []*tensor.Tensor, meta map[string]string, opts ...Option) error {
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("could not create file %s: %w", tmp, err)
	}
	if err := Write(file, params, meta, opts...); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("could not encode parameters to file %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Write encodes params to w.
func Write(w io.Writer, params []*tensor.Tensor, meta map[string]string, opts ...Option) error {
	o := buildOptions(opts)
	if _, err := w.Write(append(magic[:], byte(o.codec))); err != nil {
		return err
	}
	cw, err := o.codec.newWriter(w)
	if err != nil {
		return err
	}
	enc := gob.NewEncoder(cw)
	if err := enc.Encode(header{Version: formatVersion, Meta: meta, Count: len(params)}); err != nil {
		cw.Close()
		return err
	}
	for i, p := range params {
		if err := enc.Encode(record{Shape: p.Shape(), Data: p.Data()}); err != nil {
			cw.Close()
			return fmt.Errorf("parameter %d: %w", i, err)
		}
	}
	return cw.Close()
}

// Load reads path into params in place and returns the stored metadata.
func Load(path string, params []*tensor.Tensor) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open file %s: %w", path, err)
	}
	defer file.Close()

	meta, err := Read(file, params)
	if err != nil {
		return nil, fmt.Errorf("could not decode parameters from file %s: %w", path, err)
	}
	return meta, nil
}

// Read decodes a checkpoint from r into params. Every record must match the shape of
// the parameter at the same position; params is left untouched on any mismatch.
func Read(r io.Reader, params []*tensor.Tensor) (map[string]string, error) {
	var pre [5]byte
	if _, err := io.ReadFull(r, pre[:]); err != nil {
		return nil, fmt.Errorf("reading preamble: %w", err)
	}
	if !bytes.Equal(pre[:4], magic[:]) {
		return nil, fmt.Errorf("not a checkpoint: bad magic %q", pre[:4])
	}
	cr, err := Codec(pre[4]).newReader(r)
	if err != nil {
		return nil, err
	}
	defer cr.Close()

	dec := gob.NewDecoder(cr)
	var h header
	if err := dec.Decode(&h); err != nil {
		return nil, err
	}
	if h.Version != formatVersion {
		return nil, fmt.Errorf("unsupported checkpoint version %d", h.Version)
	}
	if h.Count != len(params) {
		return nil, fmt.Errorf("parameter count mismatch: saved model has %d, current model has %d", h.Count, len(params))
	}

	records := make([]record, h.Count)
	for i := range records {
		if err := dec.Decode(&records[i]); err != nil {
			return nil, fmt.Errorf("parameter %d: %w", i, err)
		}
		want := params[i].Shape()
		if !sameShape(records[i].Shape, want) || len(records[i].Data) != len(params[i].Data()) {
			return nil, &tensor.ShapeMismatchError{
				Op:     "checkpoint",
				Got:    records[i].Shape,
				Want:   want,
				Detail: fmt.Sprintf("parameter %d", i),
			}
		}
	}

	for i, rec := range records {
		copy(params[i].Data(), rec.Data)
	}
	return h.Meta, nil
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
