package episode

import (
	"context"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"go-protonet/protonet"
	"go-protonet/tensor"
)

// FeatureCache memoizes the embedding of each example of one dataset, keyed by example
// index. Entries go stale whenever the embedder's parameters change; call Purge after
// training steps.
type FeatureCache struct {
	embed protonet.Embedder
	ds    *Dataset
	cache *lru.Cache[int, []float64]

	hits   atomic.Int64
	misses atomic.Int64
}

func NewFeatureCache(embed protonet.Embedder, ds *Dataset, capacity int) (*FeatureCache, error) {
	if embed == nil {
		return nil, fmt.Errorf("feature cache: nil embedder")
	}
	c, err := lru.New[int, []float64](capacity)
	if err != nil {
		return nil, err
	}
	return &FeatureCache{embed: embed, ds: ds, cache: c}, nil
}

// Features returns the [len(indices), d] embeddings of the given examples, running the
// embedder once over all cache misses.
func (c *FeatureCache) Features(indices []int) (*tensor.Tensor, error) {
	if len(indices) == 0 {
		return nil, fmt.Errorf("feature cache: no indices")
	}
	rows := make([][]float64, len(indices))
	var missing []int
	for i, idx := range indices {
		if v, ok := c.cache.Get(idx); ok {
			rows[i] = v
			c.hits.Add(1)
			continue
		}
		missing = append(missing, i)
	}
	c.misses.Add(int64(len(missing)))

	if len(missing) > 0 {
		batch := make([]int, len(missing))
		for k, i := range missing {
			batch[k] = indices[i]
		}
		z, err := c.embedBatch(batch)
		if err != nil {
			return nil, err
		}
		for k, i := range missing {
			rows[i] = z[k]
		}
	}

	d := len(rows[0])
	data := make([]float64, 0, len(rows)*d)
	for _, r := range rows {
		data = append(data, r...)
	}
	return tensor.NewTensor([]int{len(rows), d}, data)
}

func (c *FeatureCache) embedBatch(batch []int) ([][]float64, error) {
	x, err := c.ds.Gather(batch)
	if err != nil {
		return nil, err
	}
	z, err := c.embed.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("feature cache: embedding: %w", err)
	}
	zs := z.Shape()
	if len(zs) != 2 || zs[0] != len(batch) {
		return nil, &tensor.ShapeMismatchError{Op: "embed", Got: zs, Want: []int{len(batch), -1}}
	}

	d := zs[1]
	out := make([][]float64, len(batch))
	for k, idx := range batch {
		row := append([]float64{}, z.Data()[k*d:(k+1)*d]...)
		c.cache.Add(idx, row)
		out[k] = row
	}
	return out, nil
}

// Warm embeds the whole dataset in batches, up to parallelism batches at a time.
func (c *FeatureCache) Warm(ctx context.Context, batchSize, parallelism int) error {
	if batchSize <= 0 {
		return fmt.Errorf("feature cache: batch size must be positive, got %d", batchSize)
	}
	if parallelism < 1 {
		parallelism = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for start := 0; start < c.ds.Len(); start += batchSize {
		end := min(start+batchSize, c.ds.Len())
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			batch := make([]int, 0, end-start)
			for i := start; i < end; i++ {
				batch = append(batch, i)
			}
			_, err := c.embedBatch(batch)
			return err
		})
	}
	return g.Wait()
}

// Purge drops every cached embedding.
func (c *FeatureCache) Purge() { c.cache.Purge() }

// Len is the number of cached embeddings.
func (c *FeatureCache) Len() int { return c.cache.Len() }

// Stats reports cache hits and misses since creation.
func (c *FeatureCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Source serves the sampler's episodes as pre-embedded features.
func (c *FeatureCache) Source(s *Sampler) (*FeatureSource, error) {
	if s.Dataset() != c.ds {
		return nil, fmt.Errorf("feature cache: sampler draws from a different dataset")
	}
	return &FeatureSource{cache: c, sampler: s}, nil
}

// FeatureSource yields [n_way, n_support+n_query, d] feature episodes.
type FeatureSource struct {
	cache   *FeatureCache
	sampler *Sampler
}

func (f *FeatureSource) Len() int        { return f.sampler.Len() }
func (f *FeatureSource) IsFeature() bool { return true }

func (f *FeatureSource) Episode(i int) (*tensor.Tensor, error) {
	rows, err := f.sampler.Indices(i)
	if err != nil {
		return nil, err
	}
	var flat []int
	for _, row := range rows {
		flat = append(flat, row...)
	}
	z, err := f.cache.Features(flat)
	if err != nil {
		return nil, err
	}
	return tensor.Reshape(z, []int{len(rows), len(rows[0]), z.Shape()[1]})
}
