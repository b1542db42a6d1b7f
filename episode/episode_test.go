package episode

import (
	"bytes"
	"context"
	"encoding/binary"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-protonet/nn"
	"go-protonet/protonet"
	"go-protonet/tensor"
)

func clusters(t *testing.T, classes, perClass, dim int) *Dataset {
	t.Helper()
	ds, err := SyntheticClusters(rand.New(rand.NewSource(1)), classes, perClass, dim, 0.02)
	require.NoError(t, err)
	return ds
}

func TestNewDataset(t *testing.T) {
	ds, err := NewDataset([]int{2}, []float64{1, 1, 2, 2, 3, 3}, []int{4, 0, 4})
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Len())
	assert.Equal(t, []int{0, 4}, ds.Classes())
	assert.Equal(t, []int{0, 2}, ds.ClassIndices(4))
	assert.Equal(t, []float64{2, 2}, ds.Example(1))

	x, err := ds.Gather([]int{2, 0})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, x.Shape())
	assert.Equal(t, []float64{3, 3, 1, 1}, x.Data())

	_, err = ds.Gather([]int{3})
	assert.Error(t, err)

	_, err = NewDataset([]int{2}, []float64{1, 2, 3}, []int{0, 1})
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
	_, err = NewDataset([]int{1}, []float64{1}, []int{-1})
	assert.Error(t, err)
}

func TestSplitClasses(t *testing.T) {
	ds := clusters(t, 5, 4, 3)
	base, novel, err := ds.SplitClasses(3)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, base.Classes())
	assert.Equal(t, []int{3, 4}, novel.Classes())
	assert.Equal(t, 12, base.Len())
	assert.Equal(t, ds.Example(ds.ClassIndices(3)[0]), novel.Example(0))

	_, _, err = ds.SplitClasses(5)
	assert.Error(t, err)
}

func TestSampler(t *testing.T) {
	ds := clusters(t, 6, 10, 3)
	task := protonet.Task{NWay: 4, NSupport: 2, NQuery: 3}
	s, err := NewSampler(ds, task, 20, 42)
	require.NoError(t, err)
	assert.Equal(t, 20, s.Len())

	t.Run("Shape", func(t *testing.T) {
		x, err := s.Episode(0)
		require.NoError(t, err)
		assert.Equal(t, []int{4, 5, 3}, x.Shape())
	})

	t.Run("DeterministicPerIndex", func(t *testing.T) {
		a, err := s.Indices(7)
		require.NoError(t, err)
		b, err := s.Indices(7)
		require.NoError(t, err)
		assert.Equal(t, a, b)

		again, err := NewSampler(ds, task, 20, 42)
		require.NoError(t, err)
		c, err := again.Indices(7)
		require.NoError(t, err)
		assert.Equal(t, a, c)

		other, err := s.Indices(8)
		require.NoError(t, err)
		assert.NotEqual(t, a, other)
	})

	t.Run("DistinctClassesAndExamples", func(t *testing.T) {
		for i := 0; i < s.Len(); i++ {
			rows, err := s.Indices(i)
			require.NoError(t, err)
			seenClass := map[int]bool{}
			seenExample := map[int]bool{}
			for _, row := range rows {
				class := ds.Label(row[0])
				assert.False(t, seenClass[class])
				seenClass[class] = true
				for _, idx := range row {
					assert.Equal(t, class, ds.Label(idx))
					assert.False(t, seenExample[idx])
					seenExample[idx] = true
				}
			}
		}
	})

	t.Run("OutOfRange", func(t *testing.T) {
		_, err := s.Episode(20)
		assert.Error(t, err)
	})

	t.Run("TooFewClasses", func(t *testing.T) {
		_, err := NewSampler(ds, protonet.Task{NWay: 7, NSupport: 1, NQuery: 1}, 1, 0)
		assert.ErrorIs(t, err, protonet.ErrConfiguration)
		_, err = NewSampler(ds, protonet.Task{NWay: 2, NSupport: 6, NQuery: 5}, 1, 0)
		assert.ErrorIs(t, err, protonet.ErrConfiguration)
	})
}

func TestSamplerFeedsProtoNet(t *testing.T) {
	ds := clusters(t, 5, 8, 4)
	task := protonet.Task{NWay: 5, NSupport: 3, NQuery: 5}
	s, err := NewSampler(ds, task, 4, 1)
	require.NoError(t, err)

	p, err := protonet.New(nil, task, protonet.WithParallelism(2))
	require.NoError(t, err)
	for i := 0; i < s.Len(); i++ {
		x, err := s.Episode(i)
		require.NoError(t, err)
		correct, total, err := p.Correct(x, true)
		require.NoError(t, err)
		assert.Equal(t, total, correct)
	}
}

func TestFeatureCache(t *testing.T) {
	ds := clusters(t, 4, 6, 3)
	embed, err := nn.NewLinear(3, 2, rand.New(rand.NewSource(2)))
	require.NoError(t, err)

	cache, err := NewFeatureCache(embed, ds, 64)
	require.NoError(t, err)

	z, err := cache.Features([]int{0, 5, 0})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, z.Shape())
	assert.Equal(t, z.Data()[0:2], z.Data()[4:6])

	direct, err := ds.Gather([]int{5})
	require.NoError(t, err)
	want, err := embed.Forward(direct)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want.Data(), z.Data()[2:4], 1e-12)

	_, err = cache.Features([]int{5})
	require.NoError(t, err)
	hits, _ := cache.Stats()
	assert.Equal(t, int64(1), hits)

	require.NoError(t, cache.Warm(context.Background(), 5, 3))
	assert.Equal(t, ds.Len(), cache.Len())

	cache.Purge()
	assert.Equal(t, 0, cache.Len())
}

func TestFeatureSourceMatchesRawEpisodes(t *testing.T) {
	ds := clusters(t, 4, 6, 3)
	embed, err := nn.NewMLP(rand.New(rand.NewSource(3)), 3, 5, 2)
	require.NoError(t, err)
	task := protonet.Task{NWay: 3, NSupport: 2, NQuery: 2}
	s, err := NewSampler(ds, task, 3, 9)
	require.NoError(t, err)

	cache, err := NewFeatureCache(embed, ds, 128)
	require.NoError(t, err)
	src, err := cache.Source(s)
	require.NoError(t, err)

	p, err := protonet.New(embed, task)
	require.NoError(t, err)
	for i := 0; i < s.Len(); i++ {
		raw, err := s.Episode(i)
		require.NoError(t, err)
		feat, err := src.Episode(i)
		require.NoError(t, err)

		fromRaw, err := p.Score(raw, false)
		require.NoError(t, err)
		fromFeat, err := p.Score(feat, true)
		require.NoError(t, err)
		assert.InDeltaSlice(t, fromRaw.Data(), fromFeat.Data(), 1e-9)
	}

	other, err := NewSampler(clusters(t, 4, 6, 3), task, 1, 0)
	require.NoError(t, err)
	_, err = cache.Source(other)
	assert.Error(t, err)
}

func writeIDX(t *testing.T, dir string) (string, string) {
	t.Helper()
	var img bytes.Buffer
	require.NoError(t, binary.Write(&img, binary.BigEndian, [4]int32{2051, 2, 2, 2}))
	img.Write([]byte{0, 255, 51, 102, 255, 0, 0, 0})

	var lbl bytes.Buffer
	require.NoError(t, binary.Write(&lbl, binary.BigEndian, [2]int32{2049, 2}))
	lbl.Write([]byte{7, 3})

	imgPath := filepath.Join(dir, "images")
	lblPath := filepath.Join(dir, "labels")
	require.NoError(t, os.WriteFile(imgPath, img.Bytes(), 0o644))
	require.NoError(t, os.WriteFile(lblPath, lbl.Bytes(), 0o644))
	return imgPath, lblPath
}

func TestLoadIDX(t *testing.T) {
	imgPath, lblPath := writeIDX(t, t.TempDir())

	ds, err := LoadIDX(imgPath, lblPath)
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Len())
	assert.Equal(t, []int{1, 2, 2}, ds.ExampleShape())
	assert.Equal(t, []int{3, 7}, ds.Classes())
	assert.InDeltaSlice(t, []float64{0, 1, 0.2, 0.4}, ds.Example(0), 1e-12)

	t.Run("BadMagic", func(t *testing.T) {
		_, err := LoadIDX(lblPath, lblPath)
		assert.Error(t, err)
	})

	t.Run("Truncated", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, binary.Write(&buf, binary.BigEndian, [4]int32{2051, 3, 2, 2}))
		buf.Write([]byte{1, 2})
		_, _, err := ReadIDXImages(&buf)
		assert.Error(t, err)
	})
}
