package checkpoint

import (
	"bytes"
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-protonet/nn"
	"go-protonet/tensor"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	src, err := nn.NewMLP(rand.New(rand.NewSource(1)), 4, 8, 3)
	require.NoError(t, err)
	dst, err := nn.NewMLP(rand.New(rand.NewSource(2)), 4, 8, 3)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "model.ckpt")
	require.NoError(t, Save(path, src.Parameters(), map[string]string{"task": "5-way"}))

	meta, err := Load(path, dst.Parameters())
	require.NoError(t, err)
	assert.Equal(t, "5-way", meta["task"])

	for i, p := range src.Parameters() {
		assert.Equal(t, p.Data(), dst.Parameters()[i].Data())
	}

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestReadRejectsMismatch(t *testing.T) {
	a, err := tensor.NewTensor([]int{2, 2}, []float64{1, 2, 3, 4})
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, []*tensor.Tensor{a}, nil))
	encoded := buf.Bytes()

	t.Run("Count", func(t *testing.T) {
		b, err := tensor.NewTensor([]int{2, 2}, nil)
		require.NoError(t, err)
		_, err = Read(bytes.NewReader(encoded), []*tensor.Tensor{b, b})
		assert.Error(t, err)
	})

	t.Run("Shape", func(t *testing.T) {
		b, err := tensor.NewTensor([]int{4}, nil)
		require.NoError(t, err)
		_, err = Read(bytes.NewReader(encoded), []*tensor.Tensor{b})
		assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
		assert.Equal(t, []float64{0, 0, 0, 0}, b.Data())
	})

	t.Run("BadMagic", func(t *testing.T) {
		b, err := tensor.NewTensor([]int{2, 2}, nil)
		require.NoError(t, err)
		bad := append([]byte("XXXX"), encoded[4:]...)
		_, err = Read(bytes.NewReader(bad), []*tensor.Tensor{b})
		assert.Error(t, err)
	})

	t.Run("Garbage", func(t *testing.T) {
		b, err := tensor.NewTensor([]int{2, 2}, nil)
		require.NoError(t, err)
		_, err = Read(bytes.NewReader([]byte("not a checkpoint")), []*tensor.Tensor{b})
		assert.Error(t, err)
	})
}

func TestCodecs(t *testing.T) {
	src, err := nn.NewMLP(rand.New(rand.NewSource(1)), 3, 5, 2)
	require.NoError(t, err)

	for _, name := range []string{"zstd", "lz4"} {
		t.Run(name, func(t *testing.T) {
			codec, err := ParseCodec(name)
			require.NoError(t, err)
			assert.Equal(t, name, codec.String())

			var buf bytes.Buffer
			require.NoError(t, Write(&buf, src.Parameters(), map[string]string{"codec": name}, WithCodec(codec)))
			assert.Equal(t, byte(codec), buf.Bytes()[4])

			dst, err := nn.NewMLP(rand.New(rand.NewSource(2)), 3, 5, 2)
			require.NoError(t, err)
			meta, err := Read(&buf, dst.Parameters())
			require.NoError(t, err)
			assert.Equal(t, name, meta["codec"])
			for i, p := range src.Parameters() {
				assert.Equal(t, p.Data(), dst.Parameters()[i].Data())
			}
		})
	}

	_, err = ParseCodec("gzip")
	assert.Error(t, err)

	var buf bytes.Buffer
	assert.Error(t, Write(&buf, src.Parameters(), nil, WithCodec(Codec(9))))
}

func TestDirStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewDirStore(filepath.Join(t.TempDir(), "ckpt"))
	require.NoError(t, err)

	src, err := nn.NewMLP(rand.New(rand.NewSource(1)), 4, 6, 2)
	require.NoError(t, err)
	require.NoError(t, SaveTo(ctx, store, "best.ckpt", src.Parameters(), map[string]string{"epoch": "3"}, WithCodec(LZ4)))

	dst, err := nn.NewMLP(rand.New(rand.NewSource(5)), 4, 6, 2)
	require.NoError(t, err)
	meta, err := LoadFrom(ctx, store, "best.ckpt", dst.Parameters())
	require.NoError(t, err)
	assert.Equal(t, "3", meta["epoch"])
	assert.Equal(t, src.Parameters()[0].Data(), dst.Parameters()[0].Data())

	_, err = LoadFrom(ctx, store, "missing.ckpt", dst.Parameters())
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestMinioStoreIntegration requires a running MinIO instance.
func TestMinioStoreIntegration(t *testing.T) {
	client, err := minio.New("localhost:9000", &minio.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	if err != nil {
		t.Skipf("MinIO client creation failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := client.ListBuckets(ctx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	const bucket = "protonet-test"
	exists, err := client.BucketExists(ctx, bucket)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}

	store := NewMinioStore(client, bucket, "runs/")
	src, err := nn.NewMLP(rand.New(rand.NewSource(1)), 4, 6, 2)
	require.NoError(t, err)
	require.NoError(t, SaveTo(ctx, store, "best.ckpt", src.Parameters(), nil))

	dst, err := nn.NewMLP(rand.New(rand.NewSource(2)), 4, 6, 2)
	require.NoError(t, err)
	_, err = LoadFrom(ctx, store, "best.ckpt", dst.Parameters())
	require.NoError(t, err)
	assert.Equal(t, src.Parameters()[1].Data(), dst.Parameters()[1].Data())
}
