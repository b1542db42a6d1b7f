package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"

	"go-protonet/tensor"
)

// Store keeps encoded checkpoints by name.
type Store interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
}

// SaveTo encodes params and puts them in store under name.
func SaveTo(ctx context.Context, store Store, name string, params []*tensor.Tensor, meta map[string]string, opts ...Option) error {
	var buf bytes.Buffer
	if err := Write(&buf, params, meta, opts...); err != nil {
		return fmt.Errorf("encoding checkpoint %s: %w", name, err)
	}
	return store.Put(ctx, name, buf.Bytes())
}

// LoadFrom fetches name from store and decodes it into params.
func LoadFrom(ctx context.Context, store Store, name string, params []*tensor.Tensor) (map[string]string, error) {
	data, err := store.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	meta, err := Read(bytes.NewReader(data), params)
	if err != nil {
		return nil, fmt.Errorf("decoding checkpoint %s: %w", name, err)
	}
	return meta, nil
}

// DirStore keeps checkpoints as files under a local directory.
type DirStore struct {
	root string
}

// NewDirStore creates the directory if needed.
func NewDirStore(root string) (*DirStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &DirStore{root: root}, nil
}

// Put writes atomically through a temporary file.
func (s *DirStore) Put(_ context.Context, name string, data []byte) error {
	p := filepath.Join(s.root, name)
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, p)
}

func (s *DirStore) Get(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return data, err
}

// MinioStore keeps checkpoints in a MinIO or other S3-compatible bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioStore prepends prefix to every object key.
func NewMinioStore(client *minio.Client, bucket, prefix string) *MinioStore {
	return &MinioStore{client: client, bucket: bucket, prefix: prefix}
}

func (s *MinioStore) key(name string) string {
	return path.Join(s.prefix, name)
}

func (s *MinioStore) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(name), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	return err
}

func (s *MinioStore) Get(ctx context.Context, name string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(name), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(obj); err != nil {
		code := minio.ToErrorResponse(err).Code
		if code == "NoSuchKey" || code == "NotFound" {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, err
	}
	return buf.Bytes(), nil
}
