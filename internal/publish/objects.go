package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/minio/minio-go/v7"
)

// ErrObjectNotFound is returned by Objects.Get for a missing key.
var ErrObjectNotFound = errors.New("object not found")

// Objects is the slice of object storage used for public snapshots.
type Objects interface {
	Put(ctx context.Context, path string, data []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
}

// MinioObjects stores snapshots in a MinIO/S3 bucket.
type MinioObjects struct {
	client *minio.Client
	bucket string
}

// NewMinioObjects creates an Objects backed by bucket.
func NewMinioObjects(client *minio.Client, bucket string) *MinioObjects {
	return &MinioObjects{client: client, bucket: bucket}
}

// Put implements Objects.
func (m *MinioObjects) Put(ctx context.Context, path string, data []byte) error {
	if m.client == nil {
		return errors.New("object storage client is not configured")
	}
	_, err := m.client.PutObject(ctx, m.bucket, path, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  "application/json",
		CacheControl: "public, max-age=60",
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	return nil
}

// Get implements Objects.
func (m *MinioObjects) Get(ctx context.Context, path string) ([]byte, error) {
	if m.client == nil {
		return nil, errors.New("object storage client is not configured")
	}

	obj, err := m.client.GetObject(ctx, m.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%s: %w", path, ErrObjectNotFound)
		}
		return nil, err
	}
	return data, nil
}

// MemoryObjects keeps objects in process. Useful for tests and local runs
// without object storage.
type MemoryObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemoryObjects creates an empty in-memory store.
func NewMemoryObjects() *MemoryObjects {
	return &MemoryObjects{objects: make(map[string][]byte)}
}

// Put implements Objects.
func (m *MemoryObjects) Put(_ context.Context, path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = append([]byte(nil), data...)
	return nil
}

// Get implements Objects.
func (m *MemoryObjects) Get(_ context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrObjectNotFound)
	}
	return append([]byte(nil), data...), nil
}

// Paths lists stored keys.
func (m *MemoryObjects) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.objects))
	for p := range m.objects {
		out = append(out, p)
	}
	return out
}
