//go:build gcp

package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/idis-platform/idis/pkg/idiserr"
)

// GCSBlobStore keeps blobs as GCS objects under an optional prefix.
// GCS object writes commit atomically on Close.
type GCSBlobStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSConfig configures the GCS backend.
type GCSConfig struct {
	Bucket string
	Prefix string
}

// NewGCSBlobStore creates the backend using application default
// credentials.
func NewGCSBlobStore(ctx context.Context, cfg GCSConfig) (*GCSBlobStore, error) {
	if cfg.Bucket == "" {
		return nil, idiserr.New(idiserr.KindInvalidInput, "objectstore: gcs bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("objectstore: create GCS client: %w", err)
	}
	return &GCSBlobStore{client: client, bucket: cfg.Bucket, prefix: normalizePrefix(cfg.Prefix)}, nil
}

func (b *GCSBlobStore) objectName(name string) string {
	return b.prefix + name
}

func (b *GCSBlobStore) ReadBlob(ctx context.Context, name string) ([]byte, error) {
	reader, err := b.client.Bucket(b.bucket).Object(b.objectName(name)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, idiserr.Newf(idiserr.KindNotFound, "objectstore: blob %s not found", name)
		}
		return nil, fmt.Errorf("objectstore: gcs get %s: %w", name, err)
	}
	defer reader.Close()
	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("objectstore: gcs read %s: %w", name, err)
	}
	return raw, nil
}

func (b *GCSBlobStore) WriteBlob(ctx context.Context, name string, data []byte) error {
	w := b.client.Bucket(b.bucket).Object(b.objectName(name)).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("objectstore: gcs write %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("objectstore: gcs commit %s: %w", name, err)
	}
	return nil
}

func (b *GCSBlobStore) RemoveBlob(ctx context.Context, name string) error {
	err := b.client.Bucket(b.bucket).Object(b.objectName(name)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("objectstore: gcs delete %s: %w", name, err)
	}
	return nil
}

func (b *GCSBlobStore) ListBlobs(ctx context.Context, prefix string) ([]string, error) {
	full := b.objectName(strings.TrimSuffix(prefix, "/") + "/")
	it := b.client.Bucket(b.bucket).Objects(ctx, &storage.Query{Prefix: full})
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("objectstore: gcs list %s: %w", prefix, err)
		}
		names = append(names, strings.TrimPrefix(attrs.Name, b.prefix))
	}
	return names, nil
}

func (b *GCSBlobStore) RemovePrefix(ctx context.Context, prefix string) error {
	names, err := b.ListBlobs(ctx, prefix)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := b.RemoveBlob(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying GCS client.
func (b *GCSBlobStore) Close() error {
	return b.client.Close()
}
