//go:build gcp

package objectstore

import (
	"context"
	"os"

	"github.com/idis-platform/idis/pkg/idiserr"
)

func newGCSFromEnv(ctx context.Context) (BlobStore, error) {
	bucket := os.Getenv("IDIS_OBJECT_STORE_GCS_BUCKET")
	if bucket == "" {
		return nil, idiserr.New(idiserr.KindInvalidInput, "objectstore: IDIS_OBJECT_STORE_GCS_BUCKET is required for the gcs backend")
	}
	return NewGCSBlobStore(ctx, GCSConfig{
		Bucket: bucket,
		Prefix: os.Getenv("IDIS_OBJECT_STORE_GCS_PREFIX"),
	})
}
