package objectstore

import (
	"context"
	"os"
	"path/filepath"

	"github.com/idis-platform/idis/pkg/idiserr"
)

// Backend selects the byte-level implementation.
type Backend string

const (
	BackendFS  Backend = "fs"
	BackendS3  Backend = "s3"
	BackendGCS Backend = "gcs"
)

// NewStoreFromEnv builds a Store from environment variables:
//
//	IDIS_OBJECT_STORE_BACKEND      "fs" (default), "s3", or "gcs"
//	IDIS_OBJECT_STORE_BASE_DIR     fs base (default: <os temp>/idis_objects)
//	IDIS_OBJECT_STORE_S3_BUCKET    required for s3
//	IDIS_OBJECT_STORE_S3_REGION    falls back to AWS_REGION, then us-east-1
//	IDIS_OBJECT_STORE_S3_ENDPOINT  optional, MinIO/LocalStack
//	IDIS_OBJECT_STORE_S3_PREFIX    optional key prefix
//	IDIS_OBJECT_STORE_GCS_BUCKET   required for gcs (needs the gcp build tag)
//	IDIS_OBJECT_STORE_GCS_PREFIX   optional key prefix
func NewStoreFromEnv(ctx context.Context, opts ...Option) (*Store, error) {
	backend := Backend(os.Getenv("IDIS_OBJECT_STORE_BACKEND"))
	if backend == "" {
		backend = BackendFS
	}

	var (
		blobs BlobStore
		err   error
	)
	switch backend {
	case BackendFS:
		base := os.Getenv("IDIS_OBJECT_STORE_BASE_DIR")
		if base == "" {
			base = filepath.Join(os.TempDir(), "idis_objects")
		}
		blobs, err = NewFSBlobStore(base)
	case BackendS3:
		blobs, err = newS3FromEnv(ctx)
	case BackendGCS:
		blobs, err = newGCSFromEnv(ctx)
	default:
		return nil, idiserr.Newf(idiserr.KindInvalidInput, "objectstore: unknown backend %q", backend)
	}
	if err != nil {
		return nil, err
	}
	return New(blobs, opts...), nil
}

func newS3FromEnv(ctx context.Context) (BlobStore, error) {
	bucket := os.Getenv("IDIS_OBJECT_STORE_S3_BUCKET")
	if bucket == "" {
		return nil, idiserr.New(idiserr.KindInvalidInput, "objectstore: IDIS_OBJECT_STORE_S3_BUCKET is required for the s3 backend")
	}
	region := os.Getenv("IDIS_OBJECT_STORE_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}
	return NewS3BlobStore(ctx, S3Config{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("IDIS_OBJECT_STORE_S3_ENDPOINT"),
		Prefix:   os.Getenv("IDIS_OBJECT_STORE_S3_PREFIX"),
	})
}
