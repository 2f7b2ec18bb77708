//go:build !gcp

package objectstore

import (
	"context"

	"github.com/idis-platform/idis/pkg/idiserr"
)

func newGCSFromEnv(context.Context) (BlobStore, error) {
	return nil, idiserr.New(idiserr.KindInvalidInput, "objectstore: gcs backend is not enabled in this build (use -tags gcp)")
}
