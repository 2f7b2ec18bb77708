package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/idis-platform/idis/pkg/idiserr"
)

// S3BlobStore keeps blobs as S3 objects under an optional key prefix.
// S3 object puts are atomic, which gives _latest the same
// replace-in-place guarantee the filesystem backend gets from rename.
type S3BlobStore struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3Config configures the S3 backend. Endpoint supports MinIO and
// LocalStack, which need path-style addressing.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

// NewS3BlobStore creates the backend using ambient AWS credentials.
func NewS3BlobStore(ctx context.Context, cfg S3Config) (*S3BlobStore, error) {
	if cfg.Bucket == "" {
		return nil, idiserr.New(idiserr.KindInvalidInput, "objectstore: s3 bucket is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("objectstore: load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3BlobStore{client: client, bucket: cfg.Bucket, prefix: normalizePrefix(cfg.Prefix)}, nil
}

func normalizePrefix(prefix string) string {
	if prefix == "" {
		return ""
	}
	return strings.TrimSuffix(prefix, "/") + "/"
}

func (b *S3BlobStore) objectKey(name string) string {
	return b.prefix + name
}

func (b *S3BlobStore) ReadBlob(ctx context.Context, name string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(name)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, idiserr.Newf(idiserr.KindNotFound, "objectstore: blob %s not found", name)
		}
		return nil, fmt.Errorf("objectstore: s3 get %s: %w", name, err)
	}
	defer out.Body.Close()
	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("objectstore: s3 read %s: %w", name, err)
	}
	return raw, nil
}

func (b *S3BlobStore) WriteBlob(ctx context.Context, name string, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.objectKey(name)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("objectstore: s3 put %s: %w", name, err)
	}
	return nil
}

func (b *S3BlobStore) RemoveBlob(ctx context.Context, name string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(name)),
	})
	if err != nil {
		return fmt.Errorf("objectstore: s3 delete %s: %w", name, err)
	}
	return nil
}

func (b *S3BlobStore) ListBlobs(ctx context.Context, prefix string) ([]string, error) {
	full := b.objectKey(strings.TrimSuffix(prefix, "/") + "/")
	var names []string
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(full),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("objectstore: s3 list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			names = append(names, strings.TrimPrefix(aws.ToString(obj.Key), b.prefix))
		}
	}
	return names, nil
}

func (b *S3BlobStore) RemovePrefix(ctx context.Context, prefix string) error {
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
