package objectstore

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
)

// Blobs is the slice of an S3-compatible store the gateway writes through.
type Blobs interface {
	PutBlob(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) (Uploaded, error)
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// Uploaded is what the store acknowledged for one write.
type Uploaded struct {
	Size int64
	ETag string
}

type MinioBlobs struct {
	client *minio.Client
}

func NewMinioBlobs(client *minio.Client) (*MinioBlobs, error) {
	if client == nil {
		return nil, errors.New("minio client is required")
	}
	return &MinioBlobs{client: client}, nil
}

func (b *MinioBlobs) PutBlob(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) (Uploaded, error) {
	info, err := b.client.PutObject(ctx, bucket, key, body, size, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{"source": "fleetcheck-evidence"},
	})
	if err != nil {
		return Uploaded{}, err
	}
	return Uploaded{Size: info.Size, ETag: info.ETag}, nil
}

func (b *MinioBlobs) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	u, err := b.client.PresignedGetObject(ctx, bucket, key, ttl, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
