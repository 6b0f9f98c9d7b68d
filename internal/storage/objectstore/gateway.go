package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultUploadTimeout = 30 * time.Second
	DefaultSignedURLTTL  = 120 * time.Second
	maxSignedURLTTL      = 7 * 24 * time.Hour
)

// Pointer locates an evidence blob. The bytes never leave the object store.
type Pointer struct {
	Bucket      string
	Key         string
	ContentType string
	Size        int64
	ETag        string
}

// Gateway stores evidence blobs under a per-run namespace and hands out
// short-lived read URLs.
type Gateway struct {
	store         Blobs
	bucket        string
	uploadTimeout time.Duration
	newID         func() string
}

func NewGateway(store Blobs, bucket string, uploadTimeout time.Duration) (*Gateway, error) {
	if store == nil {
		return nil, errors.New("object store is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if uploadTimeout <= 0 {
		uploadTimeout = DefaultUploadTimeout
	}
	return &Gateway{store: store, bucket: bucket, uploadTimeout: uploadTimeout, newID: uuid.NewString}, nil
}

// RunNamespace is the key prefix that groups a run's evidence.
func RunNamespace(runID string) string {
	return "checklist-" + strings.TrimSpace(runID)
}

// Put uploads data as namespace/<id>-<name>. Each call writes a fresh key,
// so retries never overwrite an earlier blob.
func (g *Gateway) Put(ctx context.Context, namespace, name string, data []byte, contentType string) (Pointer, error) {
	if g == nil || g.store == nil {
		return Pointer{}, errors.New("evidence gateway not initialized")
	}
	namespace = strings.Trim(strings.TrimSpace(namespace), "/")
	if namespace == "" {
		return Pointer{}, errors.New("namespace is required")
	}
	if len(data) == 0 {
		return Pointer{}, errors.New("evidence body is empty")
	}
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := namespace + "/" + g.newID() + "-" + sanitizeName(name)

	ctx, cancel := context.WithTimeout(ctx, g.uploadTimeout)
	defer cancel()
	ptr := Pointer{Bucket: g.bucket, Key: key, ContentType: contentType}
	up, err := g.store.PutBlob(ctx, g.bucket, key, bytes.NewReader(data), int64(len(data)), contentType)
	if err != nil {
		return ptr, fmt.Errorf("put %s: %w", key, err)
	}
	ptr.Size = up.Size
	if ptr.Size <= 0 {
		ptr.Size = int64(len(data))
	}
	ptr.ETag = up.ETag
	return ptr, nil
}

// SignedURL returns a time-limited read URL for p.
func (g *Gateway) SignedURL(ctx context.Context, p Pointer, ttl time.Duration) (string, error) {
	if g == nil || g.store == nil {
		return "", errors.New("evidence gateway not initialized")
	}
	if strings.TrimSpace(p.Key) == "" {
		return "", errors.New("pointer key is required")
	}
	if ttl <= 0 {
		ttl = DefaultSignedURLTTL
	}
	if ttl > maxSignedURLTTL {
		ttl = maxSignedURLTTL
	}
	bucket := p.Bucket
	if bucket == "" {
		bucket = g.bucket
	}
	ctx, cancel := context.WithTimeout(ctx, g.uploadTimeout)
	defer cancel()
	u, err := g.store.PresignGet(ctx, bucket, p.Key, ttl)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", p.Key, err)
	}
	return u, nil
}

func sanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "blob"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
