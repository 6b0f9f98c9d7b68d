package objectstore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fleetcheck/fleetcheck/internal/platform/env"
)

type Config struct {
	Endpoint       string
	AccessKey      string
	SecretKey      string
	Region         string
	UseSSL         bool
	BucketEvidence string
	UploadTimeout  time.Duration
	SignedURLTTL   time.Duration
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("FLEETCHECK_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	uploadTimeout, err := env.Duration("FLEETCHECK_EVIDENCE_UPLOAD_TIMEOUT", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	signedURLTTL, err := env.Duration("FLEETCHECK_EVIDENCE_URL_TTL", 120*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:       env.String("FLEETCHECK_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:      env.String("FLEETCHECK_MINIO_ACCESS_KEY", "fleetcheck"),
		SecretKey:      env.String("FLEETCHECK_MINIO_SECRET_KEY", "fleetcheckminio"),
		Region:         env.String("FLEETCHECK_MINIO_REGION", "us-east-1"),
		UseSSL:         useSSL,
		BucketEvidence: env.String("FLEETCHECK_MINIO_BUCKET_EVIDENCE", "evidence"),
		UploadTimeout:  uploadTimeout,
		SignedURLTTL:   signedURLTTL,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.BucketEvidence) == "" {
		return errors.New("evidence bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if c.UploadTimeout <= 0 {
		return errors.New("upload timeout must be positive")
	}
	// S3 presigned URLs are capped at seven days.
	if c.SignedURLTTL <= 0 || c.SignedURLTTL > 7*24*time.Hour {
		return errors.New("signed url ttl must be between 1s and 7 days")
	}
	return nil
}
