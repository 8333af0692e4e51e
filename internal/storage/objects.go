package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/your-org/racephoto/internal/config"
	"github.com/your-org/racephoto/internal/models"
)

// ObjectStore is the raw photo bucket, backed by MinIO or S3.
type ObjectStore interface {
	Bucket() string
	PutObject(ctx context.Context, bucket, key string, data []byte, contentType string, meta map[string]string) error
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
	Metadata(ctx context.Context, bucket, key string) (map[string]string, error)
	Image(ctx context.Context, bucket, key string) (models.Image, error)
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
	ListObjects(ctx context.Context, bucket, prefix string) ([]string, error)
	Ping(ctx context.Context) error
}

// NewObjectStore opens the configured storage backend.
func NewObjectStore(ctx context.Context, cfg *config.Config) (ObjectStore, error) {
	switch cfg.Storage.Backend {
	case "s3":
		awsCfg, err := LoadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			return nil, err
		}
		return NewS3Store(awsCfg, cfg.AWS), nil
	case "minio", "":
		store, err := NewMinIOStore(cfg.MinIO)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
