package storage

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/coah80/enhancer/internal/config"
)

// ObjectMirror copies finished outputs to an S3-compatible bucket. Objects are
// keyed <job_id>/<file name> so cleanup can remove them by prefix.
type ObjectMirror struct {
	client *minio.Client
	bucket string
	logger zerolog.Logger
}

func NewObjectMirror(ctx context.Context, cfg config.Mirror, logger zerolog.Logger) (*ObjectMirror, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio connection: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &ObjectMirror{
		client: client,
		bucket: cfg.Bucket,
		logger: logger.With().Str("component", "mirror").Str("bucket", cfg.Bucket).Logger(),
	}, nil
}

func ObjectKey(id, path string) string {
	return id + "/" + filepath.Base(path)
}

func (m *ObjectMirror) Put(ctx context.Context, id, path string) error {
	key := ObjectKey(id, path)
	info, err := m.client.FPutObject(ctx, m.bucket, key, path, minio.PutObjectOptions{ContentType: "video/mp4"})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	m.logger.Info().Str("job_id", id).Str("object", key).Int64("bytes", info.Size).Msg("mirrored output")
	return nil
}

func (m *ObjectMirror) RemovePrefix(ctx context.Context, id string) (int, error) {
	removed := 0
	objects := m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: id + "/", Recursive: true})
	for obj := range objects {
		if obj.Err != nil {
			return removed, fmt.Errorf("list %s: %w", id, obj.Err)
		}
		if err := m.client.RemoveObject(ctx, m.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return removed, fmt.Errorf("remove %s: %w", obj.Key, err)
		}
		removed++
	}
	return removed, nil
}
