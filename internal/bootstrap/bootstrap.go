// Package bootstrap builds the shared backends of the library binaries from
// their file configuration.
package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/ChaceN89/library/internal/config"
	"github.com/ChaceN89/library/internal/metrics"
	"github.com/ChaceN89/library/pkg/blob"
)

const memoryBaseURL = "http://localhost/blobs"

// Blobs returns the configured blob client, instrumented with m, and the
// naming scheme its URLs follow.
func Blobs(ctx context.Context, cfg config.FileConfig, m *metrics.Metrics) (blob.Client, blob.Naming, error) {
	switch cfg.BlobBackend {
	case config.BlobBackendMinio:
		naming := blob.NewNaming(cfg.PublicBaseURL, cfg.MinioBucket, "")
		client, err := blob.NewMinioClient(blob.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			Naming:    naming,
		})
		if err != nil {
			return nil, blob.Naming{}, err
		}
		return blob.Instrument(client, m), naming, nil
	case config.BlobBackendS3:
		naming := blob.NewNaming(cfg.PublicBaseURL, cfg.S3Bucket, cfg.S3Region)
		client, err := blob.NewS3Client(ctx, blob.S3Config{
			Region:       cfg.S3Region,
			Bucket:       cfg.S3Bucket,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			Endpoint:     cfg.S3Endpoint,
			UsePathStyle: cfg.S3UsePathStyle,
			Naming:       naming,
		})
		if err != nil {
			return nil, blob.Naming{}, err
		}
		return blob.Instrument(client, m), naming, nil
	case config.BlobBackendMemory:
		base := cfg.PublicBaseURL
		if strings.TrimSpace(base) == "" {
			base = memoryBaseURL
		}
		naming := blob.NewNaming(base, "", "")
		return blob.Instrument(blob.NewMemoryClient(naming), m), naming, nil
	default:
		return nil, blob.Naming{}, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
	}
}

// Redis dials the configured redis, or returns nil when none is set.
func Redis(ctx context.Context, cfg config.FileConfig) (*redis.Client, error) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.RedisPassword})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
