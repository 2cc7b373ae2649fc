package blob

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig configures a MinIO/S3-compatible backend.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Naming    Naming
}

// MinioClient implements Client with minio-go.
type MinioClient struct {
	client *minio.Client
	bucket string
	naming Naming
}

// NewMinioClient connects to MinIO and ensures the bucket exists.
func NewMinioClient(cfg MinioConfig) (*MinioClient, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioClient{client: client, bucket: cfg.Bucket, naming: cfg.Naming}, nil
}

// Put uploads an object with caching disabled.
func (m *MinioClient) Put(ctx context.Context, data []byte, key, contentType string) (string, error) {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "no-cache",
	})
	if err != nil {
		return "", fmt.Errorf("%w: put object %s: %w", ErrStorage, key, err)
	}
	return m.naming.URL(key), nil
}

// DeleteByURL removes the object behind url.
func (m *MinioClient) DeleteByURL(ctx context.Context, url string) error {
	key, err := m.naming.Key(url)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("%w: delete object %s: %w", ErrStorage, key, err)
	}
	return nil
}
