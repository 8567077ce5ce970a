package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"portal-messaging/pkg/logger"
	"portal-messaging/pkg/resilience"
)

// BlobStore is the external blob storage collaborator
type BlobStore interface {
	// Put stores body under key and returns the URL clients fetch it from
	Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) (string, error)
	// Remove deletes an object written by Put
	Remove(ctx context.Context, key string) error
}

// MinioConfig holds MinIO connection settings
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL is the base clients use to fetch objects; defaults to the endpoint
	PublicURL string
}

// MinioBlobStore wraps the MinIO client with a circuit breaker and retries
type MinioBlobStore struct {
	client    *minio.Client
	bucket    string
	publicURL string
	breaker   *resilience.CircuitBreaker
	attempts  int
	interval  time.Duration
}

// NewMinioBlobStore creates a MinIO-backed blob store
func NewMinioBlobStore(cfg MinioConfig) (*MinioBlobStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	public := cfg.PublicURL
	if public == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		public = scheme + "://" + cfg.Endpoint
	}

	return &MinioBlobStore{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(public, "/"),
		breaker: resilience.NewCircuitBreaker("minio", resilience.Config{
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
			Timeout:          30 * time.Second,
		}),
		attempts: 3,
		interval: 200 * time.Millisecond,
	}, nil
}

// EnsureBucket creates the attachment bucket when missing
func (s *MinioBlobStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	logger.Info("Created attachment bucket", zap.String("bucket", s.bucket))
	return nil
}

// Put uploads body, retrying transient failures from the start of the stream
func (s *MinioBlobStore) Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) (string, error) {
	err := resilience.Retry(ctx, s.attempts, s.interval, func(ctx context.Context) error {
		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return err
		}
		return s.breaker.Execute(ctx, "put", func(ctx context.Context) error {
			_, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{
				ContentType: contentType,
			})
			return err
		})
	})
	if err != nil {
		return "", fmt.Errorf("upload failed: %w", err)
	}
	return s.objectURL(key), nil
}

// Remove deletes an object
func (s *MinioBlobStore) Remove(ctx context.Context, key string) error {
	err := s.breaker.Execute(ctx, "remove", func(ctx context.Context) error {
		return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	})
	if err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	return nil
}

func (s *MinioBlobStore) objectURL(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.publicURL + "/" + s.bucket + "/" + strings.Join(segments, "/")
}

// HealthCheck verifies the bucket is reachable
func (s *MinioBlobStore) HealthCheck(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("bucket check failed: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	return nil
}

// BreakerState exposes the circuit breaker state for health reporting
func (s *MinioBlobStore) BreakerState() resilience.CircuitBreakerState {
	return s.breaker.State()
}
