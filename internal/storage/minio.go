package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	minioSDK "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// MinioConfig holds object store connection settings.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	// LinkBase is the externally reachable base URL that object keys are
	// joined onto to produce shareable links.
	LinkBase string
}

// MinioStore implements ObjectStore on a MinIO (or S3-compatible) bucket.
// "Folders" are key prefixes anchored by a zero-byte marker object so that
// EnsureFolder has something observable to create and reuse.
type MinioStore struct {
	client   *minioSDK.Client
	bucket   string
	linkBase string
	logger   *zap.Logger
}

const folderMarker = ".folder"

// NewMinioStore connects to the object store and ensures the bucket exists.
func NewMinioStore(ctx context.Context, cfg MinioConfig, logger *zap.Logger) (*MinioStore, error) {
	client, err := minioSDK.New(cfg.Endpoint, &minioSDK.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minioSDK.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		logger.Info("Created object store bucket", zap.String("bucket", cfg.Bucket))
	}

	return &MinioStore{
		client:   client,
		bucket:   cfg.Bucket,
		linkBase: strings.TrimRight(cfg.LinkBase, "/"),
		logger:   logger,
	}, nil
}

// EnsureFolder creates the prefix marker for parent/name if absent and
// returns the prefix as the folder handle.
func (s *MinioStore) EnsureFolder(ctx context.Context, parent, name string) (string, error) {
	prefix := path.Join(parent, name)
	marker := path.Join(prefix, folderMarker)

	_, err := s.client.StatObject(ctx, s.bucket, marker, minioSDK.StatObjectOptions{})
	if err == nil {
		return prefix, nil
	}
	if resp := minioSDK.ToErrorResponse(err); resp.Code != "NoSuchKey" {
		return "", fmt.Errorf("stat folder %s: %w", prefix, err)
	}

	_, err = s.client.PutObject(ctx, s.bucket, marker, bytes.NewReader(nil), 0,
		minioSDK.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		s.logger.Error("Failed to create submission folder",
			zap.String("prefix", prefix),
			zap.Error(err))
		return "", fmt.Errorf("create folder %s: %w", prefix, err)
	}

	s.logger.Debug("Created submission folder", zap.String("prefix", prefix))
	return prefix, nil
}

// Upload stores the object at folder/filename and returns its key and link.
func (s *MinioStore) Upload(ctx context.Context, folder, filename, contentType string, r io.Reader, size int64) (string, string, error) {
	key := path.Join(folder, filename)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := s.client.PutObject(ctx, s.bucket, key, r, size,
		minioSDK.PutObjectOptions{ContentType: contentType})
	if err != nil {
		s.logger.Error("Failed to upload object",
			zap.String("key", key),
			zap.Error(err))
		return "", "", fmt.Errorf("upload %s: %w", key, err)
	}

	s.logger.Debug("Uploaded object",
		zap.String("key", key),
		zap.Int64("size", size))
	return key, s.link(key), nil
}

// Delete removes the object by key. A missing object is treated as already
// deleted.
func (s *MinioStore) Delete(ctx context.Context, remoteID string) error {
	err := s.client.RemoveObject(ctx, s.bucket, remoteID, minioSDK.RemoveObjectOptions{})
	if err != nil {
		if resp := minioSDK.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return nil
		}
		return fmt.Errorf("delete %s: %w", remoteID, err)
	}
	return nil
}

func (s *MinioStore) link(key string) string {
	escaped := make([]string, 0, 4)
	for _, part := range strings.Split(key, "/") {
		escaped = append(escaped, url.PathEscape(part))
	}
	return s.linkBase + "/" + s.bucket + "/" + strings.Join(escaped, "/")
}
