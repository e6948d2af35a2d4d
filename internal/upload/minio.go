// Package upload stores task attachments in an S3-compatible CDN bucket.
package upload

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Uploader writes attachment payloads to a bucket and returns public URLs.
type Uploader struct {
	client  *minio.Client
	bucket  string
	baseURL string
}

// Config carries the CDN connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	BaseURL   string
	UseSSL    bool
}

// NewUploader connects to the CDN endpoint and ensures the bucket exists.
func NewUploader(ctx context.Context, cfg Config) (*Uploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object storage: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	exists, err := client.BucketExists(checkCtx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(checkCtx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", cfg.Bucket, err)
		}
	}

	return &Uploader{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}, nil
}

// StoredFile describes a stored attachment.
type StoredFile struct {
	FileURL    string
	ObjectName string
}

// Store writes the payload under a collision-free object name derived from
// the original filename and returns its public URL.
func (u *Uploader) Store(ctx context.Context, filename, contentType string, size int64, body io.Reader) (StoredFile, error) {
	objectName := uniqueName(filename)
	_, err := u.client.PutObject(ctx, u.bucket, objectName, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return StoredFile{}, fmt.Errorf("store attachment %q: %w", filename, err)
	}
	return StoredFile{
		FileURL:    u.baseURL + "/" + objectName,
		ObjectName: objectName,
	}, nil
}

// Remove deletes a stored attachment by its object name.
func (u *Uploader) Remove(ctx context.Context, objectName string) error {
	if err := u.client.RemoveObject(ctx, u.bucket, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove attachment %q: %w", objectName, err)
	}
	return nil
}

func uniqueName(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filepath.Base(filename), ext)
	base = strings.ReplaceAll(base, " ", "_")
	return fmt.Sprintf("%s-%s%s", base, uuid.NewString(), ext)
}
