// =============================================================================
// Tabular Importer - Artifact Storage
// =============================================================================
//
// This module stores run artifacts (the failed records workbook) in an
// S3-compatible bucket so they outlive the machine that ran the import.
//
// =============================================================================

package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/ginjaninja78/tabular-import/internal/config"
)

// XLSXContentType is the content type of workbook artifacts.
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ObjectStorage uploads one object and returns its location.
type ObjectStorage interface {
	Upload(ctx context.Context, bucket, objectName, contentType string, reader io.Reader, size int64) (string, error)
}

// =============================================================================
// MINIO ADAPTER
// =============================================================================

// MinIO is an ObjectStorage backed by a MinIO or S3 endpoint.
type MinIO struct {
	client *minio.Client
}

// NewClient creates a MinIO client. No request is made.
func NewClient(endpoint, key, secret string, useSSL bool) (*minio.Client, error) {
	return minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(key, secret, ""),
		Secure: useSSL,
	})
}

// NewMinIO creates the adapter from configuration.
func NewMinIO(cfg config.MinIOConfig) (*MinIO, error) {
	client, err := NewClient(cfg.Endpoint, cfg.AccessKey, cfg.SecretKey, cfg.UseSSL)
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}
	return &MinIO{client: client}, nil
}

// Upload implements ObjectStorage.
func (m *MinIO) Upload(ctx context.Context, bucket, objectName, contentType string, reader io.Reader, size int64) (string, error) {
	info, err := m.client.PutObject(ctx, bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s/%s: %w", bucket, objectName, err)
	}
	return info.Bucket + "/" + info.Key, nil
}

// =============================================================================
// ARTIFACT STORE
// =============================================================================

// ArtifactStore writes artifacts under a fixed bucket and key prefix.
type ArtifactStore struct {
	storage ObjectStorage
	bucket  string
	prefix  string
}

// NewArtifactStore creates a store writing to bucket under prefix.
func NewArtifactStore(s ObjectStorage, bucket, prefix string) *ArtifactStore {
	return &ArtifactStore{storage: s, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// PutWorkbook uploads a workbook named name.
//
// RETURNS:
//   - The location reported by the storage, e.g. "bucket/prefix/name"
func (a *ArtifactStore) PutWorkbook(ctx context.Context, name string, data []byte) (string, error) {
	objectName := path.Join(a.prefix, path.Base(name))
	return a.storage.Upload(ctx, a.bucket, objectName, XLSXContentType, bytes.NewReader(data), int64(len(data)))
}
