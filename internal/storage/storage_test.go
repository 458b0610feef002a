package storage

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/ginjaninja78/tabular-import/internal/config"
)

type memoryStorage struct {
	objects     map[string][]byte
	contentType string
	size        int64
	err         error
}

func (m *memoryStorage) Upload(_ context.Context, bucket, objectName, contentType string, reader io.Reader, size int64) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	key := bucket + "/" + objectName
	m.objects[key] = data
	m.contentType = contentType
	m.size = size
	return key, nil
}

func TestArtifactStore_PutWorkbook(t *testing.T) {
	tests := []struct {
		prefix string
		name   string
		want   string
	}{
		{"imports/failed/", "failed.xlsx", "artifacts/imports/failed/failed.xlsx"},
		{"", "failed.xlsx", "artifacts/failed.xlsx"},
		{"runs", "output/dir/failed.xlsx", "artifacts/runs/failed.xlsx"},
	}
	for _, tt := range tests {
		mem := &memoryStorage{}
		store := NewArtifactStore(mem, "artifacts", tt.prefix)

		loc, err := store.PutWorkbook(context.Background(), tt.name, []byte("PK"))
		if err != nil {
			t.Fatalf("PutWorkbook failed: %v", err)
		}
		if loc != tt.want {
			t.Errorf("prefix %q name %q: location %q, want %q", tt.prefix, tt.name, loc, tt.want)
		}
		if string(mem.objects[tt.want]) != "PK" || mem.size != 2 || mem.contentType != XLSXContentType {
			t.Errorf("Unexpected upload: %d bytes, type %q", mem.size, mem.contentType)
		}
	}
}

func TestArtifactStore_PropagatesErrors(t *testing.T) {
	boom := errors.New("bucket missing")
	store := NewArtifactStore(&memoryStorage{err: boom}, "b", "")
	if _, err := store.PutWorkbook(context.Background(), "x.xlsx", nil); !errors.Is(err, boom) {
		t.Errorf("Expected storage error, got %v", err)
	}
}

func TestNewMinIO(t *testing.T) {
	m, err := NewMinIO(config.MinIOConfig{
		Enabled:   true,
		Endpoint:  "localhost:9000",
		Bucket:    "artifacts",
		AccessKey: "key",
		SecretKey: "secret",
	})
	if err != nil {
		t.Fatalf("NewMinIO failed: %v", err)
	}
	var _ ObjectStorage = m
}
