package archive

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
)

// GCS writes payloads to a Google Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCS creates a GCS-backed archiver.
func NewGCS(client *storage.Client, bucket, prefix string) (*GCS, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &GCS{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

// Put uploads data and returns a gs:// URI.
func (a *GCS) Put(ctx context.Context, key string, data []byte) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("archive key is required")
	}
	path := key
	if a.prefix != "" {
		path = a.prefix + "/" + key
	}
	w := a.client.Bucket(a.bucket).Object(path).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			return "", fmt.Errorf("write archive object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("write archive object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close archive writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", a.bucket, path), nil
}
