package archive

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
)

// Uploader archives raw inbound payment text to a GCS bucket so the exact
// bytes that produced a payment can be replayed later. It assumes
// Application Default Credentials are configured.
type Uploader struct {
	client *storage.Client
	bucket string
}

// NewUploader creates a bucket-bound archiver.
func NewUploader(ctx context.Context, bucket string) (*Uploader, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewUploader: create storage client: %w", err)
	}
	return &Uploader{client: client, bucket: bucket}, nil
}

// Close releases the underlying client.
func (u *Uploader) Close() error {
	return u.client.Close()
}

// Archive writes the raw text under a date-partitioned object name and
// returns its gs:// URI.
func (u *Uploader) Archive(ctx context.Context, rawText string) (string, error) {
	now := time.Now().UTC()
	objectName := fmt.Sprintf("imports/%04d/%02d/%02d/%s.txt",
		now.Year(), now.Month(), now.Day(), uuid.NewString())

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := u.client.Bucket(u.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = "text/plain; charset=utf-8"

	if _, err := io.WriteString(w, rawText); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("Archive: write object %q: %w", objectName, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("Archive: finalize object %q: %w", objectName, err)
	}

	return fmt.Sprintf("gs://%s/%s", u.bucket, objectName), nil
}

// Fetch downloads the archived bytes behind a gs:// URI, for replaying an
// attempt through the pipeline.
func (u *Uploader) Fetch(ctx context.Context, gcsURI string) ([]byte, error) {
	bucketName, objectPath, err := splitURI(gcsURI)
	if err != nil {
		return nil, fmt.Errorf("Fetch: %w", err)
	}

	rc, err := u.client.Bucket(bucketName).Object(objectPath).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("Fetch: reading object %s/%s: %w", bucketName, objectPath, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("Fetch: reading bytes: %w", err)
	}
	return data, nil
}

// splitURI splits "gs://bucket/path/to/object" into its bucket and object
// path.
func splitURI(uri string) (string, string, error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}
