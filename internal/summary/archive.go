package summary

import (
	"context"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Archiver stores a session record and returns where it lives
type Archiver interface {
	Upload(ctx context.Context, objectName, contentType string, r io.Reader) (string, error)
}

// GCSArchiver writes session records to a Cloud Storage bucket
type GCSArchiver struct {
	client *gcs.Client
	bucket string
}

func NewGCSArchiver(ctx context.Context, bucket string, opts ...option.ClientOption) (*GCSArchiver, error) {
	c, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSArchiver{client: c, bucket: bucket}, nil
}

func (a *GCSArchiver) Close() error { return a.client.Close() }

// Upload writes one object; records stay private to the bucket
func (a *GCSArchiver) Upload(ctx context.Context, objectName, contentType string, r io.Reader) (string, error) {
	w := a.client.Bucket(a.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	return fmt.Sprintf("gs://%s/%s", a.bucket, objectName), nil
}
