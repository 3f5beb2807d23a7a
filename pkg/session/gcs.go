package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// sessionObject is the blob path convention shared with the operator tooling.
const sessionObject = "whatsapp-session/session.json"

// GCSBackend stores the session as a single JSON object in a Cloud Storage
// bucket.
type GCSBackend struct {
	client *storage.Client
	bucket string
}

func NewGCSBackend(ctx context.Context, bucket string) (*GCSBackend, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSBackend{client: client, bucket: bucket}, nil
}

func (b *GCSBackend) Name() string { return "GCS" }

func (b *GCSBackend) Load(ctx context.Context) (*Data, error) {
	r, err := b.client.Bucket(b.bucket).Object(sessionObject).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open gs://%s/%s: %w", b.bucket, sessionObject, err)
	}
	defer r.Close()

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read session object: %w", err)
	}

	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("malformed session object: %w", err)
	}
	return &data, nil
}

func (b *GCSBackend) Save(ctx context.Context, data *Data) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	w := b.client.Bucket(b.bucket).Object(sessionObject).NewWriter(ctx)
	w.ContentType = "application/json"
	w.CacheControl = "no-cache, no-store"
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return fmt.Errorf("write session object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize session object: %w", err)
	}
	return nil
}

func (b *GCSBackend) Close() error {
	return b.client.Close()
}
