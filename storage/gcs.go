package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
)

// GCSBackend keeps the document as a single Cloud Storage object.
// An object write only becomes visible when the writer is closed successfully,
// which gives the same all-or-nothing guarantee as the local rename.
type GCSBackend struct {
	client   *storage.Client
	logger   *slog.Logger
	bucket   string
	object   string
	attempts uint
	delay    time.Duration
	jitter   time.Duration
}

// NewGCSBackend creates a backend for gs://bucket/object.
func NewGCSBackend(client *storage.Client, bucket, object string, logger *slog.Logger) *GCSBackend {
	return &GCSBackend{
		client:   client,
		logger:   logger,
		bucket:   bucket,
		object:   object,
		attempts: 3,
		delay:    time.Second,
		jitter:   time.Second,
	}
}

// Location returns the gs:// URL of the object.
func (b *GCSBackend) Location() string {
	return fmt.Sprintf("gs://%s/%s", b.bucket, b.object)
}

// Ensure is a no-op: the bucket is provisioned outside the service.
func (b *GCSBackend) Ensure(_ context.Context) error {
	return nil
}

// Read downloads the object.
func (b *GCSBackend) Read(ctx context.Context) ([]byte, error) {
	var data []byte
	notFound := false

	err := retry.Do(
		func() error {
			r, openErr := b.client.Bucket(b.bucket).Object(b.object).NewReader(ctx)
			if openErr != nil {
				// Don't retry on "not found" errors
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					notFound = true
					return retry.Unrecoverable(fmt.Errorf("open storage reader: %w", openErr))
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					b.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			return nil
		},
		b.retryOptions(ctx, "load")...,
	)
	if notFound {
		return nil, fmt.Errorf("%s: %w", b.Location(), os.ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("load after retries: %w", err)
	}
	return data, nil
}

// Write uploads the object.
func (b *GCSBackend) Write(ctx context.Context, data []byte) error {
	err := retry.Do(
		func() error {
			w := b.client.Bucket(b.bucket).Object(b.object).NewWriter(ctx)
			w.ContentType = "application/json"
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					b.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		b.retryOptions(ctx, "save")...,
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}
	return nil
}

func (b *GCSBackend) retryOptions(ctx context.Context, op string) []retry.Option {
	return []retry.Option{
		retry.Attempts(b.attempts),
		retry.Delay(b.delay),
		retry.MaxDelay(30 * time.Second),
		retry.MaxJitter(b.jitter),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			b.logger.Info("Retrying storage operation after error", "op", op, "attempt", n, "object", b.object, "error", err)
		}),
	}
}
