package firebase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	gcs "cloud.google.com/go/storage"

	"github.com/njoerd114/straysync/internal/model"
)

// photoContentType is set on every uploaded photo; the repositories only
// persist PNG files.
const photoContentType = "image/png"

// Blobs stores report photos as objects in a Cloud Storage bucket.
type Blobs struct {
	bucket *gcs.BucketHandle
	log    *slog.Logger
}

// NewBlobs wraps an existing bucket handle.
func NewBlobs(bucket *gcs.BucketHandle, logger *slog.Logger) *Blobs {
	return &Blobs{bucket: bucket, log: logger}
}

// Upload writes r to the object at key, replacing any existing object.
func (b *Blobs) Upload(ctx context.Context, key string, r io.Reader) error {
	w := b.bucket.Object(key).NewWriter(ctx)
	w.ContentType = photoContentType

	n, err := io.Copy(w, r)
	if err != nil {
		_ = w.Close()
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	// The object is only committed once Close succeeds.
	if err := w.Close(); err != nil {
		return fmt.Errorf("committing %s: %w", key, err)
	}
	b.log.Debug("uploaded object", "key", key, "bytes", n)
	return nil
}

// Download copies the object at key into w. A missing object yields
// [model.ErrNotFound].
func (b *Blobs) Download(ctx context.Context, key string, w io.Writer) error {
	r, err := b.bucket.Object(key).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("object %s: %w", key, model.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("opening %s: %w", key, err)
	}
	defer func() { _ = r.Close() }()

	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("downloading %s: %w", key, err)
	}
	return nil
}

// Delete removes the object at key. A missing object yields
// [model.ErrNotFound].
func (b *Blobs) Delete(ctx context.Context, key string) error {
	err := b.bucket.Object(key).Delete(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("object %s: %w", key, model.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}
