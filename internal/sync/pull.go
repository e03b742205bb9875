package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/njoerd114/straysync/internal/model"
	"github.com/njoerd114/straysync/internal/retry"
)

// PullStats summarises one pull from the remote stores.
type PullStats struct {
	Fetched int // documents returned by the remote store
	Pulled  int // local rows inserted or refreshed
	Skipped int // unchanged, or held back by pending local edits
	Errors  int // documents that could not be applied
}

type pullOutcome int

const (
	pulled pullOutcome = iota
	skippedUnchanged
	skippedPending
)

// Pull fetches every remote document of this kind and applies it to the local
// store. Each document is applied independently: one bad document is logged
// and counted without stopping the others. The returned error covers only the
// collection fetch itself.
func (r *Repository) Pull(ctx context.Context) (PullStats, error) {
	var stats PullStats

	var docs []model.Document
	err := retry.Do(ctx, r.opts.Retry, func(ctx context.Context) error {
		var err error
		docs, err = r.docs.FetchAll(ctx, r.kind.Collection())
		return err
	})
	if err != nil {
		return stats, fmt.Errorf("fetching %s: %w", r.kind.Collection(), err)
	}
	stats.Fetched = len(docs)

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		outcome, err := r.pullOne(ctx, doc)
		if err != nil {
			stats.Errors++
			r.log.Warn("applying remote document", "unique_id", doc.UniqueID, "error", err)
			continue
		}
		switch outcome {
		case pulled:
			stats.Pulled++
		case skippedPending:
			stats.Skipped++
			r.log.Debug("local edits pending, keeping local copy", "unique_id", doc.UniqueID)
		case skippedUnchanged:
			stats.Skipped++
		}
	}

	r.log.Info("pull complete",
		"fetched", stats.Fetched,
		"pulled", stats.Pulled,
		"skipped", stats.Skipped,
		"errors", stats.Errors,
	)
	return stats, nil
}

func (r *Repository) pullOne(ctx context.Context, doc model.Document) (pullOutcome, error) {
	incoming, err := doc.Report(r.kind)
	if err != nil {
		return pulled, err
	}

	existing, err := r.local.GetByUniqueID(ctx, r.kind, incoming.UniqueID)
	if err != nil {
		return pulled, fmt.Errorf("looking up local copy: %w", err)
	}
	if existing != nil {
		if !existing.Uploaded {
			return skippedPending, nil
		}
		if r.unchanged(existing, incoming, doc.WantsPhoto()) {
			return skippedUnchanged, nil
		}
		incoming.ID = existing.ID
	}

	incoming.Photo = model.NoPhoto
	if doc.WantsPhoto() {
		path, err := r.download(ctx, incoming.UniqueID)
		switch {
		case err != nil && existing != nil && existing.Photo.IsSet():
			r.log.Warn("downloading photo, keeping previous local photo", "unique_id", incoming.UniqueID, "error", err)
			incoming.Photo = existing.Photo
		case err != nil:
			r.log.Warn("downloading photo, keeping report without photo", "unique_id", incoming.UniqueID, "error", err)
		default:
			incoming.Photo = model.LocalPhoto(path)
		}
	}

	incoming.Uploaded = true
	if err := r.local.Upsert(ctx, incoming); err != nil {
		return pulled, fmt.Errorf("saving pulled report: %w", err)
	}
	return pulled, nil
}

// unchanged reports whether applying the remote copy would change nothing the
// user can see: same content and, when a photo is expected, a local file that
// still exists.
func (r *Repository) unchanged(existing, incoming *model.Report, wantsPhoto bool) bool {
	candidate := *incoming
	candidate.Photo = existing.Photo
	if candidate.ContentHash() != existing.ContentHash() {
		return false
	}
	path, ok := existing.Photo.Path()
	if ok != wantsPhoto {
		return false
	}
	if !ok {
		return true
	}
	_, err := os.Stat(path)
	return err == nil
}

// download fetches the photo for uid into the photo directory. The file is
// written to a temporary name and renamed into place once complete.
func (r *Repository) download(ctx context.Context, uid string) (string, error) {
	dir := r.photoDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating photo directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, uid+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	key := r.kind.BlobKey(uid)
	err = retry.Do(ctx, r.opts.Retry, func(ctx context.Context) error {
		if err := tmp.Truncate(0); err != nil {
			return retry.Permanent(err)
		}
		if _, err := tmp.Seek(0, 0); err != nil {
			return retry.Permanent(err)
		}
		return permanentIfMissing(r.blobs.Download(ctx, key, tmp))
	})
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return "", fmt.Errorf("photo %s: %w", key, model.ErrNotFound)
		}
		return "", fmt.Errorf("downloading photo %s: %w", key, err)
	}

	dest := filepath.Join(dir, uid+".png")
	if err := os.Rename(tmpName, dest); err != nil {
		return "", fmt.Errorf("moving photo into place: %w", err)
	}
	return dest, nil
}
