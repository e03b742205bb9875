package sync

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/njoerd114/straysync/internal/model"
	"github.com/njoerd114/straysync/internal/retry"
)

// PushStats summarises one flush of pending reports.
type PushStats struct {
	Pending    int // rows that were pending when the flush started
	Pushed     int // rows confirmed remotely and marked uploaded
	Superseded int // rows pushed but edited or deleted meanwhile; still pending
	Failed     int // rows whose push failed; still pending
}

// FlushPending pushes every report of this kind that is not yet uploaded.
// Individual push failures are counted and logged, never returned; an error
// means the pending rows could not be read or ctx ended.
func (r *Repository) FlushPending(ctx context.Context) (PushStats, error) {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	var stats PushStats
	pending, err := r.local.ListPending(ctx, r.kind)
	if err != nil {
		return stats, fmt.Errorf("listing pending reports: %w", err)
	}
	stats.Pending = len(pending)

	for _, rep := range pending {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		if err := r.push(ctx, rep); err != nil {
			stats.Failed++
			r.log.Warn("push failed, report stays pending", "unique_id", rep.UniqueID, "error", err)
			continue
		}

		ok, err := r.local.MarkUploaded(ctx, rep)
		switch {
		case err != nil:
			stats.Failed++
			r.log.Error("marking report uploaded", "unique_id", rep.UniqueID, "error", err)
		case !ok:
			stats.Superseded++
			r.log.Debug("report changed during push, leaving pending", "unique_id", rep.UniqueID)
		default:
			stats.Pushed++
			r.log.Info("pushed report", "unique_id", rep.UniqueID)
		}
	}
	return stats, nil
}

// push writes the document and then uploads the photo. It succeeds only when
// both remote writes have completed.
func (r *Repository) push(ctx context.Context, rep *model.Report) error {
	doc := model.DocumentFromReport(rep)
	uid := rep.UniqueID

	photo, hasPhoto := rep.Photo.Path()
	if hasPhoto {
		if _, err := os.Stat(photo); err != nil {
			r.log.Warn("photo file unavailable, pushing without photo", "unique_id", uid, "path", photo, "error", err)
			hasPhoto = false
			doc.HasPhoto = false
		}
	}

	err := retry.Do(ctx, r.opts.Retry, func(ctx context.Context) error {
		return r.docs.Put(ctx, r.kind.Collection(), uid, doc)
	})
	if err != nil {
		return fmt.Errorf("writing document: %w", err)
	}

	if !hasPhoto {
		return nil
	}

	key := r.kind.BlobKey(uid)
	err = retry.Do(ctx, r.opts.Retry, func(ctx context.Context) error {
		f, err := os.Open(photo)
		if err != nil {
			return retry.Permanent(err)
		}
		defer func() { _ = f.Close() }()
		return r.blobs.Upload(ctx, key, f)
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("photo %s disappeared during push: %w", photo, err)
		}
		return fmt.Errorf("uploading photo %s: %w", key, err)
	}
	return nil
}
