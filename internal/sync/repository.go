package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"time"

	"github.com/njoerd114/straysync/internal/model"
	"github.com/njoerd114/straysync/internal/retry"
	"github.com/njoerd114/straysync/internal/store"
)

// Options tunes a [Repository].
type Options struct {
	// PhotoDir is where pulled photos are written, one subdirectory per kind.
	PhotoDir string

	// Retry bounds every remote call. The zero value means [retry.Default].
	Retry retry.Policy
}

// Repository is the offline-first repository for one report kind. Reads are
// served from the local store; writes land locally first and are then pushed
// to the remote stores, with failed pushes retried on the next write or flush.
type Repository struct {
	kind  model.Kind
	local LocalStore
	docs  DocumentStore
	blobs BlobStore
	opts  Options
	log   *slog.Logger
	now   func() time.Time

	// flushMu serializes FlushPending so concurrent writes do not push the
	// same row twice.
	flushMu gosync.Mutex

	// pulls tracks background pulls started by LoadAll.
	pulls gosync.WaitGroup
}

// NewRepository creates the repository for kind. The local store is shared by
// every repository in the process.
func NewRepository(kind model.Kind, local LocalStore, docs DocumentStore, blobs BlobStore, opts Options, logger *slog.Logger) *Repository {
	if opts.Retry.Attempts == 0 {
		opts.Retry = retry.Default
	}
	return &Repository{
		kind:  kind,
		local: local,
		docs:  docs,
		blobs: blobs,
		opts:  opts,
		log:   logger.With("kind", kind.String()),
		now:   time.Now,
	}
}

// Kind returns the report kind this repository serves.
func (r *Repository) Kind() model.Kind { return r.kind }

// LoadAll starts a background pull from the remote stores and returns a live
// view over every local report of this kind. The view emits the current rows
// immediately and again after each local write, including writes made by the
// pull. Remote failures are logged; only a local failure is returned.
func (r *Repository) LoadAll(ctx context.Context) (<-chan []*model.Report, error) {
	view, err := r.Watch(ctx, store.Query{})
	if err != nil {
		return nil, err
	}

	r.pulls.Add(1)
	go func() {
		defer r.pulls.Done()
		stats, err := r.Pull(ctx)
		if err != nil {
			if ctx.Err() == nil {
				r.log.Warn("background pull failed", "error", err)
			}
			return
		}
		r.log.Debug("background pull complete", "pulled", stats.Pulled, "skipped", stats.Skipped, "errors", stats.Errors)
	}()
	return view, nil
}

// Wait blocks until every background pull started by LoadAll has returned.
func (r *Repository) Wait() {
	r.pulls.Wait()
}

// Upsert writes rep to the local store and, when it is not yet uploaded,
// pushes every pending report of this kind. Push failures are logged and the
// rows stay pending; only a local failure is returned.
func (r *Repository) Upsert(ctx context.Context, rep *model.Report) error {
	if rep.Kind != r.kind {
		return fmt.Errorf("%w: %s report given to %s repository", model.ErrInvalidReport, rep.Kind, r.kind)
	}
	rep.Normalize()
	if err := r.local.Upsert(ctx, rep); err != nil {
		return fmt.Errorf("saving report locally: %w", err)
	}
	if rep.Uploaded {
		return nil
	}

	stats, err := r.FlushPending(ctx)
	if err != nil {
		r.log.Warn("flushing pending reports", "error", err)
		return nil
	}
	if stats.Failed > 0 {
		r.log.Info("some reports remain pending", "pushed", stats.Pushed, "failed", stats.Failed)
	}
	return nil
}

// Create stamps draft as a new report owned by userID, validates it and
// upserts it. The draft's kind, ids, time and upload flag are overwritten.
func (r *Repository) Create(ctx context.Context, draft *model.Report, userID string) (*model.Report, error) {
	fresh := model.NewReport(r.kind, userID, r.now())
	fresh.Photo = draft.Photo
	fresh.Type = draft.Type
	fresh.Name = draft.Name
	fresh.Colour = draft.Colour
	fresh.Sex = draft.Sex
	fresh.Appearance = draft.Appearance
	fresh.Location = draft.Location
	fresh.MicrochipID = draft.MicrochipID
	fresh.ContactInfo = draft.ContactInfo
	fresh.AdditionalInfo = draft.AdditionalInfo

	fresh.Normalize()
	if err := fresh.Validate(); err != nil {
		return nil, err
	}
	if err := r.Upsert(ctx, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// Edit saves changes to an existing report. The report is resolved by local
// id, or by unique id when the local id is unknown, and always goes back to
// pending so the edit is pushed. The report time and owner are kept from the
// stored copy.
func (r *Repository) Edit(ctx context.Context, rep *model.Report) error {
	existing, err := r.resolve(ctx, rep)
	if err != nil {
		return err
	}
	rep.ID = existing.ID
	rep.UniqueID = existing.UniqueID
	rep.ReportedAt = existing.ReportedAt
	rep.UserID = existing.UserID
	rep.Kind = r.kind
	rep.Uploaded = false

	rep.Normalize()
	if err := rep.Validate(); err != nil {
		return err
	}
	return r.Upsert(ctx, rep)
}

// Delete removes rep locally and then, best effort, removes its remote
// document and photo. Only a local failure is returned.
func (r *Repository) Delete(ctx context.Context, rep *model.Report) error {
	existing, err := r.resolve(ctx, rep)
	switch {
	case errors.Is(err, model.ErrNotFound):
		r.log.Debug("report already gone locally", "unique_id", rep.UniqueID)
		existing = rep
	case err != nil:
		return err
	default:
		if err := r.local.Delete(ctx, r.kind, existing.ID); err != nil {
			return fmt.Errorf("deleting report locally: %w", err)
		}
	}

	r.removeManagedPhoto(existing.Photo)

	if existing.UniqueID == "" {
		return nil
	}
	uid := existing.UniqueID

	err = retry.Do(ctx, r.opts.Retry, func(ctx context.Context) error {
		return permanentIfMissing(r.docs.Delete(ctx, r.kind.Collection(), uid))
	})
	switch {
	case err == nil:
		r.log.Debug("deleted remote document", "unique_id", uid)
	case errors.Is(err, model.ErrNotFound):
		r.log.Debug("remote document already absent", "unique_id", uid)
	default:
		r.log.Warn("deleting remote document", "unique_id", uid, "error", err)
	}

	err = retry.Do(ctx, r.opts.Retry, func(ctx context.Context) error {
		return permanentIfMissing(r.blobs.Delete(ctx, r.kind.BlobKey(uid)))
	})
	switch {
	case err == nil:
		r.log.Debug("deleted remote photo", "unique_id", uid)
	case errors.Is(err, model.ErrNotFound):
		r.log.Debug("remote photo already absent", "unique_id", uid)
	default:
		r.log.Warn("deleting remote photo", "unique_id", uid, "error", err)
	}
	return nil
}

// resolve finds the stored row for rep by local id or unique id.
func (r *Repository) resolve(ctx context.Context, rep *model.Report) (*model.Report, error) {
	var (
		existing *model.Report
		err      error
	)
	switch {
	case rep.ID != 0:
		existing, err = r.local.Get(ctx, r.kind, rep.ID)
	case rep.UniqueID != "":
		existing, err = r.local.GetByUniqueID(ctx, r.kind, rep.UniqueID)
	default:
		return nil, fmt.Errorf("%w: report has neither local nor unique id", model.ErrInvalidReport)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up report: %w", err)
	}
	if existing == nil {
		return nil, fmt.Errorf("%s report id=%d uid=%q: %w", r.kind, rep.ID, rep.UniqueID, model.ErrNotFound)
	}
	return existing, nil
}

// --- reads -------------------------------------------------------------------

// Get returns the report with the given local id, or (nil, nil).
func (r *Repository) Get(ctx context.Context, id int64) (*model.Report, error) {
	return r.local.Get(ctx, r.kind, id)
}

// GetByUniqueID returns the report with the given unique id, or (nil, nil).
func (r *Repository) GetByUniqueID(ctx context.Context, uniqueID string) (*model.Report, error) {
	return r.local.GetByUniqueID(ctx, r.kind, uniqueID)
}

// GetByMicrochipID returns the first report carrying the microchip id, or
// (nil, nil). Lookups are case-insensitive since stored ids are uppercase.
func (r *Repository) GetByMicrochipID(ctx context.Context, microchipID string) (*model.Report, error) {
	return r.local.GetByMicrochipID(ctx, r.kind, microchipID)
}

// ListByType returns the reports whose animal type equals typ.
func (r *Repository) ListByType(ctx context.Context, typ string) ([]*model.Report, error) {
	return r.local.List(ctx, r.kind, store.Query{Type: typ})
}

// ListByName returns the lost-pet reports for a pet name.
func (r *Repository) ListByName(ctx context.Context, name string) ([]*model.Report, error) {
	return r.local.List(ctx, r.kind, store.Query{Name: name})
}

// List returns every report of this kind in the given order.
func (r *Repository) List(ctx context.Context, order store.Order) ([]*model.Report, error) {
	return r.local.List(ctx, r.kind, store.Query{Order: order})
}

// Watch returns a live view of the reports matching q.
func (r *Repository) Watch(ctx context.Context, q store.Query) (<-chan []*model.Report, error) {
	view, err := r.local.Watch(ctx, r.kind, q)
	if err != nil {
		return nil, fmt.Errorf("watching %s reports: %w", r.kind, err)
	}
	return view, nil
}

// Status returns the number of local reports and how many await upload.
func (r *Repository) Status(ctx context.Context) (total, pending int, err error) {
	return r.local.Count(ctx, r.kind)
}

// --- helpers -----------------------------------------------------------------

func (r *Repository) photoDir() string {
	return filepath.Join(r.opts.PhotoDir, r.kind.String())
}

// removeManagedPhoto deletes a photo file that a pull downloaded. Files the
// user picked from elsewhere are left alone.
func (r *Repository) removeManagedPhoto(p model.Photo) {
	path, ok := p.Path()
	if !ok || r.opts.PhotoDir == "" {
		return
	}
	dir := r.photoDir() + string(filepath.Separator)
	if !strings.HasPrefix(filepath.Clean(path), dir) {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.log.Warn("removing local photo", "path", path, "error", err)
	}
}

// permanentIfMissing stops retrying once the remote reports the object absent.
func permanentIfMissing(err error) error {
	if errors.Is(err, model.ErrNotFound) {
		return retry.Permanent(err)
	}
	return err
}
