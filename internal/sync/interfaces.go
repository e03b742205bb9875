// Package sync implements the offline-first synchronizing repositories for
// stray-animal and lost-pet reports. The local SQLite store is the source of
// truth for reads; the remote document and blob stores are reconciled with it
// by pushing unsynced rows and pulling remote documents.
//
// The package contains three main components:
//
//   - [Repository] serves one report kind: local reads, write-then-push, pull.
//   - [Engine] runs periodic flush and pull passes over every repository.
//   - [Bootstrap] hydrates an empty local store on first run.
package sync

import (
	"context"
	"io"

	"github.com/njoerd114/straysync/internal/model"
	"github.com/njoerd114/straysync/internal/store"
)

// LocalStore provides access to the on-device report database.
// Implemented by [store.Store].
type LocalStore interface {
	Upsert(ctx context.Context, r *model.Report) error
	MarkUploaded(ctx context.Context, r *model.Report) (bool, error)
	Delete(ctx context.Context, kind model.Kind, id int64) error
	Get(ctx context.Context, kind model.Kind, id int64) (*model.Report, error)
	GetByUniqueID(ctx context.Context, kind model.Kind, uniqueID string) (*model.Report, error)
	GetByMicrochipID(ctx context.Context, kind model.Kind, microchipID string) (*model.Report, error)
	List(ctx context.Context, kind model.Kind, q store.Query) ([]*model.Report, error)
	ListPending(ctx context.Context, kind model.Kind) ([]*model.Report, error)
	Count(ctx context.Context, kind model.Kind) (total, pending int, err error)
	IsEmpty(ctx context.Context) (bool, error)
	Watch(ctx context.Context, kind model.Kind, q store.Query) (<-chan []*model.Report, error)
}

// DocumentStore is a remote collection of report documents keyed by the
// report unique id. Get returns [model.ErrNotFound] for a missing document.
// Implemented by [firebase.Documents] and [mongostore.Store].
type DocumentStore interface {
	FetchAll(ctx context.Context, collection string) ([]model.Document, error)
	Get(ctx context.Context, collection, id string) (*model.Document, error)
	Put(ctx context.Context, collection, id string, doc model.Document) error
	Delete(ctx context.Context, collection, id string) error
}

// BlobStore holds report photos keyed by [model.Kind.BlobKey]. Download and
// Delete return [model.ErrNotFound] for a missing object.
// Implemented by [firebase.Blobs] and [cloudinary.Store].
type BlobStore interface {
	Upload(ctx context.Context, key string, r io.Reader) error
	Download(ctx context.Context, key string, w io.Writer) error
	Delete(ctx context.Context, key string) error
}
