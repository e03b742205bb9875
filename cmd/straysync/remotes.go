package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"firebase.google.com/go/v4/auth"

	"github.com/njoerd114/straysync/internal/cloudinary"
	"github.com/njoerd114/straysync/internal/config"
	"github.com/njoerd114/straysync/internal/firebase"
	"github.com/njoerd114/straysync/internal/model"
	"github.com/njoerd114/straysync/internal/mongostore"
	"github.com/njoerd114/straysync/internal/retry"
	syncp "github.com/njoerd114/straysync/internal/sync"
)

// remotes bundles the configured remote stores.
type remotes struct {
	docs    syncp.DocumentStore
	blobs   syncp.BlobStore
	auth    *auth.Client // nil without a Firebase project
	closers []func() error
}

func (r *remotes) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		_ = r.closers[i]()
	}
}

// openRemotes connects the document store, blob store and auth client named
// by cfg.
func openRemotes(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*remotes, error) {
	rem := &remotes{}

	var fb *firebase.App
	if cfg.Firebase.ProjectID != "" {
		app, err := firebase.NewApp(ctx, firebase.Config{
			ProjectID:       cfg.Firebase.ProjectID,
			CredentialsFile: cfg.Firebase.CredentialsFile,
			StorageBucket:   cfg.Firebase.StorageBucket,
		}, logger)
		if err != nil {
			return nil, err
		}
		fb = app
	}

	switch cfg.Documents.Backend {
	case config.BackendMongo:
		s, err := mongostore.Connect(ctx, mongostore.Config{
			URI:      cfg.Documents.MongoURI,
			Database: cfg.Documents.MongoDatabase,
		}, logger)
		if err != nil {
			return nil, err
		}
		rem.docs = s
		rem.closers = append(rem.closers, s.Close)
	default:
		if fb == nil {
			return nil, errors.New("firestore requires firebase.project_id")
		}
		d, err := fb.Documents(ctx)
		if err != nil {
			return nil, err
		}
		rem.docs = d
		rem.closers = append(rem.closers, d.Close)
	}

	switch cfg.Blobs.Backend {
	case config.BackendCloudinary:
		c := cfg.Blobs.Cloudinary
		s, err := cloudinary.New(cloudinary.Config{
			CloudName: c.CloudName,
			APIKey:    c.APIKey,
			APISecret: c.APISecret,
			Folder:    c.Folder,
		}, logger)
		if err != nil {
			rem.close()
			return nil, err
		}
		rem.blobs = s
	default:
		if fb == nil {
			rem.close()
			return nil, errors.New("firebase storage requires firebase.project_id")
		}
		b, err := fb.Blobs(ctx)
		if err != nil {
			rem.close()
			return nil, err
		}
		rem.blobs = b
	}

	if fb != nil {
		client, err := fb.Auth(ctx)
		if err != nil {
			logger.Warn("firebase authentication unavailable", "error", err)
		} else {
			rem.auth = client
		}
	}
	return rem, nil
}

// checkRemotes opens the remote stores of cfg and probes each with a lookup
// of a key that does not exist.
func checkRemotes(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	rem, err := openRemotes(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rem.close()

	const probe = "straysync-connectivity-check"
	if _, err := rem.docs.Get(ctx, model.KindStrayAnimal.Collection(), probe); err != nil && !errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("report store: %w", err)
	}
	if err := rem.blobs.Download(ctx, model.KindStrayAnimal.BlobKey(probe), io.Discard); err != nil && !errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("photo store: %w", err)
	}
	return nil
}

// offlineRemotes stands in for remote stores that could not be opened. Every
// call fails without retries, so new and edited reports stay pending.
func offlineRemotes(cause error) *remotes {
	err := retry.Permanent(fmt.Errorf("remote store unavailable: %w", cause))
	return &remotes{docs: offlineDocs{err}, blobs: offlineBlobs{err}}
}

type offlineDocs struct{ err error }

func (o offlineDocs) FetchAll(context.Context, string) ([]model.Document, error) { return nil, o.err }
func (o offlineDocs) Get(context.Context, string, string) (*model.Document, error) {
	return nil, o.err
}
func (o offlineDocs) Put(context.Context, string, string, model.Document) error { return o.err }
func (o offlineDocs) Delete(context.Context, string, string) error              { return o.err }

type offlineBlobs struct{ err error }

func (o offlineBlobs) Upload(context.Context, string, io.Reader) error   { return o.err }
func (o offlineBlobs) Download(context.Context, string, io.Writer) error { return o.err }
func (o offlineBlobs) Delete(context.Context, string) error              { return o.err }

var (
	_ syncp.DocumentStore = offlineDocs{}
	_ syncp.BlobStore     = offlineBlobs{}
	_ syncp.DocumentStore = (*firebase.Documents)(nil)
	_ syncp.BlobStore     = (*firebase.Blobs)(nil)
	_ syncp.DocumentStore = (*mongostore.Store)(nil)
	_ syncp.BlobStore     = (*cloudinary.Store)(nil)
)
