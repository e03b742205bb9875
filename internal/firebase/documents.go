package firebase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/njoerd114/straysync/internal/model"
)

// Documents stores report documents in Cloud Firestore, one collection per
// report kind, keyed by report unique id.
type Documents struct {
	client *firestore.Client
	log    *slog.Logger
}

// NewDocuments wraps an existing Firestore client.
func NewDocuments(client *firestore.Client, logger *slog.Logger) *Documents {
	return &Documents{client: client, log: logger}
}

// FetchAll returns every document in collection. Documents that cannot be
// decoded are logged and skipped.
func (d *Documents) FetchAll(ctx context.Context, collection string) ([]model.Document, error) {
	iter := d.client.Collection(collection).Documents(ctx)
	defer iter.Stop()

	var docs []model.Document
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", collection, err)
		}

		var doc model.Document
		if err := snap.DataTo(&doc); err != nil {
			d.log.Warn("skipping undecodable document", "collection", collection, "id", snap.Ref.ID, "error", err)
			continue
		}
		if doc.UniqueID == "" {
			doc.UniqueID = snap.Ref.ID
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Get returns one document, or [model.ErrNotFound].
func (d *Documents) Get(ctx context.Context, collection, id string) (*model.Document, error) {
	snap, err := d.client.Collection(collection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting %s/%s: %w", collection, id, err)
	}

	var doc model.Document
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decoding %s/%s: %w", collection, id, err)
	}
	return &doc, nil
}

// Put creates or replaces the document with the given id.
func (d *Documents) Put(ctx context.Context, collection, id string, doc model.Document) error {
	if _, err := d.client.Collection(collection).Doc(id).Set(ctx, doc); err != nil {
		return fmt.Errorf("writing %s/%s: %w", collection, id, err)
	}
	return nil
}

// Delete removes the document. Firestore treats deleting a missing document
// as success.
func (d *Documents) Delete(ctx context.Context, collection, id string) error {
	if _, err := d.client.Collection(collection).Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("deleting %s/%s: %w", collection, id, err)
	}
	return nil
}

// Close releases the Firestore client.
func (d *Documents) Close() error {
	return d.client.Close()
}
