// Package cloudinary is a Cloudinary-backed remote blob store for report
// photos. Blob keys become public ids under a configurable folder.
package cloudinary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"

	"github.com/njoerd114/straysync/internal/model"
)

const (
	resourceType    = "image"
	downloadTimeout = 60 * time.Second

	// destroyNotFound is the Destroy result for a public id with no asset.
	destroyNotFound = "not found"
)

// Config holds the Cloudinary account credentials and target folder.
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

// Store implements the repository BlobStore over Cloudinary.
type Store struct {
	cld    *cloudinary.Cloudinary
	folder string
	http   *http.Client
	log    *slog.Logger

	// assetURL resolves a public id to its delivery URL.
	assetURL func(publicID string) (string, error)
}

// New creates a Cloudinary blob store.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("cloudinary credentials are required")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("initialising cloudinary client: %w", err)
	}
	cld.Config.URL.Secure = true

	folder := strings.Trim(cfg.Folder, "/")
	if folder == "" {
		folder = "straysync"
	}

	s := &Store{
		cld:    cld,
		folder: folder,
		http:   &http.Client{Timeout: downloadTimeout},
		log:    logger,
	}
	s.assetURL = s.deliveryURL
	return s, nil
}

// publicID maps a blob key to a Cloudinary public id.
func (s *Store) publicID(key string) string {
	return path.Join(s.folder, key)
}

func (s *Store) deliveryURL(publicID string) (string, error) {
	img, err := s.cld.Image(publicID)
	if err != nil {
		return "", err
	}
	return img.String()
}

// Upload stores r under key, overwriting and invalidating any cached copy.
func (s *Store) Upload(ctx context.Context, key string, r io.Reader) error {
	publicID := s.publicID(key)
	res, err := s.cld.Upload.Upload(ctx, r, uploader.UploadParams{
		PublicID:     publicID,
		ResourceType: resourceType,
		Overwrite:    api.Bool(true),
		Invalidate:   api.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", publicID, err)
	}
	if res.Error.Message != "" {
		return fmt.Errorf("uploading %s: %s", publicID, res.Error.Message)
	}
	s.log.Debug("uploaded asset", "public_id", res.PublicID, "bytes", res.Bytes)
	return nil
}

// Download fetches the asset for key and copies it into w. A missing asset
// yields [model.ErrNotFound].
func (s *Store) Download(ctx context.Context, key string, w io.Writer) error {
	publicID := s.publicID(key)
	url, err := s.assetURL(publicID)
	if err != nil {
		return fmt.Errorf("building url for %s: %w", publicID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request for %s: %w", publicID, err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", publicID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("asset %s: %w", publicID, model.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("downloading %s: unexpected status %s", publicID, resp.Status)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("reading %s: %w", publicID, err)
	}
	return nil
}

// Delete destroys the asset for key. A missing asset yields
// [model.ErrNotFound].
func (s *Store) Delete(ctx context.Context, key string) error {
	publicID := s.publicID(key)
	res, err := s.cld.Upload.Destroy(ctx, uploader.DestroyParams{
		PublicID:     publicID,
		ResourceType: resourceType,
		Invalidate:   api.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", publicID, err)
	}
	if res.Error.Message != "" {
		return fmt.Errorf("deleting %s: %s", publicID, res.Error.Message)
	}
	if res.Result == destroyNotFound {
		return fmt.Errorf("asset %s: %w", publicID, model.ErrNotFound)
	}
	return nil
}
