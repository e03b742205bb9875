// Package firebase adapts the Firebase Admin SDK to the remote stores used by
// the report repositories: Cloud Firestore for report documents and the
// project's Cloud Storage bucket for report photos. It also hands out the
// Firebase Auth client used to verify sign-in tokens.
package firebase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// Config selects the Firebase project and credentials.
type Config struct {
	ProjectID       string
	CredentialsFile string // service-account JSON; empty uses application default credentials
	StorageBucket   string // empty uses the project's default bucket
}

// App is an initialised Firebase Admin application.
type App struct {
	app *firebase.App
	log *slog.Logger
}

// NewApp initialises the Firebase Admin SDK for the configured project.
func NewApp(ctx context.Context, cfg Config, logger *slog.Logger) (*App, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase project id is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID:     cfg.ProjectID,
		StorageBucket: cfg.StorageBucket,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase app: %w", err)
	}

	logger.Debug("firebase app initialised", "project_id", cfg.ProjectID, "bucket", cfg.StorageBucket)
	return &App{app: app, log: logger}, nil
}

// Documents returns a Firestore-backed document store. Close it when done.
func (a *App) Documents(ctx context.Context) (*Documents, error) {
	client, err := a.app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}
	return &Documents{client: client, log: a.log}, nil
}

// Blobs returns a Cloud Storage-backed blob store over the configured bucket.
func (a *App) Blobs(ctx context.Context) (*Blobs, error) {
	client, err := a.app.Storage(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	bucket, err := client.DefaultBucket()
	if err != nil {
		return nil, fmt.Errorf("opening storage bucket: %w", err)
	}
	return &Blobs{bucket: bucket, log: a.log}, nil
}

// Auth returns the Firebase Auth client.
func (a *App) Auth(ctx context.Context) (*auth.Client, error) {
	client, err := a.app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating auth client: %w", err)
	}
	return client, nil
}
