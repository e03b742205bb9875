package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/njoerd114/straysync/internal/account"
	"github.com/njoerd114/straysync/internal/config"
	"github.com/njoerd114/straysync/internal/model"
	"github.com/njoerd114/straysync/internal/retry"
	"github.com/njoerd114/straysync/internal/store"
	syncp "github.com/njoerd114/straysync/internal/sync"
	"github.com/njoerd114/straysync/internal/telemetry"
)

// commonFlags are accepted by every subcommand.
type commonFlags struct {
	configPath string
	verbose    bool
}

func newFlagSet(name string) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	c := &commonFlags{}
	defaultCfg, _ := config.DefaultPath()
	fs.StringVar(&c.configPath, "config", defaultCfg, "path to config.yaml")
	fs.BoolVar(&c.verbose, "verbose", false, "enable debug logging")
	return fs, c
}

func (c *commonFlags) level(def slog.Level) slog.Level {
	if c.verbose {
		return slog.LevelDebug
	}
	return def
}

// app holds everything a subcommand needs: config, local store, one
// repository per report kind, and the account service.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	store    *store.Store
	repos    []*syncp.Repository
	accounts *account.Service
	online   bool

	closers     []func() error
	shutdownTel telemetry.ShutdownFunc
}

// openApp loads the config and wires the local store, remote stores,
// repositories and account service. Remote stores that cannot be opened are
// replaced by offline stand-ins so local work keeps going.
func openApp(ctx context.Context, common *commonFlags, level slog.Level) (*app, error) {
	logger := newLogger(common.level(level))

	cfg, err := config.Load(common.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config from %q: %w\n\nRun 'straysync setup' to create one", common.configPath, err)
	}
	if err := cfg.ResolvePaths(); err != nil {
		return nil, err
	}
	logger.Debug("config loaded",
		"documents", cfg.Documents.Backend,
		"blobs", cfg.Blobs.Backend,
		"poll_interval", cfg.PollInterval,
	)

	a := &app{cfg: cfg, log: logger}

	if cfg.Telemetry != nil {
		shutdown, err := telemetry.Setup(ctx, telemetry.Config{
			OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
			Insecure:       cfg.Telemetry.Insecure,
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: version,
			Headers:        cfg.Telemetry.Headers,
		})
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Debug("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			a.shutdownTel = shutdown
		}
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("opening database at %q: %w", cfg.DatabasePath, err)
	}
	a.store = st
	logger.Debug("database opened", "path", cfg.DatabasePath)

	rem, err := openRemotes(ctx, cfg, logger)
	if err != nil {
		logger.Warn("remote stores unavailable, working offline", "error", err)
		rem = offlineRemotes(err)
	} else {
		a.online = true
	}
	a.closers = append(a.closers, rem.closers...)

	var dir account.Directory
	if rem.auth != nil {
		dir = rem.auth
	}
	a.accounts, err = account.NewService(filepath.Join(filepath.Dir(cfg.DatabasePath), "session.yaml"), dir, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	opts := syncp.Options{
		PhotoDir: cfg.PhotoDir,
		Retry:    retry.Default.WithAttempts(cfg.PushAttempts),
	}
	for _, kind := range model.Kinds {
		a.repos = append(a.repos, syncp.NewRepository(kind, st, rem.docs, rem.blobs, opts, logger))
	}
	return a, nil
}

// repo returns the repository serving kind.
func (a *app) repo(kind model.Kind) *syncp.Repository {
	for _, r := range a.repos {
		if r.Kind() == kind {
			return r
		}
	}
	panic(fmt.Sprintf("no repository for %s", kind))
}

// requireUser returns the signed-in user id.
func (a *app) requireUser() (string, error) {
	id := a.accounts.CurrentUserID()
	if id == "" {
		return "", fmt.Errorf("%w: run 'straysync signin --anonymous' first", account.ErrNoUser)
	}
	return id, nil
}

// Close waits for background pulls and releases every resource.
func (a *app) Close() {
	for _, r := range a.repos {
		r.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Error("closing remote store", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Error("closing database", "error", err)
		}
	}
	if a.shutdownTel != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdownTel(flushCtx); err != nil {
			a.log.Error("telemetry shutdown error", "error", err)
		}
	}
}
