package setup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/njoerd114/straysync/internal/config"
)

// Checker verifies that cfg can reach its remote stores.
type Checker func(ctx context.Context, cfg *config.Config) error

// Wizard guides the user through first-run configuration.
type Wizard struct {
	prompt *Prompter
	logger *slog.Logger
	w      io.Writer
	check  Checker // nil skips the connectivity check
}

// NewWizard creates a Wizard wired to the given I/O and logger.
func NewWizard(r io.Reader, w io.Writer, logger *slog.Logger, check Checker) *Wizard {
	return &Wizard{
		prompt: NewPrompter(r, w),
		logger: logger,
		w:      w,
		check:  check,
	}
}

// Run walks the user through local storage, remote backends, and sync
// settings, then writes the configuration to cfgPath. When a config already
// exists and the user keeps it, the existing config is returned.
func (wiz *Wizard) Run(ctx context.Context, cfgPath string) (*config.Config, error) {
	fmt.Fprintf(wiz.w, "\nWelcome to straysync setup!\n")
	fmt.Fprintf(wiz.w, "This wizard writes %s.\n\n", cfgPath)

	if _, statErr := os.Stat(cfgPath); statErr == nil {
		fmt.Fprintf(wiz.w, "  Existing config found at %s\n", cfgPath)
		if !wiz.prompt.Confirm("Overwrite existing configuration?", false) {
			fmt.Fprintf(wiz.w, "\n  Keeping existing config.\n")
			return config.Load(cfgPath)
		}
		fmt.Fprintf(wiz.w, "\n")
	}

	cfg := &config.Config{}

	// Step 1: local storage.
	fmt.Fprintf(wiz.w, "Step 1/5: Local Storage\n")
	dataDir, err := config.DataDir()
	if err != nil {
		return nil, err
	}
	cfg.DatabasePath = wiz.prompt.String("Database file", filepath.Join(dataDir, "reports.db"))
	cfg.PhotoDir = wiz.prompt.String("Photo directory", filepath.Join(dataDir, "photos"))
	fmt.Fprintf(wiz.w, "\n")

	// Step 2: document store.
	fmt.Fprintf(wiz.w, "Step 2/5: Report Store\n")
	idx, err := wiz.prompt.Select("Where are reports stored", []string{"Cloud Firestore", "MongoDB"}, 0)
	if err != nil {
		return nil, fmt.Errorf("selecting report store: %w", err)
	}
	if idx == 1 {
		cfg.Documents.Backend = config.BackendMongo
		cfg.Documents.MongoURI = wiz.prompt.String("MongoDB URI", "mongodb://localhost:27017")
		cfg.Documents.MongoDatabase = wiz.prompt.String("Database name", "straysync")
	} else {
		cfg.Documents.Backend = config.BackendFirestore
	}
	fmt.Fprintf(wiz.w, "\n")

	// Step 3: blob store.
	fmt.Fprintf(wiz.w, "Step 3/5: Photo Store\n")
	idx, err = wiz.prompt.Select("Where are photos stored", []string{"Firebase Storage", "Cloudinary"}, 0)
	if err != nil {
		return nil, fmt.Errorf("selecting photo store: %w", err)
	}
	if idx == 1 {
		cfg.Blobs.Backend = config.BackendCloudinary
		cfg.Blobs.Cloudinary = &config.CloudinaryConfig{
			CloudName: wiz.prompt.String("Cloud name", ""),
			APIKey:    wiz.prompt.String("API key", ""),
			APISecret: wiz.prompt.Secret("API secret"),
			Folder:    wiz.prompt.String("Folder", "straysync"),
		}
	} else {
		cfg.Blobs.Backend = config.BackendFirebase
	}
	fmt.Fprintf(wiz.w, "\n")

	// Step 4: Firebase project.
	fmt.Fprintf(wiz.w, "Step 4/5: Firebase\n")
	if cfg.UsesFirebase() {
		cfg.Firebase.ProjectID = wiz.prompt.String("Project ID", "")
		cfg.Firebase.CredentialsFile = wiz.prompt.Optional("Service account key file", "")
		cfg.Firebase.StorageBucket = wiz.prompt.Optional("Storage bucket", "")
	} else {
		fmt.Fprintf(wiz.w, "  Not needed for the selected stores.\n")
	}
	fmt.Fprintf(wiz.w, "\n")

	// Step 5: sync and save.
	fmt.Fprintf(wiz.w, "Step 5/5: Sync\n")
	cfg.PollInterval = wiz.prompt.Duration("How often to sync with the remote stores? (30s-24h)", 5*time.Minute)
	fmt.Fprintf(wiz.w, "\n")

	if wiz.check != nil {
		fmt.Fprintf(wiz.w, "  Checking remote stores...")
		if err := wiz.check(ctx, cfg); err != nil {
			fmt.Fprintf(wiz.w, " ✗\n")
			wiz.logger.Warn("remote store check failed", "error", err)
			fmt.Fprintf(wiz.w, "  %v\n", err)
			if !wiz.prompt.Confirm("Save the configuration anyway?", false) {
				return nil, errors.New("setup aborted: remote stores unreachable")
			}
		} else {
			fmt.Fprintf(wiz.w, " ✓\n")
		}
	}

	if err := cfg.Write(cfgPath); err != nil {
		return nil, fmt.Errorf("writing config: %w", err)
	}
	fmt.Fprintf(wiz.w, "  ✓ Config written to %s\n\n", cfgPath)
	fmt.Fprintf(wiz.w, "Next steps:\n")
	fmt.Fprintf(wiz.w, "  straysync signin --anonymous   Create an account on this device\n")
	fmt.Fprintf(wiz.w, "  straysync daemon               Keep reports in sync\n\n")

	return cfg, nil
}
