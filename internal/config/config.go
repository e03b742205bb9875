// Package config loads and validates the straysync YAML configuration.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Document store backends.
const (
	BackendFirestore = "firestore"
	BackendMongo     = "mongo"
)

// Blob store backends.
const (
	BackendFirebase   = "firebase"
	BackendCloudinary = "cloudinary"
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// DatabasePath is the local SQLite file. Defaults to
	// ~/.local/share/straysync/reports.db.
	DatabasePath string `yaml:"database_path,omitempty"`

	// PhotoDir holds photos captured by the report flow and photos downloaded
	// by pulls. Defaults to ~/.local/share/straysync/photos.
	PhotoDir string `yaml:"photo_dir,omitempty"`

	// PollInterval controls how often the daemon flushes and pulls.
	// Minimum 30s, maximum 24h. Defaults to 5m if unset.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PushAttempts bounds the retries of every remote call. Defaults to 3.
	PushAttempts int `yaml:"push_attempts"`

	Firebase  FirebaseConfig  `yaml:"firebase"`
	Documents DocumentsConfig `yaml:"documents"`
	Blobs     BlobsConfig     `yaml:"blobs"`
	Image     ImageConfig     `yaml:"image"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// FirebaseConfig identifies the Firebase project. Required when either store
// uses a Firebase backend.
type FirebaseConfig struct {
	ProjectID string `yaml:"project_id"`

	// CredentialsFile is a service account JSON key. Empty uses Application
	// Default Credentials.
	CredentialsFile string `yaml:"credentials_file,omitempty"`

	// StorageBucket defaults to "<project_id>.appspot.com".
	StorageBucket string `yaml:"storage_bucket,omitempty"`
}

// DocumentsConfig selects the remote document store.
type DocumentsConfig struct {
	// Backend is "firestore" (default) or "mongo".
	Backend string `yaml:"backend"`

	MongoURI      string `yaml:"mongo_uri,omitempty"`
	MongoDatabase string `yaml:"mongo_database,omitempty"`
}

// BlobsConfig selects the remote blob store.
type BlobsConfig struct {
	// Backend is "firebase" (default) or "cloudinary".
	Backend string `yaml:"backend"`

	Cloudinary *CloudinaryConfig `yaml:"cloudinary,omitempty"`
}

// CloudinaryConfig holds Cloudinary account credentials.
type CloudinaryConfig struct {
	CloudName string `yaml:"cloud_name"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Folder    string `yaml:"folder,omitempty"`
}

// ImageConfig bounds photos attached to new reports.
type ImageConfig struct {
	MaxWidth  int `yaml:"max_width"`
	MaxHeight int `yaml:"max_height"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "straysync".
	ServiceName string `yaml:"service_name,omitempty"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request, e.g. Authorization: "Bearer <token>".
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/straysync/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "straysync", "config.yaml"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Write validates cfg and saves it to path, creating parent directories.
func (c *Config) Write(path string) error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// The file may hold API secrets.
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config file %q: %w", path, err)
	}
	return nil
}

// UsesFirebase reports whether any remote store needs the Firebase app.
func (c *Config) UsesFirebase() bool {
	return c.Documents.Backend == BackendFirestore || c.Blobs.Backend == BackendFirebase
}

// validate checks that all required fields are present and well-formed, and
// fills in defaults.
func (c *Config) validate() error {
	if c.PollInterval == 0 {
		c.PollInterval = 5 * time.Minute
	}
	if c.PollInterval < 30*time.Second {
		return fmt.Errorf("poll_interval %v is too short (minimum 30s)", c.PollInterval)
	}
	if c.PollInterval > 24*time.Hour {
		return fmt.Errorf("poll_interval %v is too long (maximum 24h)", c.PollInterval)
	}

	if c.PushAttempts == 0 {
		c.PushAttempts = 3
	}
	if c.PushAttempts < 1 || c.PushAttempts > 10 {
		return fmt.Errorf("push_attempts %d must be between 1 and 10", c.PushAttempts)
	}

	switch c.Documents.Backend {
	case "":
		c.Documents.Backend = BackendFirestore
	case BackendFirestore:
	case BackendMongo:
		if c.Documents.MongoURI == "" {
			return fmt.Errorf("documents.mongo_uri is required for the mongo backend")
		}
		if c.Documents.MongoDatabase == "" {
			c.Documents.MongoDatabase = "straysync"
		}
	default:
		return fmt.Errorf("documents.backend %q must be %q or %q", c.Documents.Backend, BackendFirestore, BackendMongo)
	}

	switch c.Blobs.Backend {
	case "":
		c.Blobs.Backend = BackendFirebase
	case BackendFirebase:
	case BackendCloudinary:
		cl := c.Blobs.Cloudinary
		if cl == nil || cl.CloudName == "" || cl.APIKey == "" || cl.APISecret == "" {
			return fmt.Errorf("blobs.cloudinary requires cloud_name, api_key and api_secret")
		}
	default:
		return fmt.Errorf("blobs.backend %q must be %q or %q", c.Blobs.Backend, BackendFirebase, BackendCloudinary)
	}

	if c.UsesFirebase() && c.Firebase.ProjectID == "" {
		return fmt.Errorf("firebase.project_id is required for the %s backends", c.firebaseBackends())
	}

	if c.Image.MaxWidth == 0 {
		c.Image.MaxWidth = 400
	}
	if c.Image.MaxHeight == 0 {
		c.Image.MaxHeight = 300
	}
	if c.Image.MaxWidth < 0 || c.Image.MaxHeight < 0 {
		return fmt.Errorf("image.max_width and image.max_height must be positive")
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}

func (c *Config) firebaseBackends() string {
	switch {
	case c.Documents.Backend == BackendFirestore && c.Blobs.Backend == BackendFirebase:
		return "firestore and firebase storage"
	case c.Documents.Backend == BackendFirestore:
		return "firestore"
	default:
		return "firebase storage"
	}
}

// DataDir returns ~/.local/share/straysync, the default home of the database,
// photos and session.
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "straysync"), nil
}

// ResolvePaths fills DatabasePath and PhotoDir from DataDir when unset.
func (c *Config) ResolvePaths() error {
	if c.DatabasePath != "" && c.PhotoDir != "" {
		return nil
	}
	dir, err := DataDir()
	if err != nil {
		return err
	}
	if c.DatabasePath == "" {
		c.DatabasePath = filepath.Join(dir, "reports.db")
	}
	if c.PhotoDir == "" {
		c.PhotoDir = filepath.Join(dir, "photos")
	}
	return nil
}
