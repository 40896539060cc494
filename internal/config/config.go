package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for megadata.
type Config struct {
	BaseDir     string            `toml:"base_dir"`
	LogDir      string            `toml:"log_dir"`
	LogLevel    string            `toml:"log_level"` // debug, info, warn or error
	Database    DatabaseConfig    `toml:"database"`
	Ledger      LedgerConfig      `toml:"ledger"`
	Keys        KeysConfig        `toml:"keys"`
	Networks    []NetworkConfig   `toml:"networks"`
	Metadata    MetadataConfig    `toml:"metadata"`
	Permissions PermissionsConfig `toml:"permissions"`
	Linking     LinkingConfig     `toml:"linking"`
	Reconcile   ReconcileConfig   `toml:"reconcile"`
	Sync        SyncConfig        `toml:"sync"`
	HTTP        HTTPConfig        `toml:"http"`
}

// Duration is a time.Duration that reads and writes as a string ("30s", "5m").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Or returns d, or fallback when d is not positive.
func (d Duration) Or(fallback time.Duration) time.Duration {
	if d.Duration <= 0 {
		return fallback
	}
	return d.Duration
}

// DatabaseConfig represents configuration for the token store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// LedgerConfig represents configuration for the ledger backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type LedgerConfig struct {
	Type string `toml:"type"` // "memory", "filesystem" or "s3"
	Name string `toml:"name"`

	// Delay between consecutive item existence probes within one batch.
	ProbeDelay Duration `toml:"probe_delay"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
}

// KeysConfig holds the location of the ledger signing key pair.
type KeysConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
	PassphraseEnv  string `toml:"passphrase_env"` // env var holding the passphrase for unattended runs
}

// NetworkConfig is the RPC endpoint pool for one chain network.
type NetworkConfig struct {
	Name      string   `toml:"name"`
	Endpoints []string `toml:"endpoints"`
	Timeout   Duration `toml:"timeout"`
	Retries   int      `toml:"retries"` // informational; the gateway does not retry
}

// MetadataConfig configures token metadata fetching.
type MetadataConfig struct {
	GatewayBase string   `toml:"gateway_base"` // remote URIs are fetched as <gateway_base>/ext/<uri>
	Timeout     Duration `toml:"timeout"`
}

// PermissionsConfig configures the permission validator.
type PermissionsConfig struct {
	Admins                    []string `toml:"admins"`
	ExtendingCollectionModule string   `toml:"extending_collection_module"`
	ExtendingMetadataModule   string   `toml:"extending_metadata_module"`
}

// LinkingConfig configures the identity linking service.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type LinkingConfig struct {
	Type    string              `toml:"type"` // "none", "static" or "http"
	BaseURL string              `toml:"base_url,omitempty"`
	Timeout Duration            `toml:"timeout,omitempty"`
	Static  map[string][]string `toml:"static,omitempty"`
}

// ReconcileConfig configures the external collection reconciler.
type ReconcileConfig struct {
	Interval   Duration `toml:"interval"`
	BatchSize  int      `toml:"batch_size"`
	CheckAfter Duration `toml:"check_after"` // collections checked more recently are skipped
}

// SyncConfig configures the ledger sync worker.
type SyncConfig struct {
	Interval   Duration `toml:"interval"`
	BatchSize  int      `toml:"batch_size"`
	MaxBatches int      `toml:"max_batches"`
}

// HTTPConfig configures the HTTP API listener.
type HTTPConfig struct {
	Listen string `toml:"listen"`
}

// NewConfig creates a new Config with defaults rooted at baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		LogLevel: "info",
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Ledger: LedgerConfig{
			Type:       "filesystem",
			Name:       "local",
			FSRoot:     filepath.Join(baseDir, "ledger"),
			ProbeDelay: Duration{250 * time.Millisecond},
		},
		Keys: KeysConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "ledger.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "ledger.key"),
			PassphraseEnv:  "MEGADATA_KEY_PASSPHRASE",
		},
		Metadata: MetadataConfig{Timeout: Duration{30 * time.Second}},
		Permissions: PermissionsConfig{
			ExtendingCollectionModule: "extending-collection",
			ExtendingMetadataModule:   "extending-metadata",
		},
		Linking:   LinkingConfig{Type: "none"},
		Reconcile: ReconcileConfig{Interval: Duration{10 * time.Minute}, BatchSize: 50, CheckAfter: Duration{time.Hour}},
		Sync:      SyncConfig{Interval: Duration{time.Minute}, BatchSize: 100, MaxBatches: 10},
		HTTP:      HTTPConfig{Listen: "127.0.0.1:8480"},
	}
}

// Validate checks that all required connection parameters are present.
// An invalid configuration is fatal at startup.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Networks) == 0 {
		errs = append(errs, errors.New("at least one [[networks]] entry is required"))
	}
	seen := make(map[string]bool)
	for i, n := range c.Networks {
		if n.Name == "" {
			errs = append(errs, fmt.Errorf("networks[%d]: name is required", i))
		}
		if seen[n.Name] {
			errs = append(errs, fmt.Errorf("networks[%d]: duplicate network %q", i, n.Name))
		}
		seen[n.Name] = true
		if len(n.Endpoints) == 0 {
			errs = append(errs, fmt.Errorf("network %q: at least one endpoint is required", n.Name))
		}
	}

	switch c.Database.Type {
	case "sqlite":
		if c.Database.DataDir == "" {
			errs = append(errs, errors.New("database: data_dir required for sqlite"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("database: unknown type %q", c.Database.Type))
	}

	switch c.Ledger.Type {
	case "memory":
	case "filesystem":
		if c.Ledger.FSRoot == "" {
			errs = append(errs, errors.New("ledger: fs_root required for filesystem ledger"))
		}
	case "s3":
		if c.Ledger.S3Bucket == "" {
			errs = append(errs, errors.New("ledger: s3_bucket required for s3 ledger"))
		}
	default:
		errs = append(errs, fmt.Errorf("ledger: unknown type %q", c.Ledger.Type))
	}

	if c.Linking.Type == "http" && c.Linking.BaseURL == "" {
		errs = append(errs, errors.New("linking: base_url required for http linking"))
	}

	return errors.Join(errs...)
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader. Values missing from the
// input keep the defaults of NewConfig.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	cfg := NewConfig("")
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
