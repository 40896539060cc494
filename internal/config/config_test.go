package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := NewConfig("/home/user/.local/share/megadata")
	original.Networks = []NetworkConfig{
		{Name: "ethereum", Endpoints: []string{"https://rpc-a.example", "https://rpc-b.example"}, Timeout: Duration{15 * time.Second}, Retries: 2},
	}
	original.Ledger = LedgerConfig{Type: "s3", Name: "public", S3Bucket: "megadata-ledger", S3Region: "eu-central-1", ProbeDelay: Duration{500 * time.Millisecond}}
	original.Permissions.Admins = []string{"0xAdmin"}
	original.Linking = LinkingConfig{Type: "static", Static: map[string][]string{"0xaaa": {"0xbbb"}}}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.BaseDir != original.BaseDir {
		t.Errorf("BaseDir = %q, want %q", got.BaseDir, original.BaseDir)
	}
	if len(got.Networks) != 1 {
		t.Fatalf("len(Networks) = %d, want 1", len(got.Networks))
	}
	if got.Networks[0].Timeout.Duration != 15*time.Second {
		t.Errorf("Networks[0].Timeout = %v, want 15s", got.Networks[0].Timeout.Duration)
	}
	if len(got.Networks[0].Endpoints) != 2 {
		t.Errorf("len(Networks[0].Endpoints) = %d, want 2", len(got.Networks[0].Endpoints))
	}
	if got.Ledger.Type != "s3" || got.Ledger.S3Bucket != "megadata-ledger" {
		t.Errorf("Ledger = %+v, want s3 ledger on megadata-ledger", got.Ledger)
	}
	if got.Ledger.ProbeDelay.Duration != 500*time.Millisecond {
		t.Errorf("Ledger.ProbeDelay = %v, want 500ms", got.Ledger.ProbeDelay.Duration)
	}
	if got.Reconcile.BatchSize != original.Reconcile.BatchSize {
		t.Errorf("Reconcile.BatchSize = %d, want %d", got.Reconcile.BatchSize, original.Reconcile.BatchSize)
	}
	if got.Linking.Static["0xaaa"][0] != "0xbbb" {
		t.Errorf("Linking.Static = %v, want 0xaaa -> [0xbbb]", got.Linking.Static)
	}
}

func TestManager_Read_KeepsDefaults(t *testing.T) {
	input := `
[[networks]]
name = "ethereum"
endpoints = ["https://rpc.example"]

[reconcile]
batch_size = 7
`
	got, err := (&Manager{}).Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got.Reconcile.BatchSize != 7 {
		t.Errorf("Reconcile.BatchSize = %d, want 7", got.Reconcile.BatchSize)
	}
	if got.Reconcile.Interval.Duration != 10*time.Minute {
		t.Errorf("Reconcile.Interval = %v, want default 10m", got.Reconcile.Interval.Duration)
	}
	if got.Sync.BatchSize != 100 {
		t.Errorf("Sync.BatchSize = %d, want default 100", got.Sync.BatchSize)
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("90s")); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	if d.Duration != 90*time.Second {
		t.Errorf("Duration = %v, want 90s", d.Duration)
	}
	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Error("UnmarshalText() expected error for invalid duration")
	}
	if got := (Duration{}).Or(time.Second); got != time.Second {
		t.Errorf("Or() = %v, want fallback 1s", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := NewConfig("/data/megadata")
		cfg.Networks = []NetworkConfig{{Name: "ethereum", Endpoints: []string{"https://rpc.example"}}}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults with one network", mutate: func(*Config) {}},
		{name: "no networks", mutate: func(c *Config) { c.Networks = nil }, wantErr: "networks"},
		{name: "network without endpoints", mutate: func(c *Config) { c.Networks[0].Endpoints = nil }, wantErr: "endpoint"},
		{name: "duplicate network", mutate: func(c *Config) { c.Networks = append(c.Networks, c.Networks[0]) }, wantErr: "duplicate"},
		{name: "sqlite without data dir", mutate: func(c *Config) { c.Database.DataDir = "" }, wantErr: "data_dir"},
		{name: "unknown database", mutate: func(c *Config) { c.Database.Type = "postgres" }, wantErr: "unknown type"},
		{name: "s3 ledger without bucket", mutate: func(c *Config) { c.Ledger.Type = "s3" }, wantErr: "s3_bucket"},
		{name: "filesystem ledger without root", mutate: func(c *Config) { c.Ledger.FSRoot = "" }, wantErr: "fs_root"},
		{name: "http linking without url", mutate: func(c *Config) { c.Linking.Type = "http" }, wantErr: "base_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/data/megadata")

	if cfg.LogDir != "/data/megadata/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/megadata/log")
	}
	if cfg.Keys.PrivateKeyPath != "/data/megadata/keys/ledger.key" {
		t.Errorf("Keys.PrivateKeyPath = %q, want %q", cfg.Keys.PrivateKeyPath, "/data/megadata/keys/ledger.key")
	}
	if cfg.Permissions.ExtendingMetadataModule != "extending-metadata" {
		t.Errorf("ExtendingMetadataModule = %q, want %q", cfg.Permissions.ExtendingMetadataModule, "extending-metadata")
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "megadata.toml")

		if err := Init(path, NewConfig(dir)); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "megadata.toml")

		if err := Init(path, NewConfig(dir)); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}
		if err := Init(path, NewConfig(dir)); err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "megadata.toml")
		cfg := NewConfig(dir)
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.Database.Type != "memory" {
			t.Errorf("Database.Type = %q, want %q", got.Database.Type, "memory")
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		if _, err := ReadFromFile("/nonexistent/path/megadata.toml"); err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
