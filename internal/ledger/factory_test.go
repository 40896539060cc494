package ledger

import (
	"context"
	"testing"

	"megadata-go/internal/config"
	"megadata-go/internal/keystore"
)

func TestNewLedgerFromConfig(t *testing.T) {
	ctx := context.Background()
	signer := keystore.NewTestSigner()

	t.Run("memory ledger", func(t *testing.T) {
		got, err := NewLedgerFromConfig(ctx, config.LedgerConfig{Type: "memory", Name: "mem"}, signer, nil, nil)
		if err != nil {
			t.Fatalf("NewLedgerFromConfig() error = %v", err)
		}
		if got.Name() != "mem" {
			t.Errorf("Name() = %q, want mem", got.Name())
		}
	})

	t.Run("filesystem ledger", func(t *testing.T) {
		cfg := config.LedgerConfig{Type: "filesystem", Name: "local", FSRoot: t.TempDir()}
		if _, err := NewLedgerFromConfig(ctx, cfg, signer, nil, nil); err != nil {
			t.Fatalf("NewLedgerFromConfig() error = %v", err)
		}
	})

	tests := []struct {
		name   string
		cfg    config.LedgerConfig
		signer keystore.Signer
	}{
		{name: "filesystem without root", cfg: config.LedgerConfig{Type: "filesystem"}, signer: signer},
		{name: "s3 without bucket", cfg: config.LedgerConfig{Type: "s3"}, signer: signer},
		{name: "unknown type", cfg: config.LedgerConfig{Type: "ipfs"}, signer: signer},
		{name: "missing signer", cfg: config.LedgerConfig{Type: "memory"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewLedgerFromConfig(ctx, tt.cfg, tt.signer, nil, nil); err == nil {
				t.Error("NewLedgerFromConfig() expected error, got nil")
			}
		})
	}
}
