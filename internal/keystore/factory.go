package keystore

import (
	"fmt"

	"megadata-go/internal/config"
)

// NewKeystoreFromConfig creates a Keystore based on the configuration type.
func NewKeystoreFromConfig(cfg config.KeysConfig) (Keystore, error) {
	switch cfg.Type {
	case "age", "":
		return NewAgeKeystore(cfg), nil
	case "test":
		return NewTestKeystore(), nil
	default:
		return nil, fmt.Errorf("unknown keys type: %q", cfg.Type)
	}
}
