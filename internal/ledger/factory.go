package ledger

import (
	"context"
	"fmt"

	"megadata-go/internal/config"
	"megadata-go/internal/keystore"
	"megadata-go/internal/megadata"
)

// NewBlobsFromConfig creates the storage backend named by cfg.Type.
func NewBlobsFromConfig(ctx context.Context, cfg config.LedgerConfig) (Blobs, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryBlobs(), nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem ledger requires fs_root to be set")
		}
		return NewFileSystemBlobs(cfg.FSRoot)
	case "s3":
		return NewS3Blobs(ctx, S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
	default:
		return nil, fmt.Errorf("unknown ledger type: %s", cfg.Type)
	}
}

// NewLedgerFromConfig creates a Journal that signs with signer.
func NewLedgerFromConfig(ctx context.Context, cfg config.LedgerConfig, signer keystore.Signer, clock megadata.Clock, ids megadata.IDGenerator) (*Journal, error) {
	if signer == nil {
		return nil, fmt.Errorf("ledger requires an unlocked signer")
	}
	blobs, err := NewBlobsFromConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewJournal(cfg.Name, blobs, signer, clock, ids), nil
}
