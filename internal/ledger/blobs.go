package ledger

import (
	"context"
	"errors"
)

// errBlobNotFound is returned by Blobs.Get for a missing key.
var errBlobNotFound = errors.New("blob not found")

// Blobs is the key/value object store a Journal is persisted in.
// Keys are slash-separated relative paths such as "items/<coll>/<token>.json".
type Blobs interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
}
