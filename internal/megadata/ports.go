package megadata

import (
	"context"
	"time"
)

// TokenStore is the persistence boundary for collections, tokens and modules.
// Workers only request mutations through it and never hold storage handles.
type TokenStore interface {
	// ListTokenIDs returns every token id stored for a collection.
	ListTokenIDs(ctx context.Context, collectionID string) ([]string, error)

	// CreateTokens inserts tokens as unpublished and pending sync.
	// Ids that already exist are left untouched and not returned.
	CreateTokens(ctx context.Context, collectionID string, tokens []NewToken) ([]Token, error)

	// MarkPublished records that the ledger holds the tokens' current data.
	MarkPublished(ctx context.Context, collectionID string, tokenIDs []string) error

	// MarkSyncDone records a completed ledger sync; the tokens are also published.
	MarkSyncDone(ctx context.Context, collectionID string, tokenIDs []string) error

	// ListPendingSync returns up to limit tokens with sync_status=pending that
	// sort strictly after the cursor, ordered by collection, creation time and
	// token id. Tokens of excluded collections are skipped.
	ListPendingSync(ctx context.Context, after SyncCursor, exclude []string, limit int) ([]Token, error)

	// ListCollectionsNeedingCheck returns external collections never checked
	// or last checked before threshold.
	ListCollectionsNeedingCheck(ctx context.Context, threshold time.Time) ([]Collection, error)

	// UpdateLastChecked sets last_checked_at; it never moves the value backwards.
	UpdateLastChecked(ctx context.Context, collectionID string, ts time.Time) error

	// GetCollection returns a collection by id, or ErrNotFound.
	GetCollection(ctx context.Context, collectionID string) (*Collection, error)

	// MarkCollectionPublished records that the collection exists on the ledger.
	MarkCollectionPublished(ctx context.Context, collectionID string) error

	// GetModules returns the modules with the given ids in the same order.
	// Unknown ids are omitted.
	GetModules(ctx context.Context, ids []string) ([]Module, error)
}

// Ledger is the append-only system to which validated token data is published.
type Ledger interface {
	// ItemExists reports whether an item is already on the ledger.
	ItemExists(ctx context.Context, collectionID, tokenID string) (bool, error)

	// CreateItems submits one transaction creating all items.
	CreateItems(ctx context.Context, collectionID string, items []Item) error

	// UpdateItems submits one transaction updating all items.
	UpdateItems(ctx context.Context, collectionID string, items []Item) error

	// Submit applies a mixed batch of operations as one transaction.
	// Either every operation is applied or none is.
	Submit(ctx context.Context, collectionID string, ops []Operation) error

	// CollectionExists reports whether a collection has been created on the ledger.
	CollectionExists(ctx context.Context, collectionID string) (bool, error)

	// CreateCollection registers a collection under its owner's address.
	CreateCollection(ctx context.Context, ownerAddress, collectionID, name string) error
}

// ChainReader issues read-only calls against external NFT contracts.
type ChainReader interface {
	// HasNetwork reports whether RPC endpoints are configured for network.
	HasNetwork(network string) bool

	ContractName(ctx context.Context, network string, kind ContractKind, contract string) (string, error)
	TotalSupply(ctx context.Context, network string, kind ContractKind, contract string) (uint64, error)

	// TokenIDs enumerates every token id of an enumerable contract as decimal
	// strings, sorted and unique. Non-enumerable contracts yield ErrUnsupportedContract.
	TokenIDs(ctx context.Context, network string, kind ContractKind, contract string) ([]string, error)

	// ContractOwner calls the contract-level owner() function.
	ContractOwner(ctx context.Context, network, contract string) (Owner, error)

	// OwnerOf returns the token owner; Found is false when the call reverted.
	OwnerOf(ctx context.Context, network, contract, tokenID string) (Owner, error)

	IsApprovedForAll(ctx context.Context, network, contract, owner, operator string) (bool, error)
	TokenURI(ctx context.Context, network, contract, tokenID string) (string, error)
}

// LinkingService resolves wallets linked to an identity.
type LinkingService interface {
	LinkedAccounts(ctx context.Context, address string) ([]string, error)
}
