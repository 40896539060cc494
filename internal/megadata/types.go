package megadata

import (
	"strings"
	"time"
)

// CollectionKind distinguishes locally managed collections from collections
// that mirror an external NFT contract.
type CollectionKind string

const (
	CollectionDefault  CollectionKind = "default"
	CollectionExternal CollectionKind = "external"
)

// ContractKind names the token standard of an external contract.
type ContractKind string

const (
	ContractERC721  ContractKind = "ERC721"
	ContractERC1155 ContractKind = "ERC1155"
)

// ModuleID returns the identifier of the module that describes tokens minted
// by a contract of this kind (e.g. "erc721").
func (k ContractKind) ModuleID() string {
	return strings.ToLower(string(k))
}

// SyncStatus tracks whether a token's current data has been mirrored to the ledger.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncDone    SyncStatus = "done"
)

// Collection is a named grouping of tokens owned by one account.
// External collections also carry reconciliation state in External.
type Collection struct {
	ID           string
	AccountID    string
	OwnerAddress string
	Name         string
	Kind         CollectionKind
	Published    bool
	External     *ExternalSource
	CreatedAt    time.Time
}

// ExternalSource describes the on-chain contract an external collection mirrors.
type ExternalSource struct {
	Source        string // network name, e.g. "ethereum"
	ExternalID    string // contract address
	ContractType  ContractKind
	LastCheckedAt *time.Time
}

// IsExternal reports whether the collection mirrors an external contract.
func (c *Collection) IsExternal() bool {
	return c.Kind == CollectionExternal && c.External != nil
}

// Token is one metadata record, unique by (CollectionID, TokenID).
type Token struct {
	CollectionID    string
	TokenID         string
	Data            map[string]any
	AttachedModules []string
	Published       bool
	SyncStatus      SyncStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SyncCursor is a position in the pending-sync scan, which is ordered by
// collection, creation time and token id. The zero value is the start.
type SyncCursor struct {
	CollectionID string
	CreatedAt    time.Time
	TokenID      string
}

// CursorAt returns the cursor positioned on t.
func CursorAt(t Token) SyncCursor {
	return SyncCursor{CollectionID: t.CollectionID, CreatedAt: t.CreatedAt, TokenID: t.TokenID}
}

func (c SyncCursor) IsZero() bool {
	return c.CollectionID == "" && c.TokenID == "" && c.CreatedAt.IsZero()
}

// NewToken is the input for creating a token.
type NewToken struct {
	TokenID string
	Data    map[string]any
	Modules []string
}

// Module is a named JSON Schema attachable to tokens. A small set of reserved
// identifiers carry authorization semantics instead of data shape.
type Module struct {
	ID     string
	Schema []byte
}

// Reserved module identifiers.
const (
	ModuleExtendingCollection = "extending-collection"
	ModuleExtendingMetadata   = "extending-metadata"
)

// ValidationResult is the outcome of a permission check. It is never persisted.
type ValidationResult struct {
	Valid bool   `json:"isValid"`
	Error string `json:"error,omitempty"`
}

// Allow returns a passing ValidationResult.
func Allow() ValidationResult { return ValidationResult{Valid: true} }

// Deny returns a failing ValidationResult with the given reason.
func Deny(reason string) ValidationResult { return ValidationResult{Valid: false, Error: reason} }

// Owner is the result of an ownership lookup. Found is false when the
// contract reverted the call, e.g. because the token was never minted.
type Owner struct {
	Address string
	Found   bool
}

// Item is a token payload as submitted to the ledger.
type Item struct {
	ID   string         `json:"id"`
	Data map[string]any `json:"data"`
}

// OpType is the kind of ledger operation for one item.
type OpType string

const (
	OpCreate OpType = "create"
	OpUpdate OpType = "update"
)

// Operation is one create or update entry of a ledger transaction.
type Operation struct {
	Type OpType `json:"type"`
	Item Item   `json:"item"`
}

// NormalizeAddress lower-cases and trims an address so comparisons are
// insensitive to checksum casing.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// SameAddress reports whether two addresses are equal ignoring case.
func SameAddress(a, b string) bool {
	a, b = NormalizeAddress(a), NormalizeAddress(b)
	return a != "" && a == b
}
