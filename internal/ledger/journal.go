package ledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"megadata-go/internal/keystore"
	"megadata-go/internal/megadata"
)

var (
	ErrCollectionNotFound = errors.New("collection not found on ledger")
	ErrCollectionExists   = errors.New("collection already exists on ledger")
	ErrItemExists         = errors.New("item already exists on ledger")
	ErrItemNotFound       = errors.New("item not found on ledger")
)

// Transaction is the signed envelope recorded for every ledger write.
type Transaction struct {
	ID         string               `json:"id"`
	Collection string               `json:"collection"`
	Kind       string               `json:"kind"` // "create_collection" or "items"
	Owner      string               `json:"owner,omitempty"`
	Name       string               `json:"name,omitempty"`
	Ops        []megadata.Operation `json:"ops,omitempty"`
	Timestamp  int64                `json:"timestamp"`
	Signer     string               `json:"signer"`
	Signature  string               `json:"signature,omitempty"`
}

// SigningPayload returns the bytes covered by the signature: the envelope
// encoded without its signature field.
func (tx Transaction) SigningPayload() ([]byte, error) {
	tx.Signature = ""
	return json.Marshal(tx)
}

type collectionRecord struct {
	ID        string `json:"id"`
	Owner     string `json:"owner"`
	Name      string `json:"name"`
	TxID      string `json:"tx_id"`
	CreatedAt int64  `json:"created_at"`
}

type itemHead struct {
	ID        string         `json:"id"`
	Data      map[string]any `json:"data"`
	TxID      string         `json:"tx_id"`
	UpdatedAt int64          `json:"updated_at"`
}

// Journal is an append-only ledger over a Blobs store. Every write is a
// signed Transaction envelope followed by the item heads it produces.
// Writes are serialized within the process.
type Journal struct {
	name   string
	blobs  Blobs
	signer keystore.Signer
	clock  megadata.Clock
	ids    megadata.IDGenerator
	mu     sync.Mutex
}

var _ megadata.Ledger = (*Journal)(nil)

// NewJournal creates a journal. Nil clock and ids fall back to the real clock and UUIDs.
func NewJournal(name string, blobs Blobs, signer keystore.Signer, clock megadata.Clock, ids megadata.IDGenerator) *Journal {
	if clock == nil {
		clock = megadata.RealClock{}
	}
	if ids == nil {
		ids = megadata.UUIDGenerator{}
	}
	return &Journal{name: name, blobs: blobs, signer: signer, clock: clock, ids: ids}
}

// Name returns the configured ledger name.
func (j *Journal) Name() string { return j.name }

// Signer returns the address transactions are signed with.
func (j *Journal) Signer() string { return j.signer.Address() }

func collectionKey(collectionID string) string {
	return "collections/" + url.PathEscape(collectionID) + ".json"
}

func itemKey(collectionID, tokenID string) string {
	return "items/" + url.PathEscape(collectionID) + "/" + url.PathEscape(tokenID) + ".json"
}

func txKey(collectionID, txID string) string {
	return "txs/" + url.PathEscape(collectionID) + "/" + url.PathEscape(txID) + ".json"
}

func (j *Journal) CollectionExists(ctx context.Context, collectionID string) (bool, error) {
	return j.blobs.Exists(ctx, collectionKey(collectionID))
}

func (j *Journal) CreateCollection(ctx context.Context, ownerAddress, collectionID, name string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	exists, err := j.CollectionExists(ctx, collectionID)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", collectionID, err)
	}
	if exists {
		return fmt.Errorf("%s: %w", collectionID, ErrCollectionExists)
	}

	tx, err := j.commit(ctx, Transaction{
		Collection: collectionID,
		Kind:       "create_collection",
		Owner:      megadata.NormalizeAddress(ownerAddress),
		Name:       name,
	})
	if err != nil {
		return err
	}

	return j.putJSON(ctx, collectionKey(collectionID), collectionRecord{
		ID:        collectionID,
		Owner:     tx.Owner,
		Name:      name,
		TxID:      tx.ID,
		CreatedAt: tx.Timestamp,
	})
}

func (j *Journal) ItemExists(ctx context.Context, collectionID, tokenID string) (bool, error) {
	return j.blobs.Exists(ctx, itemKey(collectionID, tokenID))
}

// GetItem returns the current payload of an item, or ErrItemNotFound.
func (j *Journal) GetItem(ctx context.Context, collectionID, tokenID string) (*megadata.Item, error) {
	data, err := j.blobs.Get(ctx, itemKey(collectionID, tokenID))
	if err != nil {
		if errors.Is(err, errBlobNotFound) {
			return nil, fmt.Errorf("%s/%s: %w", collectionID, tokenID, ErrItemNotFound)
		}
		return nil, err
	}
	var head itemHead
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decoding item %s/%s: %w", collectionID, tokenID, err)
	}
	return &megadata.Item{ID: head.ID, Data: head.Data}, nil
}

// Transaction loads a recorded transaction envelope.
func (j *Journal) Transaction(ctx context.Context, collectionID, txID string) (*Transaction, error) {
	data, err := j.blobs.Get(ctx, txKey(collectionID, txID))
	if err != nil {
		return nil, fmt.Errorf("loading transaction %s: %w", txID, err)
	}
	var tx Transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("decoding transaction %s: %w", txID, err)
	}
	return &tx, nil
}

// VerifyTransaction checks the envelope signature against its signer.
func VerifyTransaction(tx *Transaction) error {
	payload, err := tx.SigningPayload()
	if err != nil {
		return err
	}
	sig, err := hex.DecodeString(tx.Signature)
	if err != nil {
		return fmt.Errorf("decoding signature: %w", err)
	}
	return keystore.Verify(tx.Signer, payload, sig)
}

func (j *Journal) CreateItems(ctx context.Context, collectionID string, items []megadata.Item) error {
	return j.Submit(ctx, collectionID, opsOf(megadata.OpCreate, items))
}

func (j *Journal) UpdateItems(ctx context.Context, collectionID string, items []megadata.Item) error {
	return j.Submit(ctx, collectionID, opsOf(megadata.OpUpdate, items))
}

func opsOf(op megadata.OpType, items []megadata.Item) []megadata.Operation {
	ops := make([]megadata.Operation, len(items))
	for i, item := range items {
		ops[i] = megadata.Operation{Type: op, Item: item}
	}
	return ops
}

// Submit validates the whole batch before writing anything: creating an
// existing item or updating a missing one rejects every operation.
func (j *Journal) Submit(ctx context.Context, collectionID string, ops []megadata.Operation) error {
	if len(ops) == 0 {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	exists, err := j.CollectionExists(ctx, collectionID)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", collectionID, err)
	}
	if !exists {
		return fmt.Errorf("%s: %w", collectionID, ErrCollectionNotFound)
	}

	present := make(map[string]bool, len(ops))
	for _, op := range ops {
		id := op.Item.ID
		if id == "" {
			return fmt.Errorf("operation without item id")
		}
		have, seen := present[id]
		if !seen {
			have, err = j.ItemExists(ctx, collectionID, id)
			if err != nil {
				return fmt.Errorf("checking item %s: %w", id, err)
			}
		}
		switch op.Type {
		case megadata.OpCreate:
			if have {
				return fmt.Errorf("create %s/%s: %w", collectionID, id, ErrItemExists)
			}
		case megadata.OpUpdate:
			if !have {
				return fmt.Errorf("update %s/%s: %w", collectionID, id, ErrItemNotFound)
			}
		default:
			return fmt.Errorf("unknown operation type %q", op.Type)
		}
		present[id] = true
	}

	tx, err := j.commit(ctx, Transaction{Collection: collectionID, Kind: "items", Ops: ops})
	if err != nil {
		return err
	}

	for _, op := range ops {
		head := itemHead{ID: op.Item.ID, Data: op.Item.Data, TxID: tx.ID, UpdatedAt: tx.Timestamp}
		if err := j.putJSON(ctx, itemKey(collectionID, op.Item.ID), head); err != nil {
			return fmt.Errorf("writing item %s (tx %s recorded): %w", op.Item.ID, tx.ID, err)
		}
	}
	return nil
}

// commit signs tx and records its envelope.
func (j *Journal) commit(ctx context.Context, tx Transaction) (*Transaction, error) {
	tx.ID = j.ids.New()
	tx.Timestamp = j.clock.Now().UnixMilli()
	tx.Signer = j.signer.Address()

	payload, err := tx.SigningPayload()
	if err != nil {
		return nil, fmt.Errorf("encoding transaction: %w", err)
	}
	sig, err := j.signer.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("signing transaction: %w", err)
	}
	tx.Signature = hex.EncodeToString(sig)

	if err := j.putJSON(ctx, txKey(tx.Collection, tx.ID), tx); err != nil {
		return nil, fmt.Errorf("recording transaction: %w", err)
	}
	return &tx, nil
}

func (j *Journal) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return j.blobs.Put(ctx, key, data)
}
