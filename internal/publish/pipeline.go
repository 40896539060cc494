package publish

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"megadata-go/internal/megadata"
	"megadata-go/internal/metrics"
)

// TokenData is one token as handed to the pipeline.
type TokenData struct {
	ID      string
	Data    map[string]any
	Modules []string
}

// FromToken converts a stored token.
func FromToken(t megadata.Token) TokenData {
	return TokenData{ID: t.TokenID, Data: t.Data, Modules: t.AttachedModules}
}

// Outcome reports what one publish call did.
type Outcome struct {
	CollectionID string
	Created      []string
	Updated      []string
	// Invalid maps token ids excluded from the transaction to the reason.
	Invalid map[string]string
	// Published lists tokens on the ledger and recorded as such locally.
	Published []string
	// Inconsistent lists tokens on the ledger whose local status update failed.
	Inconsistent []string
}

// Submitted returns every token id included in the ledger transaction.
func (o *Outcome) Submitted() []string {
	return append(append([]string(nil), o.Created...), o.Updated...)
}

// MarkFunc records successfully published tokens in the token store.
type MarkFunc func(ctx context.Context, collectionID string, tokenIDs []string) error

// Pipeline formats token data per attached module and submits it to the
// ledger as one transaction per batch.
type Pipeline struct {
	store   megadata.TokenStore
	ledger  megadata.Ledger
	pacer   *Pacer
	log     megadata.Logger
	metrics *metrics.Metrics
}

// NewPipeline creates a pipeline. pacer spaces the ledger existence probes.
func NewPipeline(store megadata.TokenStore, ledger megadata.Ledger, pacer *Pacer, log megadata.Logger, m *metrics.Metrics) *Pipeline {
	if pacer == nil {
		pacer = NewPacer(0)
	}
	if log == nil {
		log = megadata.NewNopLogger()
	}
	return &Pipeline{store: store, ledger: ledger, pacer: pacer, log: log, metrics: m}
}

// schemas loads and compiles every module referenced by tokens.
func (p *Pipeline) schemas(ctx context.Context, tokens []TokenData) (map[string]*ModuleSchema, error) {
	ids := lo.Uniq(lo.FlatMap(tokens, func(t TokenData, _ int) []string { return t.Modules }))
	modules, err := p.store.GetModules(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading modules: %w", err)
	}

	out := make(map[string]*ModuleSchema, len(modules))
	for _, m := range modules {
		s, err := ParseModule(m)
		if err != nil {
			return nil, err
		}
		out[m.ID] = s
	}
	return out, nil
}

// Publish submits one ledger transaction holding a create or update for each
// valid token. Existence is probed per token, paced by the pipeline's pacer.
// A failed transaction fails the whole batch. Publish does not touch the
// token store's publish flags; see PublishAndRecord.
func (p *Pipeline) Publish(ctx context.Context, collectionID string, tokens []TokenData) (*Outcome, error) {
	outcome := &Outcome{CollectionID: collectionID, Invalid: map[string]string{}}
	if len(tokens) == 0 {
		return outcome, nil
	}

	schemas, err := p.schemas(ctx, tokens)
	if err != nil {
		return outcome, err
	}

	var ops []megadata.Operation
	for _, t := range tokens {
		modules := lo.FilterMap(t.Modules, func(id string, _ int) (*ModuleSchema, bool) {
			s, ok := schemas[id]
			return s, ok
		})
		formatted := FormatForLedger(t.Data, modules)
		if err := ValidateFormatted(formatted, modules); err != nil {
			p.log.Warn("excluding invalid token from publish", "collection", collectionID, "token", t.ID, "error", err)
			outcome.Invalid[t.ID] = err.Error()
			continue
		}

		if err := p.pacer.Wait(ctx); err != nil {
			return outcome, err
		}
		exists, err := p.ledger.ItemExists(ctx, collectionID, t.ID)
		if err != nil {
			return outcome, fmt.Errorf("probing ledger item %s: %w", t.ID, err)
		}

		op := megadata.OpCreate
		if exists {
			op = megadata.OpUpdate
		}
		ops = append(ops, megadata.Operation{Type: op, Item: megadata.Item{ID: t.ID, Data: formatted}})
	}

	if len(ops) == 0 {
		return outcome, nil
	}

	if err := p.ledger.Submit(ctx, collectionID, ops); err != nil {
		p.metrics.PublishBatch(false)
		return outcome, fmt.Errorf("submitting %d operation(s) for collection %s: %w", len(ops), collectionID, err)
	}
	p.metrics.PublishBatch(true)

	for _, op := range ops {
		if op.Type == megadata.OpCreate {
			outcome.Created = append(outcome.Created, op.Item.ID)
		} else {
			outcome.Updated = append(outcome.Updated, op.Item.ID)
		}
	}
	return outcome, nil
}

// PublishAndRecord ensures the collection exists on the ledger, publishes
// tokens, and records the submitted ones with mark. When mark fails the
// tokens are reported Inconsistent together with a LedgerInconsistencyError.
func (p *Pipeline) PublishAndRecord(ctx context.Context, coll *megadata.Collection, tokens []TokenData, mark MarkFunc) (*Outcome, error) {
	if err := p.EnsureCollection(ctx, coll, coll.Name); err != nil {
		return &Outcome{CollectionID: coll.ID, Invalid: map[string]string{}}, err
	}

	outcome, err := p.Publish(ctx, coll.ID, tokens)
	if err != nil {
		return outcome, err
	}

	submitted := outcome.Submitted()
	if len(submitted) == 0 {
		return outcome, nil
	}
	if err := mark(ctx, coll.ID, submitted); err != nil {
		outcome.Inconsistent = submitted
		p.metrics.Inconsistent(len(submitted))
		return outcome, &megadata.LedgerInconsistencyError{CollectionID: coll.ID, TokenIDs: submitted, Err: err}
	}
	outcome.Published = submitted
	return outcome, nil
}

// EnsureCollection creates an unpublished collection on the ledger under its
// owner's address and marks it published in the store.
func (p *Pipeline) EnsureCollection(ctx context.Context, coll *megadata.Collection, name string) error {
	if coll.Published {
		return nil
	}

	exists, err := p.ledger.CollectionExists(ctx, coll.ID)
	if err != nil {
		return fmt.Errorf("checking ledger collection %s: %w", coll.ID, err)
	}
	if !exists {
		if name == "" {
			name = coll.ID
		}
		if err := p.ledger.CreateCollection(ctx, coll.OwnerAddress, coll.ID, name); err != nil {
			return fmt.Errorf("creating ledger collection %s: %w", coll.ID, err)
		}
		p.log.Info("created collection on ledger", "collection", coll.ID, "name", name)
	}

	if err := p.store.MarkCollectionPublished(ctx, coll.ID); err != nil {
		return fmt.Errorf("marking collection %s published: %w", coll.ID, err)
	}
	coll.Published = true
	return nil
}
