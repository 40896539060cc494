package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"

	"megadata-go/internal/config"
	"megadata-go/internal/megadata"
	"megadata-go/internal/metrics"
	"megadata-go/internal/permission"
	"megadata-go/internal/publish"
)

const (
	defaultBatchSize  = 50
	defaultCheckAfter = time.Hour
)

// MetadataFetcher resolves the metadata document of one external token.
type MetadataFetcher interface {
	FetchMetadata(ctx context.Context, network, contract, tokenID string) (map[string]any, error)
}

// CollectionReport is the result of one pass over one external collection.
type CollectionReport struct {
	CollectionID string
	External     int
	Local        int
	Missing      []string
	Removed      []string
	Skipped      map[string]string
	Created      []string
	Published    []string
	Inconsistent []string
	Err          error
}

// RunReport aggregates one reconciliation run.
type RunReport struct {
	Collections []*CollectionReport
	Err         error
}

// Failed returns the number of collections whose pass reported an error.
func (r *RunReport) Failed() int {
	return lo.CountBy(r.Collections, func(c *CollectionReport) bool { return c.Err != nil })
}

// Reconciler diffs external contracts against the token store, creates the
// missing tokens and publishes them to the ledger.
type Reconciler struct {
	store      megadata.TokenStore
	chain      megadata.ChainReader
	fetcher    MetadataFetcher
	pipeline   *publish.Pipeline
	clock      megadata.Clock
	batchSize  int
	checkAfter time.Duration
	modules    []string // reserved modules attached after the contract module
	log        megadata.Logger
	metrics    *metrics.Metrics
}

func NewReconciler(store megadata.TokenStore, chain megadata.ChainReader, fetcher MetadataFetcher, pipeline *publish.Pipeline,
	clock megadata.Clock, cfg config.ReconcileConfig, perms config.PermissionsConfig, log megadata.Logger, m *metrics.Metrics) *Reconciler {
	if log == nil {
		log = megadata.NewNopLogger()
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	collectionModule, metadataModule := permission.ModuleIDs(perms)
	return &Reconciler{
		store:      store,
		chain:      chain,
		fetcher:    fetcher,
		pipeline:   pipeline,
		clock:      clock,
		batchSize:  batchSize,
		checkAfter: cfg.CheckAfter.Or(defaultCheckAfter),
		modules:    []string{metadataModule, collectionModule},
		log:        log,
		metrics:    m,
	}
}

// Diff splits the external and local id sets into ids missing locally and
// ids no longer present on the contract.
func Diff(external, local []string) (missing, removed []string) {
	return lo.Difference(lo.Uniq(external), lo.Uniq(local))
}

// RunOnce visits every external collection due for a check, one at a time.
// A collection's failure is recorded in its report and never stops the run.
// The returned error aggregates every collection failure.
func (r *Reconciler) RunOnce(ctx context.Context) (*RunReport, error) {
	threshold := r.clock.Now().Add(-r.checkAfter)
	colls, err := r.store.ListCollectionsNeedingCheck(ctx, threshold)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}

	report := &RunReport{}
	var merr *multierror.Error
	for i := range colls {
		coll := &colls[i]
		rep := r.ReconcileCollection(ctx, coll)

		if err := r.store.UpdateLastChecked(ctx, coll.ID, r.clock.Now()); err != nil {
			rep.Err = multierror.Append(rep.Err, fmt.Errorf("updating last checked: %w", err))
		}
		if rep.Err != nil {
			merr = multierror.Append(merr, fmt.Errorf("collection %s: %w", coll.ID, rep.Err))
		}
		r.metrics.CollectionChecked(rep.Err != nil)
		report.Collections = append(report.Collections, rep)
	}
	report.Err = merr.ErrorOrNil()

	r.log.Info("reconciliation run finished",
		"collections", len(report.Collections),
		"failed", report.Failed(),
		"created", lo.SumBy(report.Collections, func(c *CollectionReport) int { return len(c.Created) }))
	return report, report.Err
}

// ReconcileCollection runs one pass over a single external collection.
func (r *Reconciler) ReconcileCollection(ctx context.Context, coll *megadata.Collection) *CollectionReport {
	rep := &CollectionReport{CollectionID: coll.ID, Skipped: map[string]string{}}
	if !coll.IsExternal() {
		rep.Err = fmt.Errorf("collection %s is not external", coll.ID)
		return rep
	}
	ext := coll.External

	externalIDs, err := r.chain.TokenIDs(ctx, ext.Source, ext.ContractType, ext.ExternalID)
	if err != nil {
		r.log.Error("enumerating external tokens failed", "collection", coll.ID, "contract", ext.ExternalID, "error", err)
		rep.Err = fmt.Errorf("enumerating external tokens: %w", err)
		return rep
	}
	localIDs, err := r.store.ListTokenIDs(ctx, coll.ID)
	if err != nil {
		rep.Err = fmt.Errorf("listing local tokens: %w", err)
		return rep
	}

	rep.External, rep.Local = len(externalIDs), len(localIDs)
	rep.Missing, rep.Removed = Diff(externalIDs, localIDs)
	if len(rep.Removed) > 0 {
		r.log.Warn("local tokens no longer on contract", "collection", coll.ID, "count", len(rep.Removed), "ids", rep.Removed)
	}
	if len(rep.Missing) == 0 {
		r.log.Debug("collection up to date", "collection", coll.ID, "tokens", rep.Local)
		return rep
	}

	var merr *multierror.Error
	if !coll.Published {
		name, err := r.chain.ContractName(ctx, ext.Source, ext.ContractType, ext.ExternalID)
		if err != nil || name == "" {
			r.log.Warn("reading contract name failed", "collection", coll.ID, "error", err)
			name = coll.Name
		}
		if err := r.pipeline.EnsureCollection(ctx, coll, name); err != nil {
			merr = multierror.Append(merr, err)
		}
	}

	modules := append([]string{ext.ContractType.ModuleID()}, r.modules...)
	batch := make([]megadata.NewToken, 0, r.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := r.createAndPublish(ctx, coll, batch, rep); err != nil {
			merr = multierror.Append(merr, err)
		}
		batch = batch[:0]
	}

	for _, id := range rep.Missing {
		data, err := r.fetcher.FetchMetadata(ctx, ext.Source, ext.ExternalID, id)
		if err != nil {
			r.log.Warn("skipping token, metadata fetch failed", "collection", coll.ID, "token", id, "error", err)
			rep.Skipped[id] = err.Error()
			r.metrics.TokenSkipped()
			continue
		}
		batch = append(batch, megadata.NewToken{TokenID: id, Data: data, Modules: modules})
		if len(batch) == r.batchSize {
			flush()
		}
	}
	flush()

	rep.Err = merr.ErrorOrNil()
	r.log.Info("collection reconciled",
		"collection", coll.ID,
		"missing", len(rep.Missing),
		"created", len(rep.Created),
		"published", len(rep.Published),
		"skipped", len(rep.Skipped))
	return rep
}

// createAndPublish stores one batch and publishes it. Tokens created but not
// published stay pending for the ledger sync worker.
func (r *Reconciler) createAndPublish(ctx context.Context, coll *megadata.Collection, batch []megadata.NewToken, rep *CollectionReport) error {
	created, err := r.store.CreateTokens(ctx, coll.ID, batch)
	if err != nil {
		r.log.Error("creating tokens failed", "collection", coll.ID, "batch", len(batch), "error", err)
		return fmt.Errorf("creating %d token(s): %w", len(batch), err)
	}
	if len(created) == 0 {
		return nil
	}

	ids := lo.Map(created, func(t megadata.Token, _ int) string { return t.TokenID })
	rep.Created = append(rep.Created, ids...)
	r.metrics.TokensCreated(len(ids))

	tokens := lo.Map(created, func(t megadata.Token, _ int) publish.TokenData { return publish.FromToken(t) })
	outcome, err := r.pipeline.PublishAndRecord(ctx, coll, tokens, r.store.MarkPublished)
	rep.Published = append(rep.Published, outcome.Published...)
	if err == nil {
		return nil
	}

	var inconsistency *megadata.LedgerInconsistencyError
	if !errors.As(err, &inconsistency) {
		inconsistency = &megadata.LedgerInconsistencyError{CollectionID: coll.ID, TokenIDs: ids, Err: err}
	}
	rep.Inconsistent = append(rep.Inconsistent, inconsistency.TokenIDs...)
	r.log.Error("tokens created but not published", "collection", coll.ID, "tokens", len(inconsistency.TokenIDs), "error", err)
	return inconsistency
}
