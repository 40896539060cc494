package ledgersync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"

	"megadata-go/internal/config"
	"megadata-go/internal/megadata"
	"megadata-go/internal/metrics"
	"megadata-go/internal/publish"
)

const (
	defaultBatchSize  = 100
	defaultMaxBatches = 10
)

// Report summarizes one sync run.
type Report struct {
	Batches int
	Synced  int
	Invalid int
	Failed  []string // collection ids whose batch failed
	Err     error
}

// Worker mirrors locally created or edited tokens to the ledger.
type Worker struct {
	store      megadata.TokenStore
	pipeline   *publish.Pipeline
	batchSize  int
	maxBatches int
	log        megadata.Logger
	metrics    *metrics.Metrics

	mu     sync.Mutex
	cursor megadata.SyncCursor // where the next run resumes
}

func NewWorker(store megadata.TokenStore, pipeline *publish.Pipeline, cfg config.SyncConfig, log megadata.Logger, m *metrics.Metrics) *Worker {
	if log == nil {
		log = megadata.NewNopLogger()
	}
	w := &Worker{
		store:      store,
		pipeline:   pipeline,
		batchSize:  cfg.BatchSize,
		maxBatches: cfg.MaxBatches,
		log:        log,
		metrics:    m,
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultBatchSize
	}
	if w.maxBatches <= 0 {
		w.maxBatches = defaultMaxBatches
	}
	return w
}

// RunOnce publishes up to MaxBatches batches of pending tokens, grouped by
// collection. The scan resumes where the previous run stopped and wraps at
// the end, so tokens that stay pending cannot hold the window. A collection
// that fails is logged and skipped for the rest of the run; its tokens stay
// pending. RunOnce calls are serialized.
func (w *Worker) RunOnce(ctx context.Context) (*Report, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	report := &Report{}
	var merr *multierror.Error
	failed := map[string]bool{}
	seen := map[string]bool{}
	wrapped := w.cursor.IsZero()

	for report.Batches < w.maxBatches {
		batch, err := w.store.ListPendingSync(ctx, w.cursor, lo.Keys(failed), w.batchSize)
		if err != nil {
			merr = multierror.Append(merr, fmt.Errorf("listing pending tokens: %w", err))
			break
		}
		exhausted := len(batch) < w.batchSize

		// Tokens already handled in this run mean the scan came full circle.
		_, i, lapped := lo.FindIndexOf(batch, func(t megadata.Token) bool { return seen[tokenKey(t)] })
		if lapped {
			batch = batch[:i]
		}

		if len(batch) > 0 {
			report.Batches++
			w.cursor = megadata.CursorAt(batch[len(batch)-1])
			for _, t := range batch {
				seen[tokenKey(t)] = true
			}
			merr = w.syncBatch(ctx, batch, failed, report, merr)
		}

		if lapped {
			break
		}
		if exhausted {
			w.cursor = megadata.SyncCursor{}
			if wrapped {
				break
			}
			wrapped = true
		}
	}

	report.Err = merr.ErrorOrNil()
	if report.Batches > 0 {
		w.log.Info("ledger sync run finished",
			"batches", report.Batches,
			"synced", report.Synced,
			"invalid", report.Invalid,
			"failed_collections", len(report.Failed))
	}
	return report, report.Err
}

func (w *Worker) syncBatch(ctx context.Context, batch []megadata.Token, failed map[string]bool, report *Report, merr *multierror.Error) *multierror.Error {
	groups := lo.GroupBy(batch, func(t megadata.Token) string { return t.CollectionID })
	order := lo.Uniq(lo.Map(batch, func(t megadata.Token, _ int) string { return t.CollectionID }))

	for _, collID := range order {
		if failed[collID] {
			continue
		}
		if err := w.syncCollection(ctx, collID, groups[collID], report); err != nil {
			failed[collID] = true
			report.Failed = append(report.Failed, collID)
			merr = multierror.Append(merr, fmt.Errorf("collection %s: %w", collID, err))
		}
	}
	return merr
}

func tokenKey(t megadata.Token) string {
	return t.CollectionID + "/" + t.TokenID
}

// syncCollection publishes one collection's share of a batch.
func (w *Worker) syncCollection(ctx context.Context, collID string, tokens []megadata.Token, report *Report) error {
	coll, err := w.store.GetCollection(ctx, collID)
	if err != nil {
		return fmt.Errorf("loading collection: %w", err)
	}

	data := lo.Map(tokens, func(t megadata.Token, _ int) publish.TokenData { return publish.FromToken(t) })
	outcome, err := w.pipeline.PublishAndRecord(ctx, coll, data, w.store.MarkSyncDone)
	report.Invalid += len(outcome.Invalid)
	if err != nil {
		var inconsistency *megadata.LedgerInconsistencyError
		if errors.As(err, &inconsistency) {
			w.log.Error("tokens published but not marked synced", "collection", collID, "tokens", len(inconsistency.TokenIDs), "error", err)
		} else {
			w.log.Error("syncing collection failed", "collection", collID, "tokens", len(tokens), "error", err)
		}
		return err
	}

	report.Synced += len(outcome.Published)
	w.metrics.Synced(len(outcome.Published))
	return nil
}
