package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"megadata-go/internal/api"
	"megadata-go/internal/chain"
	"megadata-go/internal/config"
	"megadata-go/internal/database"
	"megadata-go/internal/database/migrations"
	"megadata-go/internal/keystore"
	"megadata-go/internal/ledger"
	"megadata-go/internal/ledgersync"
	"megadata-go/internal/linking"
	"megadata-go/internal/megadata"
	"megadata-go/internal/metadata"
	"megadata-go/internal/metrics"
	"megadata-go/internal/permission"
	"megadata-go/internal/publish"
	"megadata-go/internal/reconcile"
	"megadata-go/internal/scheduler"
)

// Job names registered with the scheduler.
const (
	JobReconcile = "reconcile"
	JobSync      = "sync"
)

const shutdownTimeout = 10 * time.Second

var ErrNoSigner = errors.New("ledger signing key not unlocked")

// App is the application layer between the CLI and the workers.
// It constructs all dependencies from config and releases them on Close.
// Without a signer the ledger, publish pipeline and jobs are unavailable;
// permission checks and metadata refreshes still work.
type App struct {
	cfg        *config.Config
	store      *database.SQLiteStore
	gateway    *chain.Gateway
	ledger     *ledger.Journal
	fetcher    *metadata.Fetcher
	validator  *permission.Validator
	reconciler *reconcile.Reconciler
	syncer     *ledgersync.Worker
	scheduler  *scheduler.Scheduler
	metrics    *metrics.Metrics
	log        megadata.Logger
	op         *Operation
	logFile    *os.File
}

// NewApp creates a fully wired App from the given config.
// command identifies the CLI command being run (e.g. "serve", "reconcile").
// The caller must call Close when done.
func NewApp(ctx context.Context, cfg *config.Config, command string, signer keystore.Signer) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	op := NewOperation(command, time.Now())
	logger, logFile, err := newLogger(cfg.LogDir, op.ShortID(), level)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	log := &slogAdapter{l: logger}

	a := &App{cfg: cfg, metrics: metrics.New(), log: log, op: op, logFile: logFile}
	if err := a.wire(ctx, signer); err != nil {
		a.Close()
		return nil, err
	}
	log.Info("operation started", "command", command)
	return a, nil
}

func (a *App) wire(ctx context.Context, signer keystore.Signer) error {
	clock := megadata.RealClock{}
	ids := megadata.UUIDGenerator{}

	store, err := database.NewStoreFromConfig(a.cfg.Database, clock, ids)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	a.store = store

	if a.cfg.Database.Type == "memory" {
		if err := store.Migrate(); err != nil {
			return fmt.Errorf("migrating in-memory database: %w", err)
		}
	} else if err := store.CheckMigrationStatus(); err != nil {
		if errors.Is(err, migrations.ErrNeedsMigration) {
			return fmt.Errorf("database schema out of date, run 'megadata db migrate': %w", err)
		}
		return fmt.Errorf("checking database schema: %w", err)
	}

	a.gateway, err = chain.NewGateway(ctx, a.cfg.Networks)
	if err != nil {
		return fmt.Errorf("creating chain gateway: %w", err)
	}

	links, err := linking.NewLinkingFromConfig(a.cfg.Linking)
	if err != nil {
		return fmt.Errorf("creating linking service: %w", err)
	}
	a.fetcher = metadata.NewFetcher(a.gateway, a.cfg.Metadata, nil, a.log)
	a.validator = permission.NewValidator(a.gateway, links, a.cfg.Permissions, a.log)
	a.scheduler = scheduler.New(a.log, a.metrics)

	if signer == nil {
		return nil
	}

	a.ledger, err = ledger.NewLedgerFromConfig(ctx, a.cfg.Ledger, signer, clock, ids)
	if err != nil {
		return fmt.Errorf("creating ledger: %w", err)
	}
	pipeline := publish.NewPipeline(store, a.ledger, publish.NewPacer(a.cfg.Ledger.ProbeDelay.Duration), a.log, a.metrics)
	a.reconciler = reconcile.NewReconciler(store, a.gateway, a.fetcher, pipeline, clock, a.cfg.Reconcile, a.cfg.Permissions, a.log, a.metrics)
	a.syncer = ledgersync.NewWorker(store, pipeline, a.cfg.Sync, a.log, a.metrics)

	jobs := []scheduler.Job{
		{
			Name:      JobReconcile,
			Interval:  a.cfg.Reconcile.Interval.Or(10 * time.Minute),
			Immediate: true,
			Run: func(ctx context.Context) error {
				_, err := a.reconciler.RunOnce(ctx)
				return err
			},
		},
		{
			Name:     JobSync,
			Interval: a.cfg.Sync.Interval.Or(time.Minute),
			Run: func(ctx context.Context) error {
				_, err := a.syncer.RunOnce(ctx)
				return err
			},
		},
	}
	for _, j := range jobs {
		if err := a.scheduler.Register(j); err != nil {
			return err
		}
	}
	return nil
}

// Reconcile runs one reconciliation pass.
func (a *App) Reconcile(ctx context.Context) (*reconcile.RunReport, error) {
	if a.reconciler == nil {
		return nil, ErrNoSigner
	}
	report, err := a.reconciler.RunOnce(ctx)
	a.op.Fail(err)
	return report, err
}

// Sync runs one ledger sync pass.
func (a *App) Sync(ctx context.Context) (*ledgersync.Report, error) {
	if a.syncer == nil {
		return nil, ErrNoSigner
	}
	report, err := a.syncer.RunOnce(ctx)
	a.op.Fail(err)
	return report, err
}

// Validate checks whether wallet, or any account linked to it, may write
// metadata for tokenID under modules.
func (a *App) Validate(ctx context.Context, wallet string, modules []string, tokenID string, md map[string]any) (megadata.ValidationResult, error) {
	callers, err := a.validator.Identities(ctx, wallet)
	if err != nil {
		return megadata.ValidationResult{}, err
	}
	return a.validator.Validate(ctx, modules, tokenID, md, callers)
}

// RefreshMetadata fetches a token's metadata from chain and merges it over original.
func (a *App) RefreshMetadata(ctx context.Context, source, contract, tokenID string, original map[string]any) (map[string]any, error) {
	fetched, err := a.fetcher.FetchMetadata(ctx, source, contract, tokenID)
	if err != nil {
		return nil, err
	}
	return metadata.MergeMetadata(original, fetched), nil
}

// Serve runs the scheduler and the HTTP API until ctx is cancelled. In-flight
// job runs complete before Serve returns.
func (a *App) Serve(ctx context.Context) error {
	if a.reconciler == nil {
		return ErrNoSigner
	}

	srv := &http.Server{
		Addr:              a.cfg.HTTP.Listen,
		Handler:           api.NewRouter(a.validator, a.fetcher, a.scheduler, a.metrics, a.log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.scheduler.Start(gctx)
	})
	g.Go(func() error {
		a.log.Info("http listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	a.op.Fail(err)
	return err
}

// Close logs the operation outcome and releases all resources.
func (a *App) Close() error {
	var firstErr error

	if a.gateway != nil {
		a.gateway.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			firstErr = fmt.Errorf("closing database: %w", err)
		}
	}

	a.log.Info("operation finished",
		"command", a.op.Command,
		"status", a.op.Status,
		"duration", time.Since(a.op.StartedAt).Round(time.Millisecond))
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// MigrateDatabase brings the configured database schema up to date.
func MigrateDatabase(cfg *config.Config) error {
	store, err := database.NewStoreFromConfig(cfg.Database, megadata.RealClock{}, megadata.UUIDGenerator{})
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	defer store.Close()
	return store.Migrate()
}
