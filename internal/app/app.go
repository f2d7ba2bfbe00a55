// Package app assembles the ledger components from a Config. It is shared by
// the server and the command-line tools.
package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"dtl-ledger-indexer/internal/config"
	"dtl-ledger-indexer/internal/ipfs"
	"dtl-ledger-indexer/internal/ledger"
	"dtl-ledger-indexer/internal/observability"
	"dtl-ledger-indexer/internal/replication"
	"dtl-ledger-indexer/internal/storage"
	"dtl-ledger-indexer/internal/storage/file"
	"dtl-ledger-indexer/internal/storage/memory"
	"dtl-ledger-indexer/internal/storage/migrations"
	pgstore "dtl-ledger-indexer/internal/storage/postgres"
	"dtl-ledger-indexer/internal/template"
	"dtl-ledger-indexer/internal/transfer"
)

// App holds the assembled components.
type App struct {
	Config    *config.Config
	Ledger    *ledger.Store
	Engine    *transfer.Engine
	Templates *template.Service
	Content   storage.ContentStore
	Progress  storage.ChainProgressStore
	Metrics   *observability.Metrics

	// Postgres is set when replicas live in Postgres.
	Postgres *pgstore.Pool

	cleanup []func()
}

// Build creates the stores, the replication fan-out and the services.
func Build(ctx context.Context, cfg *config.Config, logger *log.Logger, metrics *observability.Metrics) (*App, error) {
	if logger == nil {
		logger = log.Default()
	}
	a := &App{Config: cfg, Metrics: metrics}

	primary, replicas, err := a.documentStores(ctx, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Content = a.contentStore(logger)
	a.Progress = a.progressStore()

	fanout := replication.New(replication.Options{
		Primary:  primary,
		Replicas: replicas,
		Logger:   logger,
		Metrics:  metrics,
	})
	a.Ledger = ledger.New(ledger.Options{
		Fanout:   fanout,
		Currency: cfg.Currency,
		Logger:   logger,
		Metrics:  metrics,
	})
	a.Engine = transfer.NewEngine(transfer.EngineOptions{
		Store:   a.Ledger,
		Logger:  logger,
		Metrics: metrics,
	})
	a.Templates = template.NewService(template.Options{
		Store:   a.Ledger,
		Content: a.Content,
		Logger:  logger,
		Metrics: metrics,
	})
	return a, nil
}

// documentStores returns the primary and replica stores. The primary is
// always a local file unless everything is kept in memory; replicas go to
// Postgres when a DSN is configured.
func (a *App) documentStores(ctx context.Context, logger *log.Logger) (storage.DocumentStore, []storage.DocumentStore, error) {
	cfg := a.Config
	var replicas []storage.DocumentStore

	if cfg.UseMemory {
		for _, v := range cfg.Validators {
			replicas = append(replicas, memory.NewDocumentStore(v.Name))
		}
		return memory.NewDocumentStore("primary"), replicas, nil
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create data dir: %w", err)
	}
	primary := file.NewDocumentStore("primary", cfg.LedgerFile)

	if cfg.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		a.Postgres = pool
		a.cleanup = append(a.cleanup, pool.Close)
		if err := migrations.RunPostgresMigrations(ctx, pool, logger); err != nil {
			return nil, nil, err
		}
		for _, v := range cfg.Validators {
			replicas = append(replicas, pgstore.NewDocumentStore(pool, v.Name))
		}
		return primary, replicas, nil
	}

	for _, v := range cfg.Validators {
		replicas = append(replicas, file.NewDocumentStore(v.Name, v.Path))
	}
	return primary, replicas, nil
}

func (a *App) contentStore(logger *log.Logger) storage.ContentStore {
	switch {
	case a.Config.UseMemory:
		return memory.NewContentStore()
	case a.Config.IPFSURL != "":
		return ipfs.NewClient(a.Config.IPFSURL, ipfs.WithLogger(logger))
	default:
		return file.NewContentStore(filepath.Join(a.Config.DataDir, "content"))
	}
}

func (a *App) progressStore() storage.ChainProgressStore {
	switch {
	case a.Config.UseMemory:
		return memory.NewChainProgressStore()
	case a.Postgres != nil:
		return pgstore.NewChainProgressStore(a.Postgres, a.Config.TokenAddress)
	default:
		return file.NewChainProgressStore(filepath.Join(a.Config.DataDir, file.DefaultProgressFile))
	}
}

// Close releases database connections.
func (a *App) Close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}
