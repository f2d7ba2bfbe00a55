// Package main runs the ledger service:
// - REST API over the ledger, transfer engine and templates
// - Reconciliation loop projecting new UTXOs to logs, AMQP and ClickHouse
// - Optional chain listener indexing ERC-20 transfers into the ledger
// - Pending template upload retries
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"dtl-ledger-indexer/internal/api"
	"dtl-ledger-indexer/internal/app"
	"dtl-ledger-indexer/internal/chain"
	"dtl-ledger-indexer/internal/config"
	"dtl-ledger-indexer/internal/ingestion"
	"dtl-ledger-indexer/internal/observability"
	"dtl-ledger-indexer/internal/reconcile"
	"dtl-ledger-indexer/internal/sink"
	"dtl-ledger-indexer/internal/storage"
	chstore "dtl-ledger-indexer/internal/storage/clickhouse"
	"dtl-ledger-indexer/internal/storage/migrations"
)

// Server holds all components of the service.
type Server struct {
	cfg    *config.Config
	app    *app.App
	logger *log.Logger

	sinks []storage.ProjectionSink
	loop  *reconcile.Loop

	// State
	mu              sync.Mutex
	started         time.Time
	lastPendingRun  time.Time
	pendingRetried  int
	listenerRunning bool
}

func main() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	config.RegisterFlags(fs)
	cfg, err := config.Load(fs, os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	ctx, cancel := context.WithCancel(context.Background())

	a, err := app.Build(ctx, cfg, log.New(os.Stdout, "[ledger] ", log.LstdFlags|log.Lshortfile), observability.DefaultMetrics)
	if err != nil {
		logger.Fatalf("Failed to build ledger: %v", err)
	}
	defer a.Close()

	server := &Server{cfg: cfg, app: a, logger: logger, started: time.Now()}

	sinks, cleanup, err := server.createSinks(ctx)
	if err != nil {
		logger.Fatalf("Failed to create sinks: %v", err)
	}
	defer cleanup()
	server.sinks = sinks

	// Channel to signal completion
	done := make(chan error, 1)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	// Start metrics server
	go server.startMetricsServer(cfg.MetricsAddr)

	err = server.Run(ctx)
	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Server error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// createSinks opens every configured projection sink. Text logs are always
// written; AMQP and ClickHouse are optional.
func (s *Server) createSinks(ctx context.Context) ([]storage.ProjectionSink, func(), error) {
	var sinks []storage.ProjectionSink
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) ([]storage.ProjectionSink, func(), error) {
		cleanup()
		return nil, nil, err
	}
	add := func(sk storage.ProjectionSink) {
		sinks = append(sinks, sk)
		closers = append(closers, func() {
			if err := sk.Close(); err != nil {
				s.logger.Printf("close sink: %v", err)
			}
		})
	}

	if err := os.MkdirAll(s.cfg.LogsDir, 0o755); err != nil {
		return fail(fmt.Errorf("create logs dir: %w", err))
	}
	transferLog, err := sink.OpenTransferLog(filepath.Join(s.cfg.LogsDir, sink.TransferLogFile), nil)
	if err != nil {
		return fail(err)
	}
	add(transferLog)

	utxoLog, err := sink.OpenUTXOLog(filepath.Join(s.cfg.LogsDir, sink.UTXOLogFile), nil)
	if err != nil {
		return fail(err)
	}
	add(utxoLog)

	validatorLogs, err := sink.OpenValidatorLogs(s.cfg.LogsDir, s.cfg.ValidatorNames(), nil)
	if err != nil {
		return fail(err)
	}
	add(validatorLogs)

	if s.cfg.AMQPURL != "" {
		publisher, err := sink.DialAMQP(s.cfg.AMQPURL, sink.DefaultExchange)
		if err != nil {
			return fail(fmt.Errorf("connect amqp: %w", err))
		}
		add(publisher)
		s.logger.Printf("Publishing projections to AMQP exchange %s", sink.DefaultExchange)
	}

	if s.cfg.ClickhouseDSN != "" {
		if err := chstore.EnsureDatabase(ctx, s.cfg.ClickhouseDSN); err != nil {
			return fail(fmt.Errorf("clickhouse: %w", err))
		}
		conn, err := chstore.NewConn(ctx, s.cfg.ClickhouseDSN)
		if err != nil {
			return fail(fmt.Errorf("clickhouse: %w", err))
		}
		closers = append(closers, func() { _ = conn.Close() })
		if err := migrations.RunClickhouseMigrations(ctx, conn); err != nil {
			return fail(fmt.Errorf("clickhouse: %w", err))
		}
		add(chstore.NewProjectionStore(conn))
		s.logger.Println("Writing projections to ClickHouse")
	}

	return sinks, cleanup, nil
}

// Run starts all components and blocks until ctx is cancelled or one of
// them fails.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Printf("Starting ledger service with validators %v", s.cfg.ValidatorNames())

	loop, err := reconcile.New(reconcile.Options{
		Store:      s.app.Ledger,
		Sinks:      s.sinks,
		Labels:     s.app.Templates,
		Interval:   s.cfg.ReconcileInterval,
		RetryDelay: s.cfg.ReconcileRetry,
		Logger:     log.New(os.Stdout, "[reconcile] ", log.LstdFlags|log.Lshortfile),
		Metrics:    s.app.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create reconcile loop: %w", err)
	}
	defer loop.Close()
	s.mu.Lock()
	s.loop = loop
	s.mu.Unlock()
	if err := loop.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 3)

	if s.cfg.ListenerEnabled() {
		go func() {
			err := s.runListener(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("listener: %w", err)
			}
		}()
	} else {
		s.logger.Println("Chain listener disabled (no --rpc-endpoint or --token-address)")
	}

	go s.runPendingRetry(ctx)

	go func() {
		if err := s.serveAPI(ctx); err != nil {
			errCh <- fmt.Errorf("api: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// runListener indexes chain transfers into the ledger.
func (s *Server) runListener(ctx context.Context) error {
	logger := log.New(os.Stdout, "[listener] ", log.LstdFlags|log.Lshortfile)
	rpc := chain.NewHTTPClient(s.cfg.RPCEndpoint, chain.WithMetrics(s.app.Metrics))

	opts := ingestion.ListenerOptions{
		Client:   rpc,
		Progress: s.app.Progress,
		Store:    s.app.Ledger,
		Engine:   s.app.Engine,
		Content:  s.app.Content,
		Token:    s.cfg.TokenAddress,
		Interval: s.cfg.ListenerInterval,
		MaxRange: s.cfg.ListenerMaxRange,
		Logger:   logger,
		Metrics:  s.app.Metrics,
	}

	if s.cfg.WSEndpoint != "" {
		ws, err := chain.NewWSClient(ctx, s.cfg.WSEndpoint, nil, logger)
		if err != nil {
			// Polling still works without heads.
			logger.Printf("WebSocket unavailable, polling only: %v", err)
		} else {
			defer ws.Close()
			opts.Heads = ws
		}
	}

	s.mu.Lock()
	s.listenerRunning = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.listenerRunning = false
		s.mu.Unlock()
	}()

	s.logger.Printf("Chain listener started for token %s", s.cfg.TokenAddress)
	return ingestion.NewListener(opts).Run(ctx)
}

// runPendingRetry re-uploads templates stored while the content store was down.
func (s *Server) runPendingRetry(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PendingRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.app.Templates.RetryPending(ctx)
			if err != nil {
				s.logger.Printf("Pending template retry error: %v", err)
			} else if n > 0 {
				s.logger.Printf("Uploaded %d pending templates", n)
			}
			s.mu.Lock()
			s.lastPendingRun = time.Now()
			s.pendingRetried += n
			s.mu.Unlock()
		}
	}
}

// serveAPI runs the REST API until ctx is cancelled.
func (s *Server) serveAPI(ctx context.Context) error {
	handler := api.NewServer(api.Options{
		Ledger:    s.app.Ledger,
		Engine:    s.app.Engine,
		Templates: s.app.Templates,
		Logger:    log.New(os.Stdout, "[api] ", log.LstdFlags),
		Metrics:   s.app.Metrics,
	}).Router()
	srv := api.NewHTTPServer(s.cfg.HTTPAddr, handler)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("Listening to API requests on %s", s.cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		return api.Shutdown(srv, 10*time.Second)
	}
}

// startMetricsServer starts the HTTP server for health/metrics/status.
func (s *Server) startMetricsServer(addr string) {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics
	mux.Handle("/metrics", observability.Handler())

	// Status endpoint
	mux.HandleFunc("/status", s.handleStatus)

	s.logger.Printf("Starting metrics server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		s.logger.Printf("Metrics server error: %v", err)
	}
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status          string    `json:"status"`
	Uptime          string    `json:"uptime"`
	Validators      []string  `json:"validators"`
	ReconcileState  string    `json:"reconcile_state"`
	ReconcileCursor int       `json:"reconcile_cursor"`
	ListenerRunning bool      `json:"listener_running"`
	LastPendingRun  time.Time `json:"last_pending_run,omitempty"`
	PendingRetried  int       `json:"pending_retried"`
}

// handleStatus returns server status as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	resp := StatusResponse{
		Status:          "running",
		Uptime:          time.Since(s.started).String(),
		Validators:      s.cfg.ValidatorNames(),
		ListenerRunning: s.listenerRunning,
		LastPendingRun:  s.lastPendingRun,
		PendingRetried:  s.pendingRetried,
	}
	loop := s.loop
	s.mu.Unlock()

	if loop != nil {
		resp.ReconcileState = loop.State().String()
		resp.ReconcileCursor = loop.Cursor()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
