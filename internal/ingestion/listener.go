package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"dtl-ledger-indexer/internal/chain"
	"dtl-ledger-indexer/internal/ledger"
	"dtl-ledger-indexer/internal/observability"
	"dtl-ledger-indexer/internal/storage"
	"dtl-ledger-indexer/internal/transfer"
)

// Default listener settings.
const (
	DefaultInterval      = 5 * time.Second
	DefaultErrorDelay    = 10 * time.Second
	DefaultMaxRange      = 10
	DefaultStartLookback = 100
)

// Listener mirrors token Transfer events from the chain into the ledger.
// Mints (from the zero address) credit new supply; other events run
// through the transfer engine with the transaction hash as external ref.
type Listener struct {
	client   chain.RPCClient
	heads    chain.HeadSubscriber
	progress storage.ChainProgressStore
	store    *ledger.Store
	engine   *transfer.Engine
	content  storage.ContentStore
	token    string

	interval      time.Duration
	errorDelay    time.Duration
	maxRange      uint64
	startLookback uint64
	clock         func() time.Time
	logger        *log.Logger
	metrics       *observability.Metrics

	last   uint64
	loaded bool
}

// ListenerOptions configures a Listener.
type ListenerOptions struct {
	Client        chain.RPCClient
	Heads         chain.HeadSubscriber // optional: wake on new blocks
	Progress      storage.ChainProgressStore
	Store         *ledger.Store
	Engine        *transfer.Engine
	Content       storage.ContentStore // optional: per-event metadata
	Token         string
	Interval      time.Duration // Default: 5s
	ErrorDelay    time.Duration // Default: 10s
	MaxRange      uint64        // Default: 10 blocks per range
	StartLookback uint64        // Default: 100 blocks on first run
	Clock         func() time.Time
	Logger        *log.Logger
	Metrics       *observability.Metrics
}

// NewListener creates a chain listener.
func NewListener(opts ListenerOptions) *Listener {
	interval := opts.Interval
	if interval == 0 {
		interval = DefaultInterval
	}
	errorDelay := opts.ErrorDelay
	if errorDelay == 0 {
		errorDelay = DefaultErrorDelay
	}
	maxRange := opts.MaxRange
	if maxRange == 0 {
		maxRange = DefaultMaxRange
	}
	lookback := opts.StartLookback
	if lookback == 0 {
		lookback = DefaultStartLookback
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Listener{
		client:        opts.Client,
		heads:         opts.Heads,
		progress:      opts.Progress,
		store:         opts.Store,
		engine:        opts.Engine,
		content:       opts.Content,
		token:         opts.Token,
		interval:      interval,
		errorDelay:    errorDelay,
		maxRange:      maxRange,
		startLookback: lookback,
		clock:         clock,
		logger:        logger,
		metrics:       opts.Metrics,
	}
}

// LastProcessed returns the last fully processed block.
func (l *Listener) LastProcessed() uint64 {
	return l.last
}

// Run processes block ranges until ctx is cancelled. It returns nil on
// cancellation.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Printf("Starting chain listener for token %s...", l.token)

	var headsCh <-chan chain.Head
	if l.heads != nil {
		ch, err := l.heads.SubscribeNewHeads(ctx)
		if err != nil {
			l.logger.Printf("newHeads subscription failed, polling only: %v", err)
		} else {
			headsCh = ch
			l.logger.Println("Subscribed to newHeads")
		}
	}

	for {
		delay := l.interval
		more, err := l.ProcessNext(ctx)
		switch {
		case err != nil:
			l.logger.Printf("chain listener: %v", err)
			delay = l.errorDelay
		case more:
			// Still behind the head: continue with the next range.
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			l.logger.Println("Chain listener stopping...")
			return nil
		case h, ok := <-headsCh:
			timer.Stop()
			if !ok {
				headsCh = nil
			} else {
				l.metrics.RecordBlocks(0, h.Number)
			}
		case <-timer.C:
		}
	}
}

// ProcessNext processes the next range of at most MaxRange blocks. It
// reports whether blocks remain behind the chain head.
func (l *Listener) ProcessNext(ctx context.Context) (bool, error) {
	head, err := l.client.BlockNumber(ctx)
	if err != nil {
		return false, fmt.Errorf("block number: %w", err)
	}
	if err := l.loadCursor(ctx, head); err != nil {
		return false, err
	}
	if head <= l.last {
		return false, nil
	}

	start := l.last + 1
	end := start + l.maxRange - 1
	if end > head {
		end = head
	}

	events, err := l.client.GetTransferLogs(ctx, l.token, start, end)
	if err != nil {
		return false, fmt.Errorf("get logs %d-%d: %w", start, end, err)
	}
	l.logger.Printf("Processing blocks %d-%d: %d transfer events", start, end, len(events))

	var lastTx string
	for _, ev := range events {
		if err := l.apply(ctx, ev); err != nil {
			// The range is retried; applied events are skipped by ref.
			return false, err
		}
		lastTx = ev.TxHash
	}

	if err := l.progress.SetLastProcessed(ctx, &storage.ChainProgress{Block: end, TxHash: lastTx}); err != nil {
		return false, fmt.Errorf("save progress: %w", err)
	}
	l.last = end
	l.metrics.RecordBlocks(int(end-start+1), head)
	return end < head, nil
}

// loadCursor reads the persisted cursor once. The first run starts
// StartLookback blocks behind head.
func (l *Listener) loadCursor(ctx context.Context, head uint64) error {
	if l.loaded {
		return nil
	}
	p, err := l.progress.GetLastProcessed(ctx)
	switch {
	case err == nil:
		l.last = p.Block
	case errors.Is(err, storage.ErrNotFound):
		if head > l.startLookback {
			l.last = head - l.startLookback
		}
		l.logger.Printf("No saved chain progress, starting after block %d", l.last)
	default:
		return fmt.Errorf("load progress: %w", err)
	}
	l.loaded = true
	return nil
}

// apply records one event. Events rejected by ledger rules are logged
// and skipped; only storage failures abort the range.
func (l *Listener) apply(ctx context.Context, ev chain.TransferLog) error {
	seen, err := l.store.HasExternalRef(ctx, ev.TxHash)
	if err != nil {
		return err
	}
	if seen {
		l.metrics.RecordChainEvent("duplicate")
		return nil
	}

	if ev.IsMint() {
		_, err = l.store.MintWithRef(ctx, ev.To, ev.Value, "chain mint", ev.TxHash)
	} else {
		_, err = l.engine.Transfer(ctx, transfer.Request{
			Sender:        ev.From,
			Receiver:      ev.To,
			Amount:        ev.Value,
			ExternalTxRef: ev.TxHash,
			MetadataRef:   l.putMetadata(ctx, ev),
		})
	}

	switch {
	case err == nil:
		if ev.IsMint() {
			l.metrics.RecordChainEvent("mint")
		} else {
			l.metrics.RecordChainEvent("transfer")
		}
		return nil
	case errors.Is(err, ledger.ErrAlreadyExists):
		l.metrics.RecordChainEvent("duplicate")
		return nil
	case errors.Is(err, ledger.ErrValidation),
		errors.Is(err, ledger.ErrNotFound),
		errors.Is(err, ledger.ErrInsufficientBalance):
		l.metrics.RecordChainEvent("rejected")
		l.logger.Printf("chain event %s rejected: %v", ev.TxHash, err)
		return nil
	default:
		l.metrics.RecordChainEvent("error")
		return fmt.Errorf("apply %s: %w", ev.TxHash, err)
	}
}

// eventMetadata is the per-event document written to the content store.
type eventMetadata struct {
	Type      string    `json:"type"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Amount    string    `json:"amount"`
	TxHash    string    `json:"tx_hash"`
	Block     uint64    `json:"block"`
	Timestamp time.Time `json:"timestamp"`
}

// putMetadata stores event metadata. Failure yields no reference.
func (l *Listener) putMetadata(ctx context.Context, ev chain.TransferLog) string {
	if l.content == nil {
		return ""
	}
	data, err := json.Marshal(eventMetadata{
		Type:      "transfer",
		From:      ev.From,
		To:        ev.To,
		Amount:    ev.Value.String(),
		TxHash:    ev.TxHash,
		Block:     ev.Block,
		Timestamp: l.clock().UTC(),
	})
	if err != nil {
		return ""
	}
	ref, err := l.content.Put(ctx, data)
	if err != nil {
		l.metrics.RecordContentStoreError("event_metadata")
		l.logger.Printf("event %s: metadata not stored: %v", ev.TxHash, err)
		return ""
	}
	return ref
}
