// Package reconcile projects newly appended ledger UTXOs to external sinks.
//
// The loop keeps a cursor equal to the number of UTXOs already handled.
// Each cycle loads the ledger once, slices the UTXOs appended since the
// cursor and hands the transfer UTXOs to every sink, oldest first. The
// cursor only advances after all sinks accepted the batch, so delivery is
// at-least-once.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ReneKroon/ttlcache/v2"

	"dtl-ledger-indexer/internal/domain"
	"dtl-ledger-indexer/internal/ledger"
	"dtl-ledger-indexer/internal/observability"
	"dtl-ledger-indexer/internal/storage"
)

// ErrAlreadyRunning is returned by Start when the loop is running.
var ErrAlreadyRunning = errors.New("reconcile loop already running")

// State is the loop's current activity.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateProjecting
)

func (s State) String() string {
	switch s {
	case StatePolling:
		return "polling"
	case StateProjecting:
		return "projecting"
	default:
		return "idle"
	}
}

// LabelResolver resolves a template content reference to a display label.
type LabelResolver interface {
	ResolveLabel(ctx context.Context, ref string) (string, bool)
}

// Options configures a Loop.
type Options struct {
	Store      *ledger.Store
	Sinks      []storage.ProjectionSink
	Labels     LabelResolver // optional
	Interval   time.Duration // Default: 5s
	RetryDelay time.Duration // Default: 2s, used after a failed cycle
	LabelTTL   time.Duration // Default: 10m
	Logger     *log.Logger
	Metrics    *observability.Metrics
}

// Loop is the reconciliation loop.
type Loop struct {
	store      *ledger.Store
	sinks      []storage.ProjectionSink
	resolver   LabelResolver
	labels     *ttlcache.Cache
	interval   time.Duration
	retryDelay time.Duration
	logger     *log.Logger
	metrics    *observability.Metrics

	cursor atomic.Int64
	anchor atomic.Value // id of the UTXO at cursor-1
	primed atomic.Bool
	state  atomic.Int32

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a reconciliation loop.
func New(opts Options) (*Loop, error) {
	interval := opts.Interval
	if interval == 0 {
		interval = 5 * time.Second
	}
	retryDelay := opts.RetryDelay
	if retryDelay == 0 {
		retryDelay = 2 * time.Second
	}
	labelTTL := opts.LabelTTL
	if labelTTL == 0 {
		labelTTL = 10 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	labels := ttlcache.NewCache()
	if err := labels.SetTTL(labelTTL); err != nil {
		return nil, fmt.Errorf("label cache: %w", err)
	}

	return &Loop{
		store:      opts.Store,
		sinks:      opts.Sinks,
		resolver:   opts.Labels,
		labels:     labels,
		interval:   interval,
		retryDelay: retryDelay,
		logger:     logger,
		metrics:    opts.Metrics,
	}, nil
}

// Cursor returns the number of UTXOs already handled.
func (l *Loop) Cursor() int {
	return int(l.cursor.Load())
}

// State returns what the loop is doing right now.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Start runs the loop in a background goroutine until Stop is called or
// ctx is cancelled.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.done != nil {
		select {
		case <-l.done:
		default:
			return ErrAlreadyRunning
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done

	go func() {
		defer close(done)
		if err := l.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Printf("reconcile loop stopped: %v", err)
		}
	}()
	return nil
}

// Stop signals the loop and waits for it to exit. A batch in progress is
// finished first.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Close stops the loop and releases the label cache.
func (l *Loop) Close() error {
	l.Stop()
	return l.labels.Close()
}

// Prime sets the cursor to the current UTXO count so that history is not
// replayed on startup.
func (l *Loop) Prime(ctx context.Context) error {
	doc, err := l.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("prime cursor: %w", err)
	}
	l.advance(doc, len(doc.UTXOs))
	l.primed.Store(true)
	l.logger.Printf("reconcile: starting at UTXO %d", len(doc.UTXOs))
	return nil
}

// advance moves the cursor to n and remembers the id of the last handled
// UTXO so a reset ledger can be told apart from a grown one.
func (l *Loop) advance(doc *domain.LedgerDocument, n int) {
	anchor := ""
	if n > 0 {
		anchor = doc.UTXOs[n-1].ID
	}
	l.anchor.Store(anchor)
	l.cursor.Store(int64(n))
}

func (l *Loop) anchorID() string {
	id, _ := l.anchor.Load().(string)
	return id
}

// Run primes the cursor and runs cycles until ctx is cancelled.
// It returns nil on cancellation.
func (l *Loop) Run(ctx context.Context) error {
	defer l.state.Store(int32(StateIdle))

	for !l.primed.Load() {
		if err := l.Prime(ctx); err != nil {
			l.logger.Printf("reconcile: %v", err)
			if !sleep(ctx, l.retryDelay) {
				return nil
			}
		}
	}

	for {
		delay := l.interval
		if _, err := l.Cycle(ctx); err != nil {
			l.logger.Printf("reconcile: cycle failed at cursor %d: %v", l.Cursor(), err)
			delay = l.retryDelay
		}
		if !sleep(ctx, delay) {
			l.logger.Println("reconcile: stopping")
			return nil
		}
	}
}

// Cycle projects UTXOs appended since the cursor and returns how many
// projections were delivered.
func (l *Loop) Cycle(ctx context.Context) (int, error) {
	start := time.Now()
	l.state.Store(int32(StatePolling))
	defer l.state.Store(int32(StateIdle))

	projected, err := l.cycle(ctx)
	l.metrics.RecordReconcileCycle(time.Since(start).Seconds(), projected, l.Cursor(), err)
	return projected, err
}

func (l *Loop) cycle(ctx context.Context) (int, error) {
	doc, err := l.store.Load(ctx)
	if err != nil {
		return 0, err
	}

	total := len(doc.UTXOs)
	cursor := l.Cursor()
	if cursor > 0 && (total < cursor || doc.UTXOs[cursor-1].ID != l.anchorID()) {
		l.logger.Printf("reconcile: ledger was reset (cursor %d, %d UTXOs), rewinding to 0", cursor, total)
		cursor = 0
		l.advance(doc, 0)
	}
	if total == cursor {
		return 0, nil
	}

	l.state.Store(int32(StateProjecting))
	var projections []*domain.Projection
	for i, u := range doc.UTXOs[cursor:total] {
		if u.Kind != domain.UTXOKindTransfer {
			continue
		}
		projections = append(projections, l.project(ctx, doc, u, cursor+i))
	}

	if len(projections) > 0 {
		for _, sink := range l.sinks {
			if err := sink.Append(ctx, projections); err != nil {
				return 0, err
			}
		}
		for _, p := range projections {
			l.logger.Printf("projected transfer %s -> %s: %s %s", p.Sender, p.Receiver,
				p.Amount.String(), p.Currency)
		}
	}

	l.advance(doc, total)
	return len(projections), nil
}

func (l *Loop) project(ctx context.Context, doc *domain.LedgerDocument, u *domain.UTXO, seq int) *domain.Projection {
	p := &domain.Projection{
		UTXOID:        u.ID,
		Kind:          u.Kind,
		Sender:        u.Sender,
		Receiver:      u.Receiver,
		SenderName:    l.store.DisplayName(u.Sender),
		ReceiverName:  l.store.DisplayName(u.Receiver),
		Amount:        u.Amount,
		Currency:      doc.Metadata.Currency,
		Timestamp:     u.Timestamp,
		ExternalTxRef: u.ExternalTxRef,
		Sequence:      seq,
	}
	if tx := doc.TransactionByUTXO(u.ID); tx != nil {
		p.TxID = tx.ID
		if p.ExternalTxRef == "" {
			p.ExternalTxRef = tx.ExternalTxRef
		}
		if tx.TemplateID != "" {
			p.TemplateID = tx.TemplateID
			p.TemplateLabel = l.label(ctx, tx)
		}
	}
	return p
}

// label resolves the template label for tx, falling back to the raw
// template id when the content is unavailable.
func (l *Loop) label(ctx context.Context, tx *domain.Transaction) string {
	ref := tx.TemplateLabelRef()
	if ref == "" || l.resolver == nil {
		return tx.TemplateID
	}
	if cached, err := l.labels.Get(ref); err == nil {
		return cached.(string)
	}
	label, ok := l.resolver.ResolveLabel(ctx, ref)
	if !ok {
		return tx.TemplateID
	}
	if err := l.labels.Set(ref, label); err != nil {
		l.logger.Printf("reconcile: cache label %s: %v", ref, err)
	}
	return label
}

// sleep waits for d or until ctx is done. It reports whether the loop
// should continue.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
