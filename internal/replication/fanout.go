// Package replication fans every ledger save out to the validator replicas.
package replication

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"dtl-ledger-indexer/internal/idhash"
	"dtl-ledger-indexer/internal/observability"
	"dtl-ledger-indexer/internal/storage"
)

// ErrUnknownReplica is returned when a validator name is not configured.
var ErrUnknownReplica = errors.New("unknown replica")

// ReplicaStatus is the outcome of the latest write to one replica.
type ReplicaStatus struct {
	Name        string    `json:"name"`
	Healthy     bool      `json:"healthy"`
	LastError   string    `json:"last_error,omitempty"`
	LastWriteAt time.Time `json:"last_write_at,omitempty"`
	Failures    int       `json:"failures"`
}

// Fanout writes one serialized document to the primary and then to every
// replica. The primary write is the commit point; replica failures are
// logged, counted and recorded in Health but do not fail the save.
type Fanout struct {
	primary  storage.DocumentStore
	replicas []storage.DocumentStore
	logger   *log.Logger
	metrics  *observability.Metrics

	mu     sync.RWMutex
	health map[string]*ReplicaStatus
}

// Options configures a Fanout.
type Options struct {
	Primary  storage.DocumentStore
	Replicas []storage.DocumentStore
	Logger   *log.Logger
	Metrics  *observability.Metrics
}

// New creates a Fanout.
func New(opts Options) *Fanout {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	health := make(map[string]*ReplicaStatus, len(opts.Replicas))
	for _, r := range opts.Replicas {
		health[r.Name()] = &ReplicaStatus{Name: r.Name(), Healthy: true}
	}

	return &Fanout{
		primary:  opts.Primary,
		replicas: opts.Replicas,
		logger:   logger,
		metrics:  opts.Metrics,
		health:   health,
	}
}

// Primary returns the primary store.
func (f *Fanout) Primary() storage.DocumentStore {
	return f.primary
}

// Names returns the replica names in configuration order.
func (f *Fanout) Names() []string {
	names := make([]string, len(f.replicas))
	for i, r := range f.replicas {
		names[i] = r.Name()
	}
	return names
}

// Read returns the primary document.
func (f *Fanout) Read(ctx context.Context) ([]byte, error) {
	return f.primary.Read(ctx)
}

// Write persists data to the primary, then to all replicas concurrently.
// Only a primary failure is returned.
func (f *Fanout) Write(ctx context.Context, data []byte) error {
	if err := f.primary.Write(ctx, data); err != nil {
		return fmt.Errorf("write primary %s: %w", f.primary.Name(), err)
	}
	f.writeReplicas(ctx, data)
	return nil
}

func (f *Fanout) writeReplicas(ctx context.Context, data []byte) {
	var g errgroup.Group
	for _, r := range f.replicas {
		r := r
		g.Go(func() error {
			err := r.Write(ctx, data)
			f.record(r.Name(), err)
			return nil
		})
	}
	_ = g.Wait()
}

func (f *Fanout) record(name string, err error) {
	f.metrics.RecordReplicaWrite(name, err)

	f.mu.Lock()
	defer f.mu.Unlock()

	st, ok := f.health[name]
	if !ok {
		st = &ReplicaStatus{Name: name}
		f.health[name] = st
	}
	if err != nil {
		st.Healthy = false
		st.LastError = err.Error()
		st.Failures++
		f.logger.Printf("replica %s write failed (diverged until next save): %v", name, err)
		return
	}
	if !st.Healthy {
		f.logger.Printf("replica %s healed", name)
	}
	st.Healthy = true
	st.LastError = ""
	st.LastWriteAt = time.Now().UTC()
}

// View returns the raw document held by the named replica, read in isolation.
func (f *Fanout) View(ctx context.Context, name string) ([]byte, error) {
	for _, r := range f.replicas {
		if r.Name() == name {
			return r.Read(ctx)
		}
	}
	return nil, fmt.Errorf("%s: %w", name, ErrUnknownReplica)
}

// Remove deletes the primary and every replica document.
func (f *Fanout) Remove(ctx context.Context) error {
	var errs []error
	if err := f.primary.Remove(ctx); err != nil {
		errs = append(errs, err)
	}
	for _, r := range f.replicas {
		if err := r.Remove(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Resync copies the current primary document to every replica.
func (f *Fanout) Resync(ctx context.Context) error {
	data, err := f.primary.Read(ctx)
	if err != nil {
		return fmt.Errorf("read primary: %w", err)
	}
	f.writeReplicas(ctx, data)
	return nil
}

// Health returns the status of every replica, sorted by name.
func (f *Fanout) Health() []ReplicaStatus {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]ReplicaStatus, 0, len(f.health))
	for _, st := range f.health {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Digests returns the document digest of the primary and each replica.
// Missing documents map to an empty digest.
func (f *Fanout) Digests(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(f.replicas)+1)
	stores := append([]storage.DocumentStore{f.primary}, f.replicas...)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range stores {
		s := s
		g.Go(func() error {
			data, err := s.Read(gctx)
			digest := ""
			switch {
			case err == nil:
				digest = idhash.DocumentDigest(data)
			case errors.Is(err, storage.ErrNotFound):
			default:
				return fmt.Errorf("read %s: %w", s.Name(), err)
			}
			mu.Lock()
			out[s.Name()] = digest
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
