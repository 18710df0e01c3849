// Package revalidate coalesces the validation runs triggered by contract
// mutations. The engine itself is stateless and idempotent; the ordering
// guarantee (last write wins) lives here, at the edge, not inside it.
package revalidate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RunFunc executes one validation run for a contract.
type RunFunc func(ctx context.Context, contractID string)

// Debouncer collapses bursts of triggers per contract into a single run
// after a quiet period. A trigger arriving while one is pending resets the
// timer, so the run always sees the latest state. The rate limiter caps
// total runs across all contracts.
type Debouncer struct {
	mu      sync.Mutex
	pending map[string]*time.Timer
	delay   time.Duration
	limiter *rate.Limiter
	run     RunFunc
	logger  *slog.Logger
	closed  bool
}

// NewDebouncer creates a debouncer firing run after delay of quiet. The
// limiter bounds engine load under mutation storms; zero maxPerSecond
// means unlimited.
func NewDebouncer(delay time.Duration, maxPerSecond float64, run RunFunc) *Debouncer {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if maxPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(maxPerSecond), int(maxPerSecond)+1)
	}
	return &Debouncer{
		pending: make(map[string]*time.Timer),
		delay:   delay,
		limiter: limiter,
		run:     run,
		logger:  slog.Default().With("component", "revalidate"),
	}
}

// Trigger schedules a run for the contract, replacing any pending one.
func (d *Debouncer) Trigger(ctx context.Context, contractID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if t, ok := d.pending[contractID]; ok {
		t.Stop()
	}
	d.pending[contractID] = time.AfterFunc(d.delay, func() {
		d.fire(contractID)
	})
}

func (d *Debouncer) fire(contractID string) {
	d.mu.Lock()
	delete(d.pending, contractID)
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return
	}

	ctx := context.Background()
	if err := d.limiter.Wait(ctx); err != nil {
		return
	}
	d.run(ctx, contractID)
}

// Flush runs every pending contract immediately.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	ids := make([]string, 0, len(d.pending))
	for id, t := range d.pending {
		t.Stop()
		ids = append(ids, id)
	}
	d.pending = make(map[string]*time.Timer)
	d.mu.Unlock()

	for _, id := range ids {
		d.run(context.Background(), id)
	}
}

// Close stops all pending timers and drops further triggers.
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for id, t := range d.pending {
		t.Stop()
		delete(d.pending, id)
	}
}
