package revalidate_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klauselwerk/core/pkg/revalidate"
)

type runRecorder struct {
	mu   sync.Mutex
	runs []string
	done chan string
}

func newRunRecorder() *runRecorder {
	return &runRecorder{done: make(chan string, 16)}
}

func (r *runRecorder) run(ctx context.Context, contractID string) {
	r.mu.Lock()
	r.runs = append(r.runs, contractID)
	r.mu.Unlock()
	r.done <- contractID
}

func (r *runRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func (r *runRecorder) wait(t *testing.T) string {
	t.Helper()
	select {
	case id := <-r.done:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a run")
		return ""
	}
}

func TestTriggerBurstCoalescesToOneRun(t *testing.T) {
	rec := newRunRecorder()
	d := revalidate.NewDebouncer(20*time.Millisecond, 0, rec.run)
	defer d.Close()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		d.Trigger(ctx, "contract-1")
	}

	assert.Equal(t, "contract-1", rec.wait(t))
	// Quiet period passed, no further run may arrive.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestTriggerKeepsContractsIndependent(t *testing.T) {
	rec := newRunRecorder()
	d := revalidate.NewDebouncer(10*time.Millisecond, 0, rec.run)
	defer d.Close()

	ctx := context.Background()
	d.Trigger(ctx, "contract-1")
	d.Trigger(ctx, "contract-2")

	seen := map[string]bool{rec.wait(t): true, rec.wait(t): true}
	assert.True(t, seen["contract-1"])
	assert.True(t, seen["contract-2"])
}

func TestFlushRunsPendingImmediately(t *testing.T) {
	rec := newRunRecorder()
	d := revalidate.NewDebouncer(time.Hour, 0, rec.run)
	defer d.Close()

	d.Trigger(context.Background(), "contract-1")
	require.Equal(t, 0, rec.count())

	d.Flush()
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, []string{"contract-1"}, rec.runs)
}

func TestCloseDropsPendingAndFutureTriggers(t *testing.T) {
	rec := newRunRecorder()
	d := revalidate.NewDebouncer(20*time.Millisecond, 0, rec.run)

	d.Trigger(context.Background(), "contract-1")
	d.Close()
	d.Trigger(context.Background(), "contract-2")

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, rec.count())
}
