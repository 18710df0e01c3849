package audit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klauselwerk/core/pkg/audit"
	"github.com/klauselwerk/core/pkg/tenants"
)

func scopedContext() context.Context {
	return tenants.WithScope(context.Background(), tenants.Scope{
		TenantID: "tenant-1",
		ActorID:  "actor-1",
	})
}

func TestWriterLoggerEmitsPrefixedJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := audit.NewLoggerWithWriter(&buf)

	err := logger.Record(scopedContext(), audit.ActionVersionPublished, "version-1",
		map[string]any{"entity_id": "clause-a"})
	require.NoError(t, err)

	line := buf.String()
	require.True(t, strings.HasPrefix(line, "AUDIT: "))

	var event audit.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "AUDIT: ")), &event))
	assert.Equal(t, "tenant-1", event.TenantID)
	assert.Equal(t, "actor-1", event.ActorID)
	assert.Equal(t, audit.ActionVersionPublished, event.Action)
	assert.Equal(t, "version-1", event.Resource)
	assert.NotEmpty(t, event.ID)
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store, err := audit.OpenSQLiteStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	ctx := scopedContext()
	require.NoError(t, store.Record(ctx, audit.ActionContractCreated, "contract-1",
		map[string]any{"pins": 3}))
	require.NoError(t, store.Record(ctx, audit.ActionContractCompleted, "contract-1", nil))

	events, err := store.ListByTenant(ctx, "tenant-1", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, "tenant-1", e.TenantID)
		assert.Equal(t, "actor-1", e.ActorID)
		assert.Equal(t, "contract-1", e.Resource)
	}
}

func TestSQLiteStoreFiltersByTenant(t *testing.T) {
	store, err := audit.OpenSQLiteStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	now := time.Now()
	require.NoError(t, store.Append(context.Background(), audit.Event{
		ID: "e1", TenantID: "tenant-1", ActorID: "a", Action: "x", Resource: "r", Timestamp: now,
	}))
	require.NoError(t, store.Append(context.Background(), audit.Event{
		ID: "e2", TenantID: "tenant-2", ActorID: "a", Action: "x", Resource: "r", Timestamp: now,
	}))

	events, err := store.ListByTenant(context.Background(), "tenant-1", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "e1", events[0].ID)
}

// Metadata that cannot be serialized must fail the append, not write a
// row with empty metadata.
func TestSQLiteStoreRejectsUnserializableMetadata(t *testing.T) {
	store, err := audit.OpenSQLiteStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	ctx := scopedContext()
	err = store.Record(ctx, audit.ActionContractCreated, "contract-1",
		map[string]any{"bad": make(chan int)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "marshal metadata")

	events, err := store.ListByTenant(ctx, "tenant-1", 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSQLiteStoreNewestFirst(t *testing.T) {
	store, err := audit.OpenSQLiteStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	base := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, store.Append(context.Background(), audit.Event{
			ID: id, TenantID: "tenant-1", ActorID: "a", Action: "x", Resource: "r",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	events, err := store.ListByTenant(context.Background(), "tenant-1", 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "new", events[0].ID)
	assert.Equal(t, "mid", events[1].ID)
}
