package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/klauselwerk/core/pkg/tenants"
)

// SQLiteStore is an embedded, append-only retention sink for audit
// events. It implements Logger, so it can be wired wherever the writer
// logger is.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the event table on the given handle.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLiteStore opens a store at the given path (":memory:" for tests).
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite %s: %w", path, err)
	}
	return NewSQLiteStore(db)
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		resource TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		metadata JSON
	);
	CREATE INDEX IF NOT EXISTS idx_audit_tenant_time ON audit_events (tenant_id, timestamp);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Append persists an event. Events are never updated or deleted.
func (s *SQLiteStore) Append(ctx context.Context, e Event) error {
	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("audit: marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, tenant_id, actor_id, action, resource, timestamp, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TenantID, e.ActorID, e.Action, e.Resource,
		e.Timestamp.UTC().Format(time.RFC3339Nano), string(metaJSON),
	)
	if err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}
	return nil
}

// ListByTenant returns a tenant's events, newest first.
func (s *SQLiteStore) ListByTenant(ctx context.Context, tenantID string, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, actor_id, action, resource, timestamp, metadata
		 FROM audit_events WHERE tenant_id = ? ORDER BY timestamp DESC LIMIT ?`,
		tenantID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var e Event
		var ts string
		var metaJSON sql.NullString
		if err := rows.Scan(&e.ID, &e.TenantID, &e.ActorID, &e.Action, &e.Resource, &ts, &metaJSON); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.Timestamp = t
		}
		if metaJSON.Valid && metaJSON.String != "" {
			_ = json.Unmarshal([]byte(metaJSON.String), &e.Metadata)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// Record implements Logger by stamping identity from the context, the same
// contract as the writer logger.
func (s *SQLiteStore) Record(ctx context.Context, action, resource string, metadata map[string]any) error {
	e := Event{
		ID:        uuid.New().String(),
		TenantID:  tenants.TenantID(ctx),
		ActorID:   tenants.ActorID(ctx),
		Action:    action,
		Resource:  resource,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
	return s.Append(ctx, e)
}

// Close closes the underlying handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }
