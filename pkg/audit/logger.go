// Package audit emits structured lifecycle and validation events as plain
// data. Delivery and long-term persistence are the audit layer's problem;
// the core only produces the records.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/klauselwerk/core/pkg/tenants"
)

// Action names the lifecycle events the core emits.
const (
	ActionVersionPublished  = "version.published"
	ActionVersionDeprecated = "version.deprecated"
	ActionVersionRejected   = "version.rejected"
	ActionEntityDeleted     = "entity.deleted"
	ActionContractCreated   = "contract.created"
	ActionContractUpgraded  = "contract.upgraded"
	ActionContractCompleted = "contract.completed"
	ActionContractValidated = "contract.validated"
)

// Event is one structured audit record.
type Event struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	ActorID   string         `json:"actor_id"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Logger records audit events.
type Logger interface {
	Record(ctx context.Context, action, resource string, metadata map[string]any) error
}

// logger writes structured JSON lines to an injected writer.
type logger struct {
	mu     sync.Mutex
	writer io.Writer
	clock  func() time.Time
}

// NewLogger creates a Logger writing to os.Stdout.
func NewLogger() Logger {
	return NewLoggerWithWriter(os.Stdout)
}

// NewLoggerWithWriter creates a Logger writing to the given writer,
// allowing injection for tests and custom sinks.
func NewLoggerWithWriter(w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}
	return &logger{writer: w, clock: time.Now}
}

func (l *logger) Record(ctx context.Context, action, resource string, metadata map[string]any) error {
	event := Event{
		ID:        uuid.New().String(),
		TenantID:  tenants.TenantID(ctx),
		ActorID:   tenants.ActorID(ctx),
		Action:    action,
		Resource:  resource,
		Timestamp: l.clock(),
		Metadata:  metadata,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	// Prefix for easy filtering in mixed log streams.
	_, err = l.writer.Write(append([]byte("AUDIT: "), append(raw, '\n')...))
	return err
}

// Nop returns a Logger discarding every event, for callers that wire no
// audit sink.
func Nop() Logger { return nopLogger{} }

type nopLogger struct{}

func (nopLogger) Record(context.Context, string, string, map[string]any) error { return nil }
