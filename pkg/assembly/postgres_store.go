package assembly

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/lib/pq"

	"github.com/klauselwerk/core/pkg/content"
)

// Schema for contract instances. The trigger is the storage-level half of
// pin immutability: once a row reaches completed, every later UPDATE or
// DELETE is rejected by the database itself, so not even a direct SQL
// session can thaw a frozen contract.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS contract_instances (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	status TEXT NOT NULL,
	template_entity_id TEXT NOT NULL,
	template_version_id TEXT NOT NULL,
	pinned_clauses JSONB NOT NULL DEFAULT '{}',
	clause_version_ids TEXT[] NOT NULL DEFAULT '{}',
	selected_slots JSONB NOT NULL DEFAULT '{}',
	answers JSONB NOT NULL DEFAULT '{}',
	jurisdiction TEXT NOT NULL DEFAULT '',
	validation_state TEXT NOT NULL,
	revision BIGINT NOT NULL,
	created_by TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_contracts_tenant ON contract_instances (tenant_id);

CREATE OR REPLACE FUNCTION contract_reject_completed_writes() RETURNS trigger AS $$
BEGIN
	IF OLD.status = 'completed' THEN
		RAISE EXCEPTION 'contract % is completed and immutable', OLD.id;
	END IF;
	IF TG_OP = 'DELETE' THEN
		RETURN OLD;
	END IF;
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_contract_immutable ON contract_instances;
CREATE TRIGGER trg_contract_immutable
	BEFORE UPDATE OR DELETE ON contract_instances
	FOR EACH ROW EXECUTE FUNCTION contract_reject_completed_writes();`

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open handle. Call Migrate before first use.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the table, index and immutability trigger.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return &content.InfrastructureError{Op: "migrate contracts", Err: err}
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, c *ContractInstance) error {
	pinned, slots, answers, err := marshalContract(c)
	if err != nil {
		return err
	}
	c.Revision = 1
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO contract_instances (id, tenant_id, status, template_entity_id, template_version_id,
		     pinned_clauses, clause_version_ids, selected_slots, answers, jurisdiction,
		     validation_state, revision, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
		 RETURNING created_at, updated_at`,
		c.ID, c.TenantID, c.Status, c.TemplateEntityID, c.TemplateVersionID,
		pinned, pq.Array(c.ClauseVersionIDs()), slots, answers, c.Jurisdiction,
		c.ValidationState, c.Revision, c.CreatedBy,
	)
	if err := row.Scan(&c.CreatedAt, &c.UpdatedAt); err != nil {
		return &content.InfrastructureError{Op: "insert contract", Err: err}
	}
	return nil
}

const contractColumns = `id, tenant_id, status, template_entity_id, template_version_id,
	pinned_clauses, selected_slots, answers, jurisdiction, validation_state,
	revision, created_by, created_at, updated_at, completed_at`

func (s *PostgresStore) Load(ctx context.Context, id string) (*ContractInstance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+contractColumns+` FROM contract_instances WHERE id = $1`, id)
	if err != nil {
		return nil, &content.InfrastructureError{Op: "load contract", Err: err}
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, &content.InfrastructureError{Op: "load contract", Err: err}
		}
		return nil, &content.NotFoundError{Resource: "contract", ID: id}
	}
	return scanContract(rows)
}

func (s *PostgresStore) ListByTenant(ctx context.Context, tenantID string) ([]*ContractInstance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+contractColumns+` FROM contract_instances WHERE tenant_id = $1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, &content.InfrastructureError{Op: "list contracts", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var out []*ContractInstance
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &content.InfrastructureError{Op: "list contracts", Err: err}
	}
	return out, nil
}

// Save writes c guarded by the revision it was read at. The status filter
// and the trigger overlap deliberately: the filter turns a completed-row
// write into a clean guard miss, the trigger catches anyone bypassing this
// code path entirely.
func (s *PostgresStore) Save(ctx context.Context, c *ContractInstance, expectedRevision int64) error {
	pinned, slots, answers, err := marshalContract(c)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE contract_instances
		 SET status = $1, template_version_id = $2, pinned_clauses = $3, clause_version_ids = $4,
		     selected_slots = $5, answers = $6, validation_state = $7,
		     revision = revision + 1, completed_at = $8, updated_at = NOW()
		 WHERE id = $9 AND revision = $10 AND status = 'draft'`,
		c.Status, c.TemplateVersionID, pinned, pq.Array(c.ClauseVersionIDs()),
		slots, answers, c.ValidationState, c.CompletedAt, c.ID, expectedRevision,
	)
	if err != nil {
		if isImmutableTriggerErr(err) {
			return &content.ImmutabilityViolation{
				Resource: "contract", ID: c.ID,
				Reason: "completed contracts reject all writes",
			}
		}
		return &content.InfrastructureError{Op: "save contract", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &content.InfrastructureError{Op: "save contract", Err: err}
	}
	if affected == 0 {
		return s.saveGuardMiss(ctx, c.ID)
	}
	c.Revision = expectedRevision + 1
	return nil
}

func (s *PostgresStore) ReferencesEntity(ctx context.Context, entityID string) (bool, error) {
	var pinned bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM contract_instances
		 WHERE template_entity_id = $1 OR pinned_clauses ? $1)`, entityID).Scan(&pinned)
	if err != nil {
		return false, &content.InfrastructureError{Op: "check entity references", Err: err}
	}
	return pinned, nil
}

func (s *PostgresStore) saveGuardMiss(ctx context.Context, id string) error {
	var status ContractStatus
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM contract_instances WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return &content.NotFoundError{Resource: "contract", ID: id}
	}
	if err != nil {
		return &content.InfrastructureError{Op: "save contract", Err: err}
	}
	if status == ContractCompleted {
		return &content.ImmutabilityViolation{
			Resource: "contract", ID: id,
			Reason: "completed contracts reject all writes",
		}
	}
	return &content.ConcurrentCompletionError{ContractID: id}
}

func isImmutableTriggerErr(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && strings.Contains(pqErr.Message, "completed and immutable")
}

func marshalContract(c *ContractInstance) (pinned, slots, answers []byte, err error) {
	if pinned, err = json.Marshal(orEmptyMap(c.PinnedClauses)); err != nil {
		return nil, nil, nil, &content.InfrastructureError{Op: "marshal contract", Err: err}
	}
	if slots, err = json.Marshal(orEmptyMap(c.SelectedSlots)); err != nil {
		return nil, nil, nil, &content.InfrastructureError{Op: "marshal contract", Err: err}
	}
	if c.Answers == nil {
		answers = []byte("{}")
	} else if answers, err = json.Marshal(c.Answers); err != nil {
		return nil, nil, nil, &content.InfrastructureError{Op: "marshal contract", Err: err}
	}
	return pinned, slots, answers, nil
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func scanContract(rows *sql.Rows) (*ContractInstance, error) {
	var c ContractInstance
	var pinned, slots, answers []byte
	var completedAt sql.NullTime
	err := rows.Scan(&c.ID, &c.TenantID, &c.Status, &c.TemplateEntityID, &c.TemplateVersionID,
		&pinned, &slots, &answers, &c.Jurisdiction, &c.ValidationState,
		&c.Revision, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt, &completedAt)
	if err != nil {
		return nil, &content.InfrastructureError{Op: "scan contract", Err: err}
	}
	if err := json.Unmarshal(pinned, &c.PinnedClauses); err != nil {
		return nil, &content.InfrastructureError{Op: "scan contract", Err: err}
	}
	if err := json.Unmarshal(slots, &c.SelectedSlots); err != nil {
		return nil, &content.InfrastructureError{Op: "scan contract", Err: err}
	}
	if err := json.Unmarshal(answers, &c.Answers); err != nil {
		return nil, &content.InfrastructureError{Op: "scan contract", Err: err}
	}
	if completedAt.Valid {
		t := completedAt.Time
		c.CompletedAt = &t
	}
	return &c, nil
}
