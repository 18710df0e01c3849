package content

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Schema for the versioned entity store. The partial unique index enforces
// the single-published invariant at the storage layer, independently of the
// application-level guards.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS content_entities (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	title TEXT NOT NULL,
	jurisdiction TEXT NOT NULL DEFAULT '',
	current_published_version_id TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS content_versions (
	id TEXT PRIMARY KEY,
	entity_id TEXT NOT NULL REFERENCES content_entities(id),
	kind TEXT NOT NULL,
	version_number INTEGER NOT NULL,
	status TEXT NOT NULL,
	author_id TEXT NOT NULL,
	reviewer_id TEXT NOT NULL DEFAULT '',
	clause JSONB,
	template JSONB,
	rules JSONB,
	content_digest TEXT NOT NULL DEFAULT '',
	rejection_comment TEXT NOT NULL DEFAULT '',
	deprecation_reason TEXT NOT NULL DEFAULT '',
	published_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (entity_id, version_number)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_content_single_published
	ON content_versions (entity_id) WHERE status = 'published';
CREATE INDEX IF NOT EXISTS idx_content_versions_entity
	ON content_versions (entity_id);
CREATE INDEX IF NOT EXISTS idx_content_entities_tenant
	ON content_entities (tenant_id);`

// PostgresStore implements Store on PostgreSQL. Promote/demote runs as a
// serializable transaction; version numbers are assigned gapless inside the
// insert statement, with the unique constraint turning a lost race into a
// retryable infrastructure fault.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open handle. Call Migrate before first use.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the tables and indexes.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return &InfrastructureError{Op: "migrate", Err: err}
	}
	return nil
}

func (s *PostgresStore) CreateEntity(ctx context.Context, e *LogicalEntity) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO content_entities (id, kind, tenant_id, title, jurisdiction, current_published_version_id, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, '', $6, NOW())`,
		e.ID, e.Kind, e.TenantID, e.Title, e.Jurisdiction, e.CreatedBy,
	)
	if err != nil {
		return &InfrastructureError{Op: "create entity", Err: err}
	}
	return nil
}

func (s *PostgresStore) LoadEntity(ctx context.Context, id string) (*LogicalEntity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, tenant_id, title, jurisdiction, current_published_version_id, created_by, created_at
		 FROM content_entities WHERE id = $1`, id)
	return scanEntity(row, id)
}

func scanEntity(row *sql.Row, id string) (*LogicalEntity, error) {
	var e LogicalEntity
	err := row.Scan(&e.ID, &e.Kind, &e.TenantID, &e.Title, &e.Jurisdiction,
		&e.CurrentPublishedVersionID, &e.CreatedBy, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Resource: "entity", ID: id}
	}
	if err != nil {
		return nil, &InfrastructureError{Op: "load entity", Err: err}
	}
	return &e, nil
}

func (s *PostgresStore) ListEntities(ctx context.Context, tenantID string) ([]*LogicalEntity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, tenant_id, title, jurisdiction, current_published_version_id, created_by, created_at
		 FROM content_entities WHERE tenant_id = $1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, &InfrastructureError{Op: "list entities", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var out []*LogicalEntity
	for rows.Next() {
		var e LogicalEntity
		if err := rows.Scan(&e.ID, &e.Kind, &e.TenantID, &e.Title, &e.Jurisdiction,
			&e.CurrentPublishedVersionID, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, &InfrastructureError{Op: "list entities", Err: err}
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, &InfrastructureError{Op: "list entities", Err: err}
	}
	return out, nil
}

// InsertVersion assigns the next gapless version number inside the insert
// itself. Two racing inserts compute the same number; the unique constraint
// rejects one and the caller retries.
func (s *PostgresStore) InsertVersion(ctx context.Context, v *Version) error {
	if _, err := s.LoadEntity(ctx, v.EntityID); err != nil {
		return err
	}
	clauseJSON, templateJSON, rulesJSON, err := marshalContent(v)
	if err != nil {
		return err
	}
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO content_versions (id, entity_id, kind, version_number, status, author_id, clause, template, rules, created_at, updated_at)
		 SELECT $1, $2, $3, COALESCE(MAX(version_number), 0) + 1, $4, $5, $6, $7, $8, NOW(), NOW()
		 FROM content_versions WHERE entity_id = $2
		 RETURNING version_number, created_at, updated_at`,
		v.ID, v.EntityID, v.Kind, v.Status, v.AuthorID, clauseJSON, templateJSON, rulesJSON,
	)
	if err := row.Scan(&v.VersionNumber, &v.CreatedAt, &v.UpdatedAt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return &InfrastructureError{Op: "insert version",
				Err: fmt.Errorf("version number race for entity %s: %w", v.EntityID, err)}
		}
		return &InfrastructureError{Op: "insert version", Err: err}
	}
	return nil
}

const versionColumns = `id, entity_id, kind, version_number, status, author_id, reviewer_id,
	clause, template, rules, content_digest, rejection_comment, deprecation_reason,
	published_at, created_at, updated_at`

func (s *PostgresStore) LoadVersion(ctx context.Context, id string) (*Version, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM content_versions WHERE id = $1`, id)
	if err != nil {
		return nil, &InfrastructureError{Op: "load version", Err: err}
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, &InfrastructureError{Op: "load version", Err: err}
		}
		return nil, &NotFoundError{Resource: "version", ID: id}
	}
	v, err := scanVersion(rows)
	if err != nil {
		return nil, err
	}
	if err := VerifyDigest(v); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, entityID string) ([]*Version, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM content_versions WHERE entity_id = $1 ORDER BY version_number`,
		entityID)
	if err != nil {
		return nil, &InfrastructureError{Op: "list versions", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var out []*Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, &InfrastructureError{Op: "list versions", Err: err}
	}
	return out, nil
}

// SaveVersion updates a row guarded by the expected status. Content columns
// are written only while the row is still a draft; post-draft updates can
// touch nothing but lifecycle metadata, so frozen content cannot drift.
func (s *PostgresStore) SaveVersion(ctx context.Context, v *Version, expected VersionStatus) error {
	var res sql.Result
	var err error
	if expected == StatusDraft {
		clauseJSON, templateJSON, rulesJSON, merr := marshalContent(v)
		if merr != nil {
			return merr
		}
		res, err = s.db.ExecContext(ctx,
			`UPDATE content_versions
			 SET status = $1, reviewer_id = $2, content_digest = $3, rejection_comment = $4,
			     deprecation_reason = $5, clause = $6, template = $7, rules = $8, updated_at = NOW()
			 WHERE id = $9 AND status = $10`,
			v.Status, v.ReviewerID, v.ContentDigest, v.RejectionComment,
			v.DeprecationReason, clauseJSON, templateJSON, rulesJSON, v.ID, expected,
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE content_versions
			 SET status = $1, reviewer_id = $2, content_digest = $3, rejection_comment = $4,
			     deprecation_reason = $5, updated_at = NOW()
			 WHERE id = $6 AND status = $7`,
			v.Status, v.ReviewerID, v.ContentDigest, v.RejectionComment,
			v.DeprecationReason, v.ID, expected,
		)
	}
	if err != nil {
		return &InfrastructureError{Op: "save version", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &InfrastructureError{Op: "save version", Err: err}
	}
	if affected == 0 {
		return s.saveGuardMiss(ctx, v.ID, expected)
	}
	return nil
}

// saveGuardMiss distinguishes a missing row from a stale status guard.
func (s *PostgresStore) saveGuardMiss(ctx context.Context, id string, expected VersionStatus) error {
	var current VersionStatus
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM content_versions WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return &NotFoundError{Resource: "version", ID: id}
	}
	if err != nil {
		return &InfrastructureError{Op: "save version", Err: err}
	}
	return &LifecycleError{
		Op:           "save",
		VersionID:    id,
		Precondition: "expected status " + string(expected) + ", found " + string(current),
	}
}

func (s *PostgresStore) LoadRulesForVersions(ctx context.Context, ids []string) (map[string][]Rule, error) {
	out := make(map[string][]Rule, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, rules FROM content_versions WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, &InfrastructureError{Op: "load rules", Err: err}
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id string
		var rulesJSON []byte
		if err := rows.Scan(&id, &rulesJSON); err != nil {
			return nil, &InfrastructureError{Op: "load rules", Err: err}
		}
		var rules []Rule
		if len(rulesJSON) > 0 {
			if err := json.Unmarshal(rulesJSON, &rules); err != nil {
				return nil, &InfrastructureError{Op: "load rules", Err: err}
			}
		}
		out[id] = rules
	}
	if err := rows.Err(); err != nil {
		return nil, &InfrastructureError{Op: "load rules", Err: err}
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			return nil, &NotFoundError{Resource: "version", ID: id}
		}
	}
	return out, nil
}

func (s *PostgresStore) ListPublished(ctx context.Context, tenantID string) ([]*Version, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT v.id, v.entity_id, v.kind, v.version_number, v.status, v.author_id, v.reviewer_id,
		        v.clause, v.template, v.rules, v.content_digest, v.rejection_comment, v.deprecation_reason,
		        v.published_at, v.created_at, v.updated_at
		 FROM content_versions v
		 JOIN content_entities e ON e.id = v.entity_id
		 WHERE v.status = 'published' AND e.tenant_id = $1
		 ORDER BY v.id`, tenantID)
	if err != nil {
		return nil, &InfrastructureError{Op: "list published", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var out []*Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, &InfrastructureError{Op: "list published", Err: err}
	}
	return out, nil
}

func (s *PostgresStore) DeleteVersion(ctx context.Context, id string) error {
	// Latest-only: removing an older draft would punch a hole into the
	// gapless numbering that the MAX+1 insert relies on.
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM content_versions v
		  WHERE v.id = $1 AND v.status = 'draft'
		    AND NOT EXISTS (
		        SELECT 1 FROM content_versions n
		         WHERE n.entity_id = v.entity_id
		           AND n.version_number > v.version_number)`, id)
	if err != nil {
		return &InfrastructureError{Op: "delete version", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &InfrastructureError{Op: "delete version", Err: err}
	}
	if affected == 0 {
		return s.deleteGuardMiss(ctx, id)
	}
	return nil
}

// deleteGuardMiss distinguishes a missing row, a frozen status and a
// non-latest draft.
func (s *PostgresStore) deleteGuardMiss(ctx context.Context, id string) error {
	var current VersionStatus
	var hasNewer bool
	err := s.db.QueryRowContext(ctx,
		`SELECT v.status, EXISTS (
		     SELECT 1 FROM content_versions n
		      WHERE n.entity_id = v.entity_id
		        AND n.version_number > v.version_number)
		   FROM content_versions v WHERE v.id = $1`, id).Scan(&current, &hasNewer)
	if errors.Is(err, sql.ErrNoRows) {
		return &NotFoundError{Resource: "version", ID: id}
	}
	if err != nil {
		return &InfrastructureError{Op: "delete version", Err: err}
	}
	if current != StatusDraft {
		return &LifecycleError{
			Op: "discard", VersionID: id,
			Precondition: "expected status draft, found " + string(current),
		}
	}
	return &LifecycleError{
		Op: "discard", VersionID: id,
		Precondition: "only the latest version may be discarded",
	}
}

func (s *PostgresStore) DeleteEntity(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &InfrastructureError{Op: "delete entity", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	var frozen bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM content_versions WHERE entity_id = $1 AND status <> 'draft')`,
		id).Scan(&frozen); err != nil {
		return &InfrastructureError{Op: "delete entity", Err: err}
	}
	if frozen {
		return &LifecycleError{
			Op: "delete", VersionID: id,
			Precondition: "entity has post-draft history",
		}
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM content_versions WHERE entity_id = $1`, id); err != nil {
		return &InfrastructureError{Op: "delete entity", Err: err}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM content_entities WHERE id = $1`, id)
	if err != nil {
		return &InfrastructureError{Op: "delete entity", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &InfrastructureError{Op: "delete entity", Err: err}
	}
	if affected == 0 {
		return &NotFoundError{Resource: "entity", ID: id}
	}
	if err := tx.Commit(); err != nil {
		return &InfrastructureError{Op: "delete entity", Err: err}
	}
	return nil
}

// PromoteAndDemote publishes newVersionID and demotes the prior sibling in
// one serializable transaction. The optimistic guard on the entity pointer
// makes the loser of two racing approvals fail with ConcurrentPublishError;
// a serialization abort surfaces as a retryable infrastructure fault.
func (s *PostgresStore) PromoteAndDemote(ctx context.Context, entityID, newVersionID, expectedOldID string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return &InfrastructureError{Op: "promote", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE content_entities SET current_published_version_id = $1
		 WHERE id = $2 AND current_published_version_id = $3`,
		newVersionID, entityID, expectedOldID,
	)
	if err != nil {
		return promoteErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &InfrastructureError{Op: "promote", Err: err}
	}
	if affected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM content_entities WHERE id = $1)`, entityID).Scan(&exists); err != nil {
			return &InfrastructureError{Op: "promote", Err: err}
		}
		if !exists {
			return &NotFoundError{Resource: "entity", ID: entityID}
		}
		return &ConcurrentPublishError{EntityID: entityID}
	}

	if expectedOldID != "" {
		res, err := tx.ExecContext(ctx,
			`UPDATE content_versions SET status = 'deprecated', updated_at = NOW()
			 WHERE id = $1 AND status = 'published'`, expectedOldID)
		if err != nil {
			return promoteErr(err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return &InfrastructureError{Op: "promote", Err: err}
		} else if n == 0 {
			return &ConcurrentPublishError{EntityID: entityID}
		}
	}

	if newVersionID != "" {
		res, err := tx.ExecContext(ctx,
			`UPDATE content_versions SET status = 'published', published_at = NOW(), updated_at = NOW()
			 WHERE id = $1 AND status = 'review'`, newVersionID)
		if err != nil {
			return promoteErr(err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return &InfrastructureError{Op: "promote", Err: err}
		} else if n == 0 {
			return s.promoteGuardMiss(ctx, tx, newVersionID)
		}
	}

	if err := tx.Commit(); err != nil {
		return promoteErr(err)
	}
	return nil
}

func (s *PostgresStore) promoteGuardMiss(ctx context.Context, tx *sql.Tx, versionID string) error {
	var current VersionStatus
	err := tx.QueryRowContext(ctx,
		`SELECT status FROM content_versions WHERE id = $1`, versionID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return &NotFoundError{Resource: "version", ID: versionID}
	}
	if err != nil {
		return &InfrastructureError{Op: "promote", Err: err}
	}
	return &LifecycleError{
		Op:           "publish",
		VersionID:    versionID,
		Precondition: "expected status review, found " + string(current),
	}
}

// promoteErr wraps transaction faults as retryable infrastructure errors.
// Serialization aborts (SQLSTATE 40001) and hits on the partial unique
// index (23505, a double publish attempt) both land here and both resolve
// on retry against fresh state.
func promoteErr(err error) error {
	return &InfrastructureError{Op: "promote", Err: err}
}

func marshalContent(v *Version) (clause, template, rules []byte, err error) {
	if v.Clause != nil {
		if clause, err = json.Marshal(v.Clause); err != nil {
			return nil, nil, nil, &InfrastructureError{Op: "marshal clause", Err: err}
		}
	}
	if v.Template != nil {
		if template, err = json.Marshal(v.Template); err != nil {
			return nil, nil, nil, &InfrastructureError{Op: "marshal template", Err: err}
		}
	}
	if len(v.Rules) > 0 {
		if rules, err = json.Marshal(v.Rules); err != nil {
			return nil, nil, nil, &InfrastructureError{Op: "marshal rules", Err: err}
		}
	}
	return clause, template, rules, nil
}

func scanVersion(rows *sql.Rows) (*Version, error) {
	var v Version
	var clauseJSON, templateJSON, rulesJSON []byte
	var publishedAt sql.NullTime
	err := rows.Scan(&v.ID, &v.EntityID, &v.Kind, &v.VersionNumber, &v.Status,
		&v.AuthorID, &v.ReviewerID, &clauseJSON, &templateJSON, &rulesJSON,
		&v.ContentDigest, &v.RejectionComment, &v.DeprecationReason,
		&publishedAt, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, &InfrastructureError{Op: "scan version", Err: err}
	}
	if len(clauseJSON) > 0 {
		v.Clause = &ClauseBody{}
		if err := json.Unmarshal(clauseJSON, v.Clause); err != nil {
			return nil, &InfrastructureError{Op: "scan version", Err: err}
		}
	}
	if len(templateJSON) > 0 {
		v.Template = &TemplateBody{}
		if err := json.Unmarshal(templateJSON, v.Template); err != nil {
			return nil, &InfrastructureError{Op: "scan version", Err: err}
		}
	}
	if len(rulesJSON) > 0 {
		if err := json.Unmarshal(rulesJSON, &v.Rules); err != nil {
			return nil, &InfrastructureError{Op: "scan version", Err: err}
		}
	}
	if publishedAt.Valid {
		t := publishedAt.Time
		v.PublishedAt = &t
	}
	return &v, nil
}
