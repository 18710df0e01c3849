package content

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStoreLoadEntity(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewPostgresStore(db)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{
		"id", "kind", "tenant_id", "title", "jurisdiction",
		"current_published_version_id", "created_by", "created_at",
	}).AddRow("clause-a", "clause", "tenant-1", "Clause A", "DE", "v-1", "author-1", time.Now())

	mock.ExpectQuery(regexp.QuoteMeta("FROM content_entities WHERE id = $1")).
		WithArgs("clause-a").
		WillReturnRows(rows)

	e, err := store.LoadEntity(ctx, "clause-a")
	require.NoError(t, err)
	assert.Equal(t, "v-1", e.CurrentPublishedVersionID)
	assert.Equal(t, KindClause, e.Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreLoadEntityNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewPostgresStore(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM content_entities WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "kind", "tenant_id", "title", "jurisdiction",
			"current_published_version_id", "created_by", "created_at",
		}))

	_, err = store.LoadEntity(context.Background(), "missing")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "missing", nf.ID)
}

func TestPostgresStoreSaveVersionGuardMiss(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewPostgresStore(db)
	v := &Version{ID: "v-1", Status: StatusPublished}

	mock.ExpectExec("UPDATE content_versions").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM content_versions WHERE id = $1")).
		WithArgs("v-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("deprecated"))

	err = store.SaveVersion(context.Background(), v, StatusPublished)
	var lcErr *LifecycleError
	require.ErrorAs(t, err, &lcErr)
	assert.Contains(t, lcErr.Precondition, "found deprecated")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// The loser of a publish race sees zero rows from the guarded entity
// update and must map that to ConcurrentPublishError, not a silent no-op.
func TestPostgresStorePromoteLosesRace(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewPostgresStore(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE content_entities SET current_published_version_id").
		WithArgs("v-2", "clause-a", "v-0").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("clause-a").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	err = store.PromoteAndDemote(context.Background(), "clause-a", "v-2", "v-0")
	var race *ConcurrentPublishError
	require.ErrorAs(t, err, &race)
	assert.Equal(t, "clause-a", race.EntityID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStorePromoteHappyPath(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewPostgresStore(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE content_entities SET current_published_version_id").
		WithArgs("v-2", "clause-a", "v-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'deprecated'")).
		WithArgs("v-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'published'")).
		WithArgs("v-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.PromoteAndDemote(context.Background(), "clause-a", "v-2", "v-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
