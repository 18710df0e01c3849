package content_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klauselwerk/core/pkg/content"
)

// Once a version leaves draft, SaveVersion must refuse to carry content
// changes even when the caller hands in a mutated struct.
func TestStoreFreezesContentAfterDraft(t *testing.T) {
	store, svc := newFixture(t)
	ctx := testContext()
	createClauseEntity(t, store, "clause-a")
	createClauseEntity(t, store, "clause-b")

	v, err := svc.CreateDraft(ctx, "clause-a", clauseDraft("clause-b"))
	require.NoError(t, err)
	reviewed, err := svc.SubmitForReview(ctx, v.ID, "reviewer-1")
	require.NoError(t, err)

	tampered := reviewed.Clone()
	tampered.Clause.Text = "rewritten after freeze"
	require.NoError(t, store.SaveVersion(ctx, tampered, content.StatusReview))

	stored, err := store.LoadVersion(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "Body text.", stored.Clause.Text)
}

// A promote that fails on the successor side must leave the predecessor
// untouched: the published version survives and the entity pointer still
// names it, exactly as after a rolled-back transaction.
func TestFailedPromoteLeavesPublishedVersionIntact(t *testing.T) {
	store, svc := newFixture(t)
	ctx := testContext()
	createClauseEntity(t, store, "clause-a")
	createClauseEntity(t, store, "clause-b")

	v1 := publishClause(t, svc, "clause-a", "clause-b")
	draft, err := svc.CreateDraft(ctx, "clause-a", clauseDraft("clause-b"))
	require.NoError(t, err)

	// The draft never went through review, so the promote must refuse it.
	err = store.PromoteAndDemote(ctx, "clause-a", draft.ID, v1.ID)
	var lcErr *content.LifecycleError
	require.ErrorAs(t, err, &lcErr)

	prev, err := store.LoadVersion(ctx, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, content.StatusPublished, prev.Status)

	entity, err := store.LoadEntity(ctx, "clause-a")
	require.NoError(t, err)
	assert.Equal(t, v1.ID, entity.CurrentPublishedVersionID)

	published, err := store.ListPublished(ctx, "tenant-1")
	require.NoError(t, err)
	require.Len(t, published, 1)
	assert.Equal(t, v1.ID, published[0].ID)

	// Same with a successor that does not exist at all.
	err = store.PromoteAndDemote(ctx, "clause-a", "no-such-version", v1.ID)
	var nf *content.NotFoundError
	require.ErrorAs(t, err, &nf)
	published, err = store.ListPublished(ctx, "tenant-1")
	require.NoError(t, err)
	require.Len(t, published, 1)
}

func TestSaveVersionGuardsExpectedStatus(t *testing.T) {
	store, svc := newFixture(t)
	ctx := testContext()
	createClauseEntity(t, store, "clause-a")
	createClauseEntity(t, store, "clause-b")

	v, err := svc.CreateDraft(ctx, "clause-a", clauseDraft("clause-b"))
	require.NoError(t, err)

	err = store.SaveVersion(ctx, v, content.StatusReview)
	var lcErr *content.LifecycleError
	require.ErrorAs(t, err, &lcErr)
	assert.Contains(t, lcErr.Precondition, "expected status review")
}

func TestLoadVersionVerifiesDigest(t *testing.T) {
	store := content.NewMemoryStore()
	ctx := testContext()
	createClauseEntity(t, store, "clause-a")

	v := &content.Version{
		ID:       "v-1",
		EntityID: "clause-a",
		Kind:     content.KindClause,
		Status:   content.StatusDraft,
		AuthorID: "author-1",
		Clause:   &content.ClauseBody{Heading: "H", Text: "T"},
	}
	require.NoError(t, store.InsertVersion(ctx, v))

	// Stamp a digest that does not match the stored content, as a corrupted
	// or tampered row would carry.
	v.Status = content.StatusReview
	v.ContentDigest = "deadbeef"
	require.NoError(t, store.SaveVersion(ctx, v, content.StatusDraft))

	_, err := store.LoadVersion(ctx, "v-1")
	var iv *content.ImmutabilityViolation
	require.ErrorAs(t, err, &iv)
	assert.Equal(t, "v-1", iv.ID)
}

func TestDigestIsCanonical(t *testing.T) {
	a := &content.Version{
		Kind:   content.KindClause,
		Clause: &content.ClauseBody{Heading: "H", Text: "T"},
		Rules: []content.Rule{{
			Type: content.RuleRequires, Severity: content.SeverityHard,
			Targets: []string{"x"}, Message: "m",
		}},
	}
	d1, err := content.Digest(a)
	require.NoError(t, err)
	d2, err := content.Digest(a.Clone())
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	b := a.Clone()
	b.Clause.Text = "T2"
	d3, err := content.Digest(b)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d3)
}
