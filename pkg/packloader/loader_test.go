package packloader_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klauselwerk/core/pkg/audit"
	"github.com/klauselwerk/core/pkg/content"
	"github.com/klauselwerk/core/pkg/packloader"
	"github.com/klauselwerk/core/pkg/rulegraph"
	"github.com/klauselwerk/core/pkg/tenants"
)

const samplePack = `
name: base-library
schema_version: "1.0"
description: Core clause library
entities:
  - id: clause-liability
    kind: clause
    title: Liability Cap
    author: author-1
    clause:
      heading: Liability
      text: Liability is capped at the contract value.
    rules:
      - type: requires
        severity: soft
        targets: [clause-warranty]
        message: usually combined with a warranty clause
  - id: template-services
    kind: template
    title: Services Agreement
    author: author-1
    template:
      slots:
        - id: slot-liability
          title: Liability
          required: true
          allowed_entity_ids: [clause-liability]
          default_entity_id: clause-liability
`

func TestParseAcceptsSupportedSchema(t *testing.T) {
	loader, err := packloader.NewLoader()
	require.NoError(t, err)

	pack, err := loader.Parse([]byte(samplePack), "base.yaml")
	require.NoError(t, err)
	assert.Equal(t, "base-library", pack.Name)
	require.Len(t, pack.Entities, 2)

	draft, err := pack.Entities[0].Draft()
	require.NoError(t, err)
	require.NotNil(t, draft.Clause)
	assert.Equal(t, "Liability", draft.Clause.Heading)
	require.Len(t, draft.Rules, 1)
	assert.Equal(t, content.RuleRequires, draft.Rules[0].Type)
	assert.Equal(t, content.SeveritySoft, draft.Rules[0].Severity)

	tmplDraft, err := pack.Entities[1].Draft()
	require.NoError(t, err)
	require.NotNil(t, tmplDraft.Template)
	assert.Equal(t, "clause-liability", tmplDraft.Template.Slots[0].DefaultEntityID)
}

func TestParseRejectsUnsupportedSchema(t *testing.T) {
	loader, err := packloader.NewLoader()
	require.NoError(t, err)

	_, err = loader.Parse([]byte("name: x\nschema_version: \"2.0\"\n"), "future.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside supported range")

	_, err = loader.Parse([]byte("schema_version: \"1.0\"\n"), "nameless.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")
}

func TestDraftRejectsUnknownRuleType(t *testing.T) {
	loader, err := packloader.NewLoader()
	require.NoError(t, err)

	pack, err := loader.Parse([]byte(`
name: bad
schema_version: "1.0"
entities:
  - id: clause-x
    kind: clause
    title: X
    author: a
    clause: {heading: H, text: T}
    rules:
      - type: implies
        severity: hard
        targets: [y]
        message: m
`), "bad.yaml")
	require.NoError(t, err)

	_, err = pack.Entities[0].Draft()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "implies")
}

func TestLoadDirIsLexicographic(t *testing.T) {
	dir := t.TempDir()
	write := func(name, packName string) {
		data := "name: " + packName + "\nschema_version: \"1.0\"\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(data), 0o644))
	}
	write("20-extras.yaml", "extras")
	write("10-base.yaml", "base")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))

	loader, err := packloader.NewLoader()
	require.NoError(t, err)
	packs, err := loader.LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, packs, 2)
	assert.Equal(t, "base", packs[0].Name)
	assert.Equal(t, "extras", packs[1].Name)
}

// Applying a pack seeds entities and drafts through the normal lifecycle;
// nothing gets published behind the gate's back.
func TestApplySeedsDrafts(t *testing.T) {
	ctx := tenants.WithScope(context.Background(), tenants.Scope{
		TenantID: "tenant-1", ActorID: "importer-1",
	})
	store := content.NewMemoryStore()
	gate, err := content.NewGate(store, rulegraph.GateBuilder())
	require.NoError(t, err)
	svc := content.NewService(store, gate, audit.Nop())

	loader, err := packloader.NewLoader()
	require.NoError(t, err)
	pack, err := loader.Parse([]byte(samplePack), "base.yaml")
	require.NoError(t, err)

	versions, err := loader.Apply(ctx, pack, store, svc)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	for _, v := range versions {
		assert.Equal(t, content.StatusDraft, v.Status)
	}

	entity, err := store.LoadEntity(ctx, "clause-liability")
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", entity.TenantID)
	assert.Empty(t, entity.CurrentPublishedVersionID)

	// Re-applying produces fresh drafts on the existing entities.
	again, err := loader.Apply(ctx, pack, store, svc)
	require.NoError(t, err)
	require.Len(t, again, 2)
	assert.NotEqual(t, versions[0].ID, again[0].ID)
}
