package packloader

import (
	"context"
	"errors"

	"github.com/klauselwerk/core/pkg/content"
	"github.com/klauselwerk/core/pkg/tenants"
)

// Apply imports a pack into the tenant scoped in ctx. Entities are created
// when missing; every pack entity gets a fresh draft version, so re-applying
// a pack produces new drafts instead of touching live content.
func (l *Loader) Apply(ctx context.Context, pack *Pack, store content.Store, svc *content.Service) ([]*content.Version, error) {
	created := make([]*content.Version, 0, len(pack.Entities))
	for _, pe := range pack.Entities {
		if err := l.ensureEntity(ctx, store, pe); err != nil {
			return created, err
		}
		draft, err := pe.Draft()
		if err != nil {
			return created, err
		}
		v, err := svc.CreateDraft(ctx, pe.ID, draft)
		if err != nil {
			return created, err
		}
		created = append(created, v)
	}
	l.logger.InfoContext(ctx, "pack applied",
		"pack", pack.Name, "schema", pack.SchemaVersion, "drafts", len(created))
	return created, nil
}

func (l *Loader) ensureEntity(ctx context.Context, store content.Store, pe PackEntity) error {
	_, err := store.LoadEntity(ctx, pe.ID)
	if err == nil {
		return nil
	}
	var notFound *content.NotFoundError
	if !errors.As(err, &notFound) {
		return err
	}
	return store.CreateEntity(ctx, &content.LogicalEntity{
		ID:           pe.ID,
		Kind:         content.EntityKind(pe.Kind),
		TenantID:     tenants.TenantID(ctx),
		Title:        pe.Title,
		Jurisdiction: pe.Jurisdiction,
		CreatedBy:    pe.Author,
	})
}
