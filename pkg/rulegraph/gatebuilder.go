package rulegraph

import (
	"context"

	"github.com/klauselwerk/core/pkg/content"
)

// GateBuilder adapts Build for the publishing gate: the candidate version
// replaces its entity's published sibling, so the cycle check sees the
// graph as it would exist after publication.
func GateBuilder() content.GraphBuilder {
	return func(ctx context.Context, candidate *content.Version, published []*content.Version) (content.CycleFinder, error) {
		versions := make([]*content.Version, 0, len(published)+1)
		for _, v := range published {
			if v.EntityID == candidate.EntityID {
				continue
			}
			versions = append(versions, v)
		}
		versions = append(versions, candidate)
		return Build(versions)
	}
}
