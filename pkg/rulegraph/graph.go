// Package rulegraph builds the id-arena graph of dependency, conflict and
// scope rules embedded in a set of versions. A graph is an immutable
// snapshot: it is built once from already-frozen version content and never
// mutated afterwards, which is what makes concurrent evaluation safe
// without locks.
package rulegraph

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/klauselwerk/core/pkg/content"
)

// Graph indexes the rules of a version set by entity id. Edges are stored
// as id references, never pointers, so traversal is independent of the
// storage technology behind the versions.
type Graph struct {
	versions map[string]*content.Version // version id → version
	byEntity map[string]*content.Version // entity id → version in this set
	// requires adjacency: entity id → target entity ids, one entry per
	// requires rule, insertion order preserved.
	requires map[string][][]string
	// incompat is the symmetric closure of incompatible_with, indexed both
	// ways at load time so evaluation never special-cases direction.
	incompat map[string]map[string]bool
	hash     string
}

// Build constructs a graph from the union of rules embedded in versions,
// typically all currently-published versions of a publisher or the set
// pinned by a contract. Versions with an unknown rule type are rejected:
// that is malformed input, not an evaluatable state.
func Build(versions []*content.Version) (*Graph, error) {
	g := &Graph{
		versions: make(map[string]*content.Version, len(versions)),
		byEntity: make(map[string]*content.Version, len(versions)),
		requires: make(map[string][][]string),
		incompat: make(map[string]map[string]bool),
	}

	for _, v := range versions {
		if v == nil {
			continue
		}
		g.versions[v.ID] = v
		g.byEntity[v.EntityID] = v

		for _, r := range v.Rules {
			if !r.Known() {
				return nil, fmt.Errorf("rulegraph: version %s carries unknown rule type %q", v.ID, r.Type)
			}
			switch r.Type {
			case content.RuleRequires:
				g.requires[v.EntityID] = append(g.requires[v.EntityID], r.Targets)
			case content.RuleIncompatibleWith:
				for _, t := range r.Targets {
					g.link(v.EntityID, t)
					g.link(t, v.EntityID)
				}
			}
		}
	}

	g.hash = g.computeHash()
	return g, nil
}

func (g *Graph) link(a, b string) {
	if g.incompat[a] == nil {
		g.incompat[a] = make(map[string]bool)
	}
	g.incompat[a][b] = true
}

// Resolve returns the version selected for an entity in this graph.
func (g *Graph) Resolve(entityID string) (*content.Version, bool) {
	v, ok := g.byEntity[entityID]
	return v, ok
}

// Version returns a member version by its version id.
func (g *Graph) Version(versionID string) (*content.Version, bool) {
	v, ok := g.versions[versionID]
	return v, ok
}

// Incompatible reports whether two entities are declared incompatible, in
// either direction.
func (g *Graph) Incompatible(a, b string) bool {
	return g.incompat[a][b]
}

// Hash identifies the graph snapshot. Validation reports embed it so a
// report is traceable to the exact ruleset it was computed against.
func (g *Graph) Hash() string { return g.hash }

func (g *Graph) computeHash() string {
	ids := make([]string, 0, len(g.versions))
	for id, v := range g.versions {
		ids = append(ids, id+"@"+v.ContentDigest)
	}
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(strings.Join(ids, "\n")))
	return hex.EncodeToString(sum[:])
}

// FindCycles runs a depth-first search over the directed requires edges
// and returns every cycle as the ordered list of entity ids forming the
// loop. The publishing gate calls this; runtime evaluation never does,
// because live selections are finite and evaluated without recursion.
//
// A requires rule naming several alternative targets contributes an edge
// to each alternative: a conservative over-approximation, so a reported
// cycle always names a real chain of requires references.
func (g *Graph) FindCycles() [][]string {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS path
		black = 2 // fully explored
	)
	color := make(map[string]int, len(g.requires))
	var path []string
	var cycles [][]string
	seen := make(map[string]bool)

	var visit func(node string)
	visit = func(node string) {
		color[node] = gray
		path = append(path, node)

		for _, targets := range g.requires[node] {
			for _, t := range targets {
				switch color[t] {
				case white:
					visit(t)
				case gray:
					// Back edge: the cycle is the path suffix from t.
					start := 0
					for i, p := range path {
						if p == t {
							start = i
							break
						}
					}
					cycle := append([]string(nil), path[start:]...)
					if key := canonicalCycleKey(cycle); !seen[key] {
						seen[key] = true
						cycles = append(cycles, cycle)
					}
				}
			}
		}

		path = path[:len(path)-1]
		color[node] = black
	}

	roots := make([]string, 0, len(g.requires))
	for node := range g.requires {
		roots = append(roots, node)
	}
	sort.Strings(roots)
	for _, node := range roots {
		if color[node] == white {
			visit(node)
		}
	}
	return cycles
}

// canonicalCycleKey rotates a cycle so its smallest member comes first,
// making A→B→C→A and B→C→A→B the same cycle for dedup purposes.
func canonicalCycleKey(cycle []string) string {
	if len(cycle) == 0 {
		return ""
	}
	min := 0
	for i, id := range cycle {
		if id < cycle[min] {
			min = i
		}
	}
	rotated := make([]string, 0, len(cycle))
	rotated = append(rotated, cycle[min:]...)
	rotated = append(rotated, cycle[:min]...)
	return strings.Join(rotated, "→")
}
