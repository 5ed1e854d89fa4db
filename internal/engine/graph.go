package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/updraft-io/updraft/internal/ir"
)

// GraphErrorKind discriminates the two ways manifest dependencies can be
// unusable.
type GraphErrorKind string

const (
	UnresolvedDependency GraphErrorKind = "unresolved_dependency"
	CyclicDependency     GraphErrorKind = "cyclic_dependency"
)

// GraphError is a fatal dependency problem. No partial graph is returned
// alongside one and no deployment call is ever made after one.
type GraphError struct {
	Kind    GraphErrorKind
	UnitID  string
	Missing string
	Cycle   []string
}

func (e *GraphError) Error() string {
	switch e.Kind {
	case UnresolvedDependency:
		return fmt.Sprintf("unit %s depends on %s, which does not exist", e.UnitID, e.Missing)
	case CyclicDependency:
		return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
	default:
		return fmt.Sprintf("invalid dependency graph involving %s", e.UnitID)
	}
}

// Graph is the directed acyclic dependency graph over build units.
type Graph struct {
	nodes map[string]*graphNode
}

type graphNode struct {
	id         string
	dependsOn  []string
	dependedBy []string
}

// BuildGraph resolves every unit's declared dependencies against the
// manifest and rejects unresolved references and cycles. A valid graph
// is always acyclic.
func BuildGraph(manifest *ir.Manifest) (*Graph, error) {
	g := &Graph{nodes: make(map[string]*graphNode, len(manifest.Units))}

	for _, u := range manifest.Units {
		g.nodes[u.ID] = &graphNode{id: u.ID}
	}

	for _, u := range manifest.Units {
		node := g.nodes[u.ID]
		seen := make(map[string]bool, len(u.DependsOn))
		for _, dep := range u.DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				return nil, &GraphError{Kind: UnresolvedDependency, UnitID: u.ID, Missing: dep}
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			node.dependsOn = append(node.dependsOn, dep)
			g.nodes[dep].dependedBy = append(g.nodes[dep].dependedBy, u.ID)
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &GraphError{Kind: CyclicDependency, Cycle: cycle}
	}
	return g, nil
}

// Dependencies returns the direct dependencies of a unit.
func (g *Graph) Dependencies(id string) []string {
	if node, ok := g.nodes[id]; ok {
		return node.dependsOn
	}
	return nil
}

// Dependents returns the units directly depending on a unit.
func (g *Graph) Dependents(id string) []string {
	if node, ok := g.nodes[id]; ok {
		return node.dependedBy
	}
	return nil
}

// TransitiveDependents returns every unit downstream of id, sorted.
func (g *Graph) TransitiveDependents(id string) []string {
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(cur string) {
		for _, dep := range g.Dependents(cur) {
			if !seen[dep] {
				seen[dep] = true
				walk(dep)
			}
		}
	}
	walk(id)
	out := make([]string, 0, len(seen))
	for dep := range seen {
		out = append(out, dep)
	}
	sort.Strings(out)
	return out
}

// Plan groups the topological order into maximal batches: every unit in
// a batch has all dependencies satisfied by strictly earlier batches.
// Units inside a batch are sorted ascending by identifier.
func (g *Graph) Plan() *ir.Plan {
	indegree := make(map[string]int, len(g.nodes))
	for id, node := range g.nodes {
		indegree[id] = len(node.dependsOn)
	}

	var ready []string
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}

	plan := &ir.Plan{}
	for len(ready) > 0 {
		sort.Strings(ready)
		batch := ready
		ready = nil

		for _, id := range batch {
			for _, dependent := range g.nodes[id].dependedBy {
				indegree[dependent]--
				if indegree[dependent] == 0 {
					ready = append(ready, dependent)
				}
			}
		}
		plan.Batches = append(plan.Batches, batch)
	}
	return plan
}

// findCycle runs Kahn's algorithm and, when nodes remain unprocessed,
// extracts one concrete cycle from the remainder for the error message.
func (g *Graph) findCycle() []string {
	indegree := make(map[string]int, len(g.nodes))
	for id, node := range g.nodes {
		indegree[id] = len(node.dependsOn)
	}

	var queue []string
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++
		for _, dependent := range g.nodes[id].dependedBy {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}
	if processed == len(g.nodes) {
		return nil
	}

	// Remaining nodes all sit on or behind a cycle. Walk dependency
	// edges within the remainder until a node repeats.
	remaining := make(map[string]bool)
	var ids []string
	for id, deg := range indegree {
		if deg > 0 {
			remaining[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	start := ids[0]
	var path []string
	index := make(map[string]int)
	cur := start
	for {
		if at, ok := index[cur]; ok {
			cycle := append([]string(nil), path[at:]...)
			return append(cycle, cur)
		}
		index[cur] = len(path)
		path = append(path, cur)

		next := ""
		deps := append([]string(nil), g.nodes[cur].dependsOn...)
		sort.Strings(deps)
		for _, dep := range deps {
			if remaining[dep] {
				next = dep
				break
			}
		}
		cur = next
	}
}
