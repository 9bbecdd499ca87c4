package compiler

import (
	"fmt"
	"slices"
	"strings"
)

// Cycle is a loop in a descriptor hierarchy.
type Cycle struct {
	// Kind is "predicate.children" or "entity.parents".
	Kind    string   `json:"kind"`
	Path    []string `json:"path"` // ["a", "b", "a"]
	Message string   `json:"message"`
}

// AnalyzeCycles finds loops among predicate children and among entity
// parents. Descriptors are built children first, so a loop cannot be
// built at all.
//
// Each strongly connected component with more than one member, or with a
// self-loop, is one cycle. Results are ordered by kind, then by the
// smallest name in the cycle.
func AnalyzeCycles(spec *Spec) []Cycle {
	children := make(hierarchy)
	for _, ps := range spec.Predicates {
		children[ps.Name] = append(children[ps.Name], ps.Children...)
	}
	parents := make(hierarchy)
	for _, es := range spec.Entities {
		parents[es.Name] = append(parents[es.Name], es.Parents...)
	}

	var cycles []Cycle
	for _, g := range []struct {
		kind  string
		graph hierarchy
	}{
		{"entity.parents", parents},
		{"predicate.children", children},
	} {
		for _, scc := range tarjanSCC(g.graph) {
			if len(scc) > 1 || hasSelfLoop(scc[0], g.graph) {
				path := reconstructCyclePath(scc, g.graph)
				cycles = append(cycles, Cycle{
					Kind:    g.kind,
					Path:    path,
					Message: fmt.Sprintf("hierarchy cycle: %s", strings.Join(path, " → ")),
				})
			}
		}
	}
	return cycles
}

// hierarchy maps a name to the names it references.
type hierarchy map[string][]string

func (g hierarchy) nodes() []string {
	names := make([]string, 0, len(g))
	for n := range g {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func hasSelfLoop(node string, g hierarchy) bool {
	return slices.Contains(g[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in name order so the output is deterministic.
func tarjanSCC(g hierarchy) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			slices.Sort(scc)
			sccs = append(sccs, scc)
		}
	}

	for _, node := range g.nodes() {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	slices.SortFunc(sccs, func(a, b []string) int { return strings.Compare(a[0], b[0]) })
	return sccs
}

// reconstructCyclePath walks edges inside scc from its first member until
// it returns there.
func reconstructCyclePath(scc []string, g hierarchy) []string {
	inSCC := make(map[string]bool, len(scc))
	for _, n := range scc {
		inSCC[n] = true
	}

	start := scc[0]
	path := []string{start}
	visited := map[string]bool{start: true}
	for cur := start; ; {
		next := ""
		for _, w := range g[cur] {
			if w == start || (inSCC[w] && !visited[w]) {
				next = w
				break
			}
		}
		if next == "" {
			return path
		}
		path = append(path, next)
		if next == start {
			return path
		}
		visited[next] = true
		cur = next
	}
}
