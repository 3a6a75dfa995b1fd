package manifest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/modvault/modvault/internal/chunk"
)

// CycleWarning reports a reference cycle among managed chunks.
//
// Cycles are warnings, not errors: the runtime breaks them with lazy
// aliases, so a cyclic graph still loads. Surfacing them at build time
// gives authors the chance to untangle graphs that only work by virtue of
// that machinery.
type CycleWarning struct {
	Path    []string `json:"path"`    // Cycle path: ["modvault:a.js", "modvault:b.js", "modvault:a.js"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning" or "info"
}

func (w CycleWarning) String() string {
	return fmt.Sprintf("%s: %s", strings.Join(w.Path, " -> "), w.Message)
}

// AnalyzeCycles performs static cycle analysis on the managed chunk graph.
//
// The algorithm:
//  1. Build the virtual-identifier dependency graph from the manifest
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or a self-loop as a cycle warning
//
// A DAG returns an empty warning list.
func AnalyzeCycles(m *chunk.Manifest) []CycleWarning {
	graph := make(dependencyGraph, len(m.Chunks))
	for _, vid := range m.SortedIDs() {
		deps := m.Chunks[vid].Deps
		graph[vid] = append([]string{}, deps...)
	}

	sccs := tarjanSCC(graph)

	var warnings []CycleWarning
	for _, scc := range sccs {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warnings = append(warnings, sccToWarning(scc, graph))
		}
	}
	return warnings
}

// dependencyGraph maps virtual identifier -> referenced virtual identifiers.
type dependencyGraph map[string][]string

func hasSelfLoop(node string, graph dependencyGraph) bool {
	for _, neighbor := range graph[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
//
// Returns a list of SCCs, where each SCC is a list of virtual identifiers.
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(graph dependencyGraph) [][]string {
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

		for _, w := range graph[v] {
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
			sccs = append(sccs, scc)
		}
	}

	// Deterministic visit order so warning paths are stable across runs.
	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

func sccToWarning(scc []string, graph dependencyGraph) CycleWarning {
	if len(scc) == 1 {
		vid := scc[0]
		return CycleWarning{
			Path:    []string{vid, vid},
			Message: fmt.Sprintf("chunk imports itself: %s", vid),
			Level:   "warning",
		}
	}

	path := reconstructCyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("reference cycle (broken at runtime via lazy aliases): %s", strings.Join(path, " -> ")),
		Level:   "info",
	}
}

// reconstructCyclePath builds a representative cycle path from an SCC.
//
// Strategy: start at the first node, follow edges to other SCC members,
// continue until the walk returns to the start node.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	sccSet := make(map[string]bool, len(scc))
	for _, node := range scc {
		sccSet[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if sccSet[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}

		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}

	return path
}
