package resolver

import "slices"

// Graph is the dependency graph discovered for one resolution. Edges run
// from a dependent to the definitions it requires by name; selector refs
// contribute no edges.
type Graph struct {
	nodes   []string
	index   map[string]bool
	edges   map[string][]string
	reverse map[string][]string
}

func newGraph() *Graph {
	return &Graph{
		index:   make(map[string]bool),
		edges:   make(map[string][]string),
		reverse: make(map[string][]string),
	}
}

func (g *Graph) addNode(name string) {
	if g.index[name] {
		return
	}
	g.index[name] = true
	g.nodes = append(g.nodes, name)
}

func (g *Graph) addEdge(from, to string) {
	if slices.Contains(g.edges[from], to) {
		return
	}
	g.edges[from] = append(g.edges[from], to)
	g.reverse[to] = append(g.reverse[to], from)
}

// Nodes returns every identity in discovery order.
func (g *Graph) Nodes() []string {
	return slices.Clone(g.nodes)
}

// Has reports whether name is part of the graph.
func (g *Graph) Has(name string) bool {
	return g.index[name]
}

// Edges returns the direct dependencies of from in declaration order.
func (g *Graph) Edges(from string) []string {
	return slices.Clone(g.edges[from])
}

// DependenciesOf returns every identity name depends on, directly or
// transitively, nearest first.
func (g *Graph) DependenciesOf(name string) []string {
	return g.reach(name, g.edges)
}

// DependentsOf returns every identity that depends on name, directly or
// transitively, nearest first.
func (g *Graph) DependentsOf(name string) []string {
	return g.reach(name, g.reverse)
}

func (g *Graph) reach(start string, adj map[string][]string) []string {
	seen := map[string]bool{start: true}
	var out []string
	queue := slices.Clone(adj[start])
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		out = append(out, next)
		queue = append(queue, adj[next]...)
	}
	return out
}
