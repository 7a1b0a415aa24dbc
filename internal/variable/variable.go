// Package variable implements the dependency graph over a rule's variables:
// root election, depth assignment and the join ordering sort. The compiler
// walks this ordering to decide which term resolves which variable first.
package variable

import (
	"fmt"
	"math"
	"sort"
)

// Kind distinguishes a variable that is a term's subject (and therefore
// resolves to a whole table during matching) from one that only appears as
// a predicate or object (and resolves to a single entity).
type Kind int

const (
	KindTable Kind = iota
	KindEntity
)

// Var is one variable slot in a compiled rule.
type Var struct {
	Name   string
	Kind   Kind
	Occurs int // number of terms in which this variable is the subject
	Depth  int // join order: how many terms must resolve before this one

	marked bool // cycle-detection flag used during depth assignment
}

const unassigned = math.MaxInt32

// maxOccurs bounds how many terms may share one subject variable; beyond
// this the dependency graph is almost certainly a malformed expression.
const maxOccurs = 256

// Graph tracks a rule's variables and the terms that relate them, and
// computes the join order used by the compiler.
type Graph struct {
	vars  []*Var
	index map[string]int

	// coOccurs[i] holds the set of variable indices that share a term with
	// variable i (subject, predicate or object slots of the same term),
	// used to propagate depth across variables not directly linked by a
	// subject occurrence — P(X, Y), Q(Z, Y) links Z to the graph via Y.
	coOccurs [][]int
}

// NewGraph creates an empty variable graph.
func NewGraph() *Graph {
	return &Graph{index: make(map[string]int)}
}

func (g *Graph) ensure(name string, kind Kind) int {
	if i, ok := g.index[name]; ok {
		return i
	}
	i := len(g.vars)
	g.index[name] = i
	g.vars = append(g.vars, &Var{Name: name, Kind: kind, Depth: unassigned})
	g.coOccurs = append(g.coOccurs, nil)
	return i
}

// RegisterSubject registers (or finds) a variable used as a term's
// subject. Subject variables are Table-kind and count toward Occurs, which
// both elects the root and breaks ties in join ordering.
func (g *Graph) RegisterSubject(name string) int {
	i := g.ensure(name, KindTable)
	g.vars[i].Occurs++
	return i
}

// RegisterOther registers (or finds) a variable used as a term's predicate
// or object. These resolve to a single entity rather than a table.
func (g *Graph) RegisterOther(name string) int {
	return g.ensure(name, KindEntity)
}

// AddTerm records that the variables at the given indices (any of which
// may be -1, meaning that slot is a literal) co-occur in one term, forming
// an edge used to propagate join depth between them.
func (g *Graph) AddTerm(varIndices ...int) {
	live := live(varIndices)
	for _, a := range live {
		for _, b := range live {
			if a == b {
				continue
			}
			g.coOccurs[a] = appendUnique(g.coOccurs[a], b)
		}
	}
}

func live(idx []int) []int {
	out := idx[:0:0]
	for _, i := range idx {
		if i >= 0 {
			out = append(out, i)
		}
	}
	return out
}

func appendUnique(list []int, v int) []int {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

// Var returns the variable at index i.
func (g *Graph) Var(i int) *Var { return g.vars[i] }

// Len returns the number of variables in the graph.
func (g *Graph) Len() int { return len(g.vars) }

// FindVariable returns the index of a variable by name.
func (g *Graph) FindVariable(name string) (int, bool) {
	i, ok := g.index[name]
	return i, ok
}

// electRoot picks the "." variable if present, else the Table-kind
// variable with the most occurrences; ties resolve to discovery order.
func (g *Graph) electRoot() (int, bool) {
	if i, ok := g.index["."]; ok && g.vars[i].Kind == KindTable {
		return i, true
	}

	best := -1
	for i, v := range g.vars {
		if v.Kind != KindTable {
			continue
		}
		if best == -1 || v.Occurs > g.vars[best].Occurs {
			best = i
		}
	}
	if best == -1 {
		return -1, false
	}
	return best, true
}

// AssignDepths runs root election and depth propagation over the graph.
// It returns an error if any Table-kind (subject) variable is left
// unconstrained, meaning unreachable from the root through shared terms;
// such a variable would have an unbounded result set.
func (g *Graph) AssignDepths() error {
	if len(g.vars) == 0 {
		return nil
	}

	for _, v := range g.vars {
		if v.Occurs > maxOccurs {
			return fmt.Errorf("variable %q is the subject of %d terms, more than the limit of %d", v.Name, v.Occurs, maxOccurs)
		}
	}

	root, ok := g.electRoot()
	if !ok {
		// No subject variables at all: the rule is ground, nothing to order.
		return nil
	}

	g.vars[root].Depth = 0
	g.vars[root].marked = true
	g.crawl(root)

	for i, v := range g.vars {
		if v.Kind == KindTable && v.Depth == unassigned {
			return fmt.Errorf("variable %q is unconstrained: no path from the root variable", g.vars[i].Name)
		}
	}
	return nil
}

// crawl performs a breadth-first propagation of join depth outward from a
// variable whose depth is already known, stopping at variables already
// marked; a back-edge in a cyclic dependency is simply a no-op since its
// target already carries a depth.
func (g *Graph) crawl(start int) {
	queue := []int{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		nextDepth := g.vars[cur].Depth + 1
		for _, nb := range g.coOccurs[cur] {
			if g.vars[nb].marked {
				continue
			}
			g.vars[nb].marked = true
			g.vars[nb].Depth = nextDepth
			queue = append(queue, nb)
		}
	}
}

// Order returns variable indices sorted by (Kind asc, Depth asc, Occurs
// desc), the join order the compiler emits terms in. Ties preserve
// discovery order via a stable sort.
func (g *Graph) Order() []int {
	order := make([]int, len(g.vars))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		va, vb := g.vars[order[a]], g.vars[order[b]]
		if va.Kind != vb.Kind {
			return va.Kind < vb.Kind
		}
		if va.Depth != vb.Depth {
			return va.Depth < vb.Depth
		}
		return va.Occurs > vb.Occurs
	})
	return order
}
