// Package depgraph implements the bi-directional dependency graph between
// cells: which positions a formula cell references (out-edges) and which
// positions reference it (in-edges). It enforces acyclicity at edge-install
// time, drives the lazy cache-invalidation walk, and keeps placeholder
// vertices for references to cells that do not yet exist.
package depgraph

import (
	"errors"

	"golang.org/x/exp/maps"

	"github.com/vogtb/sheetgraph/position"
)

// ErrCycle is returned by TryInstall when the proposed out-edge set would
// close a cycle. No edges are installed when this is returned.
var ErrCycle = errors.New("depgraph: would create a circular dependency")

// vertex is a node in the graph, keyed by position. It exists because
// either a cell lives there (hasCell) or at least one other vertex
// references it (a placeholder, hasCell == false).
type vertex struct {
	out     map[position.Position]struct{} // positions this vertex references
	in      map[position.Position]struct{} // positions that reference this vertex
	hasCell bool
	stale   bool
}

func newVertex() *vertex {
	return &vertex{
		out: make(map[position.Position]struct{}),
		in:  make(map[position.Position]struct{}),
	}
}

// isEmpty reports whether v has no reason left to exist: no backing cell
// and no edges in either direction.
func (v *vertex) isEmpty() bool {
	return !v.hasCell && len(v.in) == 0 && len(v.out) == 0
}

// Graph is the dependency graph owned by a sheet. The zero value is not
// usable; construct with New.
type Graph struct {
	vertices map[position.Position]*vertex
}

// New creates an empty dependency graph.
func New() *Graph {
	return &Graph{vertices: make(map[position.Position]*vertex)}
}

// VertexCount reports the number of vertices currently tracked, including
// placeholders. It exists for tests to assert placeholder lifecycle
// without reaching into unexported fields.
func (g *Graph) VertexCount() int {
	return len(g.vertices)
}

// HasVertex reports whether pos has any vertex at all (cell or
// placeholder).
func (g *Graph) HasVertex(pos position.Position) bool {
	_, ok := g.vertices[pos]
	return ok
}

// Positions returns every position with a vertex, cell or placeholder,
// in no particular order. Used by the sheet engine to pre-check a
// row/column insertion against the grid's maximum extent before
// mutating anything.
func (g *Graph) Positions() []position.Position {
	return maps.Keys(g.vertices)
}

// HasCell reports whether pos is backed by an actual cell, as opposed to
// existing only as a placeholder for dangling references.
func (g *Graph) HasCell(pos position.Position) bool {
	v, ok := g.vertices[pos]
	return ok && v.hasCell
}

func (g *Graph) getOrCreate(pos position.Position) *vertex {
	v, ok := g.vertices[pos]
	if !ok {
		v = newVertex()
		g.vertices[pos] = v
	}
	return v
}

func (g *Graph) cleanupIfEmpty(pos position.Position) {
	if v, ok := g.vertices[pos]; ok && v.isEmpty() {
		delete(g.vertices, pos)
	}
}

// TryInstall atomically replaces dependent's out-edge set with newRefs.
// It runs a depth-first search over the graph as it would exist with
// newRefs already in place (without mutating anything) and fails with
// ErrCycle if dependent would be reachable from itself. On success,
// dependent's old out-edges are retired (deleting any placeholder whose
// last in-edge that removes), and fresh out-edges (and any needed
// placeholder vertices) are installed.
func (g *Graph) TryInstall(dependent position.Position, newRefs []position.Position) error {
	if g.wouldCycle(dependent, newRefs) {
		return ErrCycle
	}

	dv := g.getOrCreate(dependent)
	dv.hasCell = true

	oldRefs := maps.Keys(dv.out)
	for _, old := range oldRefs {
		if ov, ok := g.vertices[old]; ok {
			delete(ov.in, dependent)
			g.cleanupIfEmpty(old)
		}
	}

	dv.out = make(map[position.Position]struct{}, len(newRefs))
	for _, ref := range newRefs {
		dv.out[ref] = struct{}{}
		rv := g.getOrCreate(ref)
		rv.in[dependent] = struct{}{}
	}
	return nil
}

// wouldCycle runs a three-colour DFS from dependent over a combined view
// of the existing graph with dependent's out-edges replaced by newRefs,
// without mutating any state. white: unvisited; grey: on the current DFS
// stack; black: fully explored. A grey-on-grey encounter is a cycle.
func (g *Graph) wouldCycle(dependent position.Position, newRefs []position.Position) bool {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[position.Position]int)

	var neighbors func(p position.Position) []position.Position
	neighbors = func(p position.Position) []position.Position {
		if p == dependent {
			return newRefs
		}
		v, ok := g.vertices[p]
		if !ok {
			return nil
		}
		return maps.Keys(v.out)
	}

	var visit func(p position.Position) bool
	visit = func(p position.Position) bool {
		color[p] = grey
		for _, next := range neighbors(p) {
			switch color[next] {
			case grey:
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		color[p] = black
		return false
	}

	return visit(dependent)
}

// InvalidateDependents marks pos and every vertex transitively depending
// on it (via in-edges) as stale. pos itself is always walked from, since
// the caller has just changed it; the walk stops descending through a
// dependent that is already stale, since staleness is a fixpoint until
// the next read clears it.
func (g *Graph) InvalidateDependents(pos position.Position) {
	v, ok := g.vertices[pos]
	if !ok {
		return
	}
	var mark func(p position.Position)
	mark = func(p position.Position) {
		dv, ok := g.vertices[p]
		if !ok || dv.stale {
			return
		}
		dv.stale = true
		for next := range dv.in {
			mark(next)
		}
	}
	v.stale = true
	for dep := range v.in {
		mark(dep)
	}
}

// IsStale reports whether the cached value at pos must be recomputed. A
// position with no vertex is trivially not stale (there is nothing
// cached).
func (g *Graph) IsStale(pos position.Position) bool {
	v, ok := g.vertices[pos]
	return ok && v.stale
}

// ClearStale marks pos fresh again, called after a successful
// recomputation of its cached value.
func (g *Graph) ClearStale(pos position.Position) {
	if v, ok := g.vertices[pos]; ok {
		v.stale = false
	}
}

// Remove deletes the vertex at pos (called when the cell there is cleared
// or destroyed by a row/column deletion). Out-edges from pos are retired,
// possibly deleting placeholders they kept alive. If pos still has
// in-edges (other formulas dangling on it), a fresh placeholder is left
// behind at pos so those dependents keep pointing at a live vertex.
func (g *Graph) Remove(pos position.Position) {
	v, ok := g.vertices[pos]
	if !ok {
		return
	}
	for ref := range v.out {
		if rv, ok := g.vertices[ref]; ok {
			delete(rv.in, pos)
			g.cleanupIfEmpty(ref)
		}
	}
	delete(g.vertices, pos)
	if len(v.in) > 0 {
		placeholder := newVertex()
		placeholder.in = v.in
		g.vertices[pos] = placeholder
	}
}

// remapFunc maps an existing vertex key to its position after a row/column
// shift. ok == false means the position was annihilated (fell inside a
// deleted range) and the vertex should be destroyed.
type remapFunc func(position.Position) (newPos position.Position, ok bool)

// remapKeys renames every vertex's key according to remap, dropping edges
// that touch an annihilated endpoint and any placeholder left with no
// edges as a result. It is the graph-side counterpart of
// formula.Node's shiftRows/shiftCols/deleteRows/deleteCols.
func (g *Graph) remapKeys(remap remapFunc) {
	type renamed struct {
		pos position.Position
		v   *vertex
	}
	kept := make(map[position.Position]renamed, len(g.vertices))
	for oldPos, v := range g.vertices {
		newPos, ok := remap(oldPos)
		if !ok {
			continue
		}
		kept[oldPos] = renamed{pos: newPos, v: &vertex{
			out:     make(map[position.Position]struct{}, len(v.out)),
			in:      make(map[position.Position]struct{}, len(v.in)),
			hasCell: v.hasCell,
			stale:   v.stale,
		}}
	}

	next := make(map[position.Position]*vertex, len(kept))
	for oldPos, r := range kept {
		old := g.vertices[oldPos]
		for out := range old.out {
			if target, ok := kept[out]; ok {
				r.v.out[target.pos] = struct{}{}
			}
		}
		for in := range old.in {
			if source, ok := kept[in]; ok {
				r.v.in[source.pos] = struct{}{}
			}
		}
		if r.v.isEmpty() {
			continue
		}
		next[r.pos] = r.v
	}
	g.vertices = next
}

// ShiftRows renames every vertex with Row >= before down by count.
func (g *Graph) ShiftRows(before, count int) {
	g.remapKeys(func(p position.Position) (position.Position, bool) {
		if p.Row < before {
			return p, true
		}
		return position.New(p.Row+count, p.Col), true
	})
}

// ShiftCols renames every vertex with Col >= before right by count.
func (g *Graph) ShiftCols(before, count int) {
	g.remapKeys(func(p position.Position) (position.Position, bool) {
		if p.Col < before {
			return p, true
		}
		return position.New(p.Row, p.Col+count), true
	})
}

// DeleteRowRange destroys every vertex in rows [first, first+count) and
// shifts the rest up by count.
func (g *Graph) DeleteRowRange(first, count int) {
	g.remapKeys(func(p position.Position) (position.Position, bool) {
		if p.Row < first {
			return p, true
		}
		if p.Row < first+count {
			return position.Position{}, false
		}
		return position.New(p.Row-count, p.Col), true
	})
}

// DeleteColRange destroys every vertex in columns [first, first+count)
// and shifts the rest left by count.
func (g *Graph) DeleteColRange(first, count int) {
	g.remapKeys(func(p position.Position) (position.Position, bool) {
		if p.Col < first {
			return p, true
		}
		if p.Col < first+count {
			return position.Position{}, false
		}
		return position.New(p.Row, p.Col-count), true
	})
}
