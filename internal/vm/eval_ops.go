package vm

import (
	"github.com/kestrel-ecs/rulevm/internal/ecsstore"
	"github.com/kestrel-ecs/rulevm/internal/ids"
)

func setTable(frame *Frame, slot int, t ecsstore.TableID) {
	if slot < 0 {
		return
	}
	r := &frame.Registers[slot]
	r.Table = t
	r.TableBound = true
}

func setEntity(frame *Frame, slot int, e ids.ID) {
	if slot < 0 {
		return
	}
	r := &frame.Registers[slot]
	r.Entity = e
	r.EntityBound = true
}

// reify extracts the predicate/object lanes of a matched column into
// op.PredOut/op.ObjOut and records the column's matched id for
// disassembly/output.
func (it *Iter) reify(frame *Frame, op Op, candidate ids.ID) {
	if op.HasObject {
		if op.PredOut >= 0 {
			setEntity(frame, op.PredOut, ids.Hi(candidate))
		}
		if op.ObjOut >= 0 {
			setEntity(frame, op.ObjOut, ids.Lo(candidate))
		}
	} else if op.PredOut >= 0 {
		setEntity(frame, op.PredOut, candidate)
	}
	if op.Column >= 0 {
		frame.Columns[op.Column] = candidate
	}
}

// findNextMatch scans a table's type for the first column at or after
// from that satisfies f.
func findNextMatch(typ []ids.ID, f Filter, from int) (int, bool) {
	for i := from; i < len(typ); i++ {
		if f.matches(typ[i]) {
			return i, true
		}
	}
	return -1, false
}

// filterKey picks the table-set lookup key for a filter: the exact id
// when neither lane is a wildcard, the lane-preserving wildcard form when
// one lane is, or no key at all when both lanes (or the bare predicate)
// are wildcards — a case the compiler's emission order never needs to
// search on directly.
func filterKey(f Filter) (ids.ID, bool) {
	if !f.HasObject {
		if f.PredWildcard {
			return 0, false
		}
		return f.Pred, true
	}
	switch {
	case !f.PredWildcard && !f.ObjWildcard:
		return ids.Pair(f.Pred, f.Obj), true
	case !f.PredWildcard && f.ObjWildcard:
		return ids.Pair(f.Pred, ids.Wildcard), true
	case f.PredWildcard && !f.ObjWildcard:
		return ids.Pair(ids.Wildcard, f.Obj), true
	default:
		return 0, false
	}
}

func filterHasWildcard(f Filter) bool {
	if !f.HasObject {
		return f.PredWildcard
	}
	return f.PredWildcard || f.ObjWildcard
}

// --- SELECT ---------------------------------------------------------------

// selectCtx resumes a table-set scan across redo calls: tsIdx is the table
// currently open, column the last matching column found within it.
type selectCtx struct {
	ts     *ecsstore.TableSet
	tsIdx  int
	column int
}

func (it *Iter) evalSelect(cur int, op Op, frame *Frame, prev []Register, redo bool) bool {
	assert(op.VarOut >= 0, "select op %d has no subject variable to bind", op.Column)
	filter := pairToFilter(op, prev)
	key, ok := filterKey(filter)
	if !ok {
		return false
	}

	sctx, _ := it.ctx[cur].(*selectCtx)
	if !redo {
		ts, found := it.store.TableSetLookup(key)
		if !found || ts.Count() == 0 {
			return false
		}
		sctx = &selectCtx{ts: ts, tsIdx: -1, column: -1}
		it.ctx[cur] = sctx
	} else if sctx == nil {
		return false
	} else if sctx.tsIdx >= 0 {
		rec := sctx.ts.Get(sctx.tsIdx)
		typ := it.store.TableType(rec.Table)
		if col, ok := findNextMatch(typ, filter, sctx.column+1); ok {
			sctx.column = col
			setTable(frame, op.VarOut, rec.Table)
			it.reify(frame, op, typ[col])
			return true
		}
	}

	for {
		sctx.tsIdx++
		if sctx.tsIdx >= sctx.ts.Count() {
			return false
		}
		rec := sctx.ts.Get(sctx.tsIdx)
		if it.store.TableCount(rec.Table) == 0 {
			continue
		}
		typ := it.store.TableType(rec.Table)
		if col, ok := findNextMatch(typ, filter, rec.FirstColumn); ok {
			sctx.column = col
			setTable(frame, op.VarOut, rec.Table)
			it.reify(frame, op, typ[col])
			return true
		}
	}
}

// --- WITH -------------------------------------------------------------

type withCtx struct {
	column int
}

func (it *Iter) tableFromSubject(op Op, regs []Register) (ecsstore.TableID, bool) {
	if !op.Subject.IsVar {
		rec, ok := it.store.RecordOf(op.Subject.Lit)
		if !ok {
			return 0, false
		}
		return rec.Table, true
	}
	reg := regs[op.Subject.Var]
	if reg.TableBound {
		return reg.Table, true
	}
	if reg.EntityBound {
		rec, ok := it.store.RecordOf(reg.Entity)
		if !ok {
			return 0, false
		}
		return rec.Table, true
	}
	return 0, false
}

func (it *Iter) evalWith(cur int, op Op, frame *Frame, prev []Register, redo bool) bool {
	filter := pairToFilter(op, prev)
	table, ok := it.tableFromSubject(op, prev)
	if !ok {
		return false
	}
	typ := it.store.TableType(table)

	if !redo {
		start := 0
		if key, ok := filterKey(filter); ok {
			if ts, found := it.store.TableSetLookup(key); found {
				if rec, ok := ts.GetByTableID(table); ok {
					start = rec.FirstColumn
				}
			}
		}
		if col, ok := findNextMatch(typ, filter, start); ok {
			it.ctx[cur] = &withCtx{column: col}
			it.reify(frame, op, typ[col])
			return true
		}
		return it.tryTransitiveWith(op, frame, filter, table)
	}

	wctx, _ := it.ctx[cur].(*withCtx)
	if wctx == nil || !filterHasWildcard(filter) {
		return false
	}
	if col, ok := findNextMatch(typ, filter, wctx.column+1); ok {
		wctx.column = col
		it.reify(frame, op, typ[col])
		return true
	}
	return false
}

// tryTransitiveWith runs when With found no direct column but the
// predicate is transitive and the filter's object is concrete. The subject
// is already fixed (unlike DFS, which enumerates candidates), so this is a
// single reachability check, not a search with its own redo state.
func (it *Iter) tryTransitiveWith(op Op, frame *Frame, f Filter, table ecsstore.TableID) bool {
	if !f.Transitive || !f.HasObject || f.ObjWildcard {
		return false
	}
	typ := it.store.TableType(table)
	for _, c := range typ {
		if !ids.IsPair(c) || ids.Hi(c) != f.Pred {
			continue
		}
		if it.testIfTransitive(ids.Lo(c), f.Obj, f.Pred) {
			it.reify(frame, op, ids.Pair(f.Pred, f.Obj))
			return true
		}
	}
	return false
}

// testIfTransitive reports whether entity reaches target through one or
// more hops of pred. It is bounded by the transitive closure's size; a
// visited set is unnecessary for well-formed data since each hop strictly
// progresses toward an edge already in the store, but recursion depth is
// still capped as a safety net against cyclic fact files.
const maxTransitiveDepth = 10000

func (it *Iter) testIfTransitive(entity, target, pred ids.ID) bool {
	return it.testIfTransitiveDepth(entity, target, pred, 0)
}

func (it *Iter) testIfTransitiveDepth(entity, target, pred ids.ID, depth int) bool {
	if depth > maxTransitiveDepth {
		return false
	}
	direct := ids.Pair(pred, target)
	rec, ok := it.store.RecordOf(entity)
	if !ok {
		return false
	}
	typ := it.store.TableType(rec.Table)
	for _, c := range typ {
		if c == direct {
			return true
		}
	}
	for _, c := range typ {
		if !ids.IsPair(c) || ids.Hi(c) != pred {
			continue
		}
		next := ids.Lo(c)
		if next == entity {
			continue
		}
		if it.testIfTransitiveDepth(next, target, pred, depth+1) {
			return true
		}
	}
	return false
}

// --- DFS ----------------------------------------------------------------

// dfsLevel is one frontier in the transitive search: the table-set for
// pair(pred, frontier) — entities directly related to frontier — and a
// cursor walking its tables/rows.
type dfsLevel struct {
	ts       *ecsstore.TableSet
	tsIdx    int
	rows     []ids.ID
	row      int
	frontier ids.ID
}

func newDFSLevel(ts *ecsstore.TableSet, frontier ids.ID) dfsLevel {
	return dfsLevel{ts: ts, tsIdx: -1, row: -1, frontier: frontier}
}

// levelNext returns the next entity at this level, opening further tables
// in its table-set as rows run out.
func (it *Iter) levelNext(lv *dfsLevel) (ids.ID, bool) {
	for {
		if lv.row+1 < len(lv.rows) {
			lv.row++
			return lv.rows[lv.row], true
		}
		lv.tsIdx++
		if lv.tsIdx >= lv.ts.Count() {
			return 0, false
		}
		rec := lv.ts.Get(lv.tsIdx)
		lv.rows = it.store.TableRows(rec.Table)
		lv.row = -1
	}
}

type dfsCtx struct {
	stack   []dfsLevel
	visited map[ids.ID]bool
}

// evalDFS enumerates every entity that reaches the filter's (concrete)
// object through a chain of the transitive predicate, depth-first: each
// time an entity is found, a deeper frontier searching for entities
// related to *it* is pushed, so the next redo call descends before trying
// siblings — this is what makes multi-hop chains (e.g. a grandchild two
// ChildOf hops from the root) reachable. DFS is only emitted for a
// subject variable's governing term when its predicate is transitive, so
// unlike Select it resolves the subject straight to an Entity register;
// the compiler skips the usual per-row Each-splice for such a variable.
func (it *Iter) evalDFS(cur int, op Op, frame *Frame, prev []Register, redo bool) bool {
	assert(op.VarOut >= 0, "dfs op %d has no subject variable to bind", op.Column)
	filter := pairToFilter(op, prev)
	if !filter.HasObject || filter.ObjWildcard {
		return false
	}

	dctx, _ := it.ctx[cur].(*dfsCtx)
	if !redo {
		ts, found := it.store.TableSetLookup(ids.Pair(filter.Pred, filter.Obj))
		if !found || ts.Count() == 0 {
			return false
		}
		dctx = &dfsCtx{
			stack:   []dfsLevel{newDFSLevel(ts, filter.Obj)},
			visited: map[ids.ID]bool{filter.Obj: true},
		}
		it.ctx[cur] = dctx
	} else if dctx == nil {
		return false
	}

	for len(dctx.stack) > 0 {
		top := &dctx.stack[len(dctx.stack)-1]
		e, ok := it.levelNext(top)
		if !ok {
			dctx.stack = dctx.stack[:len(dctx.stack)-1]
			continue
		}
		if dctx.visited[e] {
			continue
		}
		dctx.visited[e] = true

		// The edge that matched e is the pair relating it to this level's
		// frontier; capture it before the push below reallocates the stack.
		edge := ids.Pair(filter.Pred, top.frontier)

		if childTS, found := it.store.TableSetLookup(ids.Pair(filter.Pred, e)); found && childTS.Count() > 0 {
			dctx.stack = append(dctx.stack, newDFSLevel(childTS, e))
		}

		setEntity(frame, op.VarOut, e)
		if op.PredOut >= 0 {
			setEntity(frame, op.PredOut, filter.Pred)
		}
		if op.Column >= 0 {
			frame.Columns[op.Column] = edge
		}
		return true
	}
	return false
}

// --- EACH -----------------------------------------------------------------

type eachCtx struct {
	row int
}

// evalEach iterates a table's rows one entity at a time, reifying a
// Table-bound variable's Entity field. Reserved ids (Wildcard, This) are
// never real rows and are skipped.
func (it *Iter) evalEach(cur int, op Op, frame *Frame, prev []Register, redo bool) bool {
	var table ecsstore.TableID
	if op.Subject.IsVar {
		reg := prev[op.Subject.Var]
		if !reg.TableBound {
			return false
		}
		table = reg.Table
	} else {
		rec, ok := it.store.RecordOf(op.Subject.Lit)
		if !ok {
			return false
		}
		table = rec.Table
	}

	row := 0
	if redo {
		ectx, ok := it.ctx[cur].(*eachCtx)
		if !ok {
			return false
		}
		row = ectx.row + 1
	}

	rows := it.store.TableRows(table)
	for row < len(rows) {
		e := rows[row]
		if ids.IsReserved(e) {
			row++
			continue
		}
		it.ctx[cur] = &eachCtx{row: row}
		setEntity(frame, op.VarOut, e)
		return true
	}
	return false
}
