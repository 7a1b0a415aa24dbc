// Package compiler turns a parsed termsyntax.Signature into a vm.Program:
// it discovers the rule's variables (internal/variable), orders them by
// join depth, and emits one opcode sequence per term in that order.
package compiler

import (
	"fmt"

	"github.com/kestrel-ecs/rulevm/internal/ecsstore"
	"github.com/kestrel-ecs/rulevm/internal/ids"
	"github.com/kestrel-ecs/rulevm/internal/termsyntax"
	"github.com/kestrel-ecs/rulevm/internal/variable"
	"github.com/kestrel-ecs/rulevm/internal/vm"
)

// term is the compiler's resolved view of one signature column: each slot
// is either a literal id or an index into the variable graph.
type term struct {
	subjVar int // -1 if literal
	subjLit ids.ID

	predVar int // -1 if literal
	predLit ids.ID

	hasObj bool
	objVar int // -1 if literal
	objLit ids.ID

	transitive bool
}

// Compile builds a runnable Program from sig. store is consulted only to
// decide, at compile time, whether a literal predicate with an object carries
// the Transitive marker; the compiled program never keeps a reference to
// store itself.
func Compile(sig *termsyntax.Signature, store ecsstore.Store) (*vm.Program, error) {
	g := variable.NewGraph()

	// Pass 1: register every subject slot first, so a name used both as a
	// subject (Table-kind) and later as a predicate/object keeps its Table
	// kind rather than being downgraded to Entity.
	for _, col := range sig.Columns {
		if subj := col.Argv[0]; subj.IsVariable() {
			g.RegisterSubject(subj.Name)
		}
	}
	for _, col := range sig.Columns {
		if col.Pred.IsVariable() {
			g.RegisterOther(col.Pred.Name)
		}
		if len(col.Argv) > 1 {
			if obj := col.Argv[1]; obj.IsVariable() {
				g.RegisterOther(obj.Name)
			}
		}
	}

	terms := make([]term, len(sig.Columns))
	for i, col := range sig.Columns {
		t := term{subjVar: -1, predVar: -1, objVar: -1}

		subj := col.Argv[0]
		if subj.IsVariable() {
			t.subjVar, _ = g.FindVariable(subj.Name)
		} else {
			t.subjLit = subj.Entity
		}

		pred := col.Pred
		if pred.IsVariable() {
			t.predVar, _ = g.FindVariable(pred.Name)
		} else {
			t.predLit = pred.Entity
		}

		if len(col.Argv) > 1 {
			t.hasObj = true
			obj := col.Argv[1]
			if obj.IsVariable() {
				t.objVar, _ = g.FindVariable(obj.Name)
			} else {
				t.objLit = obj.Entity
			}
			if !pred.IsVariable() {
				t.transitive = store.HasMarker(pred.Entity, ecsstore.Transitive)
			}
		}

		if t.predVar >= 0 && t.predVar == t.subjVar && t.predVar == t.objVar {
			return nil, fmt.Errorf("term %d: variable used as subject, predicate and object of the same term is not supported", i)
		}

		// A predicate/object pair sharing one variable is only resolvable
		// when something anchors it: a literal or self-referential subject
		// (handled by With's full-table fallback and the Each-splice cases
		// in emitSubjectTerm), or the variable already being bound by an
		// earlier term. With a distinct subject variable the introducing op
		// may have no table-set key to search on (both lanes read as
		// Wildcard), so this shape is rejected rather than compiled into a
		// rule that silently never yields. The check is structural: it
		// rejects the shape even when an earlier term binds the variable.
		if t.hasObj && t.predVar >= 0 && t.predVar == t.objVar && t.subjVar >= 0 && t.subjVar != t.predVar {
			return nil, fmt.Errorf("term %d: predicate and object share a variable with no literal or shared subject to anchor the match", i)
		}

		// A unary term whose predicate is its own subject has the same
		// problem one dimension down: the introducing op would carry a bare
		// wildcard filter with no table-set key to search on.
		if !t.hasObj && t.predVar >= 0 && t.predVar == t.subjVar {
			return nil, fmt.Errorf("term %d: a variable cannot be both the subject and the predicate of a unary term", i)
		}

		terms[i] = t
		g.AddTerm(t.subjVar, t.predVar, t.objVar)
	}

	if err := g.AssignDepths(); err != nil {
		return nil, fmt.Errorf("ordering variables: %w", err)
	}

	subjTerms := make([][]int, g.Len())
	for i, t := range terms {
		if t.subjVar >= 0 {
			subjTerms[t.subjVar] = append(subjTerms[t.subjVar], i)
		}
	}

	c := &compilation{
		g:         g,
		terms:     terms,
		subjTerms: subjTerms,
		written:   make([]writeState, g.Len()),
	}

	c.emit(vm.Op{Kind: vm.OpInput, Column: -1, VarOut: -1, PredOut: -1, ObjOut: -1})

	// Literal-subject terms first, in signature order.
	for i, t := range terms {
		if t.subjVar != -1 {
			continue
		}
		c.emitLiteralSubjectTerm(i, t)
	}

	// Subject variables in join order. A variable's first term introduces
	// its binding, so when several terms share the subject, one whose other
	// lanes are already resolvable is moved to the front; the rest re-check
	// through With, which tolerates open lanes.
	for _, v := range g.Order() {
		if g.Var(v).Kind != variable.KindTable {
			continue
		}
		for _, i := range c.introductionOrder(v) {
			if err := c.emitSubjectTerm(i, terms[i], v); err != nil {
				return nil, err
			}
		}
	}

	// Post-pass: any variable whose table was written but never
	// individuated to an entity (e.g. a subject that never recurs as a
	// predicate/object, so no term ever needed its entity value) must still
	// be reified for the caller to read a concrete entity back.
	for v := 0; v < g.Len(); v++ {
		if g.Var(v).Kind == variable.KindTable && c.written[v].table && !c.written[v].entity {
			c.emitEach(v)
		}
	}

	c.emit(c.buildYield(sig))

	prog := &vm.Program{
		Ops:         c.ops,
		VarCount:    g.Len(),
		ColumnCount: len(sig.Columns),
		VarNames:    make([]string, g.Len()),
		VarIsEntity: make([]bool, g.Len()),
		ThisVar:     -1,
		Signature:   sig.Expr,
	}
	for i := 0; i < g.Len(); i++ {
		v := g.Var(i)
		prog.VarNames[i] = v.Name
		prog.VarIsEntity[i] = v.Kind == variable.KindEntity
		if v.Name == "." {
			prog.ThisVar = i
		}
	}

	for i := range prog.Ops {
		prog.Ops[i].OnOk = i + 1
		prog.Ops[i].OnFail = i - 1
	}
	prog.Ops[0].OnFail = -1
	prog.Ops[len(prog.Ops)-1].OnOk = -1

	return prog, nil
}

// writeState tracks, per variable, whether its Table and Entity register
// fields have been written by some op emitted so far.
type writeState struct {
	table  bool
	entity bool
}

type compilation struct {
	g         *variable.Graph
	terms     []term
	subjTerms [][]int
	written   []writeState
	ops       []vm.Op
}

func (c *compilation) emit(op vm.Op) {
	c.ops = append(c.ops, op)
}

func (c *compilation) emitEach(v int) {
	c.emit(vm.Op{
		Kind:    vm.OpEach,
		Column:  -1,
		Subject: vm.VarRef(v),
		VarOut:  v,
		PredOut: -1,
		ObjOut:  -1,
	})
	c.written[v].entity = true
}

// writeVariable ensures a variable referenced in a predicate/object slot has
// an entity value available before the op that needs it runs: if the
// variable is Table-kind, already has a table but no entity yet, splice an
// Each to reify one. Entity-kind variables need no splice — their first
// occurrence binds them via the matching op's own reify step.
func (c *compilation) writeVariable(v int) {
	if v < 0 {
		return
	}
	if c.g.Var(v).Kind != variable.KindTable {
		return
	}
	if c.written[v].entity || !c.written[v].table {
		return
	}
	c.emitEach(v)
}

// markReified records that a term's predicate/object variables now carry an
// entity value, written by the op just emitted for that term. Later terms
// consult this through writeVariable and opKindFor.
func (c *compilation) markReified(t term) {
	if t.predVar >= 0 {
		c.written[t.predVar].entity = true
	}
	if t.objVar >= 0 {
		c.written[t.objVar].entity = true
	}
}

func refFor(varIdx int, lit ids.ID) vm.Ref {
	if varIdx >= 0 {
		return vm.VarRef(varIdx)
	}
	return vm.LitRef(lit)
}

// baseOp fills in every field of a term's op shared by Select/With/DFS.
func baseOp(kind vm.OpKind, i int, t term, subject vm.Ref, varOut int) vm.Op {
	op := vm.Op{
		Kind:       kind,
		Column:     i,
		Subject:    subject,
		Pred:       refFor(t.predVar, t.predLit),
		HasObject:  t.hasObj,
		Transitive: t.transitive,
		VarOut:     varOut,
		PredOut:    t.predVar,
		ObjOut:     -1,
	}
	if t.hasObj {
		op.Obj = refFor(t.objVar, t.objLit)
		op.ObjOut = t.objVar
	}
	return op
}

// emitLiteralSubjectTerm handles a term whose subject is a literal entity
// (e.g. ChildOf(alice, $p)): always a With, since the subject is already
// fully resolved and never needs a table scan.
func (c *compilation) emitLiteralSubjectTerm(i int, t term) {
	c.writeVariable(t.predVar)
	c.writeVariable(t.objVar)
	c.emit(baseOp(vm.OpWith, i, t, vm.LitRef(t.subjLit), -1))
	c.markReified(t)
}

// emitSubjectTerm handles one term whose subject is variable v, already
// registered and depth-ordered. It special-cases the shapes where the
// subject variable also fills the predicate or object slot of its own term
// (e.g. Likes(., .), or $p($p, bob) — rejected only when all three slots
// coincide, see Compile) on the variable's introducing term: a plain
// Select/DFS there would try to reify that slot onto the very same register
// it is about to bind as subject, from whichever column happened to match
// first — not necessarily the row's own pair, since Select/DFS match
// against a table's *type*, which is shared by every entity in the table,
// not the individual row. Instead the table is found with the coinciding
// slot left open, the subject is individuated, and a With re-checks the
// term with that slot now resolved to the individuated entity, which is
// exactly the self-match the term requires.
func (c *compilation) emitSubjectTerm(i int, t term, v int) error {
	switch {
	case c.written[v].entity || c.written[v].table:
		c.writeVariable(t.predVar)
		c.writeVariable(t.objVar)
		c.emit(baseOp(vm.OpWith, i, t, vm.VarRef(v), -1))
		c.markReified(t)

	case t.predVar == v:
		c.writeVariable(t.objVar)
		if t.objVar >= 0 && !c.written[t.objVar].entity {
			return fmt.Errorf("term %d: predicate shares the subject variable while the object is still unresolved; nothing anchors the match", i)
		}
		broad := t
		broad.predVar = -1
		broad.predLit = ids.Wildcard
		c.emit(baseOp(vm.OpSelect, i, broad, vm.VarRef(v), v))
		c.written[v].table = true
		c.emitEach(v)
		c.writeVariable(t.objVar)
		c.emit(baseOp(vm.OpWith, i, t, vm.VarRef(v), -1))
		c.markReified(t)

	case t.hasObj && t.objVar == v:
		c.writeVariable(t.predVar)
		if t.predVar >= 0 && !c.written[t.predVar].entity {
			return fmt.Errorf("term %d: object shares the subject variable while the predicate is still unresolved; nothing anchors the match", i)
		}
		broad := t
		broad.objVar = -1
		broad.objLit = ids.Wildcard
		// The broad pass leaves the object lane wildcarded, so it is always
		// a Select: transitive descent needs a concrete object to anchor on,
		// and the With re-check below gets one once Each has individuated
		// the subject.
		c.emit(baseOp(vm.OpSelect, i, broad, vm.VarRef(v), v))
		c.written[v].table = true
		c.emitEach(v)
		c.writeVariable(t.predVar)
		c.emit(baseOp(vm.OpWith, i, t, vm.VarRef(v), -1))
		c.markReified(t)

	default:
		c.writeVariable(t.predVar)
		c.writeVariable(t.objVar)
		if !c.selectKeyable(t) {
			return fmt.Errorf("term %d: every filter lane is an unresolved variable; nothing anchors the match", i)
		}
		kind := c.opKindFor(t)
		c.emit(baseOp(kind, i, t, vm.VarRef(v), v))
		if kind == vm.OpDFS {
			c.written[v].entity = true
		} else {
			c.written[v].table = true
		}
		c.markReified(t)
	}
	return nil
}

// selectKeyable reports whether a term's filter will have a table-set key
// by the time its introducing Select/DFS runs: a unary term needs its
// predicate resolved, a binary term at least one of its lanes.
func (c *compilation) selectKeyable(t term) bool {
	predOpen := t.predVar >= 0 && !c.written[t.predVar].entity
	if !t.hasObj {
		return !predOpen
	}
	objOpen := t.objVar >= 0 && !c.written[t.objVar].entity
	return !predOpen || !objOpen
}

// introductionOrder returns subject variable v's terms in emission order:
// signature order, except that if v has no binding yet, the first term able
// to introduce one is moved to the front.
func (c *compilation) introductionOrder(v int) []int {
	ordered := c.subjTerms[v]
	if len(ordered) < 2 || c.written[v].entity || c.written[v].table {
		return ordered
	}
	for k, i := range ordered {
		if !c.introducible(c.terms[i], v) {
			continue
		}
		if k == 0 {
			return ordered
		}
		out := make([]int, 0, len(ordered))
		out = append(out, i)
		for _, j := range ordered {
			if j != i {
				out = append(out, j)
			}
		}
		return out
	}
	return ordered
}

// introducible reports whether emitSubjectTerm could bind v's first register
// from term t: the lanes v does not occupy must be resolvable — a literal,
// an already-reified variable, or one individuable from a written table by
// the writeVariable splice.
func (c *compilation) introducible(t term, v int) bool {
	resolved := func(x int) bool {
		if x < 0 || c.written[x].entity {
			return true
		}
		return c.g.Var(x).Kind == variable.KindTable && c.written[x].table
	}
	switch {
	case t.predVar == v:
		return t.hasObj && resolved(t.objVar)
	case t.hasObj && t.objVar == v:
		return resolved(t.predVar)
	case !t.hasObj:
		return resolved(t.predVar)
	default:
		return resolved(t.predVar) || resolved(t.objVar)
	}
}

// opKindFor picks the op that introduces a subject variable's table/entity
// binding. A transitive term descends (DFS) only when its object will be
// concrete at eval time — a literal, or a variable some earlier op has
// already reified; with the object lane open there is nothing to anchor the
// descent on, and a plain Select over the stored pairs is the correct match.
func (c *compilation) opKindFor(t term) vm.OpKind {
	if !t.transitive {
		return vm.OpSelect
	}
	if t.objVar >= 0 {
		if c.written[t.objVar].entity {
			return vm.OpDFS
		}
		return vm.OpSelect
	}
	if t.objLit == ids.Wildcard {
		return vm.OpSelect
	}
	return vm.OpDFS
}

// buildYield picks the "." variable's register as the op the driver reads
// a result from; a rule without a this-variable yields with no subject at
// all, and callers read columns/bindings instead.
func (c *compilation) buildYield(sig *termsyntax.Signature) vm.Op {
	if i, ok := c.g.FindVariable("."); ok {
		return vm.Op{Kind: vm.OpYield, Column: -1, Subject: vm.VarRef(i), VarOut: -1, PredOut: -1, ObjOut: -1}
	}
	return vm.Op{Kind: vm.OpYield, Column: -1, VarOut: -1, PredOut: -1, ObjOut: -1}
}
