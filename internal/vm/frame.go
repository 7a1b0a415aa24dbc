package vm

import (
	"github.com/kestrel-ecs/rulevm/internal/ecsstore"
	"github.com/kestrel-ecs/rulevm/internal/ids"
)

// Register holds a variable's current bindings. A variable may carry both
// a Table binding (written by Select) and an Entity binding (written by
// DFS, reified from a matched column's lanes, or reified from the Table
// binding by Each) at the same time;
// which one a reader wants depends on context, not on a single shared
// flag.
type Register struct {
	Table       ecsstore.TableID
	TableBound  bool
	Entity      ids.ID
	EntityBound bool
}

// Frame is the register and column state visible to one op index. The
// driver copies the current frame into the next op's frame on success so
// that redo on a later op never observes mutations an earlier op has since
// made to its own frame.
type Frame struct {
	Registers []Register
	Columns   []ids.ID
}

func newFrame(varCount, columnCount int) Frame {
	return Frame{
		Registers: make([]Register, varCount),
		Columns:   make([]ids.ID, columnCount),
	}
}

func (f Frame) clone() Frame {
	out := Frame{
		Registers: make([]Register, len(f.Registers)),
		Columns:   make([]ids.ID, len(f.Columns)),
	}
	copy(out.Registers, f.Registers)
	copy(out.Columns, f.Columns)
	return out
}

// Filter is the runtime-resolved id and matching rule for one term,
// produced by resolving an Op's Pred/Obj refs against the previous
// frame's registers.
type Filter struct {
	// Mask/Match select which bits of a candidate id must match: for a
	// binary term, a column in the table's type satisfies the filter iff
	// (candidate & Mask) == Match (plus the SameVar check below). Wildcard
	// lanes are excluded from Mask so they match anything. A unary term's
	// column must equal Pred exactly; matches does not use Mask/Match there.
	Mask  ids.ID
	Match ids.ID

	PredWildcard bool
	ObjWildcard  bool

	// SameVar is set when the term's predicate and object slots are the same
	// unbound variable (e.g. $R(alice, $R)'s introducing occurrence): Mask/
	// Match alone can't express the constraint, since both lanes read as
	// Wildcard until one of them binds, so matches additionally requires the
	// two lanes of the candidate to be equal.
	SameVar bool

	Transitive bool
	HasObject  bool

	// Pred/Obj are the resolved concrete ids, used to key transitive
	// lookups even when Mask/Match carry a wildcard.
	Pred ids.ID
	Obj  ids.ID
}

// resolveRef reads a literal straight through; a variable reads as its
// bound entity value, or as Wildcard if the variable has no entity binding
// yet (its first occurrence in the rule). This is what lets a term that
// reuses an already-bound variable narrow the match, while the same
// variable's introducing term leaves that lane open.
func resolveRef(r Ref, regs []Register) ids.ID {
	if !r.IsVar {
		return r.Lit
	}
	reg := regs[r.Var]
	if !reg.EntityBound {
		return ids.Wildcard
	}
	return reg.Entity
}

// pairToFilter resolves an op's Pred/Obj refs against the previous frame's
// registers into a concrete Filter.
func pairToFilter(op Op, prevRegs []Register) Filter {
	pred := resolveRef(op.Pred, prevRegs)

	if !op.HasObject {
		f := Filter{Pred: pred, HasObject: false}
		if pred == ids.Wildcard {
			f.PredWildcard = true
			f.Mask, f.Match = 0, 0
		} else {
			f.Mask, f.Match = ids.LoMask, pred
		}
		return f
	}

	obj := resolveRef(op.Obj, prevRegs)

	f := Filter{
		Pred:       pred,
		Obj:        obj,
		HasObject:  true,
		Transitive: op.Transitive,
	}

	f.PredWildcard = pred == ids.Wildcard
	f.ObjWildcard = obj == ids.Wildcard
	f.SameVar = op.Pred.IsVar && op.Obj.IsVar && op.Pred.Var == op.Obj.Var

	f.Mask = ids.RolePair
	f.Match = ids.RolePair
	if !f.PredWildcard {
		f.Mask |= ids.HiMask
		f.Match |= (pred << 32) & ids.HiMask
	}
	if !f.ObjWildcard {
		f.Mask |= ids.LoMask
		f.Match |= obj & ids.LoMask
	}

	return f
}

// matches reports whether candidate (one column of a table's type)
// satisfies f.
func (f Filter) matches(candidate ids.ID) bool {
	if !f.HasObject {
		if f.PredWildcard {
			return true
		}
		return candidate == f.Pred
	}
	if candidate&f.Mask != f.Match {
		return false
	}
	if f.SameVar && ids.Hi(candidate) != ids.Lo(candidate) {
		return false
	}
	return true
}

// allForPredKey returns the table-set key covering "all tables with this
// predicate, any object". The transitive With check does not look it up;
// it scans the subject table's own type for columns with the predicate.
func allForPredKey(pred ids.ID) ids.ID {
	return ids.Pair(pred, ids.Wildcard)
}
