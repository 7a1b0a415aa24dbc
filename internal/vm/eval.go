package vm

import (
	"github.com/kestrel-ecs/rulevm/internal/ecsstore"
	"github.com/kestrel-ecs/rulevm/internal/ids"
)

// Iter drives a compiled Program against a Store, one opcode at a time.
// It is the vm-level equivalent of the public Rule iterator; internal/rule
// wraps it to surface names and entities to callers.
type Iter struct {
	prog  *Program
	store ecsstore.Store

	frames []Frame
	ctx    []any

	op   int
	redo bool

	// yieldFrame is the op index whose incoming frame held the most
	// recently surfaced result, so Bindings/Columns can be read after a
	// true-returning Next call.
	yieldFrame int
}

// NewIter creates an iterator positioned before the program's first
// operation.
func NewIter(prog *Program, store ecsstore.Store) *Iter {
	it := &Iter{
		prog:   prog,
		store:  store,
		frames: make([]Frame, len(prog.Ops)),
		ctx:    make([]any, len(prog.Ops)),
		op:     0,
		redo:   false,
	}
	for i := range it.frames {
		it.frames[i] = newFrame(prog.VarCount, prog.ColumnCount)
	}
	return it
}

// Next advances the iterator to its next match, returning false once the
// program is exhausted. Each call runs opcodes until either a Yield is
// evaluated (always returns true to the caller, regardless of Yield's own
// eval result, which is always false) or the program counter falls off the
// front of the op array (op == -1), meaning no further matches exist.
func (it *Iter) Next() bool {
	for it.op != -1 {
		cur := it.op
		op := it.prog.Ops[cur]

		result := it.evalOp(cur, op, it.redo)

		if result {
			next := op.OnOk
			it.frames[next] = it.frames[cur].clone()
			it.op = next
			it.redo = false
		} else {
			it.op = op.OnFail
			it.redo = true
		}

		if op.Kind == OpYield {
			it.yieldFrame = cur
			return true
		}
	}
	return false
}

func (it *Iter) evalOp(cur int, op Op, redo bool) bool {
	frame := &it.frames[cur]

	// Reads resolve against the previous op's frame: the current op has not
	// reified yet, and on redo its own frame still carries the bindings of
	// its last match, which must not narrow the filter.
	var prev []Register
	if cur > 0 {
		prev = it.frames[cur-1].Registers
	}

	switch op.Kind {
	case OpInput:
		return evalInput(redo)
	case OpSelect:
		return it.evalSelect(cur, op, frame, prev, redo)
	case OpWith:
		return it.evalWith(cur, op, frame, prev, redo)
	case OpDFS:
		return it.evalDFS(cur, op, frame, prev, redo)
	case OpEach:
		return it.evalEach(cur, op, frame, prev, redo)
	case OpYield:
		return false
	default:
		assert(false, "unreachable opcode kind %v at op %d", op.Kind, cur)
		return false
	}
}

// Program returns the compiled program this iterator is driving.
func (it *Iter) Program() *Program { return it.prog }

// Bindings returns the register state visible at the most recent Yield.
func (it *Iter) Bindings() []Register {
	return it.frames[it.yieldFrame].Registers
}

// Columns returns the per-term matched id array at the most recent Yield.
func (it *Iter) Columns() []ids.ID {
	return it.frames[it.yieldFrame].Columns
}

// evalInput is true on its first call and false on redo, which terminates
// the program (Input's on_fail is always -1).
func evalInput(redo bool) bool {
	return !redo
}
