// Package vm implements the rule solver's backtracking virtual machine: a
// small fixed opcode set (INPUT/SELECT/WITH/DFS/EACH/YIELD), evaluated by
// a single dispatch function against per-op frames of register and column
// state, with explicit redo semantics instead of generators or coroutines.
package vm

import (
	"fmt"

	"github.com/kestrel-ecs/rulevm/internal/ids"
)

// OpKind tags the six opcodes the compiler ever emits.
type OpKind int

const (
	OpInput OpKind = iota
	OpSelect
	OpWith
	OpDFS
	OpEach
	OpYield
)

func (k OpKind) String() string {
	switch k {
	case OpInput:
		return "input"
	case OpSelect:
		return "select"
	case OpWith:
		return "with"
	case OpDFS:
		return "dfs"
	case OpEach:
		return "each"
	case OpYield:
		return "yield"
	default:
		return "unknown"
	}
}

// Ref is a compile-time reference to either a literal id or a variable
// register slot, used for an op's subject and for the predicate/object
// lanes of its filter.
type Ref struct {
	IsVar bool
	Var   int
	Lit   ids.ID
}

// LitRef builds a literal reference.
func LitRef(id ids.ID) Ref { return Ref{Lit: id} }

// VarRef builds a variable reference.
func VarRef(slot int) Ref { return Ref{IsVar: true, Var: slot} }

// Op is one instruction in a compiled program. A variable's Table and
// Entity bindings live in the same Register slot (see frame.go); Select
// writes the Table field of VarOut, DFS writes its Entity field, With binds
// no subject (only the Entity fields of PredOut/ObjOut), and Each reifies
// VarOut's Table field into its own Entity field in place — it is the same
// variable throughout, not two.
type Op struct {
	Kind OpKind

	// Column is the signature term this op services,
	// or -1 for ops not tied to one term (Input, and the Each ops spliced
	// in purely to reify a variable's table binding into an entity binding).
	Column int

	// Subject is the op's r_in target: the entity or table the op resolves
	// against. For Select/DFS it seeds a fresh table-set scan; for With it
	// is looked up directly (entity or table already known); for Each it
	// names the variable whose Table field supplies the table to walk.
	Subject Ref

	// Pred/Obj describe the term's filter, resolved against the previous
	// frame's registers at eval time.
	Pred Ref
	Obj  Ref
	// HasObject is false for unary terms (e.g. Food(.)), meaning Obj is
	// not part of the filter at all.
	HasObject  bool
	Transitive bool

	// VarOut is the subject variable this op resolves (Select writes its
	// Table field, DFS and Each write its Entity field directly), or -1 if
	// the subject is already resolved (With) or literal.
	VarOut int

	// PredOut/ObjOut name the variable slots that the matched column's
	// predicate/object lanes reify into, or -1 if that lane is a literal.
	PredOut int
	ObjOut  int

	OnOk   int
	OnFail int
}

// Program is a compiled rule: a flat instruction sequence plus the
// variable and column metadata needed to build per-iterator frames.
type Program struct {
	Ops []Op

	VarCount    int
	ColumnCount int

	// VarNames/VarIsEntity mirror the compiler's variable.Graph at the
	// granularity the public API needs post-compile (rule.VariableName,
	// rule.VariableIsEntity).
	VarNames    []string
	VarIsEntity []bool

	// ThisVar is the index of the "." variable, or -1 if the rule has none.
	ThisVar int

	Signature string
}

// String renders a stable diagnostic disassembly: one line per op, in the
// format "N: [Pass:ok, Fail:fail] OP args (filter)".
func (p *Program) String() string {
	out := ""
	for i, op := range p.Ops {
		out += fmt.Sprintf("%d: [Pass:%d, Fail:%d] %s\n", i, op.OnOk, op.OnFail, opArgs(op))
	}
	return out
}

func opArgs(op Op) string {
	switch op.Kind {
	case OpInput:
		return "input"
	case OpEach:
		return fmt.Sprintf("each(%s -> entity:%s)", refStr(op.Subject), outStr(op.VarOut))
	case OpYield:
		return "yield"
	default:
		return fmt.Sprintf("%s %s (%s)", op.Kind, subjectStr(op), filterStr(op))
	}
}

func refStr(r Ref) string {
	if r.IsVar {
		return fmt.Sprintf("$%d", r.Var)
	}
	return fmt.Sprintf("%d", uint64(r.Lit))
}

func outStr(slot int) string {
	if slot < 0 {
		return "-"
	}
	return fmt.Sprintf("$%d", slot)
}

func subjectStr(op Op) string {
	return fmt.Sprintf("subj:%s -> %s", refStr(op.Subject), outStr(op.VarOut))
}

func filterStr(op Op) string {
	if !op.HasObject {
		return refStr(op.Pred)
	}
	return fmt.Sprintf("%s, %s", refStr(op.Pred), refStr(op.Obj))
}
