// Package rule is the solver's public API: compile a term expression
// against a store into a runnable Rule, then drive it with an Iter. It
// wraps internal/compiler and internal/vm behind a surface that deals in
// names and entities rather than opcodes.
package rule

import (
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/kestrel-ecs/rulevm/internal/compiler"
	"github.com/kestrel-ecs/rulevm/internal/ecsstore"
	"github.com/kestrel-ecs/rulevm/internal/ids"
	"github.com/kestrel-ecs/rulevm/internal/termsyntax"
	"github.com/kestrel-ecs/rulevm/internal/vm"
)

// Rule is a compiled term expression, ready to be iterated any number of
// times against the store it was compiled against.
type Rule struct {
	prog  *vm.Program
	store ecsstore.Store
	log   hclog.Logger
}

// New parses expr against resolve (usually the store's Registry) and
// compiles it into a Rule. log may be nil, in which case a discarding
// logger is used.
func New(store ecsstore.Store, resolve termsyntax.Resolver, expr string, log hclog.Logger) (*Rule, error) {
	if log == nil {
		log = hclog.NewNullLogger()
	}

	sig, err := termsyntax.Parse(expr, resolve)
	if err != nil {
		return nil, fmt.Errorf("parsing rule %q: %w", expr, err)
	}

	prog, err := compiler.Compile(sig, store)
	if err != nil {
		return nil, fmt.Errorf("compiling rule %q: %w", expr, err)
	}

	log.Debug("compiled rule", "expr", expr, "ops", len(prog.Ops), "vars", prog.VarCount)
	for i, op := range prog.Ops {
		log.Trace("op", "index", i, "op", op.Kind.String())
	}

	return &Rule{prog: prog, store: store, log: log}, nil
}

// Iter returns a fresh iterator positioned before the rule's first
// operation. Multiple independent Iters may run concurrently over the same
// Rule and store, since each Iter owns its own frame/context state.
func (r *Rule) Iter() *Iter {
	return &Iter{vmIter: vm.NewIter(r.prog, r.store), rule: r}
}

// VariableCount returns the number of variables the rule discovered.
func (r *Rule) VariableCount() int { return r.prog.VarCount }

// FindVariable returns the index of a named variable, or false if the rule
// has no variable by that name.
func (r *Rule) FindVariable(name string) (int, bool) {
	for i, n := range r.prog.VarNames {
		if n == name {
			return i, true
		}
	}
	return -1, false
}

// VariableName returns the source name of variable i.
func (r *Rule) VariableName(i int) string { return r.prog.VarNames[i] }

// VariableIsEntity reports whether variable i resolves to a single entity
// (predicate/object role) rather than a whole table (subject role).
func (r *Rule) VariableIsEntity(i int) bool { return r.prog.VarIsEntity[i] }

// String renders the compiled program's disassembly.
func (r *Rule) String() string { return r.prog.String() }

// Iter drives one independent walk of a Rule's compiled program.
type Iter struct {
	vmIter *vm.Iter
	rule   *Rule
}

// Next advances to the next match, returning false once exhausted.
func (it *Iter) Next() bool { return it.vmIter.Next() }

// Variable returns the current binding for variable i: its entity value if
// one has been resolved, or ids.Wildcard if the variable has no entity
// binding at this point. A table binding is never returned; the compiler
// individuates every table-bound subject variable before the Yield.
func (it *Iter) Variable(i int) ids.ID {
	reg := it.vmIter.Bindings()[i]
	if reg.EntityBound {
		return reg.Entity
	}
	return ids.Wildcard
}

// Columns returns the matched id for every term in the rule, in signature
// order, as of the most recent Next call.
func (it *Iter) Columns() []ids.ID {
	return it.vmIter.Columns()
}
