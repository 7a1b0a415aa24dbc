// Package termsyntax parses rule expressions — comma separated terms of the
// form Predicate(Subject) or Predicate(Subject, Object) — into the ordered
// Signature consumed by internal/compiler.
package termsyntax

import "github.com/kestrel-ecs/rulevm/internal/ids"

// Identifier is one resolved slot of a term: either a literal id (Entity
// non-zero, Name empty) or a variable reference (Entity zero, Name set;
// Name == "." denotes the implicit this variable).
type Identifier struct {
	Entity ids.ID
	Name   string
}

// IsVariable reports whether this slot refers to a variable rather than a
// literal entity.
func (id Identifier) IsVariable() bool {
	return id.Name != ""
}

// Column is one parsed term: a predicate applied to one or two arguments.
// Argv[0] is always the subject; Argv[1], if present, is the object.
type Column struct {
	Pred Identifier
	Argv []Identifier
}

// Signature is the ordered list of terms that make up a rule expression.
type Signature struct {
	Expr    string
	Columns []Column
}
