package termsyntax

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/kestrel-ecs/rulevm/internal/ids"
)

// Resolver turns a literal identifier name into its stored entity id,
// registering the name if it has not been seen before. It is satisfied by
// internal/ecsstore.Registry.
type Resolver interface {
	Resolve(name string) (ids.ID, error)
}

// Parser is a hand-rolled recursive-descent scanner over a rule expression.
type Parser struct {
	input  string
	pos    int
	length int
	expr   string
}

// NewParser creates a parser over a rule expression.
func NewParser(expr string) *Parser {
	return &Parser{input: expr, length: len(expr), expr: expr}
}

// Parse parses a full expression. Every malformed term is collected before
// returning so a caller sees all syntax errors in one pass; a resolution
// error from the Resolver is collected the same way, as the error of the
// term it occurred in.
func Parse(expr string, resolve Resolver) (*Signature, error) {
	p := NewParser(expr)
	sig := &Signature{Expr: expr}

	var errs *multierror.Error

	for {
		p.skipSpace()
		if p.pos >= p.length {
			break
		}

		col, err := p.parseTerm(resolve)
		if err != nil {
			errs = multierror.Append(errs, err)
			// Resynchronize at the next comma so later terms can still be
			// checked for syntax errors.
			if !p.skipToComma() {
				break
			}
			continue
		}
		sig.Columns = append(sig.Columns, *col)

		p.skipSpace()
		if p.pos < p.length && p.input[p.pos] == ',' {
			p.pos++
			continue
		}
		break
	}

	if errs.ErrorOrNil() != nil {
		return nil, fmt.Errorf("error: %s: %w", expr, errs)
	}
	if len(sig.Columns) == 0 {
		return nil, fmt.Errorf("error: %s: empty expression", expr)
	}

	return sig, nil
}

func (p *Parser) skipSpace() {
	for p.pos < p.length {
		switch p.input[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *Parser) skipToComma() bool {
	depth := 0
	for p.pos < p.length {
		switch p.input[p.pos] {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth <= 0 {
				p.pos++
				return true
			}
		}
		p.pos++
	}
	return false
}

// parseTerm parses predicate '(' arg (',' arg)? ')'.
func (p *Parser) parseTerm(resolve Resolver) (*Column, error) {
	pred, err := p.parseIdentifier(resolve)
	if err != nil {
		return nil, fmt.Errorf("malformed predicate: %w", err)
	}

	p.skipSpace()
	if p.pos >= p.length || p.input[p.pos] != '(' {
		return nil, fmt.Errorf("expected '(' after predicate")
	}
	p.pos++ // skip '('

	p.skipSpace()
	subj, err := p.parseIdentifier(resolve)
	if err != nil {
		return nil, fmt.Errorf("malformed subject: %w", err)
	}
	argv := []Identifier{subj}

	p.skipSpace()
	if p.pos < p.length && p.input[p.pos] == ',' {
		p.pos++
		p.skipSpace()
		obj, err := p.parseIdentifier(resolve)
		if err != nil {
			return nil, fmt.Errorf("malformed object: %w", err)
		}
		argv = append(argv, obj)
		p.skipSpace()
	}

	if len(argv) > 2 {
		return nil, fmt.Errorf("term has more than two arguments")
	}

	if p.pos >= p.length || p.input[p.pos] != ')' {
		return nil, fmt.Errorf("expected ')' to close term")
	}
	p.pos++ // skip ')'

	return &Column{Pred: pred, Argv: argv}, nil
}

// parseIdentifier parses a variable ($name or the bare "." this-variable) or
// a literal entity name, resolving literals through resolve.
func (p *Parser) parseIdentifier(resolve Resolver) (Identifier, error) {
	if p.pos >= p.length {
		return Identifier{}, fmt.Errorf("unexpected end of expression")
	}

	if p.input[p.pos] == '.' {
		// "." alone is the this-variable; identifiers never start with '.'.
		p.pos++
		return Identifier{Name: "."}, nil
	}

	if p.input[p.pos] == '$' {
		p.pos++
		start := p.pos
		for p.pos < p.length && isIdentChar(p.input[p.pos]) {
			p.pos++
		}
		if p.pos == start {
			return Identifier{}, fmt.Errorf("expected variable name after '$'")
		}
		return Identifier{Name: p.input[start:p.pos]}, nil
	}

	if !isIdentStart(p.input[p.pos]) {
		return Identifier{}, fmt.Errorf("unexpected character %q at position %d", p.input[p.pos], p.pos)
	}

	start := p.pos
	for p.pos < p.length && isIdentChar(p.input[p.pos]) {
		p.pos++
	}
	name := p.input[start:p.pos]

	if resolve == nil {
		return Identifier{}, fmt.Errorf("no resolver provided for literal %q", name)
	}
	entity, err := resolve.Resolve(name)
	if err != nil {
		return Identifier{}, fmt.Errorf("resolving %q: %w", name, err)
	}
	return Identifier{Entity: entity}, nil
}

func isIdentStart(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
}

func isIdentChar(ch byte) bool {
	return isIdentStart(ch) || (ch >= '0' && ch <= '9') || ch == '.' || ch == ':' || ch == '/'
}
