package termsyntax

import (
	"errors"
	"testing"

	"github.com/hashicorp/go-multierror"

	"github.com/kestrel-ecs/rulevm/internal/ids"
)

// stubResolver maps names to sequential ids without the full Registry, to
// keep these parser tests independent of internal/ecsstore.
type stubResolver struct {
	next ids.ID
	ids  map[string]ids.ID
}

func newStubResolver() *stubResolver {
	return &stubResolver{next: 2, ids: make(map[string]ids.ID)}
}

func (r *stubResolver) Resolve(name string) (ids.ID, error) {
	if id, ok := r.ids[name]; ok {
		return id, nil
	}
	id := r.next
	r.next++
	r.ids[name] = id
	return id, nil
}

func TestParseUnaryTerm(t *testing.T) {
	sig, err := Parse("Food(.)", newStubResolver())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(sig.Columns) != 1 {
		t.Fatalf("len(Columns) = %d, want 1", len(sig.Columns))
	}
	col := sig.Columns[0]
	if col.Pred.IsVariable() {
		t.Error("predicate Food should resolve to a literal")
	}
	if len(col.Argv) != 1 || col.Argv[0].Name != "." {
		t.Errorf("subject = %+v, want the this-variable", col.Argv)
	}
}

func TestParseBinaryTermWithVariableAndLiteral(t *testing.T) {
	sig, err := Parse("ChildOf($p, alice)", newStubResolver())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	col := sig.Columns[0]
	if len(col.Argv) != 2 {
		t.Fatalf("len(Argv) = %d, want 2", len(col.Argv))
	}
	if !col.Argv[0].IsVariable() || col.Argv[0].Name != "p" {
		t.Errorf("subject = %+v, want variable p (the $ sigil is not part of the name)", col.Argv[0])
	}
	if col.Argv[1].IsVariable() {
		t.Error("object alice should resolve to a literal")
	}
}

func TestParseMultipleTermsCommaSeparated(t *testing.T) {
	sig, err := Parse("ChildOf($p, .), Food(.)", newStubResolver())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(sig.Columns) != 2 {
		t.Fatalf("len(Columns) = %d, want 2", len(sig.Columns))
	}
}

func TestParseRejectsMissingParen(t *testing.T) {
	if _, err := Parse("Food(.", newStubResolver()); err == nil {
		t.Fatal("Parse: want error for unterminated term")
	}
}

func TestParseRejectsTooManyArguments(t *testing.T) {
	if _, err := Parse("Likes(a, b, c)", newStubResolver()); err == nil {
		t.Fatal("Parse: want error for a term with more than two arguments")
	}
}

func TestParseRejectsEmptyExpression(t *testing.T) {
	if _, err := Parse("   ", newStubResolver()); err == nil {
		t.Fatal("Parse: want error for an empty expression")
	}
}

func TestParseCollectsMultipleSyntaxErrors(t *testing.T) {
	// Two malformed terms in one expression: both should be reported, not
	// just the first.
	_, err := Parse("Food(, ChildOf(", newStubResolver())
	if err == nil {
		t.Fatal("Parse: want error")
	}
	var merr *multierror.Error
	if !errors.As(err, &merr) || len(merr.Errors) != 2 {
		t.Fatalf("Parse: want both malformed terms reported, got %v", err)
	}
}
