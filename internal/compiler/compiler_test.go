package compiler

import (
	"testing"

	"github.com/kestrel-ecs/rulevm/internal/ecsstore"
	"github.com/kestrel-ecs/rulevm/internal/termsyntax"
	"github.com/kestrel-ecs/rulevm/internal/vm"
)

func compileExpr(t *testing.T, registry *ecsstore.Registry, store ecsstore.Store, expr string) *vm.Program {
	t.Helper()
	sig, err := termsyntax.Parse(expr, registry)
	if err != nil {
		t.Fatalf("Parse(%q): %v", expr, err)
	}
	prog, err := Compile(sig, store)
	if err != nil {
		t.Fatalf("Compile(%q): %v", expr, err)
	}
	return prog
}

func TestCompileUnaryTermOpSequence(t *testing.T) {
	registry := ecsstore.NewRegistry()
	store := ecsstore.NewMemStore(registry)

	prog := compileExpr(t, registry, store, "Food(.)")

	kinds := opKinds(prog)
	// The post-pass splices an Each so "." surfaces one entity per yield
	// rather than a whole table.
	want := []vm.OpKind{vm.OpInput, vm.OpSelect, vm.OpEach, vm.OpYield}
	if !kindsEqual(kinds, want) {
		t.Fatalf("op kinds = %v, want %v", kinds, want)
	}
}

func TestCompileOnOkOnFailAreSequentialExceptEnds(t *testing.T) {
	registry := ecsstore.NewRegistry()
	store := ecsstore.NewMemStore(registry)
	prog := compileExpr(t, registry, store, "ChildOf($p, .), Food(.)")

	if prog.Ops[0].OnFail != -1 {
		t.Errorf("ops[0].OnFail = %d, want -1", prog.Ops[0].OnFail)
	}
	last := len(prog.Ops) - 1
	if prog.Ops[last].OnOk != -1 {
		t.Errorf("ops[last].OnOk = %d, want -1", prog.Ops[last].OnOk)
	}
	for i, op := range prog.Ops {
		if i > 0 && op.OnFail != i-1 {
			t.Errorf("ops[%d].OnFail = %d, want %d", i, op.OnFail, i-1)
		}
		if i < last && op.OnOk != i+1 {
			t.Errorf("ops[%d].OnOk = %d, want %d", i, op.OnOk, i+1)
		}
	}
}

func TestCompileTransitiveTermEmitsDFS(t *testing.T) {
	registry := ecsstore.NewRegistry()
	store := ecsstore.NewMemStore(registry)
	childOf, err := registry.Resolve("ChildOf")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	store.SetMarker(childOf, ecsstore.Transitive)

	prog := compileExpr(t, registry, store, "ChildOf(., carol)")

	found := false
	for _, op := range prog.Ops {
		if op.Kind == vm.OpDFS {
			found = true
		}
	}
	if !found {
		t.Error("expected a DFS op for a transitive predicate with a concrete object")
	}
}

func TestCompileSelfReferentialTermSplicesEachBeforeRecheck(t *testing.T) {
	registry := ecsstore.NewRegistry()
	store := ecsstore.NewMemStore(registry)

	prog := compileExpr(t, registry, store, "Likes(., .)")

	kinds := opKinds(prog)
	// Input, (Select broad), Each, With (re-check), Yield.
	want := []vm.OpKind{vm.OpInput, vm.OpSelect, vm.OpEach, vm.OpWith, vm.OpYield}
	if !kindsEqual(kinds, want) {
		t.Fatalf("op kinds = %v, want %v", kinds, want)
	}
}

func TestCompileRejectsThreePositionSameVariable(t *testing.T) {
	registry := ecsstore.NewRegistry()
	store := ecsstore.NewMemStore(registry)
	sig, err := termsyntax.Parse("$p($p, $p)", registry)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := Compile(sig, store); err == nil {
		t.Fatal("Compile: want error when one variable fills subject, predicate and object of a term")
	}
}

// TestCompileAcceptsPredicateEqualsSubjectVariable covers the supported
// two-position case: the predicate and subject are the same variable, but
// the object is a distinct literal.
func TestCompileAcceptsPredicateEqualsSubjectVariable(t *testing.T) {
	registry := ecsstore.NewRegistry()
	store := ecsstore.NewMemStore(registry)
	sig, err := termsyntax.Parse("$p($p, bob)", registry)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	prog, err := Compile(sig, store)
	if err != nil {
		t.Fatalf("Compile(%q): %v, want success", "$p($p, bob)", err)
	}

	kinds := opKinds(prog)
	// Input, (Select broad over the predicate lane), Each, With (re-check), Yield.
	want := []vm.OpKind{vm.OpInput, vm.OpSelect, vm.OpEach, vm.OpWith, vm.OpYield}
	if !kindsEqual(kinds, want) {
		t.Fatalf("op kinds = %v, want %v", kinds, want)
	}
}

// TestCompileAcceptsPredicateEqualsObjectVariable covers $R(alice, $R): the
// predicate and object are the same variable, with a distinct literal
// subject. This relies on Filter.SameVar (see frame_test.go) to enforce lane
// equality at match time, since Mask/Match alone can't express it while the
// variable is still unbound.
func TestCompileAcceptsPredicateEqualsObjectVariable(t *testing.T) {
	registry := ecsstore.NewRegistry()
	store := ecsstore.NewMemStore(registry)
	sig, err := termsyntax.Parse("$R(alice, $R)", registry)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	prog, err := Compile(sig, store)
	if err != nil {
		t.Fatalf("Compile(%q): %v, want success", "$R(alice, $R)", err)
	}

	found := false
	for _, op := range prog.Ops {
		if op.Kind == vm.OpWith {
			found = true
		}
	}
	if !found {
		t.Error("expected a With op for a literal-subject term")
	}
}

// TestCompileRejectsUnanchoredPredObjSameVariable covers $S($R, $R): the
// predicate and object share a variable distinct from the subject, which
// itself is a variable with no literal or self-reference to anchor the
// match, so the introducing op would have no table-set key to search on.
func TestCompileRejectsUnanchoredPredObjSameVariable(t *testing.T) {
	registry := ecsstore.NewRegistry()
	store := ecsstore.NewMemStore(registry)
	sig, err := termsyntax.Parse("$S($R, $R)", registry)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := Compile(sig, store); err == nil {
		t.Fatal("Compile: want error when predicate and object share a variable with an unrelated, unanchored subject variable")
	}
}

// TestCompileRejectsUnaryPredicateEqualsSubjectVariable covers $p($p): with
// no object lane, there is nothing to anchor the introducing op's table-set
// lookup on, so the shape is rejected like $S($R, $R) rather than compiled
// into a rule that silently never yields.
func TestCompileRejectsUnaryPredicateEqualsSubjectVariable(t *testing.T) {
	registry := ecsstore.NewRegistry()
	store := ecsstore.NewMemStore(registry)
	sig, err := termsyntax.Parse("$p($p)", registry)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := Compile(sig, store); err == nil {
		t.Fatal("Compile: want error when a unary term's subject and predicate share a variable")
	}
}

// $p(., $x) alone: both filter lanes are unresolved variables, so the
// introducing Select would have no table-set key to search on.
func TestCompileRejectsFullyOpenIntroducingTerm(t *testing.T) {
	registry := ecsstore.NewRegistry()
	store := ecsstore.NewMemStore(registry)
	sig, err := termsyntax.Parse("$p(., $x)", registry)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := Compile(sig, store); err == nil {
		t.Fatal("Compile: want error when every lane of a subject's only term is unresolved")
	}
}

// The same open term compiles once another term can introduce the subject
// binding first: the compiler moves Eats(., $x) to the front and the open
// term re-checks through With.
func TestCompileReordersIntroducingTermForSharedSubject(t *testing.T) {
	registry := ecsstore.NewRegistry()
	store := ecsstore.NewMemStore(registry)
	sig, err := termsyntax.Parse("$p(., $x), Eats(., $x)", registry)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	prog, err := Compile(sig, store)
	if err != nil {
		t.Fatalf("Compile: %v, want the anchorable term to introduce the subject", err)
	}

	// The first matching op must service the Eats column (index 1), the
	// open $p term following as a With.
	var first *vm.Op
	for i := range prog.Ops {
		if prog.Ops[i].Kind == vm.OpSelect {
			first = &prog.Ops[i]
			break
		}
	}
	if first == nil {
		t.Fatal("no Select op emitted")
	}
	if first.Column != 1 {
		t.Errorf("introducing Select services column %d, want 1 (the anchorable Eats term)", first.Column)
	}
}

func TestCompileRejectsUnconstrainedVariable(t *testing.T) {
	registry := ecsstore.NewRegistry()
	store := ecsstore.NewMemStore(registry)
	sig, err := termsyntax.Parse("Food(.), Toy($orphan)", registry)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := Compile(sig, store); err == nil {
		t.Fatal("Compile: want error for a subject variable with no path from the root")
	}
}

func TestProgramStringIsStable(t *testing.T) {
	registry := ecsstore.NewRegistry()
	store := ecsstore.NewMemStore(registry)
	prog := compileExpr(t, registry, store, "Food(.)")

	a := prog.String()
	b := prog.String()
	if a != b {
		t.Errorf("Program.String() is not stable across calls:\n%s\nvs\n%s", a, b)
	}
	if a == "" {
		t.Error("Program.String() returned empty disassembly")
	}
}

func opKinds(prog *vm.Program) []vm.OpKind {
	out := make([]vm.OpKind, len(prog.Ops))
	for i, op := range prog.Ops {
		out[i] = op.Kind
	}
	return out
}

func kindsEqual(a, b []vm.OpKind) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
