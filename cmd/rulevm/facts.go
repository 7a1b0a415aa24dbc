package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kestrel-ecs/rulevm/internal/ecsstore"
	"github.com/kestrel-ecs/rulevm/internal/ids"
)

// factSink is the write surface both ecsstore.MemStore and
// ecsstore.PersistentBuilder expose, letting loadFactsInto feed either one
// without caring which backend a subcommand chose.
type factSink interface {
	AddEntity(entity ids.ID, componentIDs ...ids.ID)
	SetMarker(id, marker ids.ID)
}

// loadFactsInto reads a flat fact file into sink, resolving names through
// registry. Each non-empty, non-comment line is either:
//
//	transitive <name>          marks <name> as a transitive predicate
//	Pred(Subj)                 asserts a unary fact
//	Pred(Subj, Obj)             asserts a binary fact (a relationship pair)
//
// Identifiers are plain names (no variables, no "."); this is a data file,
// not a rule expression, so it is parsed independently of
// internal/termsyntax rather than reusing the rule grammar's variable
// syntax for something that never has variables.
func loadFactsInto(path string, registry *ecsstore.Registry, sink factSink) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening facts file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if rest, ok := strings.CutPrefix(line, "transitive "); ok {
			name := strings.TrimSpace(rest)
			id, err := registry.Resolve(name)
			if err != nil {
				return fmt.Errorf("line %d: resolving %q: %w", lineNo, name, err)
			}
			sink.SetMarker(id, ecsstore.Transitive)
			continue
		}

		subj, comp, err := parseFactLine(line)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := applyFact(sink, registry, subj, comp); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return fmt.Errorf("reading facts file: %w", err)
	}

	return nil
}

// loadFactsMem is the convenience path used by run/disasm: a fresh registry
// and in-memory store built in one call.
func loadFactsMem(path string) (*ecsstore.Registry, *ecsstore.MemStore, error) {
	registry := ecsstore.NewRegistry()
	st := ecsstore.NewMemStore(registry)
	if err := loadFactsInto(path, registry, st); err != nil {
		return nil, nil, err
	}
	return registry, st, nil
}

// parseFactLine splits "Pred(Subj[, Obj])" into the subject name and an
// opaque component descriptor (either the predicate name alone, for a unary
// fact, or "pred\x00obj" for a pair).
func parseFactLine(line string) (subj, comp string, err error) {
	open := strings.IndexByte(line, '(')
	close := strings.LastIndexByte(line, ')')
	if open < 0 || close < 0 || close < open {
		return "", "", fmt.Errorf("malformed fact %q", line)
	}
	pred := strings.TrimSpace(line[:open])
	args := strings.Split(line[open+1:close], ",")
	for i := range args {
		args[i] = strings.TrimSpace(args[i])
	}
	if len(args) == 1 {
		return args[0], pred, nil
	}
	if len(args) == 2 {
		return args[0], pred + "\x00" + args[1], nil
	}
	return "", "", fmt.Errorf("fact %q has more than two arguments", line)
}

func applyFact(sink factSink, registry *ecsstore.Registry, subj, comp string) error {
	subjID, err := registry.Resolve(subj)
	if err != nil {
		return err
	}

	if pred, obj, isPair := strings.Cut(comp, "\x00"); isPair {
		predID, err := registry.Resolve(pred)
		if err != nil {
			return err
		}
		objID, err := registry.Resolve(obj)
		if err != nil {
			return err
		}
		sink.AddEntity(subjID, ids.Pair(predID, objID))
		return nil
	}

	predID, err := registry.Resolve(comp)
	if err != nil {
		return err
	}
	sink.AddEntity(subjID, predID)
	return nil
}
