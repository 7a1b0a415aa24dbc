package main

import (
	"fmt"
	"strings"

	"github.com/hashicorp/cli"
	"github.com/hashicorp/go-hclog"

	"github.com/kestrel-ecs/rulevm/internal/ecsstore"
	"github.com/kestrel-ecs/rulevm/internal/ids"
	"github.com/kestrel-ecs/rulevm/internal/rule"
)

// RunCommand compiles a rule expression against a fact file and prints every
// yielded binding, in yield order.
type RunCommand struct {
	UI  cli.Ui
	Log hclog.Logger
}

func (c *RunCommand) Help() string {
	return strings.TrimSpace(`
Usage: rulevm run <facts-file> <rule-expr>

  Compiles <rule-expr> against the facts in <facts-file> and prints every
  match, one line per yield, as "name=value" pairs for each named variable.
`)
}

func (c *RunCommand) Synopsis() string {
	return "Run a rule expression against a fact file"
}

func (c *RunCommand) Run(args []string) int {
	if len(args) != 2 {
		c.UI.Error(c.Help())
		return 1
	}
	factsPath, expr := args[0], args[1]

	registry, st, err := loadFactsMem(factsPath)
	if err != nil {
		c.UI.Error(fmt.Sprintf("loading facts: %v", err))
		return 1
	}

	r, err := rule.New(st, registry, expr, c.Log)
	if err != nil {
		c.UI.Error(fmt.Sprintf("compiling rule: %v", err))
		return 1
	}

	it := r.Iter()
	count := 0
	for it.Next() {
		count++
		c.UI.Output(formatBindings(r, it, registry))
	}
	c.UI.Output(fmt.Sprintf("%d match(es)", count))
	return 0
}

// formatBindings renders one yielded match as "name=value, name=value"
// pairs, skipping any variable that has no entity binding (Variable
// reports ids.Wildcard for it).
func formatBindings(r *rule.Rule, it *rule.Iter, registry *ecsstore.Registry) string {
	parts := make([]string, 0, r.VariableCount())
	for i := 0; i < r.VariableCount(); i++ {
		v := it.Variable(i)
		if v == ids.Wildcard {
			continue
		}
		name, ok := registry.NameOf(v)
		if !ok {
			name = fmt.Sprintf("#%d", uint64(v))
		}
		parts = append(parts, fmt.Sprintf("%s=%s", r.VariableName(i), name))
	}
	return strings.Join(parts, ", ")
}
