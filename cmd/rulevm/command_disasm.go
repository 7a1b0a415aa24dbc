package main

import (
	"fmt"
	"strings"

	"github.com/hashicorp/cli"
	"github.com/hashicorp/go-hclog"

	"github.com/kestrel-ecs/rulevm/internal/rule"
)

// DisasmCommand prints a compiled rule's opcode disassembly.
type DisasmCommand struct {
	UI  cli.Ui
	Log hclog.Logger
}

func (c *DisasmCommand) Help() string {
	return strings.TrimSpace(`
Usage: rulevm disasm <facts-file> <rule-expr>

  Compiles <rule-expr> against the facts in <facts-file> and prints its
  opcode disassembly instead of running it.
`)
}

func (c *DisasmCommand) Synopsis() string {
	return "Print a rule expression's compiled disassembly"
}

func (c *DisasmCommand) Run(args []string) int {
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

	c.UI.Output(r.String())
	return 0
}
