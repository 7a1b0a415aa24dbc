// Command rulevm is a small CLI around internal/rule: load a flat fact file,
// compile a term expression against it, and either run it to print bindings
// or print its disassembly.
package main

import (
	"fmt"
	"os"

	"github.com/hashicorp/cli"
	"github.com/hashicorp/go-hclog"
)

func main() {
	log := hclog.New(&hclog.LoggerOptions{
		Name:  "rulevm",
		Level: hclog.Warn,
	})

	ui := &cli.BasicUi{
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
		Reader:      os.Stdin,
	}

	c := cli.NewCLI("rulevm", "0.1.0")
	c.Args = os.Args[1:]
	c.Commands = map[string]cli.CommandFactory{
		"load": func() (cli.Command, error) {
			return &LoadCommand{UI: ui}, nil
		},
		"run": func() (cli.Command, error) {
			return &RunCommand{UI: ui, Log: log}, nil
		},
		"disasm": func() (cli.Command, error) {
			return &DisasmCommand{UI: ui, Log: log}, nil
		},
	}

	exitStatus, err := c.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(exitStatus)
}
