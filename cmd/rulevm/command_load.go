package main

import (
	"fmt"
	"strings"

	"github.com/hashicorp/cli"

	"github.com/kestrel-ecs/rulevm/internal/ecsstore"
	"github.com/kestrel-ecs/rulevm/internal/storage"
)

// LoadCommand parses a fact file and commits it to a BadgerDB directory, so
// a large fact base only needs parsing once.
type LoadCommand struct {
	UI cli.Ui
}

func (c *LoadCommand) Help() string {
	return strings.TrimSpace(`
Usage: rulevm load <facts-file> <badger-dir>

  Parses a flat fact file and writes its entities, tables and table-sets
  into a BadgerDB directory, so embedders of the persistent store can
  query the fact base without re-parsing it.
`)
}

func (c *LoadCommand) Synopsis() string {
	return "Parse a fact file into a persistent store directory"
}

func (c *LoadCommand) Run(args []string) int {
	if len(args) != 2 {
		c.UI.Error(c.Help())
		return 1
	}
	factsPath, dbPath := args[0], args[1]

	registry := ecsstore.NewRegistry()
	builder := ecsstore.NewPersistentBuilder(registry)
	if err := loadFactsInto(factsPath, registry, builder); err != nil {
		c.UI.Error(fmt.Sprintf("loading facts: %v", err))
		return 1
	}

	db, err := storage.NewBadgerStorage(dbPath)
	if err != nil {
		c.UI.Error(fmt.Sprintf("opening %s: %v", dbPath, err))
		return 1
	}
	defer db.Close()

	if err := builder.Commit(db); err != nil {
		c.UI.Error(fmt.Sprintf("committing store: %v", err))
		return 1
	}

	c.UI.Output(fmt.Sprintf("loaded %s into %s", factsPath, dbPath))
	return 0
}
