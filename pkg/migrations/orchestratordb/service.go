// Package orchestratordb holds all the migrations for the orchestrator database
package orchestratordb

import (
	"github.com/uptrace/bun/migrate"
)

// Migrations is the collection of all migrations for the orchestrator database
var Migrations = migrate.NewMigrations()
