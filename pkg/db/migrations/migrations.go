// Package migrations holds the schema history of the simulator database.
package migrations

import "github.com/uptrace/bun/migrate"

// Migrations collects every registered migration.
var Migrations = migrate.NewMigrations()
