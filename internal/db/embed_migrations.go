package db

import "embed"

// MigrationFS embeds the schema migrations in internal/db/migrations.
// The migrate runner (server migrate subcommand) applies them.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
