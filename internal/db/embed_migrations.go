package db

import "embed"

// MigrationFS embeds the SQL migrations applied by cmd/migrate and, optionally, at server start.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
