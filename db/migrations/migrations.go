package migrations

import "embed"

// FS embeds the SQL migration files in this directory, read by the
// golang-migrate iofs driver when applying migrations.
//
//go:embed *.sql
var FS embed.FS
