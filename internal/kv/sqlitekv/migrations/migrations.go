package migrations

import "embed"

// FS holds the sqlite schema migrations.
//
//go:embed *.sql
var FS embed.FS
