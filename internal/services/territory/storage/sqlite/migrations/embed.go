package migrations

import "embed"

// FS contains embedded SQLite migrations for territory storage.
//
//go:embed *.sql
var FS embed.FS
