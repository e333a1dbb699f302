package migrations

import "embed"

// FS contains embedded SQLite migrations for guild vault storage.
//
//go:embed *.sql
var FS embed.FS
