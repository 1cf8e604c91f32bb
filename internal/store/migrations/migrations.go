// Package migrations embeds the SQL schema migrations for the courier store.
package migrations

import "embed"

// FS holds the numbered up/down migration files.
//
//go:embed *.sql
var FS embed.FS
