// Package migrations embeds the SQL schema migrations applied to every
// project database on open.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
