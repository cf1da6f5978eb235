// Package migrations embeds the SQL schema for the local BAP mirror.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
