// Package migrations embeds the deadline store schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
