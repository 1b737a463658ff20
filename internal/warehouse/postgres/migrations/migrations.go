// Package migrations embeds the goose migrations for the run log.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
