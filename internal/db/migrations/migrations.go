// Package migrations embeds the Postgres schema migrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// Version is the schema version the service expects.
const Version uint = 1
