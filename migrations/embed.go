// Package migrations holds the Postgres schema, applied with reconctl migrate.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
