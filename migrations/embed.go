// Package migrations embeds the ledger schema for integration tests and tooling.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
