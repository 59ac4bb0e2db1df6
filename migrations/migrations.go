// Package migrations embeds the SQL migrations for the automations table
package migrations

import "embed"

// FS holds the *.up.sql / *.down.sql files in golang-migrate naming
//
//go:embed *.sql
var FS embed.FS
