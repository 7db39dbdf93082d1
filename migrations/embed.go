// Package migrations embeds the bridge's SQL migration files so the binary
// can migrate its database without the files on disk.
package migrations

import "embed"

// FS holds the *.up.sql files at its root. Pass it as
// database.Config.Migrations.
//
//go:embed *.up.sql
var FS embed.FS
