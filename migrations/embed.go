// Package migrations embeds the SQL schema so the binary can migrate its
// database without the files on disk.
package migrations

import "embed"

//go:embed *.sql
var files embed.FS

// FS holds the embedded migration files at its root.
var FS = files
