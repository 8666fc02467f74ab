// Package assets embeds the files the binaries ship with: email templates and
// the postgres directory migrations.
package assets

import "embed"

//go:embed all:templates migrations
var FS embed.FS
