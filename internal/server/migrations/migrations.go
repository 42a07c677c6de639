// Package migrations embeds the schema used by standalone deployments.
// Installations that share the platform database leave it disabled.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
