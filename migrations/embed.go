// Package migrations embeds the generation queue schema so the coursegen
// binary and the integration tests apply the same SQL files.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
