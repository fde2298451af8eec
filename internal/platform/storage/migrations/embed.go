// internal/platform/storage/migrations/embed.go
package migrations

import "embed"

// FS contains the embedded migrations, one directory per dialect.
//
//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS
