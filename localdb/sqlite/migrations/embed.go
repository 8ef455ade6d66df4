package migrations

import "embed"

// FS holds the versioned schema of the local store.
//
//go:embed *.sql
var FS embed.FS
