package migrations

import "embed"

// Files exposes embedded SQL migration files ordered lexicographically.
// Postgres files live at the root, the SQLite variant under sqlite/.
//
//go:embed *.sql sqlite/*.sql
var Files embed.FS
