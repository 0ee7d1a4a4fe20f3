// Package db embeds the database schema.
package db

import _ "embed"

// Schema creates every table used by the store back office. It is safe to
// run against an already migrated database.
//
//go:embed migrations/001_schema.sql
var Schema string
