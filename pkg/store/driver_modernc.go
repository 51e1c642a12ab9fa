//go:build !sqlite_cgo

package store

import (
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// driverName is the database/sql driver registered by modernc.org/sqlite.
const driverName = "sqlite"
