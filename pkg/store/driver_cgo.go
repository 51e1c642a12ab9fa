//go:build sqlite_cgo

package store

import (
	_ "github.com/mattn/go-sqlite3" // cgo SQLite driver
)

// driverName is the database/sql driver registered by mattn/go-sqlite3.
// Build with -tags sqlite_cgo to use the system SQLite library.
const driverName = "sqlite3"
