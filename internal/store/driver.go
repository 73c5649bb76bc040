package store

import (
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Driver names accepted by WithDriver.
const (
	DriverMattn   = "sqlite3"
	DriverModernc = "sqlite"
)

// DefaultDriver is used when no WithDriver option is given.
const DefaultDriver = DriverMattn

// ValidDriver reports whether name is a registered SQLite driver.
func ValidDriver(name string) bool {
	return name == DriverMattn || name == DriverModernc
}
