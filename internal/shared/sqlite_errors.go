// Package shared provides helpers used by more than one package.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"errors"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteCode returns the primary result code of a driver error found in
// err's chain. Extended codes such as SQLITE_BUSY_SNAPSHOT are reduced to
// their primary code.
func SQLiteCode(err error) (int, bool) {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return 0, false
	}
	return se.Code() & 0xff, true
}

// IsSQLiteBusyError reports whether err is SQLITE_BUSY, raised when another
// connection holds the write lock.
func IsSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := SQLiteCode(err); ok {
		return code == sqlite3.SQLITE_BUSY
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY")
}

// IsSQLiteLockedError reports whether err is SQLITE_LOCKED, a conflict
// inside one shared-cache connection.
func IsSQLiteLockedError(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := SQLiteCode(err); ok {
		return code == sqlite3.SQLITE_LOCKED
	}
	return strings.Contains(err.Error(), "SQLITE_LOCKED")
}

// IsSQLiteConflictError reports whether a write failed on lock contention
// and is worth retrying. Errors that lost their driver type are matched by
// text.
func IsSQLiteConflictError(err error) bool {
	if err == nil {
		return false
	}
	if IsSQLiteBusyError(err) || IsSQLiteLockedError(err) {
		return true
	}
	_, typed := SQLiteCode(err)
	return !typed && strings.Contains(err.Error(), "database is locked")
}
