package database

import (
	"errors"
	"strings"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const pqUniqueViolation = "23505"

// IsUniqueViolation reports whether err comes from a UNIQUE or PRIMARY KEY constraint.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// UniqueKey identifies one unique constraint on both backends: Postgres reports
// the constraint name, SQLite only the table.column it covers.
type UniqueKey struct {
	Constraint string
	Column     string
}

// IsUniqueViolationOn reports whether err is a unique violation of key.
func IsUniqueViolationOn(err error, key UniqueKey) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation && pqErr.Constraint == key.Constraint
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		if liteErr.Code() != sqlite3.SQLITE_CONSTRAINT_UNIQUE {
			return false
		}
		// modernc exposes no column field; the message lists the covered
		// columns ("UNIQUE constraint failed: accounts.referral_code (2067)").
		fields := strings.FieldsFunc(liteErr.Error(), func(r rune) bool {
			return r == ' ' || r == ',' || r == '(' || r == ')'
		})
		for _, field := range fields {
			if field == key.Column {
				return true
			}
		}
	}
	return false
}
