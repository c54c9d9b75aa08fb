package storage

import (
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
)

// ErrDuplicate reports a unique-constraint violation, translated from the
// driver-specific error so callers never inspect driver types.
var ErrDuplicate = errors.New("duplicate record")

const mysqlDuplicateEntry = 1062

// TranslateError maps driver-level errors onto package sentinels. Errors
// with no mapping are returned unchanged.
func TranslateError(err error) error {
	if err == nil {
		return nil
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return ErrDuplicate
		}
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
		return ErrDuplicate
	}

	return err
}

// IsDuplicate reports whether err is a unique-constraint violation.
func IsDuplicate(err error) bool {
	return errors.Is(TranslateError(err), ErrDuplicate)
}
