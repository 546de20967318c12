package models

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

const mysqlErrDuplicateEntry = 1062

// isDuplicateKeyErr reports whether err is a MySQL unique-constraint
// violation, so races on unique columns can be translated into typed errors
// or retried instead of surfacing a raw driver error.
func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlErrDuplicateEntry
	}
	return false
}
