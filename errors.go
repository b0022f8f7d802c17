package squery

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrBadQuery is returned when something passed as a query is neither a
// string nor a Serializer.
var ErrBadQuery = errors.New("squery: query must be a string or implement Serialize")

// IsMissingDatabase reports whether err is the server refusing a connection
// because the target database does not exist (SQLSTATE 3D000). Connect treats
// it as a signal to create the database and retry once.
func IsMissingDatabase(err error) bool {
	return sqlState(err) == "3D000"
}

// IsMissingTable reports whether err is PostgreSQL's undefined_table
// (SQLSTATE 42P01).
func IsMissingTable(err error) bool {
	return sqlState(err) == "42P01"
}

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
