// Package sqlstore implements the app repository and view-state ports over
// database/sql. The sqlite and postgres adapters open a database and hand it
// to New with their dialect.
package sqlstore

import (
	"strconv"
	"strings"
)

// Dialect selects the SQL flavor spoken by the underlying driver.
type Dialect int

// SQLite and Postgres are the supported dialects.
const (
	SQLite Dialect = iota
	Postgres
)

// String returns the dialect name used in error messages.
func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// rebind rewrites ? placeholders into $n for postgres. Queries in this
// package never contain a literal question mark.
func (d Dialect) rebind(query string) string {
	if d != Postgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r != '?' {
			b.WriteRune(r)
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

func (d Dialect) serialPrimaryKey() string {
	if d == Postgres {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

func (d Dialect) floatType() string {
	if d == Postgres {
		return "DOUBLE PRECISION"
	}
	return "REAL"
}
