package store

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/stdlib"
)

// The queries in this package are written once with ? placeholders and run
// on SQLite as-is. On PostgreSQL (a *sql.DB opened through pgx's stdlib
// adapter) the placeholders are renumbered to $1, $2, ...

func isPostgres(db *sql.DB) bool {
	_, ok := db.Driver().(*stdlib.Driver)
	return ok
}

// bind prepares query for db's driver.
func bind(db *sql.DB, query string) string {
	if !isPostgres(db) {
		return query
	}
	return numberPlaceholders(query)
}

// numberPlaceholders replaces every ? outside of string literals with $n.
func numberPlaceholders(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	quoted := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			quoted = !quoted
			b.WriteByte(c)
		case c == '?' && !quoted:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// insertID runs an INSERT and returns the new row's id.
func insertID(ctx context.Context, db *sql.DB, query string, args ...any) (int64, error) {
	var id int64
	err := db.QueryRowContext(ctx, bind(db, query+` RETURNING id`), args...).Scan(&id)
	return id, err
}
