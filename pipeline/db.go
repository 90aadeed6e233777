package pipeline

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Driver names a linked database/sql driver.
type Driver string

const (
	Postgres Driver = "pgx"
	MySQL    Driver = "mysql"
	SQLite   Driver = "sqlite"
)

// OpenDB opens and pings a database handle for one of the linked drivers.
func OpenDB(driver Driver, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("pipeline: dsn is required")
	}
	db, err := sql.Open(string(driver), dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// ScanFunc maps the current row of a result set to a value.
type ScanFunc[V any] func(rows *sql.Rows) (V, error)

// Query binds a SELECT to a FetchFunc. Arguments are captured at bind time.
func Query[V any](db *sql.DB, query string, scan ScanFunc[V], args ...any) FetchFunc[V] {
	return func(ctx context.Context) ([]V, error) {
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []V
		for rows.Next() {
			v, err := scan(rows)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, rows.Err()
	}
}

// QueryOne binds a single-row SELECT to a FetchOneFunc. No row is not an
// error; it reports ok=false.
func QueryOne[V any](db *sql.DB, query string, scan ScanFunc[V], args ...any) FetchOneFunc[V] {
	return func(ctx context.Context) (V, bool, error) {
		var zero V
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return zero, false, err
		}
		defer rows.Close()

		if !rows.Next() {
			return zero, false, rows.Err()
		}
		v, err := scan(rows)
		if err != nil {
			return zero, false, err
		}
		return v, true, rows.Err()
	}
}

// Exec binds a mutation statement to an ExecFunc.
func Exec(db *sql.DB, stmt string, args ...any) ExecFunc {
	return func(ctx context.Context) error {
		_, err := db.ExecContext(ctx, stmt, args...)
		return err
	}
}
