package store

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"basegraph.app/materializer/core/db"
)

const pgUniqueViolation = "23505"

// Builders are composed with '?' placeholders so that nested selects keep a single
// numbering, and rewritten to $n right before execution.
func toSQL(b sq.Sqlizer) (string, []any, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("building query: %w", err)
	}
	query, err = sq.Dollar.ReplacePlaceholders(query)
	if err != nil {
		return "", nil, fmt.Errorf("numbering placeholders: %w", err)
	}
	return query, args, nil
}

func execBuilder(ctx context.Context, q db.Querier, b sq.Sqlizer) (int64, error) {
	query, args, err := toSQL(b)
	if err != nil {
		return 0, err
	}
	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func queryBuilder(ctx context.Context, q db.Querier, b sq.Sqlizer) (pgx.Rows, error) {
	query, args, err := toSQL(b)
	if err != nil {
		return nil, err
	}
	return q.Query(ctx, query, args...)
}

// QueryRow builds b and runs it on q. Build errors surface from Scan.
func QueryRow(ctx context.Context, q db.Querier, b sq.Sqlizer) pgx.Row {
	query, args, err := toSQL(b)
	if err != nil {
		return errRow{err: err}
	}
	return q.QueryRow(ctx, query, args...)
}

// Query builds b and runs it on q.
func Query(ctx context.Context, q db.Querier, b sq.Sqlizer) (pgx.Rows, error) {
	return queryBuilder(ctx, q, b)
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// IsTransient reports whether err is worth retrying: timeouts, lost
// connections, lock contention and serialization failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case len(pgErr.Code) == 5 && pgErr.Code[:2] == "08": // connection exception
			return true
		case pgErr.Code == "40001", pgErr.Code == "40P01": // serialization failure, deadlock
			return true
		case pgErr.Code == "55P03", pgErr.Code == "57014": // lock not available, query canceled
			return true
		case pgErr.Code == "53300": // too many connections
			return true
		}
		return false
	}
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}
