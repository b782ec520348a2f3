package store

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"basegraph.app/materializer/core/db"
)

// Predicate is a row filter over one upstream table. Batched tasks count and
// page through the same predicate, so rows they have already processed must
// stop matching it.
type Predicate struct {
	Table string
	// IDColumn defaults to "id".
	IDColumn string
	Where    sq.Sqlizer
}

func (p Predicate) idColumn() string {
	if p.IDColumn == "" {
		return "id"
	}
	return p.IDColumn
}

type upstreamStore struct {
	q db.Querier
}

func newUpstreamStore(q db.Querier) UpstreamStore {
	return &upstreamStore{q: q}
}

// RootIDs runs a fan-out query whose first column is a root id.
func (s *upstreamStore) RootIDs(ctx context.Context, query sq.Sqlizer) ([]string, error) {
	rows, err := queryBuilder(ctx, s.q, query)
	if err != nil {
		return nil, fmt.Errorf("querying root ids: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	var ids []string
	for rows.Next() {
		var id *string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning root id: %w", err)
		}
		if id == nil {
			continue
		}
		if _, dup := seen[*id]; dup {
			continue
		}
		seen[*id] = struct{}{}
		ids = append(ids, *id)
	}
	return ids, rows.Err()
}

func (s *upstreamStore) Count(ctx context.Context, p Predicate) (int64, error) {
	query := sq.Select("count(*)").From(p.Table)
	if p.Where != nil {
		query = query.Where(p.Where)
	}
	sql, args, err := toSQL(query)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := s.q.QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting %s: %w", p.Table, err)
	}
	return count, nil
}

// FindIDs returns the first limit ids matching p. There is deliberately no
// offset: callers re-run the same predicate after processing each page.
func (s *upstreamStore) FindIDs(ctx context.Context, p Predicate, limit int) ([]string, error) {
	query := sq.Select(p.idColumn() + "::text").
		From(p.Table).
		OrderBy(p.idColumn()).
		Limit(uint64(limit))
	if p.Where != nil {
		query = query.Where(p.Where)
	}

	rows, err := queryBuilder(ctx, s.q, query)
	if err != nil {
		return nil, fmt.Errorf("finding %s: %w", p.Table, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *upstreamStore) Exec(ctx context.Context, stmt sq.Sqlizer) (int64, error) {
	n, err := execBuilder(ctx, s.q, stmt)
	if err != nil {
		return 0, fmt.Errorf("executing upstream statement: %w", err)
	}
	return n, nil
}
