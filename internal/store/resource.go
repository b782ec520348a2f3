package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"basegraph.app/materializer/common/id"
	"basegraph.app/materializer/core/db"
	"basegraph.app/materializer/internal/model"
)

const resourceColumns = "id, resource_type, upstream_id, version_id, data, resolved, is_live, last_updated"

// RootSpec identifies the upstream table that owns a resource type.
// Filter may restrict which rows are roots; it refers to the root table as "r".
type RootSpec struct {
	ResourceType model.ResourceType
	Table        string
	Filter       sq.Sqlizer
}

type resourceStore struct {
	q db.Querier
}

func newResourceStore(q db.Querier) ResourceStore {
	return &resourceStore{q: q}
}

func (s *resourceStore) Upsert(ctx context.Context, resourceType model.ResourceType, upstreamID string, data json.RawMessage, resolved bool) (*model.MaterializedResource, error) {
	row := s.q.QueryRow(ctx, `
		INSERT INTO materialized.resources AS r
			(id, resource_type, upstream_id, version_id, data, resolved, is_live, last_updated)
		VALUES ($1, $2, $3, 1, $4, $5, true, now())
		ON CONFLICT (resource_type, upstream_id) DO UPDATE
		SET version_id = r.version_id + 1,
		    data = EXCLUDED.data,
		    resolved = EXCLUDED.resolved,
		    is_live = true,
		    last_updated = now()
		RETURNING `+resourceColumns,
		id.New(), string(resourceType), upstreamID, []byte(data), resolved,
	)
	res, err := scanResource(row)
	if err != nil {
		return nil, fmt.Errorf("upserting %s/%s: %w", resourceType, upstreamID, err)
	}
	return res, nil
}

func (s *resourceStore) Tombstone(ctx context.Context, resourceType model.ResourceType, upstreamID string) (bool, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE materialized.resources
		SET is_live = false,
		    version_id = version_id + 1,
		    last_updated = now()
		WHERE resource_type = $1 AND upstream_id = $2 AND is_live`,
		string(resourceType), upstreamID,
	)
	if err != nil {
		return false, fmt.Errorf("tombstoning %s/%s: %w", resourceType, upstreamID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *resourceStore) Get(ctx context.Context, resourceType model.ResourceType, upstreamID string) (*model.MaterializedResource, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+resourceColumns+`
		FROM materialized.resources
		WHERE resource_type = $1 AND upstream_id = $2`,
		string(resourceType), upstreamID,
	)
	res, err := scanResource(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return res, nil
}

func (s *resourceStore) ListUnresolved(ctx context.Context, afterID int64, limit int) ([]model.MaterializedResource, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+resourceColumns+`
		FROM materialized.resources
		WHERE resolved = false AND is_live = true AND id > $1
		ORDER BY id
		LIMIT $2`,
		afterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing unresolved resources: %w", err)
	}
	defer rows.Close()

	var out []model.MaterializedResource
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, rows.Err()
}

func (s *resourceStore) LookupIDs(ctx context.Context, resourceType model.ResourceType, upstreamIDs []string) (map[string]int64, error) {
	ids := make(map[string]int64, len(upstreamIDs))
	if len(upstreamIDs) == 0 {
		return ids, nil
	}

	rows, err := s.q.Query(ctx, `
		SELECT upstream_id, id
		FROM materialized.resources
		WHERE resource_type = $1 AND upstream_id = ANY($2) AND is_live`,
		string(resourceType), upstreamIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("looking up %s ids: %w", resourceType, err)
	}
	defer rows.Close()

	for rows.Next() {
		var upstreamID string
		var resourceID int64
		if err := rows.Scan(&upstreamID, &resourceID); err != nil {
			return nil, err
		}
		ids[upstreamID] = resourceID
	}
	return ids, rows.Err()
}

func (s *resourceStore) PatchData(ctx context.Context, resourceID, version int64, data json.RawMessage, resolved bool) (bool, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE materialized.resources
		SET data = $3,
		    resolved = $4,
		    version_id = version_id + 1,
		    last_updated = now()
		WHERE id = $1 AND version_id = $2`,
		resourceID, version, []byte(data), resolved,
	)
	if err != nil {
		return false, fmt.Errorf("patching resource %d: %w", resourceID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *resourceStore) MarkResolved(ctx context.Context, resourceID, version int64) (bool, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE materialized.resources
		SET resolved = true
		WHERE id = $1 AND version_id = $2`,
		resourceID, version,
	)
	if err != nil {
		return false, fmt.Errorf("marking resource %d resolved: %w", resourceID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *resourceStore) CountMissing(ctx context.Context, spec RootSpec) (int64, error) {
	query := sq.Select("count(*)").FromSelect(MissingRoots(spec), "missing")
	sql, args, err := toSQL(query)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := s.q.QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting missing %s: %w", spec.ResourceType, err)
	}
	return count, nil
}

// MissingRoots selects the ids of roots that have neither a materialized row nor
// a pending materialize job.
func MissingRoots(spec RootSpec) sq.SelectBuilder {
	b := sq.Select("r.id::text AS id").
		From(spec.Table+" r").
		LeftJoin("materialized.resources m ON m.resource_type = ? AND m.upstream_id = r.id::text", string(spec.ResourceType)).
		Where("m.id IS NULL").
		Where(sq.Expr(`NOT EXISTS (
			SELECT 1 FROM materialized.jobs j
			WHERE j.topic = ? AND j.status IN ('queued', 'claimed')
			  AND j.discriminant = ?::text || ':' || r.id::text)`,
			string(model.TopicMaterialize), string(spec.ResourceType)))
	if spec.Filter != nil {
		b = b.Where(spec.Filter)
	}
	return b
}

// MissingJobsSource shapes MissingRoots into the (discriminant, payload) rows
// expected by JobStore.EnqueueBulk.
func MissingJobsSource(spec RootSpec) sq.SelectBuilder {
	return RootJobsSource(spec.ResourceType, MissingRoots(spec))
}

// RootJobsSource turns a query selecting root ids as "id" into materialize job rows.
func RootJobsSource(resourceType model.ResourceType, roots sq.SelectBuilder) sq.SelectBuilder {
	return sq.Select().
		Distinct().
		Column(sq.Expr("?::text || ':' || roots.id AS discriminant", string(resourceType))).
		Column(sq.Expr("jsonb_build_object('resource_type', ?::text, 'upstream_id', roots.id) AS payload", string(resourceType))).
		FromSelect(roots, "roots").
		Where("roots.id IS NOT NULL")
}

func scanResource(row pgx.Row) (*model.MaterializedResource, error) {
	var (
		res          model.MaterializedResource
		resourceType string
		data         []byte
	)
	if err := row.Scan(&res.ID, &resourceType, &res.UpstreamID, &res.VersionID, &data, &res.Resolved, &res.IsLive, &res.LastUpdated); err != nil {
		return nil, err
	}
	res.ResourceType = model.ResourceType(resourceType)
	res.Data = data
	return &res, nil
}
