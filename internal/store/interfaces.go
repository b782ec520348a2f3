package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"

	"basegraph.app/materializer/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrLeaseLost is returned when a worker acks a job it no longer owns, e.g.
// after its lease expired and the job was handed to someone else.
var ErrLeaseLost = errors.New("job lease lost")

// ErrTransient marks a failure worth retrying that the driver cannot
// recognize on its own, e.g. an upstream replica lagging behind.
var ErrTransient = errors.New("transient failure")

// JobStore defines the contract for the durable job queue
type JobStore interface {
	// Enqueue inserts a job unless a queued job with the same topic and
	// discriminant exists. created is false when the insert was absorbed.
	Enqueue(ctx context.Context, job model.NewJob) (id int64, created bool, err error)
	EnqueueMany(ctx context.Context, jobs []model.NewJob) (int64, error)
	// EnqueueBulk inserts one job per row of source, which must select
	// (discriminant, payload). Runs as a single INSERT ... SELECT.
	EnqueueBulk(ctx context.Context, topic model.Topic, source sq.SelectBuilder, priority int32) (int64, error)
	Claim(ctx context.Context, params ClaimParams) ([]model.Job, error)
	Complete(ctx context.Context, job model.Job) error
	Retry(ctx context.Context, job model.Job, errMsg string, runAfter time.Time) error
	Fail(ctx context.Context, job model.Job, errMsg string) error
	ListExpired(ctx context.Context, limit int) ([]model.Job, error)
	Stats(ctx context.Context) ([]model.TopicStats, error)
	RetryFailed(ctx context.Context, topic *model.Topic) (int64, error)
}

type ClaimParams struct {
	Topics   []model.Topic
	WorkerID string
	Lease    time.Duration
	Limit    int
}

// ResourceStore defines the contract for materialized resources
type ResourceStore interface {
	// Upsert writes data for (resourceType, upstreamID), bumping version_id on every call.
	Upsert(ctx context.Context, resourceType model.ResourceType, upstreamID string, data json.RawMessage, resolved bool) (*model.MaterializedResource, error)
	Tombstone(ctx context.Context, resourceType model.ResourceType, upstreamID string) (bool, error)
	Get(ctx context.Context, resourceType model.ResourceType, upstreamID string) (*model.MaterializedResource, error)
	ListUnresolved(ctx context.Context, afterID int64, limit int) ([]model.MaterializedResource, error)
	LookupIDs(ctx context.Context, resourceType model.ResourceType, upstreamIDs []string) (map[string]int64, error)
	// PatchData replaces data and bumps the version, only if the row is still at version.
	// Returns false when it moved on. MarkResolved leaves the version alone.
	PatchData(ctx context.Context, id, version int64, data json.RawMessage, resolved bool) (bool, error)
	MarkResolved(ctx context.Context, id, version int64) (bool, error)
	CountMissing(ctx context.Context, spec RootSpec) (int64, error)
}

// UpstreamStore runs read and maintenance queries against the upstream tables.
type UpstreamStore interface {
	RootIDs(ctx context.Context, query sq.Sqlizer) ([]string, error)
	Count(ctx context.Context, p Predicate) (int64, error)
	FindIDs(ctx context.Context, p Predicate, limit int) ([]string, error)
	Exec(ctx context.Context, stmt sq.Sqlizer) (int64, error)
}
