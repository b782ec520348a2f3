package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"basegraph.app/materializer/core/db"
	"basegraph.app/materializer/internal/model"
)

const jobColumns = "id, topic, discriminant, priority, payload, status, attempt, worker_id, lease_until, run_after, error, created_at, updated_at"

// Must match the predicate of jobs_queued_discriminant_idx.
const onConflictQueued = "ON CONFLICT (topic, discriminant) WHERE discriminant IS NOT NULL AND status = 'queued' DO NOTHING"

const enqueueManyChunk = 500

type jobStore struct {
	q db.Querier
}

func newJobStore(q db.Querier) JobStore {
	return &jobStore{q: q}
}

func (s *jobStore) Enqueue(ctx context.Context, job model.NewJob) (int64, bool, error) {
	priority := job.Priority
	if priority == 0 {
		priority = model.PriorityDefault
	}

	var id int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO materialized.jobs (topic, discriminant, priority, payload)
		VALUES ($1, $2, $3, $4)
		`+onConflictQueued+`
		RETURNING id`,
		string(job.Topic), job.Discriminant, priority, []byte(job.Payload),
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("enqueue %s: %w", job.Topic, err)
	}
	return id, true, nil
}

func (s *jobStore) EnqueueMany(ctx context.Context, jobs []model.NewJob) (int64, error) {
	var total int64
	for start := 0; start < len(jobs); start += enqueueManyChunk {
		end := min(start+enqueueManyChunk, len(jobs))

		insert := sq.Insert("materialized.jobs").
			Columns("topic", "discriminant", "priority", "payload").
			Suffix(onConflictQueued)
		for _, job := range jobs[start:end] {
			priority := job.Priority
			if priority == 0 {
				priority = model.PriorityDefault
			}
			insert = insert.Values(string(job.Topic), job.Discriminant, priority, []byte(job.Payload))
		}

		n, err := execBuilder(ctx, s.q, insert)
		if err != nil {
			return total, fmt.Errorf("enqueue many: %w", err)
		}
		total += n
	}
	return total, nil
}

func (s *jobStore) EnqueueBulk(ctx context.Context, topic model.Topic, source sq.SelectBuilder, priority int32) (int64, error) {
	rows := sq.Select().
		Column(sq.Expr("?::text", string(topic))).
		Column("src.discriminant").
		Column(sq.Expr("?::integer", priority)).
		Column("src.payload").
		FromSelect(source, "src")

	insert := sq.Insert("materialized.jobs").
		Columns("topic", "discriminant", "priority", "payload").
		Select(rows).
		Suffix(onConflictQueued)

	n, err := execBuilder(ctx, s.q, insert)
	if err != nil {
		return 0, fmt.Errorf("enqueue bulk %s: %w", topic, err)
	}
	return n, nil
}

// Claim marks up to Limit runnable jobs as claimed by WorkerID. Rows locked by a
// concurrent claimer are skipped, so no two workers get the same row.
func (s *jobStore) Claim(ctx context.Context, params ClaimParams) ([]model.Job, error) {
	topics := make([]string, len(params.Topics))
	for i, t := range params.Topics {
		topics[i] = string(t)
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 1
	}

	rows, err := s.q.Query(ctx, `
		UPDATE materialized.jobs AS j
		SET status = 'claimed',
		    worker_id = $1,
		    lease_until = now() + make_interval(secs => $2),
		    attempt = j.attempt + 1,
		    updated_at = now()
		WHERE j.id IN (
			SELECT id FROM materialized.jobs
			WHERE status = 'queued'
			  AND topic = ANY($3)
			  AND run_after <= now()
			ORDER BY priority DESC, id
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		params.WorkerID, params.Lease.Seconds(), topics, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claiming jobs: %w", err)
	}
	return collectJobs(rows)
}

func (s *jobStore) Complete(ctx context.Context, job model.Job) error {
	tag, err := s.q.Exec(ctx, `
		DELETE FROM materialized.jobs
		WHERE id = $1 AND attempt = $2 AND status = 'claimed'`,
		job.ID, job.Attempt,
	)
	if err != nil {
		return fmt.Errorf("completing job %d: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Retry puts job back in the queue. When another queued job already carries the
// same discriminant, that job covers the work and this one is dropped.
func (s *jobStore) Retry(ctx context.Context, job model.Job, errMsg string, runAfter time.Time) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE materialized.jobs
		SET status = 'queued',
		    worker_id = NULL,
		    lease_until = NULL,
		    run_after = $3,
		    error = $4,
		    updated_at = now()
		WHERE id = $1 AND attempt = $2 AND status = 'claimed'`,
		job.ID, job.Attempt, runAfter, errMsg,
	)
	if isUniqueViolation(err) {
		return s.drop(ctx, job)
	}
	if err != nil {
		return fmt.Errorf("retrying job %d: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (s *jobStore) drop(ctx context.Context, job model.Job) error {
	if _, err := s.q.Exec(ctx, `
		DELETE FROM materialized.jobs
		WHERE id = $1 AND attempt = $2 AND status = 'claimed'`,
		job.ID, job.Attempt,
	); err != nil {
		return fmt.Errorf("dropping superseded job %d: %w", job.ID, err)
	}
	return nil
}

func (s *jobStore) Fail(ctx context.Context, job model.Job, errMsg string) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE materialized.jobs
		SET status = 'errored',
		    worker_id = NULL,
		    lease_until = NULL,
		    error = $3,
		    updated_at = now()
		WHERE id = $1 AND attempt = $2 AND status = 'claimed'`,
		job.ID, job.Attempt, errMsg,
	)
	if err != nil {
		return fmt.Errorf("failing job %d: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (s *jobStore) ListExpired(ctx context.Context, limit int) ([]model.Job, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+jobColumns+`
		FROM materialized.jobs
		WHERE status = 'claimed' AND lease_until < now()
		ORDER BY lease_until
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing expired jobs: %w", err)
	}
	return collectJobs(rows)
}

func (s *jobStore) Stats(ctx context.Context) ([]model.TopicStats, error) {
	rows, err := s.q.Query(ctx, `
		SELECT topic,
		       count(*) FILTER (WHERE status = 'queued'),
		       count(*) FILTER (WHERE status = 'claimed'),
		       count(*) FILTER (WHERE status = 'errored')
		FROM materialized.jobs
		GROUP BY topic
		ORDER BY topic`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	var stats []model.TopicStats
	for rows.Next() {
		var st model.TopicStats
		var topic string
		if err := rows.Scan(&topic, &st.Queued, &st.Claimed, &st.Errored); err != nil {
			return nil, err
		}
		st.Topic = model.Topic(topic)
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// RetryFailed requeues errored jobs, keeping one job per discriminant and
// skipping discriminants that already have a queued job.
func (s *jobStore) RetryFailed(ctx context.Context, topic *model.Topic) (int64, error) {
	candidates := sq.Select("DISTINCT ON (e.topic, COALESCE(e.discriminant, e.id::text)) e.id").
		From("materialized.jobs e").
		Where(sq.Eq{"e.status": string(model.JobStatusErrored)}).
		Where(`NOT EXISTS (
			SELECT 1 FROM materialized.jobs q
			WHERE q.status = 'queued' AND q.topic = e.topic AND q.discriminant = e.discriminant)`).
		OrderBy("e.topic", "COALESCE(e.discriminant, e.id::text)", "e.id DESC")
	if topic != nil {
		candidates = candidates.Where(sq.Eq{"e.topic": string(*topic)})
	}

	update := sq.Update("materialized.jobs").
		Set("status", string(model.JobStatusQueued)).
		Set("attempt", 0).
		Set("error", nil).
		Set("run_after", sq.Expr("now()")).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Expr("id IN (?)", candidates))

	n, err := execBuilder(ctx, s.q, update)
	if err != nil {
		return 0, fmt.Errorf("retrying failed jobs: %w", err)
	}
	return n, nil
}

func collectJobs(rows pgx.Rows) ([]model.Job, error) {
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (model.Job, error) {
	var (
		job     model.Job
		topic   string
		status  string
		payload []byte
	)
	err := row.Scan(
		&job.ID, &topic, &job.Discriminant, &job.Priority, &payload, &status,
		&job.Attempt, &job.WorkerID, &job.LeaseUntil, &job.RunAfter, &job.Error,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return model.Job{}, fmt.Errorf("scanning job: %w", err)
	}
	job.Topic = model.Topic(topic)
	job.Status = model.JobStatus(status)
	job.Payload = payload
	return job, nil
}
