// Package storetest provides in-memory stores that follow the same
// deduplication, claim and versioning rules as the Postgres stores.
package storetest

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"

	"basegraph.app/materializer/internal/model"
	"basegraph.app/materializer/internal/store"
)

// JobStore is an in-memory store.JobStore.
type JobStore struct {
	mu     sync.Mutex
	nextID int64
	jobs   map[int64]*model.Job
	now    func() time.Time

	// BulkRows resolves the source of EnqueueBulk, which cannot be evaluated
	// without a database.
	BulkRows func(topic model.Topic, source sq.SelectBuilder) []model.NewJob
	// Err, when set, is returned by every call.
	Err error
}

var _ store.JobStore = (*JobStore)(nil)

func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[int64]*model.Job), now: time.Now}
}

func (s *JobStore) Enqueue(_ context.Context, job model.NewJob) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, false, s.Err
	}
	id, ok := s.insertLocked(job)
	return id, ok, nil
}

func (s *JobStore) EnqueueMany(_ context.Context, jobs []model.NewJob) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	var n int64
	for _, job := range jobs {
		if _, ok := s.insertLocked(job); ok {
			n++
		}
	}
	return n, nil
}

func (s *JobStore) EnqueueBulk(_ context.Context, topic model.Topic, source sq.SelectBuilder, priority int32) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	if s.BulkRows == nil {
		return 0, nil
	}
	var n int64
	for _, job := range s.BulkRows(topic, source) {
		job.Topic = topic
		job.Priority = priority
		if _, ok := s.insertLocked(job); ok {
			n++
		}
	}
	return n, nil
}

func (s *JobStore) insertLocked(job model.NewJob) (int64, bool) {
	if job.Discriminant != nil && s.queuedLocked(job.Topic, *job.Discriminant) != nil {
		return 0, false
	}
	if job.Priority == 0 {
		job.Priority = model.PriorityDefault
	}
	s.nextID++
	now := s.now()
	s.jobs[s.nextID] = &model.Job{
		ID:           s.nextID,
		Topic:        job.Topic,
		Discriminant: job.Discriminant,
		Priority:     job.Priority,
		Payload:      job.Payload,
		Status:       model.JobStatusQueued,
		RunAfter:     now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return s.nextID, true
}

func (s *JobStore) queuedLocked(topic model.Topic, discriminant string) *model.Job {
	for _, j := range s.jobs {
		if j.Status == model.JobStatusQueued && j.Topic == topic && j.Discriminant != nil && *j.Discriminant == discriminant {
			return j
		}
	}
	return nil
}

func (s *JobStore) Claim(_ context.Context, params store.ClaimParams) ([]model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}

	now := s.now()
	var runnable []*model.Job
	for _, j := range s.jobs {
		if j.Status == model.JobStatusQueued && slices.Contains(params.Topics, j.Topic) && !j.RunAfter.After(now) {
			runnable = append(runnable, j)
		}
	}
	slices.SortFunc(runnable, func(a, b *model.Job) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	limit := max(params.Limit, 1)
	var out []model.Job
	for _, j := range runnable[:min(limit, len(runnable))] {
		lease := now.Add(params.Lease)
		worker := params.WorkerID
		j.Status = model.JobStatusClaimed
		j.Attempt++
		j.WorkerID = &worker
		j.LeaseUntil = &lease
		j.UpdatedAt = now
		out = append(out, *j)
	}
	return out, nil
}

func (s *JobStore) ownedLocked(job model.Job) (*model.Job, error) {
	j, ok := s.jobs[job.ID]
	if !ok || j.Status != model.JobStatusClaimed || j.Attempt != job.Attempt {
		return nil, store.ErrLeaseLost
	}
	return j, nil
}

func (s *JobStore) Complete(_ context.Context, job model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, err := s.ownedLocked(job); err != nil {
		return err
	}
	delete(s.jobs, job.ID)
	return nil
}

func (s *JobStore) Retry(_ context.Context, job model.Job, errMsg string, runAfter time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	j, err := s.ownedLocked(job)
	if err != nil {
		return err
	}
	if j.Discriminant != nil && s.queuedLocked(j.Topic, *j.Discriminant) != nil {
		delete(s.jobs, j.ID)
		return nil
	}
	j.Status = model.JobStatusQueued
	j.WorkerID = nil
	j.LeaseUntil = nil
	j.RunAfter = runAfter
	j.Error = &errMsg
	j.UpdatedAt = s.now()
	return nil
}

func (s *JobStore) Fail(_ context.Context, job model.Job, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	j, err := s.ownedLocked(job)
	if err != nil {
		return err
	}
	j.Status = model.JobStatusErrored
	j.WorkerID = nil
	j.LeaseUntil = nil
	j.Error = &errMsg
	j.UpdatedAt = s.now()
	return nil
}

func (s *JobStore) ListExpired(_ context.Context, limit int) ([]model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	now := s.now()
	var out []model.Job
	for _, j := range s.sortedLocked() {
		if len(out) == limit {
			break
		}
		if j.Status == model.JobStatusClaimed && j.LeaseUntil != nil && j.LeaseUntil.Before(now) {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (s *JobStore) Stats(_ context.Context) ([]model.TopicStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	byTopic := make(map[model.Topic]*model.TopicStats)
	for _, j := range s.jobs {
		st, ok := byTopic[j.Topic]
		if !ok {
			st = &model.TopicStats{Topic: j.Topic}
			byTopic[j.Topic] = st
		}
		switch j.Status {
		case model.JobStatusQueued:
			st.Queued++
		case model.JobStatusClaimed:
			st.Claimed++
		case model.JobStatusErrored:
			st.Errored++
		}
	}
	var out []model.TopicStats
	for _, st := range byTopic {
		out = append(out, *st)
	}
	slices.SortFunc(out, func(a, b model.TopicStats) int { return cmp.Compare(a.Topic, b.Topic) })
	return out, nil
}

func (s *JobStore) RetryFailed(_ context.Context, topic *model.Topic) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	var n int64
	for _, j := range s.sortedLocked() {
		if j.Status != model.JobStatusErrored || (topic != nil && j.Topic != *topic) {
			continue
		}
		if j.Discriminant != nil && s.queuedLocked(j.Topic, *j.Discriminant) != nil {
			continue
		}
		j.Status = model.JobStatusQueued
		j.Attempt = 0
		j.Error = nil
		j.RunAfter = s.now()
		n++
	}
	return n, nil
}

// SetClock replaces the store's clock.
func (s *JobStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Jobs returns a copy of every job, ordered by id.
func (s *JobStore) Jobs() []model.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Job
	for _, j := range s.sortedLocked() {
		out = append(out, *j)
	}
	return out
}

// WithStatus returns the jobs of topic in status, ordered by id.
func (s *JobStore) WithStatus(topic model.Topic, status model.JobStatus) []model.Job {
	var out []model.Job
	for _, j := range s.Jobs() {
		if j.Topic == topic && j.Status == status {
			out = append(out, j)
		}
	}
	return out
}

func (s *JobStore) sortedLocked() []*model.Job {
	out := make([]*model.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	slices.SortFunc(out, func(a, b *model.Job) int { return cmp.Compare(a.ID, b.ID) })
	return out
}
