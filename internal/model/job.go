package model

import (
	"encoding/json"
	"time"
)

// Topic names a kind of job. Every topic has exactly one payload type and one handler.
type Topic string

type JobStatus string

const (
	TopicMaterialize Topic = "materialize"
	TopicResolve     Topic = "resolve"
)

const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusClaimed JobStatus = "claimed"
	JobStatusErrored JobStatus = "errored"
)

// Claim order is priority DESC, id ASC.
const (
	PriorityHigh    int32 = 1000
	PriorityDefault int32 = 500
	PriorityLow     int32 = 100
)

// Topics lists every topic the pipeline knows about.
func Topics() []Topic {
	return []Topic{TopicMaterialize, TopicResolve}
}

func (t Topic) Valid() bool {
	switch t {
	case TopicMaterialize, TopicResolve:
		return true
	}
	return false
}

type Job struct {
	ID           int64           `json:"id"`
	Topic        Topic           `json:"topic"`
	Discriminant *string         `json:"discriminant,omitempty"`
	Priority     int32           `json:"priority"`
	Payload      json.RawMessage `json:"payload"`
	Status       JobStatus       `json:"status"`
	Attempt      int32           `json:"attempt"`
	WorkerID     *string         `json:"worker_id,omitempty"`
	LeaseUntil   *time.Time      `json:"lease_until,omitempty"`
	RunAfter     time.Time       `json:"run_after"`
	Error        *string         `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// NewJob is the input to a multi-row enqueue.
type NewJob struct {
	Topic        Topic
	Discriminant *string
	Priority     int32
	Payload      json.RawMessage
}

// TopicStats summarizes the queue for one topic.
type TopicStats struct {
	Topic   Topic `json:"topic"`
	Queued  int64 `json:"queued"`
	Claimed int64 `json:"claimed"`
	Errored int64 `json:"errored"`
}
