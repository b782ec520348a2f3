package dto

import (
	"encoding/json"
	"time"

	"basegraph.app/materializer/internal/model"
)

type QueueStatsResponse struct {
	Topics []model.TopicStats `json:"topics"`
}

type MissingResponse struct {
	Missing map[model.ResourceType]int64 `json:"missing"`
	Total   int64                        `json:"total"`
}

func NewMissingResponse(counts map[model.ResourceType]int64) MissingResponse {
	var total int64
	for _, n := range counts {
		total += n
	}
	return MissingResponse{Missing: counts, Total: total}
}

type EnqueueResponse struct {
	Discriminant string `json:"discriminant"`
	Created      bool   `json:"created"`
}

type RetryFailedResponse struct {
	Requeued int64 `json:"requeued"`
}

type ResourceResponse struct {
	ID           int64              `json:"id"`
	ResourceType model.ResourceType `json:"resource_type"`
	UpstreamID   string             `json:"upstream_id"`
	VersionID    int64              `json:"version_id"`
	Resolved     bool               `json:"resolved"`
	IsLive       bool               `json:"is_live"`
	LastUpdated  time.Time          `json:"last_updated"`
	Data         json.RawMessage    `json:"data"`
}

func NewResourceResponse(r *model.MaterializedResource) ResourceResponse {
	return ResourceResponse{
		ID:           r.ID,
		ResourceType: r.ResourceType,
		UpstreamID:   r.UpstreamID,
		VersionID:    r.VersionID,
		Resolved:     r.Resolved,
		IsLive:       r.IsLive,
		LastUpdated:  r.LastUpdated,
		Data:         r.Data,
	}
}

type TopicsResponse struct {
	Topics []model.Topic `json:"topics"`
}
