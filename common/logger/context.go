package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Handlers enrich the context once (job id, topic, resource) and every log line below
// picks the fields up without repeating them.
type LogFields struct {
	JobID        *int64  // Queue job ID
	Topic        *string // Job topic (e.g. "materialize")
	ResourceType *string // Materialized resource type (e.g. "Encounter")
	UpstreamID   *string // Upstream root id being materialized
	MessageID    *string // Redis stream message ID of a change event
	ChangeTable  *string // Upstream table named by a change event
	Task         *string // Scheduled task name
	Component    string  // Component name (OTel semantic convention style, e.g. "materializer.worker")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.JobID != nil {
		result.JobID = new.JobID
	}
	if new.Topic != nil {
		result.Topic = new.Topic
	}
	if new.ResourceType != nil {
		result.ResourceType = new.ResourceType
	}
	if new.UpstreamID != nil {
		result.UpstreamID = new.UpstreamID
	}
	if new.MessageID != nil {
		result.MessageID = new.MessageID
	}
	if new.ChangeTable != nil {
		result.ChangeTable = new.ChangeTable
	}
	if new.Task != nil {
		result.Task = new.Task
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{JobID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
// Useful for logging potentially long strings like payloads or error messages.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
