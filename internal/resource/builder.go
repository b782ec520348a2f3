package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"basegraph.app/materializer/core/db"
	"basegraph.app/materializer/internal/model"
	"basegraph.app/materializer/internal/store"
)

// ErrUpstreamNotFound means the root row no longer exists (or no longer
// qualifies as a root).
var ErrUpstreamNotFound = errors.New("upstream root not found")

// Builder computes a resource's representation from current upstream state.
// The output must depend only on upstream data so that rebuilding an
// unchanged root yields identical bytes.
type Builder interface {
	Build(ctx context.Context, q db.Querier, upstreamID string) (json.RawMessage, error)
}

type BuilderFunc func(ctx context.Context, q db.Querier, upstreamID string) (json.RawMessage, error)

func (f BuilderFunc) Build(ctx context.Context, q db.Querier, upstreamID string) (json.RawMessage, error) {
	return f(ctx, q, upstreamID)
}

// Shapes shared by several representations.

type Identifier struct {
	System string `json:"system"`
	Value  string `json:"value"`
}

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

type Period struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

const (
	isoDate     = "YYYY-MM-DD"
	isoDateTime = `YYYY-MM-DD"T"HH24:MI:SS"Z"`
)

// dateColumn renders a date column as text so output never depends on the
// session time zone.
func dateColumn(expr string) string {
	return fmt.Sprintf("to_char(%s, '%s')", expr, isoDate)
}

func timestampColumn(expr string) string {
	return fmt.Sprintf("to_char(%s AT TIME ZONE 'UTC', '%s')", expr, isoDateTime)
}

func scanOne(ctx context.Context, q db.Querier, b sq.SelectBuilder, dest ...any) error {
	err := store.QueryRow(ctx, q, b).Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrUpstreamNotFound
	}
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func upstreamRef(kind model.ResourceType, id *string, display string) *model.Reference {
	if id == nil || *id == "" {
		return nil
	}
	ref := model.UpstreamReference(kind, *id)
	ref.Display = display
	return ref
}

func marshal(resourceType model.ResourceType, v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", resourceType, err)
	}
	return data, nil
}
