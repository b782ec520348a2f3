package resource

import (
	"context"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"basegraph.app/materializer/core/db"
	"basegraph.app/materializer/internal/model"
)

type organizationResource struct {
	ResourceType string       `json:"resourceType"`
	Identifier   []Identifier `json:"identifier"`
	Active       bool         `json:"active"`
	Name         string       `json:"name"`
}

func organizationDefinition() Definition {
	return Definition{
		Type:         model.ResourceTypeOrganization,
		RootTable:    "facilities",
		RootFilter:   sq.Expr("r.deleted_at IS NULL"),
		Dependencies: []Dependency{OwnRow("facilities")},
		Builder:      BuilderFunc(buildOrganization),
	}
}

func buildOrganization(ctx context.Context, q db.Querier, upstreamID string) (json.RawMessage, error) {
	query := sq.Select("f.code", "f.name", "f.visibility_status").
		From("facilities f").
		Where(sq.Eq{"f.id": upstreamID}).
		Where("f.deleted_at IS NULL")

	var code, name string
	var visibility *string
	if err := scanOne(ctx, q, query, &code, &name, &visibility); err != nil {
		return nil, fmt.Errorf("reading facility %s: %w", upstreamID, err)
	}

	return marshal(model.ResourceTypeOrganization, organizationResource{
		ResourceType: string(model.ResourceTypeOrganization),
		Identifier:   []Identifier{{System: "facility-code", Value: code}},
		Active:       visibility == nil || *visibility == "current",
		Name:         name,
	})
}
