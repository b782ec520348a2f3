package resource

import (
	"context"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"basegraph.app/materializer/core/db"
	"basegraph.app/materializer/internal/model"
	"basegraph.app/materializer/internal/store"
)

type serviceRequestResource struct {
	ResourceType string            `json:"resourceType"`
	Identifier   []Identifier      `json:"identifier"`
	Status       string            `json:"status"`
	Intent       string            `json:"intent"`
	Priority     string            `json:"priority,omitempty"`
	Code         CodeableConcept   `json:"code"`
	OrderDetail  []CodeableConcept `json:"orderDetail"`
	AuthoredOn   string            `json:"authoredOn,omitempty"`
	Subject      *model.Reference  `json:"subject,omitempty"`
	Encounter    *model.Reference  `json:"encounter,omitempty"`
}

func serviceRequestDefinition() Definition {
	return Definition{
		Type:       model.ResourceTypeServiceRequest,
		RootTable:  "imaging_requests",
		RootFilter: sq.Expr("r.deleted_at IS NULL"),
		Dependencies: []Dependency{
			OwnRow("imaging_requests"),
			ForeignKey("imaging_request_areas", "imaging_request_id"),
			// The subject is read through the request's encounter.
			ReferencedBy("encounters", "imaging_requests", "encounter_id"),
			{
				// Areas are reference_data rows shared by many requests.
				Table: "reference_data",
				FanOut: func(ev model.ChangeEvent) (sq.SelectBuilder, bool) {
					return sq.Select("ira.imaging_request_id::text AS id").
						From("imaging_request_areas ira").
						Where(sq.Eq{"ira.area_id": ev.RowID}), true
				},
			},
			{Table: "imaging_area_external_codes", FanOut: externalCodeFanOut},
		},
		Builder: BuilderFunc(buildServiceRequest),
	}
}

// An external code maps one area to a code in another system. Every request
// that includes the area is affected. A deleted mapping can no longer be
// joined, so its area comes from the snapshot.
func externalCodeFanOut(ev model.ChangeEvent) (sq.SelectBuilder, bool) {
	if ev.Operation == model.OperationDelete {
		areaID, ok := ev.SnapshotString("area_id")
		if !ok {
			return sq.SelectBuilder{}, false
		}
		return sq.Select("ira.imaging_request_id::text AS id").
			From("imaging_request_areas ira").
			Where(sq.Eq{"ira.area_id": areaID}), true
	}
	return sq.Select("ira.imaging_request_id::text AS id").
		From("imaging_area_external_codes c").
		Join("imaging_request_areas ira ON ira.area_id = c.area_id").
		Where(sq.Eq{"c.id": ev.RowID}), true
}

func buildServiceRequest(ctx context.Context, q db.Querier, upstreamID string) (json.RawMessage, error) {
	root := sq.Select(
		"ir.display_id",
		"ir.status",
		"ir.priority",
		"ir.imaging_type",
		timestampColumn("ir.requested_date"),
		"ir.encounter_id::text",
		"e.patient_id::text",
	).
		From("imaging_requests ir").
		LeftJoin("encounters e ON e.id = ir.encounter_id").
		Where(sq.Eq{"ir.id": upstreamID}).
		Where("ir.deleted_at IS NULL")

	var (
		displayID                 string
		status, priority, imgType *string
		requestedDate             *string
		encounterID, patientID    *string
	)
	if err := scanOne(ctx, q, root,
		&displayID, &status, &priority, &imgType, &requestedDate, &encounterID, &patientID,
	); err != nil {
		return nil, fmt.Errorf("reading imaging request %s: %w", upstreamID, err)
	}

	rows, err := store.Query(ctx, q, sq.Select(
		"area.code",
		"area.name",
		"ext.code",
		"ext.description",
	).
		From("imaging_request_areas ira").
		Join("reference_data area ON area.id = ira.area_id").
		LeftJoin("imaging_area_external_codes ext ON ext.area_id = ira.area_id AND ext.deleted_at IS NULL").
		Where(sq.Eq{"ira.imaging_request_id": upstreamID}).
		Where("ira.deleted_at IS NULL").
		OrderBy("area.code", "ext.code"))
	if err != nil {
		return nil, fmt.Errorf("reading areas for %s: %w", upstreamID, err)
	}
	defer rows.Close()

	details := []CodeableConcept{}
	for rows.Next() {
		var (
			areaCode, areaName string
			extCode, extDesc   *string
		)
		if err := rows.Scan(&areaCode, &areaName, &extCode, &extDesc); err != nil {
			return nil, fmt.Errorf("scanning imaging area: %w", err)
		}
		concept := CodeableConcept{
			Coding: []Coding{{System: "imaging-area", Code: areaCode, Display: areaName}},
			Text:   areaName,
		}
		if extCode != nil {
			concept.Coding = append(concept.Coding, Coding{System: "imaging-area-external", Code: *extCode, Display: deref(extDesc)})
		}
		details = append(details, concept)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return marshal(model.ResourceTypeServiceRequest, serviceRequestResource{
		ResourceType: string(model.ResourceTypeServiceRequest),
		Identifier:   []Identifier{{System: "imaging-request-display-id", Value: displayID}},
		Status:       serviceRequestStatus(deref(status)),
		Intent:       "order",
		Priority:     serviceRequestPriority(deref(priority)),
		Code:         CodeableConcept{Text: deref(imgType)},
		OrderDetail:  details,
		AuthoredOn:   deref(requestedDate),
		Subject:      upstreamRef(model.ResourceTypePatient, patientID, ""),
		Encounter:    upstreamRef(model.ResourceTypeEncounter, encounterID, ""),
	})
}

func serviceRequestStatus(status string) string {
	switch status {
	case "pending", "in_progress":
		return "active"
	case "completed":
		return "completed"
	case "cancelled", "deleted":
		return "revoked"
	case "entered_in_error":
		return "entered-in-error"
	default:
		return "unknown"
	}
}

func serviceRequestPriority(priority string) string {
	switch priority {
	case "urgent", "asap", "stat":
		return priority
	default:
		return "routine"
	}
}
