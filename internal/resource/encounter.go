package resource

import (
	"context"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"basegraph.app/materializer/core/db"
	"basegraph.app/materializer/internal/model"
)

type encounterResource struct {
	ResourceType    string              `json:"resourceType"`
	Status          string              `json:"status"`
	Class           Coding              `json:"class"`
	Period          Period              `json:"period"`
	ReasonCode      []CodeableConcept   `json:"reasonCode,omitempty"`
	Subject         *model.Reference    `json:"subject,omitempty"`
	Location        []encounterLocation `json:"location,omitempty"`
	ServiceProvider *model.Reference    `json:"serviceProvider,omitempty"`
}

type encounterLocation struct {
	Location       locationDisplay `json:"location"`
	Status         string          `json:"status"`
	PhysicalType   string          `json:"physicalType,omitempty"`
	ServiceContext string          `json:"serviceContext,omitempty"`
}

type locationDisplay struct {
	Display string `json:"display"`
}

func encounterDefinition() Definition {
	return Definition{
		Type:       model.ResourceTypeEncounter,
		RootTable:  "encounters",
		RootFilter: sq.Expr("r.deleted_at IS NULL"),
		Dependencies: []Dependency{
			OwnRow("encounters"),
			ReferencedBy("locations", "encounters", "location_id"),
			ReferencedBy("departments", "encounters", "department_id"),
		},
		Builder: BuilderFunc(buildEncounter),
	}
}

func buildEncounter(ctx context.Context, q db.Querier, upstreamID string) (json.RawMessage, error) {
	query := sq.Select(
		"e.encounter_type",
		timestampColumn("e.start_date"),
		timestampColumn("e.end_date"),
		"e.reason_for_encounter",
		"e.patient_id::text",
		"l.name",
		"d.name",
		"l.facility_id::text",
	).
		From("encounters e").
		LeftJoin("locations l ON l.id = e.location_id").
		LeftJoin("departments d ON d.id = e.department_id").
		Where(sq.Eq{"e.id": upstreamID}).
		Where("e.deleted_at IS NULL")

	var (
		encounterType, start, end, reason *string
		patientID, locationName, deptName *string
		facilityID                        *string
	)
	if err := scanOne(ctx, q, query,
		&encounterType, &start, &end, &reason, &patientID, &locationName, &deptName, &facilityID,
	); err != nil {
		return nil, fmt.Errorf("reading encounter %s: %w", upstreamID, err)
	}

	res := encounterResource{
		ResourceType:    string(model.ResourceTypeEncounter),
		Status:          encounterStatus(end),
		Class:           encounterClass(deref(encounterType)),
		Period:          Period{Start: deref(start), End: deref(end)},
		Subject:         upstreamRef(model.ResourceTypePatient, patientID, ""),
		ServiceProvider: upstreamRef(model.ResourceTypeOrganization, facilityID, ""),
	}
	if reason != nil && *reason != "" {
		res.ReasonCode = []CodeableConcept{{Text: *reason}}
	}
	if locationName != nil {
		res.Location = []encounterLocation{{
			Location:       locationDisplay{Display: *locationName},
			Status:         locationStatus(end),
			PhysicalType:   "bd",
			ServiceContext: deref(deptName),
		}}
	}

	return marshal(model.ResourceTypeEncounter, res)
}

func encounterStatus(end *string) string {
	if end != nil {
		return "finished"
	}
	return "in-progress"
}

func locationStatus(end *string) string {
	if end != nil {
		return "completed"
	}
	return "active"
}

func encounterClass(encounterType string) Coding {
	const system = "http://terminology.hl7.org/CodeSystem/v3-ActCode"
	switch encounterType {
	case "admission":
		return Coding{System: system, Code: "IMP", Display: "inpatient encounter"}
	case "emergency", "triage":
		return Coding{System: system, Code: "EMER", Display: "emergency"}
	case "clinic", "imaging", "surveyResponse":
		return Coding{System: system, Code: "AMB", Display: "ambulatory"}
	case "observation":
		return Coding{System: system, Code: "OBSENC", Display: "observation encounter"}
	default:
		return Coding{System: system, Code: "AMB", Display: "ambulatory"}
	}
}
