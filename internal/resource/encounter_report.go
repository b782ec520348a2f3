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

// EncounterReport is rooted on encounters like Encounter, but also reads the
// encounter's diagnoses and their reference codes.
type encounterReportResource struct {
	ResourceType string           `json:"resourceType"`
	Encounter    *model.Reference `json:"encounter"`
	Subject      *model.Reference `json:"subject,omitempty"`
	Diagnosis    []diagnosis      `json:"diagnosis"`
}

type diagnosis struct {
	Code      Coding `json:"code"`
	Certainty string `json:"certainty,omitempty"`
	Primary   bool   `json:"primary"`
	Recorded  string `json:"recorded,omitempty"`
}

func encounterReportDefinition() Definition {
	return Definition{
		Type:       model.ResourceTypeEncounterReport,
		RootTable:  "encounters",
		RootFilter: sq.Expr("r.deleted_at IS NULL"),
		Dependencies: []Dependency{
			OwnRow("encounters"),
			ForeignKey("encounter_diagnoses", "encounter_id"),
			{
				Table: "reference_data",
				FanOut: func(ev model.ChangeEvent) (sq.SelectBuilder, bool) {
					return sq.Select("ed.encounter_id::text AS id").
						From("encounter_diagnoses ed").
						Where(sq.Eq{"ed.diagnosis_id": ev.RowID}), true
				},
			},
		},
		Builder: BuilderFunc(buildEncounterReport),
	}
}

func buildEncounterReport(ctx context.Context, q db.Querier, upstreamID string) (json.RawMessage, error) {
	var patientID *string
	root := sq.Select("e.patient_id::text").
		From("encounters e").
		Where(sq.Eq{"e.id": upstreamID}).
		Where("e.deleted_at IS NULL")
	if err := scanOne(ctx, q, root, &patientID); err != nil {
		return nil, fmt.Errorf("reading encounter %s: %w", upstreamID, err)
	}

	rows, err := store.Query(ctx, q, sq.Select(
		"rd.code",
		"rd.name",
		"ed.certainty",
		"COALESCE(ed.is_primary, false)",
		timestampColumn("ed.date"),
	).
		From("encounter_diagnoses ed").
		Join("reference_data rd ON rd.id = ed.diagnosis_id").
		Where(sq.Eq{"ed.encounter_id": upstreamID}).
		Where("ed.deleted_at IS NULL").
		OrderBy("ed.date", "ed.id"))
	if err != nil {
		return nil, fmt.Errorf("reading diagnoses for %s: %w", upstreamID, err)
	}
	defer rows.Close()

	diagnoses := []diagnosis{}
	for rows.Next() {
		var (
			d               diagnosis
			certainty, date *string
		)
		if err := rows.Scan(&d.Code.Code, &d.Code.Display, &certainty, &d.Primary, &date); err != nil {
			return nil, fmt.Errorf("scanning diagnosis: %w", err)
		}
		d.Code.System = "icd-10"
		d.Certainty = deref(certainty)
		d.Recorded = deref(date)
		diagnoses = append(diagnoses, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return marshal(model.ResourceTypeEncounterReport, encounterReportResource{
		ResourceType: string(model.ResourceTypeEncounterReport),
		Encounter:    model.UpstreamReference(model.ResourceTypeEncounter, upstreamID),
		Subject:      upstreamRef(model.ResourceTypePatient, patientID, ""),
		Diagnosis:    diagnoses,
	})
}
