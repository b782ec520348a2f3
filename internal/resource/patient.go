package resource

import (
	"context"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"basegraph.app/materializer/core/db"
	"basegraph.app/materializer/internal/model"
)

type patientResource struct {
	ResourceType     string           `json:"resourceType"`
	Identifier       []Identifier     `json:"identifier"`
	Active           bool             `json:"active"`
	Name             []humanName      `json:"name,omitempty"`
	Gender           string           `json:"gender,omitempty"`
	BirthDate        string           `json:"birthDate,omitempty"`
	DeceasedDateTime string           `json:"deceasedDateTime,omitempty"`
	Telecom          []contactPoint   `json:"telecom,omitempty"`
	ManagingOrg      *model.Reference `json:"managingOrganization,omitempty"`
}

type humanName struct {
	Use    string   `json:"use"`
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
}

type contactPoint struct {
	System string `json:"system"`
	Value  string `json:"value"`
	Use    string `json:"use,omitempty"`
}

func patientDefinition() Definition {
	return Definition{
		Type:       model.ResourceTypePatient,
		RootTable:  "patients",
		RootFilter: sq.Expr("r.deleted_at IS NULL"),
		Dependencies: []Dependency{
			OwnRow("patients"),
			ForeignKey("patient_additional_data", "patient_id"),
		},
		Builder: BuilderFunc(buildPatient),
	}
}

func buildPatient(ctx context.Context, q db.Querier, upstreamID string) (json.RawMessage, error) {
	query := sq.Select(
		"p.display_id",
		"p.first_name",
		"p.last_name",
		"p.sex",
		dateColumn("p.date_of_birth"),
		timestampColumn("p.date_of_death"),
		"pad.primary_contact_number",
		"pad.registered_facility_id::text",
	).
		From("patients p").
		LeftJoin("patient_additional_data pad ON pad.patient_id = p.id AND pad.deleted_at IS NULL").
		Where(sq.Eq{"p.id": upstreamID}).
		Where("p.deleted_at IS NULL").
		OrderBy("pad.updated_at DESC NULLS LAST").
		Limit(1)

	var (
		displayID                    string
		firstName, lastName, sex     *string
		birthDate, dateOfDeath       *string
		contactNumber, registeredOrg *string
	)
	if err := scanOne(ctx, q, query,
		&displayID, &firstName, &lastName, &sex, &birthDate, &dateOfDeath, &contactNumber, &registeredOrg,
	); err != nil {
		return nil, fmt.Errorf("reading patient %s: %w", upstreamID, err)
	}

	res := patientResource{
		ResourceType:     string(model.ResourceTypePatient),
		Identifier:       []Identifier{{System: "display-id", Value: displayID}},
		Active:           dateOfDeath == nil,
		Gender:           patientGender(deref(sex)),
		BirthDate:        deref(birthDate),
		DeceasedDateTime: deref(dateOfDeath),
		ManagingOrg:      upstreamRef(model.ResourceTypeOrganization, registeredOrg, ""),
	}
	if firstName != nil || lastName != nil {
		name := humanName{Use: "official", Family: deref(lastName)}
		if firstName != nil {
			name.Given = []string{*firstName}
		}
		res.Name = []humanName{name}
	}
	if contactNumber != nil && *contactNumber != "" {
		res.Telecom = []contactPoint{{System: "phone", Value: *contactNumber, Use: "home"}}
	}

	return marshal(model.ResourceTypePatient, res)
}

func patientGender(sex string) string {
	switch sex {
	case "male", "female", "other":
		return sex
	case "":
		return ""
	default:
		return "unknown"
	}
}
