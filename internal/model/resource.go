package model

import (
	"encoding/json"
	"strings"
	"time"
)

// ResourceType names a materialized representation, e.g. "Encounter".
type ResourceType string

const (
	ResourceTypePatient         ResourceType = "Patient"
	ResourceTypeOrganization    ResourceType = "Organization"
	ResourceTypeEncounter       ResourceType = "Encounter"
	ResourceTypeEncounterReport ResourceType = "EncounterReport"
	ResourceTypeServiceRequest  ResourceType = "ServiceRequest"
)

// UpstreamRefPrefix marks a reference that still points at an upstream row
// rather than a materialized resource.
const UpstreamRefPrefix = "upstream://"

type MaterializedResource struct {
	ID           int64           `json:"id"`
	ResourceType ResourceType    `json:"resource_type"`
	UpstreamID   string          `json:"upstream_id"`
	VersionID    int64           `json:"version_id"`
	Data         json.RawMessage `json:"data"`
	Resolved     bool            `json:"resolved"`
	IsLive       bool            `json:"is_live"`
	LastUpdated  time.Time       `json:"last_updated"`
}

// Reference is a cross-resource link inside materialized data.
//
// Unresolved: {"type": "upstream://patient", "reference": "<upstream id>"}
// Resolved:   {"type": "Patient", "reference": "Patient/<materialized id>"}
type Reference struct {
	Type      string `json:"type"`
	Reference string `json:"reference"`
	Display   string `json:"display,omitempty"`
}

// UpstreamReference builds an unresolved reference to the upstream row id of kind.
func UpstreamReference(kind ResourceType, upstreamID string) *Reference {
	return &Reference{
		Type:      UpstreamRefPrefix + strings.ToLower(string(kind)),
		Reference: upstreamID,
	}
}

func (r Reference) IsUpstream() bool {
	return strings.HasPrefix(r.Type, UpstreamRefPrefix)
}

// UpstreamKind returns the lower-cased resource type an unresolved reference points at.
func (r Reference) UpstreamKind() string {
	return strings.TrimPrefix(r.Type, UpstreamRefPrefix)
}
