package models

import (
	"strings"
	"time"
)

// EntityType identifies which catalog dimension a pending entity belongs to
type EntityType string

const (
	EntityTypeColor         EntityType = "color"
	EntityTypeMaterial      EntityType = "material"
	EntityTypeFacility      EntityType = "facility"
	EntityTypeCertification EntityType = "certification"
)

// EntityResolution is the operator's answer for one pending entity: either a
// match against an existing catalog record, or the attributes to create a new
// one. Exactly one of MatchID/Attributes is expected to be set.
type EntityResolution struct {
	MatchID    string            `json:"match_id,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	ResolvedAt time.Time         `json:"resolved_at"`
}

// PendingEntity is a staged, not-yet-created catalog reference discovered
// while validating one job. Keyed by (entityType, normalized raw value) so the
// same unresolved value seen in many rows collapses to one staged entity.
type PendingEntity struct {
	// Key is "<jobID>|<entityType>|<normalized raw value>", the badgerhold key
	Key          string            `json:"key" badgerhold:"key"`
	JobID        string            `json:"job_id"`
	EntityType   EntityType        `json:"entity_type"`
	RawValue     string            `json:"raw_value"`
	SourceColumn string            `json:"source_column"`
	Resolution   *EntityResolution `json:"resolution,omitempty"`
	StagedAt     time.Time         `json:"staged_at"`
}

// PendingEntityKey builds the deterministic deduplication key for a raw value
// within a job. Raw values are compared case-insensitively with surrounding
// whitespace stripped.
func PendingEntityKey(jobID string, entityType EntityType, rawValue string) string {
	normalized := strings.ToLower(strings.TrimSpace(rawValue))
	return jobID + "|" + string(entityType) + "|" + normalized
}

// Resolved returns true once the operator has supplied a resolution
func (e *PendingEntity) Resolved() bool {
	return e.Resolution != nil
}

// EntityRef identifies one staged entity independent of job, used in API
// responses and unresolved-entity errors
type EntityRef struct {
	EntityType EntityType `json:"entity_type"`
	RawValue   string     `json:"raw_value"`
}
