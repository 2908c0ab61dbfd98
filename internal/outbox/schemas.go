package outbox

import "example.com/enrollment/internal/events"

// SchemaCatalogEntry maps event type to schema definition.
type SchemaCatalogEntry struct {
	Schema string
}

var schemaCatalog = map[string]SchemaCatalogEntry{
	events.TypeEnrollmentStateChanged: {
		Schema: enrollmentStateChangedSchema,
	},
	events.TypeRosterReplaced: {
		Schema: rosterReplacedSchema,
	},
}

const enrollmentStateChangedSchema = `{
  "type": "object",
  "title": "EnrollmentStateChanged",
  "properties": {
    "record_id": {"type": "string"},
    "activity_id": {"type": "string"},
    "subject_id": {"type": "string"},
    "state": {"type": "string"},
    "occurred_at": {"type": "string", "format": "date-time"},
    "reason": {"type": "string"}
  },
  "required": ["record_id", "activity_id", "subject_id", "state", "occurred_at"],
  "additionalProperties": false
}`

const rosterReplacedSchema = `{
  "type": "object",
  "title": "RosterReplaced",
  "properties": {
    "activity_id": {"type": "string"},
    "subject_ids": {"type": "array", "items": {"type": "string"}},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["activity_id", "subject_ids", "occurred_at"],
  "additionalProperties": false
}`
