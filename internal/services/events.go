package services

import (
	"time"
)

// Event 领域事件，由外部协作方（PM 应用、调度器、入站 Webhook）投递。
// Delivery is at-least-once; the engine dedupes on (rule_id, event.ID).
type Event struct {
	ID         string                 `json:"id"`
	Kind       string                 `json:"kind"` // matches trigger kinds in models
	EntityType string                 `json:"entity_type,omitempty"`
	EntityID   string                 `json:"entity_id,omitempty"`
	ProjectID  string                 `json:"project_id,omitempty"`
	ActorID    string                 `json:"actor_id,omitempty"`
	ActorRole  string                 `json:"actor_role,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// EntitySnapshot is the flat field view of the entity the event refers
// to, as supplied by the caller. Field names are plain column-style keys
// ("status", "priority", "assignee_id", "due_date", ...).
type EntitySnapshot map[string]interface{}
