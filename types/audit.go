package types

import (
	"time"
)

// AuditEvent is a security-relevant event emitted by the vault, the permission
// gate and the execution controller
type AuditEvent struct {
	ID        string                 `json:"id" bson:"_id"`
	Timestamp time.Time              `json:"timestamp" bson:"timestamp"`
	EventType string                 `json:"event_type" bson:"event_type"`
	Operation string                 `json:"operation" bson:"operation"`
	Status    string                 `json:"status" bson:"status"`
	Context   map[string]string      `json:"context" bson:"context"`
	Metadata  map[string]interface{} `json:"metadata,omitempty" bson:"metadata,omitempty"`
}
