package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// WebhookEvent is the processed-event log for processor notifications.
// EventID is unique: inserting an already-seen id fails, which is the
// idempotency record making redelivered events no-ops. Payload keeps
// the raw envelope for audit.
type WebhookEvent struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	EventID   string          `gorm:"type:varchar(100);uniqueIndex" json:"event_id"`
	EventType string          `gorm:"type:varchar(100);index" json:"event_type"`
	Payload   json.RawMessage `gorm:"type:jsonb" json:"payload"`
}
