// internal/models/audit.go
package models

import (
	"github.com/google/uuid"
)

// AuditEntry is one row of an application's append-only transition history.
// The trail is what makes retried and duplicate requests detectable, and it
// must always read back as a legal path through the transition table.
type AuditEntry struct {
	BaseModel
	ApplicationID uuid.UUID  `json:"application_id" gorm:"type:uuid;not null;index"`
	Transition    Transition `json:"transition" gorm:"type:varchar(24);not null"`
	ActorID       *uuid.UUID `json:"actor_id,omitempty" gorm:"type:uuid"`
	ActorRole     Role       `json:"actor_role" gorm:"type:varchar(16)"`
	Note          string     `json:"note,omitempty" gorm:"type:text"`
}
