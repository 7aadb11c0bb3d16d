// internal/models/application.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Application is a single license request moving through the lifecycle. A
// renewal or replacement is a NEW application linked to the license it came
// from, never a mutation of the application that issued that license.
type Application struct {
	BaseModel
	ApplicationNo  string      `json:"application_no" gorm:"type:varchar(32);uniqueIndex;not null"`
	CorrelationKey *string     `json:"correlation_key,omitempty" gorm:"type:varchar(64);uniqueIndex"`
	RequestType    RequestType `json:"request_type" gorm:"type:varchar(16);default:'new';index"`
	Channel        Channel     `json:"channel" gorm:"type:varchar(8);default:'web'"`

	State ApplicationState `json:"state" gorm:"type:varchar(24);default:'pre_registered';index"`

	// Holder identity. Agent-submitted applications carry the agent that
	// captured them in addition to the holder they were captured for.
	HolderID     uuid.UUID  `json:"holder_id" gorm:"type:uuid;not null;index"`
	AgentID      *uuid.UUID `json:"agent_id,omitempty" gorm:"type:uuid;index"`
	FirstName    string     `json:"first_name" gorm:"type:varchar(100)"`
	LastName     string     `json:"last_name" gorm:"type:varchar(100)"`
	Email        string     `json:"email" gorm:"type:varchar(255)"`
	Phone        string     `json:"phone" gorm:"type:varchar(32)"`
	DateOfBirth  *time.Time `json:"date_of_birth,omitempty"`
	Gender       Gender     `json:"gender" gorm:"type:varchar(8)"`
	LGA          string     `json:"lga" gorm:"type:varchar(100)"`
	StateOfBirth string     `json:"state_of_birth" gorm:"type:varchar(100)"`
	Address      string     `json:"address" gorm:"type:text"`

	LicenseClass string `json:"license_class" gorm:"type:varchar(8);index"`

	// Set once issued. PreviousLicenseID links a renewal/replacement back to
	// the license it supersedes.
	LicenseID         *uuid.UUID `json:"license_id,omitempty" gorm:"type:uuid"`
	PreviousLicenseID *uuid.UUID `json:"previous_license_id,omitempty" gorm:"type:uuid"`

	ReplacementReason *ReplacementReason `json:"replacement_reason,omitempty" gorm:"type:varchar(16)"`
	RejectionReason   string             `json:"rejection_reason,omitempty" gorm:"type:text"`
	ApprovedBy        *uuid.UUID         `json:"approved_by,omitempty" gorm:"type:uuid"`
	ApprovedAt        *time.Time         `json:"approved_at,omitempty"`
	SubmittedAt       *time.Time         `json:"submitted_at,omitempty"`

	// Set when the post-approval artifact generation hook failed and the
	// artifact still needs to be produced out of band.
	GenerationPending bool `json:"generation_pending" gorm:"default:false"`

	Extra JSONB `json:"extra,omitempty" gorm:"type:jsonb"`

	// Relationships
	Attachments []Attachment `json:"attachments,omitempty" gorm:"foreignKey:ApplicationID"`
	AuditTrail  []AuditEntry `json:"audit_trail,omitempty" gorm:"foreignKey:ApplicationID"`
	License     *License     `json:"license,omitempty" gorm:"foreignKey:LicenseID"`
}

// HasMandatoryDocuments reports whether at least one attachment of every
// mandatory document type is present.
func (a *Application) HasMandatoryDocuments() bool {
	for _, dt := range MandatoryDocumentTypes {
		found := false
		for _, att := range a.Attachments {
			if att.DocumentType == dt {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Age returns the holder's age in full years at ref, or -1 when the date of
// birth is unknown.
func (a *Application) Age(ref time.Time) int {
	if a.DateOfBirth == nil {
		return -1
	}
	years := ref.Year() - a.DateOfBirth.Year()
	anniversary := a.DateOfBirth.AddDate(years, 0, 0)
	if anniversary.After(ref) {
		years--
	}
	return years
}
