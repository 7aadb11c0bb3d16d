// internal/models/license.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// License is the issued artifact derived from an approved application. A
// license can outlive the application that created it across renewal and
// replacement chains; superseded licenses are retained and flagged, never
// deleted, and a licenseNo is never reused.
type License struct {
	BaseModel
	LicenseNo     string        `json:"license_no" gorm:"type:varchar(32);uniqueIndex;not null"`
	ApplicationID uuid.UUID     `json:"application_id" gorm:"type:uuid;uniqueIndex;not null"`
	HolderID      uuid.UUID     `json:"holder_id" gorm:"type:uuid;not null;index"`
	LicenseClass  string        `json:"license_class" gorm:"type:varchar(8)"`
	Status        LicenseStatus `json:"status" gorm:"type:varchar(16);default:'active';index"`
	IssuedAt      time.Time     `json:"issued_at"`
	ExpiresAt     time.Time     `json:"expires_at" gorm:"index"`

	// ID of the license that replaced or renewed this one.
	SupersededBy *uuid.UUID `json:"superseded_by,omitempty" gorm:"type:uuid"`
}

// RenewableFrom returns the instant the renewal eligibility window opens.
func (l *License) RenewableFrom(window time.Duration) time.Time {
	return l.ExpiresAt.Add(-window)
}
