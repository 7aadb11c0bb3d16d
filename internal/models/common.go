// internal/models/common.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base model with common fields
type BaseModel struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// JSONB type for PostgreSQL
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, j)
}

// Enums
type Role string

const (
	RoleApplicant      Role = "applicant"
	RoleAgent          Role = "agent"
	RoleAdmin          Role = "admin"
	RoleRegulatorAdmin Role = "regulator_admin"
)

type ApplicationState string

const (
	StatePreRegistered        ApplicationState = "pre_registered"
	StateSubmitted            ApplicationState = "submitted"
	StatePendingApproval      ApplicationState = "pending_approval"
	StateApproved             ApplicationState = "approved"
	StateRejected             ApplicationState = "rejected"
	StateIssued               ApplicationState = "issued"
	StateRenewalRequested     ApplicationState = "renewal_requested"
	StateReplacementRequested ApplicationState = "replacement_requested"
	StateExpired              ApplicationState = "expired"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s ApplicationState) IsTerminal() bool {
	return s == StateIssued || s == StateRejected || s == StateExpired
}

// IsOpen reports whether s counts against the one-open-request-per-holder
// guard. Pre-registrations are drafts and may accumulate; everything between
// submission and a terminal state is an in-flight request.
func (s ApplicationState) IsOpen() bool {
	switch s {
	case StateSubmitted, StatePendingApproval, StateApproved,
		StateRenewalRequested, StateReplacementRequested:
		return true
	}
	return false
}

type LicenseStatus string

const (
	LicenseStatusActive   LicenseStatus = "active"
	LicenseStatusExpired  LicenseStatus = "expired"
	LicenseStatusReplaced LicenseStatus = "replaced"
	LicenseStatusRenewed  LicenseStatus = "renewed"
)

type RequestType string

const (
	RequestTypeNew         RequestType = "new"
	RequestTypeRenewal     RequestType = "renewal"
	RequestTypeReplacement RequestType = "replacement"
)

type Channel string

const (
	ChannelWeb    Channel = "web"
	ChannelMobile Channel = "mobile"
)

type DocumentType string

const (
	DocumentTypePhotograph  DocumentType = "photograph"
	DocumentTypeSignature   DocumentType = "signature"
	DocumentTypeProofOfID   DocumentType = "proof_of_identity"
	DocumentTypeMedicalCert DocumentType = "medical_certificate"
	DocumentTypeEyeTest     DocumentType = "eye_test_result"
	DocumentTypeSupporting  DocumentType = "supporting"
)

// MandatoryDocumentTypes must all be attached before an application can be
// submitted.
var MandatoryDocumentTypes = []DocumentType{
	DocumentTypePhotograph,
	DocumentTypeSignature,
}

type ReplacementReason string

const (
	ReplacementReasonLost       ReplacementReason = "lost"
	ReplacementReasonDamaged    ReplacementReason = "damaged"
	ReplacementReasonDataChange ReplacementReason = "data_change"
)

type Transition string

const (
	TransitionPreRegister        Transition = "pre_register"
	TransitionAttachFiles        Transition = "attach_files"
	TransitionSubmit             Transition = "submit"
	TransitionApprove            Transition = "approve"
	TransitionReject             Transition = "reject"
	TransitionRenewalRequest     Transition = "renewal_request"
	TransitionReplacementRequest Transition = "replacement_request"
	TransitionUpdate             Transition = "update"
	TransitionExpire             Transition = "expire"
	TransitionGenerate           Transition = "generate"
)

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)
