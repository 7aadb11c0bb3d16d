// internal/models/attachment.go
package models

import (
	"github.com/google/uuid"
)

// Attachment is a stored document reference (biometrics, supporting files)
// tied to exactly one application. Attachments may arrive asynchronously
// after pre-registration.
type Attachment struct {
	BaseModel
	ApplicationID uuid.UUID    `json:"application_id" gorm:"type:uuid;not null;index"`
	DocumentType  DocumentType `json:"document_type" gorm:"type:varchar(32);not null"`
	FileName      string       `json:"file_name" gorm:"type:varchar(255)"`
	ContentType   string       `json:"content_type" gorm:"type:varchar(100)"`
	Size          int64        `json:"size"`
	StorageKey    string       `json:"storage_key" gorm:"type:varchar(512)"`
	URL           string       `json:"url" gorm:"type:varchar(1024)"`
}
