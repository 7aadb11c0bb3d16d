// internal/store/store.go
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jbn434/lambda/internal/models"
	"github.com/jbn434/lambda/internal/utils"
)

// ErrNotFound is returned by lookups that matched no record.
var ErrNotFound = errors.New("record not found")

// ApplicationFilter narrows ListApplications. Nil/zero fields are ignored.
type ApplicationFilter struct {
	utils.PaginationParams
	State         *models.ApplicationState
	RequestType   *models.RequestType
	Channel       *models.Channel
	LicenseClass  string
	HolderID      *uuid.UUID
	AgentID       *uuid.UUID
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// Store is the durable record of applications, licenses, attachments and the
// audit trail. The lifecycle engine only ever talks to this interface; the
// postgres adapter and the in-memory implementation both satisfy it.
//
// Transact runs fn against a store whose writes commit or roll back as a
// unit. Every transition (state change, license write, audit append) goes
// through it so that no transition can partially apply.
type Store interface {
	Transact(ctx context.Context, fn func(Store) error) error

	CreateApplication(ctx context.Context, app *models.Application) error
	SaveApplication(ctx context.Context, app *models.Application) error
	ApplicationByID(ctx context.Context, id uuid.UUID) (*models.Application, error)
	ApplicationByNo(ctx context.Context, applicationNo string) (*models.Application, error)
	ApplicationByCorrelationKey(ctx context.Context, key string) (*models.Application, error)
	HasOpenApplication(ctx context.Context, holderID uuid.UUID, licenseClass string) (bool, error)
	ListApplications(ctx context.Context, f ApplicationFilter) ([]models.Application, int64, error)
	ListGenerationPending(ctx context.Context, limit int) ([]models.Application, error)

	CreateLicense(ctx context.Context, lic *models.License) error
	SaveLicense(ctx context.Context, lic *models.License) error
	LicenseByID(ctx context.Context, id uuid.UUID) (*models.License, error)
	LicenseByNo(ctx context.Context, licenseNo string) (*models.License, error)
	ListExpiring(ctx context.Context, asOf time.Time, limit int) ([]models.License, error)

	AddAttachment(ctx context.Context, att *models.Attachment) error
	AttachmentsFor(ctx context.Context, applicationID uuid.UUID) ([]models.Attachment, error)

	AppendAudit(ctx context.Context, entry *models.AuditEntry) error
	AuditTrailFor(ctx context.Context, applicationID uuid.UUID) ([]models.AuditEntry, error)

	// Read-only aggregates backing the dashboard. These never block writers
	// and may observe a slightly stale snapshot.
	CountApplicationsByState(ctx context.Context) (map[models.ApplicationState]int64, error)
	CountApplicationsByType(ctx context.Context) (map[models.RequestType]int64, error)
	CountApplicationsByClass(ctx context.Context) (map[string]int64, error)
	CountApplicationsByLGA(ctx context.Context) (map[string]int64, error)
	CountApplicationsByGender(ctx context.Context) (map[models.Gender]int64, error)
	CountLicensesByStatus(ctx context.Context) (map[models.LicenseStatus]int64, error)
	MonthlyVolume(ctx context.Context, year int) (map[time.Month]int64, error)
	BirthDates(ctx context.Context) ([]time.Time, error)
	CountRenewalsBetween(ctx context.Context, start, end time.Time) (int64, error)
	CountLicensesExpiringBetween(ctx context.Context, start, end time.Time) (int64, error)
}
