// internal/store/gorm.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jbn434/lambda/internal/models"
	"github.com/jbn434/lambda/internal/utils"
)

// openStates are the states counted by the one-open-request guard.
var openStates = []models.ApplicationState{
	models.StateSubmitted,
	models.StatePendingApproval,
	models.StateApproved,
	models.StateRenewalRequested,
	models.StateReplacementRequested,
}

// GormStore is the production Store backed by PostgreSQL.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Transact(ctx context.Context, fn func(Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func (s *GormStore) CreateApplication(ctx context.Context, app *models.Application) error {
	if err := s.db.WithContext(ctx).Create(app).Error; err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	return nil
}

func (s *GormStore) SaveApplication(ctx context.Context, app *models.Application) error {
	if err := s.db.WithContext(ctx).Omit("Attachments", "AuditTrail", "License").Save(app).Error; err != nil {
		return fmt.Errorf("failed to save application: %w", err)
	}
	return nil
}

func (s *GormStore) applicationQuery(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Preload("Attachments").
		Preload("AuditTrail", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Preload("License")
}

func (s *GormStore) ApplicationByID(ctx context.Context, id uuid.UUID) (*models.Application, error) {
	var app models.Application
	if err := s.applicationQuery(ctx).First(&app, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &app, nil
}

func (s *GormStore) ApplicationByNo(ctx context.Context, applicationNo string) (*models.Application, error) {
	var app models.Application
	if err := s.applicationQuery(ctx).First(&app, "application_no = ?", applicationNo).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &app, nil
}

func (s *GormStore) ApplicationByCorrelationKey(ctx context.Context, key string) (*models.Application, error) {
	var app models.Application
	if err := s.applicationQuery(ctx).First(&app, "correlation_key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &app, nil
}

func (s *GormStore) HasOpenApplication(ctx context.Context, holderID uuid.UUID, licenseClass string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Application{}).
		Where("holder_id = ? AND license_class = ? AND state IN ?", holderID, licenseClass, openStates).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check open applications: %w", err)
	}
	return count > 0, nil
}

func (s *GormStore) ListApplications(ctx context.Context, f ApplicationFilter) ([]models.Application, int64, error) {
	params := f.PaginationParams.Normalize()

	query := s.db.WithContext(ctx).Model(&models.Application{})

	if f.State != nil {
		query = query.Where("state = ?", *f.State)
	}
	if f.RequestType != nil {
		query = query.Where("request_type = ?", *f.RequestType)
	}
	if f.Channel != nil {
		query = query.Where("channel = ?", *f.Channel)
	}
	if f.LicenseClass != "" {
		query = query.Where("license_class = ?", f.LicenseClass)
	}
	if f.HolderID != nil {
		query = query.Where("holder_id = ?", *f.HolderID)
	}
	if f.AgentID != nil {
		query = query.Where("agent_id = ?", *f.AgentID)
	}
	if f.CreatedAfter != nil {
		query = query.Where("created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		query = query.Where("created_at < ?", *f.CreatedBefore)
	}
	if params.Search != "" {
		pattern := "%" + params.Search + "%"
		query = query.Where(
			"application_no ILIKE ? OR first_name ILIKE ? OR last_name ILIKE ? OR email ILIKE ?",
			pattern, pattern, pattern, pattern,
		)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count applications: %w", err)
	}

	allowedSortFields := []string{"created_at", "updated_at", "submitted_at", "state", "application_no"}
	query = utils.ApplySort(query, params, allowedSortFields)
	query = utils.ApplyPagination(query, params)

	var apps []models.Application
	if err := query.Preload("Attachments").Preload("License").Find(&apps).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch applications: %w", err)
	}

	return apps, total, nil
}

func (s *GormStore) ListGenerationPending(ctx context.Context, limit int) ([]models.Application, error) {
	var apps []models.Application
	err := s.db.WithContext(ctx).
		Where("generation_pending = ? AND state = ?", true, models.StateIssued).
		Order("updated_at ASC").
		Limit(limit).
		Find(&apps).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending generations: %w", err)
	}
	return apps, nil
}

func (s *GormStore) CreateLicense(ctx context.Context, lic *models.License) error {
	if err := s.db.WithContext(ctx).Create(lic).Error; err != nil {
		return fmt.Errorf("failed to create license: %w", err)
	}
	return nil
}

func (s *GormStore) SaveLicense(ctx context.Context, lic *models.License) error {
	if err := s.db.WithContext(ctx).Save(lic).Error; err != nil {
		return fmt.Errorf("failed to save license: %w", err)
	}
	return nil
}

func (s *GormStore) LicenseByID(ctx context.Context, id uuid.UUID) (*models.License, error) {
	var lic models.License
	if err := s.db.WithContext(ctx).First(&lic, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &lic, nil
}

func (s *GormStore) LicenseByNo(ctx context.Context, licenseNo string) (*models.License, error) {
	var lic models.License
	if err := s.db.WithContext(ctx).First(&lic, "license_no = ?", licenseNo).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &lic, nil
}

func (s *GormStore) ListExpiring(ctx context.Context, asOf time.Time, limit int) ([]models.License, error) {
	var lics []models.License
	err := s.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", models.LicenseStatusActive, asOf).
		Order("expires_at ASC").
		Limit(limit).
		Find(&lics).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch expiring licenses: %w", err)
	}
	return lics, nil
}

func (s *GormStore) AddAttachment(ctx context.Context, att *models.Attachment) error {
	if err := s.db.WithContext(ctx).Create(att).Error; err != nil {
		return fmt.Errorf("failed to create attachment: %w", err)
	}
	return nil
}

func (s *GormStore) AttachmentsFor(ctx context.Context, applicationID uuid.UUID) ([]models.Attachment, error) {
	var atts []models.Attachment
	err := s.db.WithContext(ctx).
		Where("application_id = ?", applicationID).
		Order("created_at ASC").
		Find(&atts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch attachments: %w", err)
	}
	return atts, nil
}

func (s *GormStore) AppendAudit(ctx context.Context, entry *models.AuditEntry) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (s *GormStore) AuditTrailFor(ctx context.Context, applicationID uuid.UUID) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	err := s.db.WithContext(ctx).
		Where("application_id = ?", applicationID).
		Order("created_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch audit trail: %w", err)
	}
	return entries, nil
}

// Aggregates

func (s *GormStore) CountApplicationsByState(ctx context.Context) (map[models.ApplicationState]int64, error) {
	var rows []struct {
		State models.ApplicationState
		Count int64
	}
	err := s.db.WithContext(ctx).Model(&models.Application{}).
		Select("state, count(*) as count").
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count by state: %w", err)
	}
	out := make(map[models.ApplicationState]int64, len(rows))
	for _, r := range rows {
		out[r.State] = r.Count
	}
	return out, nil
}

func (s *GormStore) CountApplicationsByType(ctx context.Context) (map[models.RequestType]int64, error) {
	var rows []struct {
		RequestType models.RequestType
		Count       int64
	}
	err := s.db.WithContext(ctx).Model(&models.Application{}).
		Select("request_type, count(*) as count").
		Group("request_type").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count by request type: %w", err)
	}
	out := make(map[models.RequestType]int64, len(rows))
	for _, r := range rows {
		out[r.RequestType] = r.Count
	}
	return out, nil
}

func (s *GormStore) CountApplicationsByClass(ctx context.Context) (map[string]int64, error) {
	return s.groupCount(ctx, "license_class")
}

func (s *GormStore) CountApplicationsByLGA(ctx context.Context) (map[string]int64, error) {
	return s.groupCount(ctx, "lga")
}

func (s *GormStore) groupCount(ctx context.Context, column string) (map[string]int64, error) {
	var rows []struct {
		Key   string
		Count int64
	}
	err := s.db.WithContext(ctx).Model(&models.Application{}).
		Select(column + " as key, count(*) as count").
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to group by %s: %w", column, err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Count
	}
	return out, nil
}

func (s *GormStore) CountApplicationsByGender(ctx context.Context) (map[models.Gender]int64, error) {
	var rows []struct {
		Gender models.Gender
		Count  int64
	}
	err := s.db.WithContext(ctx).Model(&models.Application{}).
		Select("gender, count(*) as count").
		Group("gender").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count by gender: %w", err)
	}
	out := make(map[models.Gender]int64, len(rows))
	for _, r := range rows {
		out[r.Gender] = r.Count
	}
	return out, nil
}

func (s *GormStore) CountLicensesByStatus(ctx context.Context) (map[models.LicenseStatus]int64, error) {
	var rows []struct {
		Status models.LicenseStatus
		Count  int64
	}
	err := s.db.WithContext(ctx).Model(&models.License{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count licenses by status: %w", err)
	}
	out := make(map[models.LicenseStatus]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

func (s *GormStore) MonthlyVolume(ctx context.Context, year int) (map[time.Month]int64, error) {
	var rows []struct {
		Month int
		Count int64
	}
	err := s.db.WithContext(ctx).Model(&models.Application{}).
		Select("date_part('month', created_at)::int as month, count(*) as count").
		Where("date_part('year', created_at) = ?", year).
		Group("month").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to compute monthly volume: %w", err)
	}
	out := make(map[time.Month]int64, len(rows))
	for _, r := range rows {
		out[time.Month(r.Month)] = r.Count
	}
	return out, nil
}

func (s *GormStore) BirthDates(ctx context.Context) ([]time.Time, error) {
	var dates []time.Time
	err := s.db.WithContext(ctx).Model(&models.Application{}).
		Where("date_of_birth IS NOT NULL").
		Pluck("date_of_birth", &dates).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch birth dates: %w", err)
	}
	return dates, nil
}

func (s *GormStore) CountRenewalsBetween(ctx context.Context, start, end time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Application{}).
		Where("request_type = ? AND created_at >= ? AND created_at < ?", models.RequestTypeRenewal, start, end).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count renewals: %w", err)
	}
	return count, nil
}

func (s *GormStore) CountLicensesExpiringBetween(ctx context.Context, start, end time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.License{}).
		Where("expires_at >= ? AND expires_at < ?", start, end).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count expiring licenses: %w", err)
	}
	return count, nil
}
