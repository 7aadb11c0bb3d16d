// internal/store/memory.go
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jbn434/lambda/internal/models"
)

// MemoryStore is an in-memory Store used by the service tests and by local
// development without a database. Transactions are serialized with a single
// mutex; rollback is not simulated, so transactional callbacks are expected
// to validate before they write (which the lifecycle engine does).
type MemoryStore struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	apps        map[uuid.UUID]*models.Application
	licenses    map[uuid.UUID]*models.License
	attachments map[uuid.UUID][]models.Attachment
	audits      map[uuid.UUID][]models.AuditEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		apps:        make(map[uuid.UUID]*models.Application),
		licenses:    make(map[uuid.UUID]*models.License),
		attachments: make(map[uuid.UUID][]models.Attachment),
		audits:      make(map[uuid.UUID][]models.AuditEntry),
	}
}

func (m *MemoryStore) Transact(ctx context.Context, fn func(Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return fn(m)
}

func (m *MemoryStore) CreateApplication(ctx context.Context, app *models.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.apps {
		if existing.ApplicationNo == app.ApplicationNo {
			return fmt.Errorf("duplicate application number %s", app.ApplicationNo)
		}
		if app.CorrelationKey != nil && existing.CorrelationKey != nil &&
			*existing.CorrelationKey == *app.CorrelationKey {
			return fmt.Errorf("duplicate correlation key %s", *app.CorrelationKey)
		}
	}

	if app.ID == uuid.Nil {
		app.ID = uuid.New()
	}
	if app.CreatedAt.IsZero() {
		app.CreatedAt = time.Now()
	}
	app.UpdatedAt = app.CreatedAt

	stored := *app
	stored.Attachments = nil
	stored.AuditTrail = nil
	stored.License = nil
	m.apps[app.ID] = &stored
	return nil
}

func (m *MemoryStore) SaveApplication(ctx context.Context, app *models.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.apps[app.ID]; !ok {
		return ErrNotFound
	}
	app.UpdatedAt = time.Now()
	stored := *app
	stored.Attachments = nil
	stored.AuditTrail = nil
	stored.License = nil
	m.apps[app.ID] = &stored
	return nil
}

func (m *MemoryStore) loadApplication(app *models.Application) *models.Application {
	out := *app
	out.Attachments = append([]models.Attachment(nil), m.attachments[app.ID]...)
	out.AuditTrail = append([]models.AuditEntry(nil), m.audits[app.ID]...)
	if out.LicenseID != nil {
		if lic, ok := m.licenses[*out.LicenseID]; ok {
			licCopy := *lic
			out.License = &licCopy
		}
	}
	return &out
}

func (m *MemoryStore) ApplicationByID(ctx context.Context, id uuid.UUID) (*models.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	app, ok := m.apps[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.loadApplication(app), nil
}

func (m *MemoryStore) ApplicationByNo(ctx context.Context, applicationNo string) (*models.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, app := range m.apps {
		if app.ApplicationNo == applicationNo {
			return m.loadApplication(app), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ApplicationByCorrelationKey(ctx context.Context, key string) (*models.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, app := range m.apps {
		if app.CorrelationKey != nil && *app.CorrelationKey == key {
			return m.loadApplication(app), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) HasOpenApplication(ctx context.Context, holderID uuid.UUID, licenseClass string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, app := range m.apps {
		if app.HolderID == holderID && app.LicenseClass == licenseClass && app.State.IsOpen() {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) ListApplications(ctx context.Context, f ApplicationFilter) ([]models.Application, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	params := f.PaginationParams.Normalize()

	var matched []*models.Application
	for _, app := range m.apps {
		if f.State != nil && app.State != *f.State {
			continue
		}
		if f.RequestType != nil && app.RequestType != *f.RequestType {
			continue
		}
		if f.Channel != nil && app.Channel != *f.Channel {
			continue
		}
		if f.LicenseClass != "" && app.LicenseClass != f.LicenseClass {
			continue
		}
		if f.HolderID != nil && app.HolderID != *f.HolderID {
			continue
		}
		if f.AgentID != nil && (app.AgentID == nil || *app.AgentID != *f.AgentID) {
			continue
		}
		if f.CreatedAfter != nil && app.CreatedAt.Before(*f.CreatedAfter) {
			continue
		}
		if f.CreatedBefore != nil && !app.CreatedAt.Before(*f.CreatedBefore) {
			continue
		}
		matched = append(matched, app)
	}

	sort.Slice(matched, func(i, j int) bool {
		if params.Order == "asc" {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[j].CreatedAt.Before(matched[i].CreatedAt)
	})

	total := int64(len(matched))
	start := (params.Page - 1) * params.Limit
	if start > len(matched) {
		start = len(matched)
	}
	end := start + params.Limit
	if end > len(matched) {
		end = len(matched)
	}

	out := make([]models.Application, 0, end-start)
	for _, app := range matched[start:end] {
		out = append(out, *m.loadApplication(app))
	}
	return out, total, nil
}

func (m *MemoryStore) ListGenerationPending(ctx context.Context, limit int) ([]models.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Application
	for _, app := range m.apps {
		if app.GenerationPending && app.State == models.StateIssued {
			out = append(out, *m.loadApplication(app))
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateLicense(ctx context.Context, lic *models.License) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.licenses {
		if existing.LicenseNo == lic.LicenseNo {
			return fmt.Errorf("duplicate license number %s", lic.LicenseNo)
		}
	}

	if lic.ID == uuid.Nil {
		lic.ID = uuid.New()
	}
	if lic.CreatedAt.IsZero() {
		lic.CreatedAt = time.Now()
	}
	lic.UpdatedAt = lic.CreatedAt

	stored := *lic
	m.licenses[lic.ID] = &stored
	return nil
}

func (m *MemoryStore) SaveLicense(ctx context.Context, lic *models.License) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.licenses[lic.ID]; !ok {
		return ErrNotFound
	}
	lic.UpdatedAt = time.Now()
	stored := *lic
	m.licenses[lic.ID] = &stored
	return nil
}

func (m *MemoryStore) LicenseByID(ctx context.Context, id uuid.UUID) (*models.License, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lic, ok := m.licenses[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *lic
	return &out, nil
}

func (m *MemoryStore) LicenseByNo(ctx context.Context, licenseNo string) (*models.License, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, lic := range m.licenses {
		if lic.LicenseNo == licenseNo {
			out := *lic
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListExpiring(ctx context.Context, asOf time.Time, limit int) ([]models.License, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.License
	for _, lic := range m.licenses {
		if lic.Status == models.LicenseStatusActive && !lic.ExpiresAt.After(asOf) {
			out = append(out, *lic)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) AddAttachment(ctx context.Context, att *models.Attachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.apps[att.ApplicationID]; !ok {
		return ErrNotFound
	}
	if att.ID == uuid.Nil {
		att.ID = uuid.New()
	}
	att.CreatedAt = time.Now()
	att.UpdatedAt = att.CreatedAt
	m.attachments[att.ApplicationID] = append(m.attachments[att.ApplicationID], *att)
	return nil
}

func (m *MemoryStore) AttachmentsFor(ctx context.Context, applicationID uuid.UUID) ([]models.Attachment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Attachment(nil), m.attachments[applicationID]...), nil
}

func (m *MemoryStore) AppendAudit(ctx context.Context, entry *models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = time.Now()
	entry.UpdatedAt = entry.CreatedAt
	m.audits[entry.ApplicationID] = append(m.audits[entry.ApplicationID], *entry)
	return nil
}

func (m *MemoryStore) AuditTrailFor(ctx context.Context, applicationID uuid.UUID) ([]models.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.AuditEntry(nil), m.audits[applicationID]...), nil
}

// Aggregates

func (m *MemoryStore) CountApplicationsByState(ctx context.Context) (map[models.ApplicationState]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[models.ApplicationState]int64)
	for _, app := range m.apps {
		out[app.State]++
	}
	return out, nil
}

func (m *MemoryStore) CountApplicationsByType(ctx context.Context) (map[models.RequestType]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[models.RequestType]int64)
	for _, app := range m.apps {
		out[app.RequestType]++
	}
	return out, nil
}

func (m *MemoryStore) CountApplicationsByClass(ctx context.Context) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]int64)
	for _, app := range m.apps {
		out[app.LicenseClass]++
	}
	return out, nil
}

func (m *MemoryStore) CountApplicationsByLGA(ctx context.Context) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]int64)
	for _, app := range m.apps {
		out[app.LGA]++
	}
	return out, nil
}

func (m *MemoryStore) CountApplicationsByGender(ctx context.Context) (map[models.Gender]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[models.Gender]int64)
	for _, app := range m.apps {
		out[app.Gender]++
	}
	return out, nil
}

func (m *MemoryStore) CountLicensesByStatus(ctx context.Context) (map[models.LicenseStatus]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[models.LicenseStatus]int64)
	for _, lic := range m.licenses {
		out[lic.Status]++
	}
	return out, nil
}

func (m *MemoryStore) MonthlyVolume(ctx context.Context, year int) (map[time.Month]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[time.Month]int64)
	for _, app := range m.apps {
		if app.CreatedAt.Year() == year {
			out[app.CreatedAt.Month()]++
		}
	}
	return out, nil
}

func (m *MemoryStore) BirthDates(ctx context.Context) ([]time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []time.Time
	for _, app := range m.apps {
		if app.DateOfBirth != nil {
			out = append(out, *app.DateOfBirth)
		}
	}
	return out, nil
}

func (m *MemoryStore) CountRenewalsBetween(ctx context.Context, start, end time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, app := range m.apps {
		if app.RequestType == models.RequestTypeRenewal &&
			!app.CreatedAt.Before(start) && app.CreatedAt.Before(end) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) CountLicensesExpiringBetween(ctx context.Context, start, end time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, lic := range m.licenses {
		if !lic.ExpiresAt.Before(start) && lic.ExpiresAt.Before(end) {
			count++
		}
	}
	return count, nil
}
