// internal/services/stats_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jbn434/lambda/internal/models"
	"github.com/jbn434/lambda/internal/store"
)

// StatsService computes the read-only dashboard aggregates. Results are
// served through the cache when redis is enabled; aggregates may observe a
// slightly stale snapshot and never block transition writers.
type StatsService struct {
	store store.Store
	cache *CacheService
	now   func() time.Time
}

func NewStatsService(st store.Store, cache *CacheService) *StatsService {
	return &StatsService{store: st, cache: cache, now: time.Now}
}

type DashboardSummary struct {
	ApplicationsByState map[models.ApplicationState]int64 `json:"applications_by_state"`
	ApplicationsByType  map[models.RequestType]int64      `json:"applications_by_type"`
	LicensesByStatus    map[models.LicenseStatus]int64    `json:"licenses_by_status"`
	ExpiringIn30Days    int64                             `json:"expiring_in_30_days"`
	GeneratedAt         time.Time                         `json:"generated_at"`
}

type MonthlyVolume struct {
	Year   int             `json:"year"`
	Months map[string]int64 `json:"months"`
}

type RenewalRate struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Eligible int64     `json:"eligible"`
	Renewed  int64     `json:"renewed"`
	Rate     float64   `json:"rate"`
}

type Distributions struct {
	ByClass  map[string]int64        `json:"by_class"`
	ByLGA    map[string]int64        `json:"by_lga"`
	ByGender map[models.Gender]int64 `json:"by_gender"`
	ByAge    map[string]int64        `json:"by_age_band"`
}

// Summary returns the headline dashboard numbers.
func (s *StatsService) Summary(ctx context.Context) (*DashboardSummary, error) {
	const key = "stats:summary"
	var cached DashboardSummary
	if s.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	byState, err := s.store.CountApplicationsByState(ctx)
	if err != nil {
		return nil, err
	}
	byType, err := s.store.CountApplicationsByType(ctx)
	if err != nil {
		return nil, err
	}
	byStatus, err := s.store.CountLicensesByStatus(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	expiring, err := s.store.CountLicensesExpiringBetween(ctx, now, now.AddDate(0, 0, 30))
	if err != nil {
		return nil, err
	}

	summary := &DashboardSummary{
		ApplicationsByState: byState,
		ApplicationsByType:  byType,
		LicensesByStatus:    byStatus,
		ExpiringIn30Days:    expiring,
		GeneratedAt:         now,
	}
	s.cache.Set(ctx, key, summary)
	return summary, nil
}

// Volume returns per-month application counts for one calendar year.
func (s *StatsService) Volume(ctx context.Context, year int) (*MonthlyVolume, error) {
	key := fmt.Sprintf("stats:volume:%d", year)
	var cached MonthlyVolume
	if s.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	byMonth, err := s.store.MonthlyVolume(ctx, year)
	if err != nil {
		return nil, err
	}

	months := make(map[string]int64, 12)
	for m := time.January; m <= time.December; m++ {
		months[m.String()] = byMonth[m]
	}

	volume := &MonthlyVolume{Year: year, Months: months}
	s.cache.Set(ctx, key, volume)
	return volume, nil
}

// RenewalRate reports how many licenses expiring in [start, end) were
// renewed in the same window.
func (s *StatsService) RenewalRate(ctx context.Context, start, end time.Time) (*RenewalRate, error) {
	if !end.After(start) {
		return nil, ErrIncompleteApplication("end must be after start")
	}

	eligible, err := s.store.CountLicensesExpiringBetween(ctx, start, end)
	if err != nil {
		return nil, err
	}
	renewed, err := s.store.CountRenewalsBetween(ctx, start, end)
	if err != nil {
		return nil, err
	}

	rate := &RenewalRate{Start: start, End: end, Eligible: eligible, Renewed: renewed}
	if eligible > 0 {
		rate.Rate = float64(renewed) / float64(eligible)
	}
	return rate, nil
}

// Distribution returns holder demographic and license class breakdowns.
func (s *StatsService) Distribution(ctx context.Context) (*Distributions, error) {
	const key = "stats:distribution"
	var cached Distributions
	if s.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	byClass, err := s.store.CountApplicationsByClass(ctx)
	if err != nil {
		return nil, err
	}
	byLGA, err := s.store.CountApplicationsByLGA(ctx)
	if err != nil {
		return nil, err
	}
	byGender, err := s.store.CountApplicationsByGender(ctx)
	if err != nil {
		return nil, err
	}
	births, err := s.store.BirthDates(ctx)
	if err != nil {
		return nil, err
	}

	dist := &Distributions{
		ByClass:  byClass,
		ByLGA:    byLGA,
		ByGender: byGender,
		ByAge:    ageBands(births, s.now()),
	}
	s.cache.Set(ctx, key, dist)
	return dist, nil
}

// ListApplications returns a filtered, paginated page of applications.
func (s *StatsService) ListApplications(ctx context.Context, f store.ApplicationFilter) ([]models.Application, int64, error) {
	return s.store.ListApplications(ctx, f)
}

// ListPreRegistrations returns draft applications only.
func (s *StatsService) ListPreRegistrations(ctx context.Context, f store.ApplicationFilter) ([]models.Application, int64, error) {
	state := models.StatePreRegistered
	f.State = &state
	return s.store.ListApplications(ctx, f)
}

// PreRegistrationsByHolder returns a holder's draft applications.
func (s *StatsService) PreRegistrationsByHolder(ctx context.Context, holderID uuid.UUID, f store.ApplicationFilter) ([]models.Application, int64, error) {
	state := models.StatePreRegistered
	f.State = &state
	f.HolderID = &holderID
	return s.store.ListApplications(ctx, f)
}

// RegistrationsByAgent returns every application captured by one agent.
func (s *StatsService) RegistrationsByAgent(ctx context.Context, agentID uuid.UUID, f store.ApplicationFilter) ([]models.Application, int64, error) {
	f.AgentID = &agentID
	return s.store.ListApplications(ctx, f)
}

// InvalidateCaches drops the dashboard cache entries. The lifecycle handlers
// call this after successful transitions.
func (s *StatsService) InvalidateCaches(ctx context.Context) {
	s.cache.Invalidate(ctx, "stats:summary", "stats:distribution")
}

// ApplicationDetail fetches a full application record by its public number
// or primary key.
func (s *StatsService) ApplicationDetail(ctx context.Context, ref string) (*models.Application, error) {
	if id, err := uuid.Parse(ref); err == nil {
		app, err := s.store.ApplicationByID(ctx, id)
		if err == nil {
			return app, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	app, err := s.store.ApplicationByNo(ctx, ref)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound("application %s not found", ref)
		}
		return nil, err
	}
	return app, nil
}

func ageBands(births []time.Time, now time.Time) map[string]int64 {
	bands := map[string]int64{}
	for _, dob := range births {
		age := now.Year() - dob.Year()
		if now.YearDay() < dob.YearDay() {
			age--
		}
		switch {
		case age < 18:
			bands["under_18"]++
		case age < 26:
			bands["18-25"]++
		case age < 36:
			bands["26-35"]++
		case age < 46:
			bands["36-45"]++
		case age < 61:
			bands["46-60"]++
		default:
			bands["over_60"]++
		}
	}
	return bands
}
