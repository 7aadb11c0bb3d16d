// internal/services/stats_service_test.go
package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/jbn434/lambda/internal/models"
	"github.com/jbn434/lambda/internal/store"
)

type StatsSuite struct {
	suite.Suite
	store *store.MemoryStore
	svc   *StatsService
	now   time.Time
}

func (s *StatsSuite) SetupTest() {
	s.store = store.NewMemoryStore()
	s.svc = NewStatsService(s.store, NewCacheService(disabledRedisConfig()))
	s.now = time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	s.svc.now = func() time.Time { return s.now }
}

func (s *StatsSuite) seedApplication(state models.ApplicationState, requestType models.RequestType, createdAt time.Time, dob time.Time) *models.Application {
	app := &models.Application{
		ApplicationNo: "APP-" + uuid.New().String()[:12],
		RequestType:   requestType,
		Channel:       models.ChannelWeb,
		State:         state,
		HolderID:      uuid.New(),
		FirstName:     "Test",
		LastName:      "Holder",
		Gender:        models.GenderMale,
		LGA:           "Surulere",
		LicenseClass:  "B",
		DateOfBirth:   &dob,
	}
	app.CreatedAt = createdAt
	s.Require().NoError(s.store.CreateApplication(context.Background(), app))
	return app
}

func (s *StatsSuite) seedLicense(status models.LicenseStatus, expiresAt time.Time) *models.License {
	lic := &models.License{
		LicenseNo:     "DL-" + uuid.New().String()[:10],
		ApplicationID: uuid.New(),
		HolderID:      uuid.New(),
		LicenseClass:  "B",
		Status:        status,
		IssuedAt:      expiresAt.AddDate(-5, 0, 0),
		ExpiresAt:     expiresAt,
	}
	s.Require().NoError(s.store.CreateLicense(context.Background(), lic))
	return lic
}

func (s *StatsSuite) TestSummaryCounts() {
	dob := time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)
	s.seedApplication(models.StateSubmitted, models.RequestTypeNew, s.now, dob)
	s.seedApplication(models.StateSubmitted, models.RequestTypeNew, s.now, dob)
	s.seedApplication(models.StateIssued, models.RequestTypeRenewal, s.now, dob)

	s.seedLicense(models.LicenseStatusActive, s.now.AddDate(0, 0, 10))
	s.seedLicense(models.LicenseStatusActive, s.now.AddDate(1, 0, 0))
	s.seedLicense(models.LicenseStatusExpired, s.now.AddDate(0, 0, -1))

	summary, err := s.svc.Summary(context.Background())
	s.Require().NoError(err)

	s.Equal(int64(2), summary.ApplicationsByState[models.StateSubmitted])
	s.Equal(int64(1), summary.ApplicationsByState[models.StateIssued])
	s.Equal(int64(1), summary.ApplicationsByType[models.RequestTypeRenewal])
	s.Equal(int64(2), summary.LicensesByStatus[models.LicenseStatusActive])
	s.Equal(int64(1), summary.ExpiringIn30Days)
}

func (s *StatsSuite) TestVolumeGroupsByMonth() {
	dob := time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)
	s.seedApplication(models.StateSubmitted, models.RequestTypeNew, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), dob)
	s.seedApplication(models.StateSubmitted, models.RequestTypeNew, time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC), dob)
	s.seedApplication(models.StateSubmitted, models.RequestTypeNew, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), dob)
	s.seedApplication(models.StateSubmitted, models.RequestTypeNew, time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC), dob)

	volume, err := s.svc.Volume(context.Background(), 2026)
	s.Require().NoError(err)

	s.Equal(int64(2), volume.Months[time.March.String()])
	s.Equal(int64(1), volume.Months[time.July.String()])
	s.Equal(int64(0), volume.Months[time.January.String()])
}

func (s *StatsSuite) TestRenewalRate() {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	// Two licenses due in the window, one renewal filed inside it.
	s.seedLicense(models.LicenseStatusActive, start.AddDate(0, 1, 0))
	s.seedLicense(models.LicenseStatusRenewed, start.AddDate(0, 2, 0))
	s.seedLicense(models.LicenseStatusActive, end.AddDate(1, 0, 0))

	dob := time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)
	s.seedApplication(models.StateIssued, models.RequestTypeRenewal, start.AddDate(0, 2, 0), dob)
	s.seedApplication(models.StateIssued, models.RequestTypeRenewal, end.AddDate(0, 1, 0), dob)

	rate, err := s.svc.RenewalRate(context.Background(), start, end)
	s.Require().NoError(err)

	s.Equal(int64(2), rate.Eligible)
	s.Equal(int64(1), rate.Renewed)
	s.InDelta(0.5, rate.Rate, 1e-9)
}

func (s *StatsSuite) TestRenewalRateRejectsEmptyWindow() {
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	_, err := s.svc.RenewalRate(context.Background(), start, start)
	s.Equal(CodeIncompleteApplication, CodeOf(err))
}

func (s *StatsSuite) TestDistributionAgeBands() {
	s.seedApplication(models.StateSubmitted, models.RequestTypeNew, s.now,
		time.Date(2005, 1, 1, 0, 0, 0, 0, time.UTC)) // 21
	s.seedApplication(models.StateSubmitted, models.RequestTypeNew, s.now,
		time.Date(1992, 1, 1, 0, 0, 0, 0, time.UTC)) // 34
	s.seedApplication(models.StateSubmitted, models.RequestTypeNew, s.now,
		time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC)) // 76

	dist, err := s.svc.Distribution(context.Background())
	s.Require().NoError(err)

	s.Equal(int64(1), dist.ByAge["18-25"])
	s.Equal(int64(1), dist.ByAge["26-35"])
	s.Equal(int64(1), dist.ByAge["over_60"])
	s.Equal(int64(3), dist.ByClass["B"])
	s.Equal(int64(3), dist.ByGender[models.GenderMale])
}

func (s *StatsSuite) TestListPreRegistrationsFiltersState() {
	dob := time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)
	s.seedApplication(models.StatePreRegistered, models.RequestTypeNew, s.now, dob)
	s.seedApplication(models.StateSubmitted, models.RequestTypeNew, s.now, dob)

	apps, total, err := s.svc.ListPreRegistrations(context.Background(), store.ApplicationFilter{})
	s.Require().NoError(err)
	s.Equal(int64(1), total)
	s.Require().Len(apps, 1)
	s.Equal(models.StatePreRegistered, apps[0].State)
}

func (s *StatsSuite) TestRegistrationsByAgent() {
	dob := time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)
	agentID := uuid.New()

	mine := s.seedApplication(models.StatePreRegistered, models.RequestTypeNew, s.now, dob)
	mine.AgentID = &agentID
	s.Require().NoError(s.store.SaveApplication(context.Background(), mine))
	s.seedApplication(models.StatePreRegistered, models.RequestTypeNew, s.now, dob)

	apps, total, err := s.svc.RegistrationsByAgent(context.Background(), agentID, store.ApplicationFilter{})
	s.Require().NoError(err)
	s.Equal(int64(1), total)
	s.Require().Len(apps, 1)
	s.Equal(mine.ID, apps[0].ID)
}

func TestStatsSuite(t *testing.T) {
	suite.Run(t, new(StatsSuite))
}
