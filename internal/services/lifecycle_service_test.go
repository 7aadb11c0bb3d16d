// internal/services/lifecycle_service_test.go
package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/jbn434/lambda/internal/config"
	"github.com/jbn434/lambda/internal/models"
	"github.com/jbn434/lambda/internal/store"
)

type fakeGenerator struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (g *fakeGenerator) Generate(ctx context.Context, applicationNo, licenseNo string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.err
}

type LifecycleSuite struct {
	suite.Suite
	store     *store.MemoryStore
	generator *fakeGenerator
	svc       *LifecycleService

	admin     Actor
	applicant Actor
	agent     Actor
}

func (s *LifecycleSuite) SetupTest() {
	s.store = store.NewMemoryStore()
	s.generator = &fakeGenerator{}
	s.svc = NewLifecycleService(s.store, s.generator, config.EngineConfig{
		ConflictPolicy:       config.ConflictPolicyWait,
		RenewalWindowDays:    60,
		LicenseValidityYears: 5,
	})

	s.admin = Actor{ID: uuid.New(), Role: models.RoleAdmin}
	s.applicant = Actor{ID: uuid.New(), Role: models.RoleApplicant}
	s.agent = Actor{ID: uuid.New(), Role: models.RoleAgent}
}

func (s *LifecycleSuite) preRegistration(holderID uuid.UUID, class string) *PreRegistrationRequest {
	dob := time.Date(1990, 4, 12, 0, 0, 0, 0, time.UTC)
	return &PreRegistrationRequest{
		HolderID:     holderID,
		FirstName:    "Ada",
		LastName:     "Obi",
		Email:        "ada.obi@example.com",
		Phone:        "+2348012345678",
		DateOfBirth:  &dob,
		Gender:       models.GenderFemale,
		LGA:          "Ikeja",
		StateOfBirth: "Lagos",
		Address:      "12 Allen Avenue, Ikeja",
		LicenseClass: class,
	}
}

func (s *LifecycleSuite) mandatoryDocs() []AttachmentInput {
	return []AttachmentInput{
		{DocumentType: models.DocumentTypePhotograph, FileName: "photo.jpg", ContentType: "image/jpeg", Size: 1024, StorageKey: "k1"},
		{DocumentType: models.DocumentTypeSignature, FileName: "sig.png", ContentType: "image/png", Size: 512, StorageKey: "k2"},
	}
}

// newDraft runs preregistration and document attachment for one holder.
func (s *LifecycleSuite) newDraft(actor Actor, holderID uuid.UUID) *models.Application {
	app, err := s.svc.PreRegister(context.Background(), actor, s.preRegistration(holderID, "B"))
	s.Require().NoError(err)

	app, err = s.svc.AttachFiles(context.Background(), app.ApplicationNo, s.mandatoryDocs())
	s.Require().NoError(err)
	return app
}

// issuedLicense walks one application to issuance and returns the license.
func (s *LifecycleSuite) issuedLicense(holderID uuid.UUID) (*models.License, *models.Application) {
	owner := Actor{ID: holderID, Role: models.RoleApplicant}
	draft := s.newDraft(owner, holderID)

	_, err := s.svc.Submit(context.Background(), owner, &SubmitRequest{ApplicationNo: draft.ApplicationNo})
	s.Require().NoError(err)

	result, err := s.svc.Approve(context.Background(), s.admin, &ApproveRequest{ApplicationNo: draft.ApplicationNo})
	s.Require().NoError(err)
	return result.License, result.Application
}

func (s *LifecycleSuite) TestPreRegisterAssignsApplicationNo() {
	app, err := s.svc.PreRegister(context.Background(), s.applicant, s.preRegistration(s.applicant.ID, "B"))
	s.Require().NoError(err)

	s.NotEmpty(app.ApplicationNo)
	s.Equal(models.StatePreRegistered, app.State)
	s.Require().Len(app.AuditTrail, 1)
	s.Equal(models.TransitionPreRegister, app.AuditTrail[0].Transition)
}

func (s *LifecycleSuite) TestPreRegisterIdempotentOnCorrelationKey() {
	req := s.preRegistration(s.applicant.ID, "B")
	req.CorrelationKey = "mobile-device-4711"

	first, err := s.svc.PreRegister(context.Background(), s.applicant, req)
	s.Require().NoError(err)

	second, err := s.svc.PreRegister(context.Background(), s.applicant, req)
	s.Require().NoError(err)

	s.Equal(first.ApplicationNo, second.ApplicationNo)
	s.Equal(first.ID, second.ID)
}

func (s *LifecycleSuite) TestPreRegisterRecordsAgent() {
	app, err := s.svc.PreRegister(context.Background(), s.agent, s.preRegistration(uuid.New(), "B"))
	s.Require().NoError(err)

	s.Require().NotNil(app.AgentID)
	s.Equal(s.agent.ID, *app.AgentID)
}

func (s *LifecycleSuite) TestAttachFilesToMissingApplication() {
	_, err := s.svc.AttachFiles(context.Background(), "APP-0000MISSING", s.mandatoryDocs())
	s.Equal(CodeNotFound, CodeOf(err))
}

func (s *LifecycleSuite) TestSubmitWithoutDocumentsFails() {
	app, err := s.svc.PreRegister(context.Background(), s.applicant, s.preRegistration(s.applicant.ID, "B"))
	s.Require().NoError(err)

	_, err = s.svc.Submit(context.Background(), s.applicant, &SubmitRequest{ApplicationNo: app.ApplicationNo})
	s.Equal(CodeIncompleteApplication, CodeOf(err))

	// The failed submission must not move the state.
	reloaded, err := s.svc.ApplicationByNo(context.Background(), app.ApplicationNo)
	s.Require().NoError(err)
	s.Equal(models.StatePreRegistered, reloaded.State)
}

func (s *LifecycleSuite) TestSubmitByStrangerFails() {
	draft := s.newDraft(s.applicant, s.applicant.ID)

	stranger := Actor{ID: uuid.New(), Role: models.RoleApplicant}
	_, err := s.svc.Submit(context.Background(), stranger, &SubmitRequest{ApplicationNo: draft.ApplicationNo})
	s.Equal(CodeUnauthorized, CodeOf(err))
}

func (s *LifecycleSuite) TestSubmitHappyPath() {
	draft := s.newDraft(s.applicant, s.applicant.ID)

	app, err := s.svc.Submit(context.Background(), s.applicant, &SubmitRequest{ApplicationNo: draft.ApplicationNo})
	s.Require().NoError(err)

	s.Equal(models.StateSubmitted, app.State)
	s.Require().NotNil(app.SubmittedAt)

	transitions := make([]models.Transition, 0, len(app.AuditTrail))
	for _, entry := range app.AuditTrail {
		transitions = append(transitions, entry.Transition)
	}
	s.Equal([]models.Transition{
		models.TransitionPreRegister,
		models.TransitionAttachFiles,
		models.TransitionSubmit,
	}, transitions)
}

func (s *LifecycleSuite) TestConcurrentSubmitsOneWins() {
	holderID := uuid.New()
	first := s.newDraft(s.applicant, holderID)
	second := s.newDraft(s.applicant, holderID)

	// Both drafts belong to one holder and class; only one may pass the
	// open-application guard.
	owner := Actor{ID: holderID, Role: models.RoleApplicant}
	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, no := range []string{first.ApplicationNo, second.ApplicationNo} {
		wg.Add(1)
		go func(applicationNo string) {
			defer wg.Done()
			_, err := s.svc.Submit(context.Background(), owner, &SubmitRequest{ApplicationNo: applicationNo})
			errs <- err
		}(no)
	}
	wg.Wait()
	close(errs)

	var succeeded, conflicted int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case CodeOf(err) == CodeConflict:
			conflicted++
		default:
			s.Failf("unexpected error", "%v", err)
		}
	}
	s.Equal(1, succeeded)
	s.Equal(1, conflicted)
}

func (s *LifecycleSuite) TestConflictPolicyFailRejectsInFlight() {
	s.svc.cfg.ConflictPolicy = config.ConflictPolicyFail
	draft := s.newDraft(s.applicant, s.applicant.ID)

	// Hold the application's lock to simulate an in-flight transition.
	release := s.svc.locks.Lock(applicationKey(draft.ApplicationNo))
	defer release()

	_, err := s.svc.Submit(context.Background(), s.applicant, &SubmitRequest{ApplicationNo: draft.ApplicationNo})
	s.Equal(CodeConflict, CodeOf(err))
}

func (s *LifecycleSuite) TestApproveIssuesLicense() {
	draft := s.newDraft(s.applicant, s.applicant.ID)
	_, err := s.svc.Submit(context.Background(), s.applicant, &SubmitRequest{ApplicationNo: draft.ApplicationNo})
	s.Require().NoError(err)

	result, err := s.svc.Approve(context.Background(), s.admin, &ApproveRequest{ApplicationNo: draft.ApplicationNo})
	s.Require().NoError(err)

	s.Equal(models.StateIssued, result.Application.State)
	s.False(result.GenerationPending)
	s.Require().NotNil(result.License)
	s.NotEmpty(result.License.LicenseNo)
	s.Equal(models.LicenseStatusActive, result.License.Status)
	s.Equal(1, s.generator.calls)

	// Exactly one approve entry in the trail.
	approvals := 0
	for _, entry := range result.Application.AuditTrail {
		if entry.Transition == models.TransitionApprove {
			approvals++
		}
	}
	s.Equal(1, approvals)
}

func (s *LifecycleSuite) TestApproveByApplicantFails() {
	draft := s.newDraft(s.applicant, s.applicant.ID)
	_, err := s.svc.Submit(context.Background(), s.applicant, &SubmitRequest{ApplicationNo: draft.ApplicationNo})
	s.Require().NoError(err)

	_, err = s.svc.Approve(context.Background(), s.applicant, &ApproveRequest{ApplicationNo: draft.ApplicationNo})
	s.Equal(CodeUnauthorized, CodeOf(err))
}

func (s *LifecycleSuite) TestApproveFromDraftFails() {
	draft := s.newDraft(s.applicant, s.applicant.ID)

	_, err := s.svc.Approve(context.Background(), s.admin, &ApproveRequest{ApplicationNo: draft.ApplicationNo})
	s.Equal(CodeInvalidTransition, CodeOf(err))
}

func (s *LifecycleSuite) TestGenerationFailureFlagsApplication() {
	s.generator.err = errors.New("printer offline")

	draft := s.newDraft(s.applicant, s.applicant.ID)
	_, err := s.svc.Submit(context.Background(), s.applicant, &SubmitRequest{ApplicationNo: draft.ApplicationNo})
	s.Require().NoError(err)

	result, err := s.svc.Approve(context.Background(), s.admin, &ApproveRequest{ApplicationNo: draft.ApplicationNo})
	s.Require().NoError(err)

	// Approval survives the generation failure.
	s.Equal(models.StateIssued, result.Application.State)
	s.True(result.GenerationPending)
	s.True(result.Application.GenerationPending)
}

func (s *LifecycleSuite) TestRejectClosesApplication() {
	draft := s.newDraft(s.applicant, s.applicant.ID)
	_, err := s.svc.Submit(context.Background(), s.applicant, &SubmitRequest{ApplicationNo: draft.ApplicationNo})
	s.Require().NoError(err)

	app, err := s.svc.Reject(context.Background(), s.admin, &RejectRequest{
		ApplicationNo: draft.ApplicationNo,
		Reason:        "identity mismatch",
	})
	s.Require().NoError(err)
	s.Equal(models.StateRejected, app.State)
	s.Equal("identity mismatch", app.RejectionReason)

	// Rejected is terminal.
	_, err = s.svc.Update(context.Background(), s.admin, &UpdateRequest{
		ApplicationNo: draft.ApplicationNo,
		FirstName:     "Changed",
	})
	s.Equal(CodeInvalidTransition, CodeOf(err))
}

func (s *LifecycleSuite) TestRejectFromDraftFails() {
	draft := s.newDraft(s.applicant, s.applicant.ID)

	_, err := s.svc.Reject(context.Background(), s.admin, &RejectRequest{
		ApplicationNo: draft.ApplicationNo,
		Reason:        "too early",
	})
	s.Equal(CodeInvalidTransition, CodeOf(err))
}

func (s *LifecycleSuite) TestRenewalOutsideWindow() {
	lic, _ := s.issuedLicense(s.applicant.ID)

	// Freshly issued, five years to expiry.
	_, err := s.svc.SubmitRenewal(context.Background(), s.applicant, &RenewalRequest{LicenseNo: lic.LicenseNo})
	s.Equal(CodeNotEligible, CodeOf(err))
}

func (s *LifecycleSuite) TestRenewalInsideWindowIssuesNewLicense() {
	lic, _ := s.issuedLicense(s.applicant.ID)

	// Jump to 30 days before expiry.
	s.svc.now = func() time.Time { return lic.ExpiresAt.AddDate(0, 0, -30) }

	app, err := s.svc.SubmitRenewal(context.Background(), s.applicant, &RenewalRequest{LicenseNo: lic.LicenseNo})
	s.Require().NoError(err)
	s.Equal(models.StateRenewalRequested, app.State)
	s.Equal(models.RequestTypeRenewal, app.RequestType)
	s.Require().NotNil(app.PreviousLicenseID)
	s.Equal(lic.ID, *app.PreviousLicenseID)

	result, err := s.svc.Approve(context.Background(), s.admin, &ApproveRequest{ApplicationNo: app.ApplicationNo})
	s.Require().NoError(err)
	s.NotEqual(lic.LicenseNo, result.License.LicenseNo)

	old, err := s.store.LicenseByID(context.Background(), lic.ID)
	s.Require().NoError(err)
	s.Equal(models.LicenseStatusRenewed, old.Status)
	s.Require().NotNil(old.SupersededBy)
	s.Equal(result.License.ID, *old.SupersededBy)
}

func (s *LifecycleSuite) TestSecondRenewalConflicts() {
	lic, _ := s.issuedLicense(s.applicant.ID)
	s.svc.now = func() time.Time { return lic.ExpiresAt.AddDate(0, 0, -30) }

	_, err := s.svc.SubmitRenewal(context.Background(), s.applicant, &RenewalRequest{LicenseNo: lic.LicenseNo})
	s.Require().NoError(err)

	_, err = s.svc.SubmitRenewal(context.Background(), s.applicant, &RenewalRequest{LicenseNo: lic.LicenseNo})
	s.Equal(CodeConflict, CodeOf(err))
}

func (s *LifecycleSuite) TestRenewalPreRegisterByStrangerFails() {
	lic, _ := s.issuedLicense(s.applicant.ID)
	s.svc.now = func() time.Time { return lic.ExpiresAt.AddDate(0, 0, -30) }

	stranger := Actor{ID: uuid.New(), Role: models.RoleApplicant}
	_, err := s.svc.RenewalPreRegister(context.Background(), stranger, &RenewalPreRegistrationRequest{LicenseNo: lic.LicenseNo})
	s.Equal(CodeUnauthorized, CodeOf(err))
}

func (s *LifecycleSuite) TestRenewalByStrangerFails() {
	lic, _ := s.issuedLicense(s.applicant.ID)
	s.svc.now = func() time.Time { return lic.ExpiresAt.AddDate(0, 0, -30) }

	stranger := Actor{ID: uuid.New(), Role: models.RoleApplicant}
	_, err := s.svc.SubmitRenewal(context.Background(), stranger, &RenewalRequest{LicenseNo: lic.LicenseNo})
	s.Equal(CodeUnauthorized, CodeOf(err))
}

func (s *LifecycleSuite) TestDraftPromotionConflictsWithInFlightEdit() {
	lic, _ := s.issuedLicense(s.applicant.ID)
	s.svc.now = func() time.Time { return lic.ExpiresAt.AddDate(0, 0, -30) }

	draft, err := s.svc.RenewalPreRegister(context.Background(), s.applicant, &RenewalPreRegistrationRequest{LicenseNo: lic.LicenseNo})
	s.Require().NoError(err)

	s.svc.cfg.ConflictPolicy = config.ConflictPolicyFail

	// An AttachFiles or Update on the draft would hold this lock.
	release := s.svc.locks.Lock(applicationKey(draft.ApplicationNo))
	defer release()

	_, err = s.svc.SubmitRenewal(context.Background(), s.applicant, &RenewalRequest{
		LicenseNo:     lic.LicenseNo,
		ApplicationNo: draft.ApplicationNo,
	})
	s.Equal(CodeConflict, CodeOf(err))
}

func (s *LifecycleSuite) TestApproveConflictsWithExpiryInFlight() {
	lic, _ := s.issuedLicense(s.applicant.ID)
	s.svc.now = func() time.Time { return lic.ExpiresAt.AddDate(0, 0, -30) }

	app, err := s.svc.SubmitRenewal(context.Background(), s.applicant, &RenewalRequest{LicenseNo: lic.LicenseNo})
	s.Require().NoError(err)

	s.svc.cfg.ConflictPolicy = config.ConflictPolicyFail

	// An expiry of the old license serializes on the same key that the
	// supersede branch takes.
	release := s.svc.locks.Lock(licenseKey(lic.ID))
	defer release()

	_, err = s.svc.Approve(context.Background(), s.admin, &ApproveRequest{ApplicationNo: app.ApplicationNo})
	s.Equal(CodeConflict, CodeOf(err))
}

func (s *LifecycleSuite) TestExpireConflictsWithApprovalInFlight() {
	lic, _ := s.issuedLicense(s.applicant.ID)
	s.svc.cfg.ConflictPolicy = config.ConflictPolicyFail

	release := s.svc.locks.Lock(licenseKey(lic.ID))
	defer release()

	_, err := s.svc.Expire(context.Background(), s.admin, lic.LicenseNo)
	s.Equal(CodeConflict, CodeOf(err))
}

func (s *LifecycleSuite) TestReplacementMarksOldLicense() {
	lic, _ := s.issuedLicense(s.applicant.ID)

	app, err := s.svc.SubmitReplacement(context.Background(), s.applicant, &ReplacementRequest{
		LicenseNo: lic.LicenseNo,
		Reason:    models.ReplacementReasonLost,
	})
	s.Require().NoError(err)
	s.Equal(models.StateReplacementRequested, app.State)
	s.Require().NotNil(app.ReplacementReason)
	s.Equal(models.ReplacementReasonLost, *app.ReplacementReason)

	result, err := s.svc.Approve(context.Background(), s.admin, &ApproveRequest{ApplicationNo: app.ApplicationNo})
	s.Require().NoError(err)

	old, err := s.store.LicenseByID(context.Background(), lic.ID)
	s.Require().NoError(err)
	s.Equal(models.LicenseStatusReplaced, old.Status)
	s.Require().NotNil(old.SupersededBy)
	s.Equal(result.License.ID, *old.SupersededBy)
}

func (s *LifecycleSuite) TestReplacementRequiresReason() {
	lic, _ := s.issuedLicense(s.applicant.ID)

	_, err := s.svc.SubmitReplacement(context.Background(), s.applicant, &ReplacementRequest{LicenseNo: lic.LicenseNo})
	s.Equal(CodeIncompleteApplication, CodeOf(err))
}

func (s *LifecycleSuite) TestExpireRetainsRecords() {
	lic, app := s.issuedLicense(s.applicant.ID)

	expired, err := s.svc.Expire(context.Background(), s.admin, lic.LicenseNo)
	s.Require().NoError(err)
	s.Equal(models.LicenseStatusExpired, expired.Status)

	reloaded, err := s.svc.ApplicationByNo(context.Background(), app.ApplicationNo)
	s.Require().NoError(err)
	s.Equal(models.StateExpired, reloaded.State)

	// Expiring twice is rejected, nothing is deleted.
	_, err = s.svc.Expire(context.Background(), s.admin, lic.LicenseNo)
	s.Equal(CodeInvalidTransition, CodeOf(err))
}

func (s *LifecycleSuite) TestExpireDueSweep() {
	lic, _ := s.issuedLicense(s.applicant.ID)

	s.svc.now = func() time.Time { return lic.ExpiresAt.AddDate(0, 0, 1) }

	count, err := s.svc.ExpireDue(context.Background(), 100)
	s.Require().NoError(err)
	s.Equal(1, count)

	reloaded, err := s.store.LicenseByID(context.Background(), lic.ID)
	s.Require().NoError(err)
	s.Equal(models.LicenseStatusExpired, reloaded.Status)
}

func (s *LifecycleSuite) TestVerifyReportsExpiry() {
	lic, _ := s.issuedLicense(s.applicant.ID)

	result, err := s.svc.VerifyLicense(context.Background(), &VerifyRequest{LicenseNo: lic.LicenseNo})
	s.Require().NoError(err)
	s.True(result.Valid)
	s.Equal("Ada Obi", result.HolderName)

	_, err = s.svc.Expire(context.Background(), s.admin, lic.LicenseNo)
	s.Require().NoError(err)

	result, err = s.svc.VerifyLicense(context.Background(), &VerifyRequest{LicenseNo: lic.LicenseNo})
	s.Require().NoError(err)
	s.False(result.Valid)
	s.Equal(models.LicenseStatusExpired, result.LicenseStatus)
}

func (s *LifecycleSuite) TestVerifyUnknownLicense() {
	_, err := s.svc.VerifyLicense(context.Background(), &VerifyRequest{LicenseNo: "DL-00UNKNOWN"})
	s.Equal(CodeNotFound, CodeOf(err))
}

func (s *LifecycleSuite) TestDistinctLicenseNumbers() {
	licA, _ := s.issuedLicense(uuid.New())
	licB, _ := s.issuedLicense(uuid.New())
	s.NotEqual(licA.LicenseNo, licB.LicenseNo)
}

func (s *LifecycleSuite) TestUpdateAppliesFields() {
	draft := s.newDraft(s.applicant, s.applicant.ID)
	_, err := s.svc.Submit(context.Background(), s.applicant, &SubmitRequest{ApplicationNo: draft.ApplicationNo})
	s.Require().NoError(err)

	app, err := s.svc.Update(context.Background(), s.admin, &UpdateRequest{
		ApplicationNo: draft.ApplicationNo,
		Address:       "3 Marina Road, Lagos Island",
	})
	s.Require().NoError(err)
	s.Equal("3 Marina Road, Lagos Island", app.Address)
	s.Equal("Ada", app.FirstName)
}

func TestLifecycleSuite(t *testing.T) {
	suite.Run(t, new(LifecycleSuite))
}
