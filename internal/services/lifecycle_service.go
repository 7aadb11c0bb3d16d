// internal/services/lifecycle_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jbn434/lambda/internal/config"
	"github.com/jbn434/lambda/internal/models"
	"github.com/jbn434/lambda/internal/store"
	"github.com/jbn434/lambda/internal/utils"
)

// Actor is the resolved caller identity. The engine trusts it as given;
// credential verification happens before any engine call.
type Actor struct {
	ID   uuid.UUID
	Role models.Role
}

func (a Actor) IsAdmin() bool {
	return a.Role == models.RoleAdmin || a.Role == models.RoleRegulatorAdmin
}

// SystemActor marks transitions triggered by the scheduler rather than a
// caller.
var SystemActor = Actor{ID: uuid.Nil, Role: ""}

// Generator produces the physical/digital license artifact after approval.
// A failure here never rolls back the approval; the application is flagged
// generation-pending instead.
type Generator interface {
	Generate(ctx context.Context, applicationNo, licenseNo string) error
}

// LifecycleService validates and executes application state transitions.
// One logical transition runs at a time per application (and per
// holder/class for request creation); the conflict policy decides whether a
// second request waits for the in-flight one or fails fast.
type LifecycleService struct {
	store     store.Store
	generator Generator
	locks     *KeyedMutex
	cfg       config.EngineConfig
	now       func() time.Time
}

func NewLifecycleService(st store.Store, gen Generator, cfg config.EngineConfig) *LifecycleService {
	return &LifecycleService{
		store:     st,
		generator: gen,
		locks:     NewKeyedMutex(),
		cfg:       cfg,
		now:       time.Now,
	}
}

func (s *LifecycleService) lock(key string) (func(), error) {
	if s.cfg.ConflictPolicy == config.ConflictPolicyFail {
		unlock, ok := s.locks.TryLock(key)
		if !ok {
			return nil, ErrConflict("another transition is in flight")
		}
		return unlock, nil
	}
	return s.locks.Lock(key), nil
}

func applicationKey(applicationNo string) string { return "app:" + applicationNo }

func licenseKey(id uuid.UUID) string { return "lic:" + id.String() }

func holderClassKey(holderID uuid.UUID, class string) string {
	return "holder:" + holderID.String() + ":" + class
}

func (s *LifecycleService) renewalWindow() time.Duration {
	return time.Duration(s.cfg.RenewalWindowDays) * 24 * time.Hour
}

// Request DTOs

type PreRegistrationRequest struct {
	CorrelationKey string         `json:"correlation_key" validate:"omitempty,min=8,max=64"`
	HolderID       uuid.UUID      `json:"holder_id" validate:"required"`
	FirstName      string         `json:"first_name" validate:"required,max=100"`
	LastName       string         `json:"last_name" validate:"required,max=100"`
	Email          string         `json:"email" validate:"omitempty,email"`
	Phone          string         `json:"phone" validate:"omitempty,max=32"`
	DateOfBirth    *time.Time     `json:"date_of_birth,omitempty"`
	Gender         models.Gender  `json:"gender" validate:"omitempty,oneof=male female"`
	LGA            string         `json:"lga" validate:"omitempty,max=100"`
	StateOfBirth   string         `json:"state_of_birth" validate:"omitempty,max=100"`
	Address        string         `json:"address"`
	LicenseClass   string         `json:"license_class" validate:"required,license_class"`
	Channel        models.Channel `json:"channel" validate:"omitempty,oneof=web mobile"`
}

type RenewalPreRegistrationRequest struct {
	CorrelationKey string         `json:"correlation_key" validate:"omitempty,min=8,max=64"`
	LicenseNo      string         `json:"license_no" validate:"required"`
	Email          string         `json:"email" validate:"omitempty,email"`
	Phone          string         `json:"phone" validate:"omitempty,max=32"`
	Address        string         `json:"address"`
	Channel        models.Channel `json:"channel" validate:"omitempty,oneof=web mobile"`
}

type SubmitRequest struct {
	ApplicationNo string        `json:"application_no" validate:"required"`
	FirstName     string        `json:"first_name"`
	LastName      string        `json:"last_name"`
	Email         string        `json:"email" validate:"omitempty,email"`
	Phone         string        `json:"phone"`
	DateOfBirth   *time.Time    `json:"date_of_birth,omitempty"`
	Gender        models.Gender `json:"gender" validate:"omitempty,oneof=male female"`
	LGA           string        `json:"lga"`
	StateOfBirth  string        `json:"state_of_birth"`
	Address       string        `json:"address"`
}

type RenewalRequest struct {
	LicenseNo     string         `json:"license_no" validate:"required"`
	ApplicationNo string         `json:"application_no"`
	Email         string         `json:"email" validate:"omitempty,email"`
	Phone         string         `json:"phone"`
	Address       string         `json:"address"`
	Channel       models.Channel `json:"channel" validate:"omitempty,oneof=web mobile"`
}

type ReplacementRequest struct {
	LicenseNo string                   `json:"license_no" validate:"required"`
	Reason    models.ReplacementReason `json:"reason" validate:"required,oneof=lost damaged data_change"`
	Email     string                   `json:"email" validate:"omitempty,email"`
	Phone     string                   `json:"phone"`
	Address   string                   `json:"address"`
	Channel   models.Channel           `json:"channel" validate:"omitempty,oneof=web mobile"`
}

type ApproveRequest struct {
	ApplicationNo string `json:"application_no" validate:"required"`
	Note          string `json:"note"`
}

type RejectRequest struct {
	ApplicationNo string `json:"application_no" validate:"required"`
	Reason        string `json:"reason" validate:"required"`
}

type UpdateRequest struct {
	ApplicationNo string        `json:"application_no" validate:"required"`
	FirstName     string        `json:"first_name"`
	LastName      string        `json:"last_name"`
	Email         string        `json:"email" validate:"omitempty,email"`
	Phone         string        `json:"phone"`
	DateOfBirth   *time.Time    `json:"date_of_birth,omitempty"`
	Gender        models.Gender `json:"gender" validate:"omitempty,oneof=male female"`
	LGA           string        `json:"lga"`
	StateOfBirth  string        `json:"state_of_birth"`
	Address       string        `json:"address"`
}

type VerifyRequest struct {
	LicenseNo     string `json:"license_no"`
	ApplicationNo string `json:"application_no"`
}

type ApproveResult struct {
	Application       *models.Application `json:"application"`
	License           *models.License     `json:"license"`
	GenerationPending bool                `json:"generation_pending"`
}

type VerificationResult struct {
	Valid         bool                    `json:"valid"`
	LicenseNo     string                  `json:"license_no,omitempty"`
	LicenseStatus models.LicenseStatus    `json:"license_status,omitempty"`
	State         models.ApplicationState `json:"state"`
	HolderName    string                  `json:"holder_name,omitempty"`
	LicenseClass  string                  `json:"license_class,omitempty"`
	IssuedAt      *time.Time              `json:"issued_at,omitempty"`
	ExpiresAt     *time.Time              `json:"expires_at,omitempty"`
}

// PreRegister creates a draft application and assigns its applicationNo.
// Resubmission with the same correlation key returns the already-created
// application instead of minting a second one.
func (s *LifecycleService) PreRegister(ctx context.Context, actor Actor, req *PreRegistrationRequest) (*models.Application, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, ErrIncompleteApplication("validation failed: %v", err)
	}

	if req.CorrelationKey != "" {
		unlock, err := s.lock("corr:" + req.CorrelationKey)
		if err != nil {
			return nil, err
		}
		defer unlock()

		existing, err := s.store.ApplicationByCorrelationKey(ctx, req.CorrelationKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	now := s.now()
	app := &models.Application{
		ApplicationNo: utils.NewApplicationNo(now),
		RequestType:   models.RequestTypeNew,
		Channel:       defaultChannel(req.Channel),
		State:         models.StatePreRegistered,
		HolderID:      req.HolderID,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		Email:         req.Email,
		Phone:         req.Phone,
		DateOfBirth:   req.DateOfBirth,
		Gender:        req.Gender,
		LGA:           req.LGA,
		StateOfBirth:  req.StateOfBirth,
		Address:       req.Address,
		LicenseClass:  req.LicenseClass,
	}
	if req.CorrelationKey != "" {
		key := req.CorrelationKey
		app.CorrelationKey = &key
	}
	if actor.Role == models.RoleAgent {
		agentID := actor.ID
		app.AgentID = &agentID
	}

	err := s.store.Transact(ctx, func(tx store.Store) error {
		if err := tx.CreateApplication(ctx, app); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, s.auditEntry(app.ID, models.TransitionPreRegister, actor, ""))
	})
	if err != nil {
		return nil, err
	}

	return s.store.ApplicationByID(ctx, app.ID)
}

// RenewalPreRegister creates a renewal draft linked to an existing license.
// Eligibility is re-checked at submission; checking here too keeps callers
// from capturing drafts that can never proceed.
func (s *LifecycleService) RenewalPreRegister(ctx context.Context, actor Actor, req *RenewalPreRegistrationRequest) (*models.Application, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, ErrIncompleteApplication("validation failed: %v", err)
	}

	if req.CorrelationKey != "" {
		unlock, err := s.lock("corr:" + req.CorrelationKey)
		if err != nil {
			return nil, err
		}
		defer unlock()

		existing, err := s.store.ApplicationByCorrelationKey(ctx, req.CorrelationKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	lic, origin, err := s.licenseWithOrigin(ctx, req.LicenseNo)
	if err != nil {
		return nil, err
	}
	// The draft echoes the holder's bio, so the holder check that guards
	// submission applies at draft creation too.
	if actor.Role == models.RoleApplicant && lic.HolderID != actor.ID {
		return nil, ErrUnauthorized("caller does not hold license %s", lic.LicenseNo)
	}
	if err := s.checkRenewalEligibility(lic); err != nil {
		return nil, err
	}

	now := s.now()
	app := newLinkedApplication(origin, lic, now)
	app.ApplicationNo = utils.NewApplicationNo(now)
	app.RequestType = models.RequestTypeRenewal
	app.State = models.StatePreRegistered
	app.Channel = defaultChannel(req.Channel)
	applyContactUpdates(app, req.Email, req.Phone, req.Address)
	if req.CorrelationKey != "" {
		key := req.CorrelationKey
		app.CorrelationKey = &key
	}
	if actor.Role == models.RoleAgent {
		agentID := actor.ID
		app.AgentID = &agentID
	}

	err = s.store.Transact(ctx, func(tx store.Store) error {
		if err := tx.CreateApplication(ctx, app); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, s.auditEntry(app.ID, models.TransitionPreRegister, actor, "renewal of "+lic.LicenseNo))
	})
	if err != nil {
		return nil, err
	}

	return s.store.ApplicationByID(ctx, app.ID)
}

// AttachFiles associates stored document references with a draft. It never
// changes the application state.
func (s *LifecycleService) AttachFiles(ctx context.Context, applicationNo string, inputs []AttachmentInput) (*models.Application, error) {
	if len(inputs) == 0 {
		return nil, ErrAttachment("no files supplied")
	}

	unlock, err := s.lock(applicationKey(applicationNo))
	if err != nil {
		return nil, err
	}
	defer unlock()

	app, err := s.applicationByNo(ctx, applicationNo)
	if err != nil {
		return nil, err
	}
	if app.State != models.StatePreRegistered {
		return nil, ErrInvalidTransition("cannot attach files in state %s", app.State)
	}

	err = s.store.Transact(ctx, func(tx store.Store) error {
		for _, in := range inputs {
			att := in.toModel(app.ID)
			if err := tx.AddAttachment(ctx, att); err != nil {
				return err
			}
		}
		return tx.AppendAudit(ctx, s.auditEntry(app.ID, models.TransitionAttachFiles, SystemActor,
			fmt.Sprintf("%d file(s)", len(inputs))))
	})
	if err != nil {
		return nil, err
	}

	return s.store.ApplicationByID(ctx, app.ID)
}

// Submit moves a complete draft into the review queue. Exactly one open
// request per (holder, licenseClass) is allowed past this point; a second
// concurrent submission fails with a conflict rather than queueing.
func (s *LifecycleService) Submit(ctx context.Context, actor Actor, req *SubmitRequest) (*models.Application, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, ErrIncompleteApplication("validation failed: %v", err)
	}

	unlock, err := s.lock(applicationKey(req.ApplicationNo))
	if err != nil {
		return nil, err
	}
	defer unlock()

	app, err := s.applicationByNo(ctx, req.ApplicationNo)
	if err != nil {
		return nil, err
	}
	if err := s.checkOwnership(app, actor); err != nil {
		return nil, err
	}
	if app.State != models.StatePreRegistered {
		return nil, ErrInvalidTransition("cannot submit from state %s", app.State)
	}
	if app.RequestType != models.RequestTypeNew {
		return nil, ErrInvalidTransition("%s drafts are submitted through their own operation", app.RequestType)
	}

	mergeApplicantFields(app, req.FirstName, req.LastName, req.Email, req.Phone,
		req.DateOfBirth, req.Gender, req.LGA, req.StateOfBirth, req.Address)

	if missing := missingRequiredFields(app); len(missing) > 0 {
		return nil, ErrIncompleteApplication("missing required fields: %v", missing)
	}
	if !app.HasMandatoryDocuments() {
		return nil, ErrIncompleteApplication("mandatory documents not attached")
	}

	unlockHolder, err := s.lock(holderClassKey(app.HolderID, app.LicenseClass))
	if err != nil {
		return nil, err
	}
	defer unlockHolder()

	open, err := s.store.HasOpenApplication(ctx, app.HolderID, app.LicenseClass)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, ErrConflict("holder already has an open %s class application", app.LicenseClass)
	}

	now := s.now()
	app.State = models.StateSubmitted
	app.SubmittedAt = &now

	err = s.store.Transact(ctx, func(tx store.Store) error {
		if err := tx.SaveApplication(ctx, app); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, s.auditEntry(app.ID, models.TransitionSubmit, actor, ""))
	})
	if err != nil {
		return nil, err
	}

	return s.store.ApplicationByID(ctx, app.ID)
}

// SubmitRenewal files a renewal request against an issued license, either
// promoting a renewal draft or creating the linked application directly.
func (s *LifecycleService) SubmitRenewal(ctx context.Context, actor Actor, req *RenewalRequest) (*models.Application, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, ErrIncompleteApplication("validation failed: %v", err)
	}

	lic, origin, err := s.licenseWithOrigin(ctx, req.LicenseNo)
	if err != nil {
		return nil, err
	}
	if err := s.checkRenewalEligibility(lic); err != nil {
		return nil, err
	}

	return s.fileLinkedRequest(ctx, actor, lic, origin, linkedRequestSpec{
		applicationNo: req.ApplicationNo,
		requestType:   models.RequestTypeRenewal,
		targetState:   models.StateRenewalRequested,
		transition:    models.TransitionRenewalRequest,
		channel:       defaultChannel(req.Channel),
		email:         req.Email,
		phone:         req.Phone,
		address:       req.Address,
		note:          "renewal of " + lic.LicenseNo,
	})
}

// SubmitReplacement files a replacement request. A reason is always
// required; there is no eligibility window.
func (s *LifecycleService) SubmitReplacement(ctx context.Context, actor Actor, req *ReplacementRequest) (*models.Application, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, ErrIncompleteApplication("validation failed: %v", err)
	}

	lic, origin, err := s.licenseWithOrigin(ctx, req.LicenseNo)
	if err != nil {
		return nil, err
	}
	if lic.Status != models.LicenseStatusActive {
		return nil, ErrNotEligible("license %s is %s", lic.LicenseNo, lic.Status)
	}

	reason := req.Reason
	return s.fileLinkedRequest(ctx, actor, lic, origin, linkedRequestSpec{
		requestType: models.RequestTypeReplacement,
		targetState: models.StateReplacementRequested,
		transition:  models.TransitionReplacementRequest,
		channel:     defaultChannel(req.Channel),
		email:       req.Email,
		phone:       req.Phone,
		address:     req.Address,
		reason:      &reason,
		note:        "replacement of " + lic.LicenseNo + " (" + string(req.Reason) + ")",
	})
}

type linkedRequestSpec struct {
	applicationNo string
	requestType   models.RequestType
	targetState   models.ApplicationState
	transition    models.Transition
	channel       models.Channel
	email         string
	phone         string
	address       string
	reason        *models.ReplacementReason
	note          string
}

func (s *LifecycleService) fileLinkedRequest(ctx context.Context, actor Actor, lic *models.License, origin *models.Application, spec linkedRequestSpec) (*models.Application, error) {
	if actor.Role == models.RoleApplicant && lic.HolderID != actor.ID {
		return nil, ErrUnauthorized("caller does not hold license %s", lic.LicenseNo)
	}

	// Promoting a draft edits that application; hold its lock so a
	// concurrent AttachFiles or Update cannot interleave. Application
	// before holder, same order as Submit.
	if spec.applicationNo != "" {
		unlockApp, err := s.lock(applicationKey(spec.applicationNo))
		if err != nil {
			return nil, err
		}
		defer unlockApp()
	}

	unlockHolder, err := s.lock(holderClassKey(lic.HolderID, lic.LicenseClass))
	if err != nil {
		return nil, err
	}
	defer unlockHolder()

	open, err := s.store.HasOpenApplication(ctx, lic.HolderID, lic.LicenseClass)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, ErrConflict("holder already has an open %s class application", lic.LicenseClass)
	}

	now := s.now()
	var app *models.Application

	if spec.applicationNo != "" {
		// Promote an existing draft.
		app, err = s.applicationByNo(ctx, spec.applicationNo)
		if err != nil {
			return nil, err
		}
		if err := s.checkOwnership(app, actor); err != nil {
			return nil, err
		}
		if app.State != models.StatePreRegistered || app.RequestType != spec.requestType {
			return nil, ErrInvalidTransition("application %s is not a %s draft", app.ApplicationNo, spec.requestType)
		}
	} else {
		app = newLinkedApplication(origin, lic, now)
		app.ApplicationNo = utils.NewApplicationNo(now)
		app.RequestType = spec.requestType
		if actor.Role == models.RoleAgent {
			agentID := actor.ID
			app.AgentID = &agentID
		}
	}

	app.State = spec.targetState
	app.Channel = spec.channel
	app.SubmittedAt = &now
	app.ReplacementReason = spec.reason
	applyContactUpdates(app, spec.email, spec.phone, spec.address)

	created := spec.applicationNo == ""
	err = s.store.Transact(ctx, func(tx store.Store) error {
		if created {
			if err := tx.CreateApplication(ctx, app); err != nil {
				return err
			}
		} else {
			if err := tx.SaveApplication(ctx, app); err != nil {
				return err
			}
		}
		return tx.AppendAudit(ctx, s.auditEntry(app.ID, spec.transition, actor, spec.note))
	})
	if err != nil {
		return nil, err
	}

	return s.store.ApplicationByID(ctx, app.ID)
}

// Approve issues a license for a submitted, renewal or replacement request.
// The state change, license writes and audit append commit atomically; the
// generation hook runs after the commit and its failure only flags the
// application as generation-pending.
func (s *LifecycleService) Approve(ctx context.Context, actor Actor, req *ApproveRequest) (*ApproveResult, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, ErrIncompleteApplication("validation failed: %v", err)
	}
	if !actor.IsAdmin() {
		return nil, ErrUnauthorized("approval requires an administrative role")
	}

	unlock, err := s.lock(applicationKey(req.ApplicationNo))
	if err != nil {
		return nil, err
	}
	defer unlock()

	app, err := s.applicationByNo(ctx, req.ApplicationNo)
	if err != nil {
		return nil, err
	}

	switch app.State {
	case models.StateSubmitted, models.StateRenewalRequested, models.StateReplacementRequested:
	default:
		return nil, ErrInvalidTransition("cannot approve from state %s", app.State)
	}

	if missing := missingRequiredFields(app); len(missing) > 0 {
		return nil, ErrIncompleteApplication("missing required fields: %v", missing)
	}

	// Superseding writes the previous license row, which an expiry may be
	// touching concurrently; both sides serialize on the license key.
	if app.PreviousLicenseID != nil {
		unlockLic, err := s.lock(licenseKey(*app.PreviousLicenseID))
		if err != nil {
			return nil, err
		}
		defer unlockLic()
	}

	now := s.now()
	lic := &models.License{
		LicenseNo:     utils.NewLicenseNo(now),
		ApplicationID: app.ID,
		HolderID:      app.HolderID,
		LicenseClass:  app.LicenseClass,
		Status:        models.LicenseStatusActive,
		IssuedAt:      now,
		ExpiresAt:     now.AddDate(s.cfg.LicenseValidityYears, 0, 0),
	}

	err = s.store.Transact(ctx, func(tx store.Store) error {
		if err := tx.CreateLicense(ctx, lic); err != nil {
			return err
		}

		// A renewal or replacement supersedes the license it came from;
		// the old license is flagged, never deleted.
		if app.PreviousLicenseID != nil {
			old, err := tx.LicenseByID(ctx, *app.PreviousLicenseID)
			if err != nil {
				return err
			}
			switch app.RequestType {
			case models.RequestTypeRenewal:
				old.Status = models.LicenseStatusRenewed
			case models.RequestTypeReplacement:
				old.Status = models.LicenseStatusReplaced
			}
			old.SupersededBy = &lic.ID
			if err := tx.SaveLicense(ctx, old); err != nil {
				return err
			}
		}

		app.State = models.StateIssued
		app.LicenseID = &lic.ID
		approver := actor.ID
		app.ApprovedBy = &approver
		app.ApprovedAt = &now
		if err := tx.SaveApplication(ctx, app); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, s.auditEntry(app.ID, models.TransitionApprove, actor, req.Note))
	})
	if err != nil {
		return nil, err
	}

	pending := false
	if genErr := s.generator.Generate(ctx, app.ApplicationNo, lic.LicenseNo); genErr != nil {
		pending = true
		logrus.WithError(genErr).WithFields(logrus.Fields{
			"application_no": app.ApplicationNo,
			"license_no":     lic.LicenseNo,
		}).Warn("License artifact generation failed; flagged for retry")

		app.GenerationPending = true
		if saveErr := s.store.SaveApplication(ctx, app); saveErr != nil {
			logrus.WithError(saveErr).Error("Failed to flag generation-pending application")
		}
	}

	full, err := s.store.ApplicationByID(ctx, app.ID)
	if err != nil {
		return nil, err
	}
	return &ApproveResult{Application: full, License: lic, GenerationPending: pending}, nil
}

// Reject closes a submitted application. Rejected is terminal; renewing or
// replacing later means filing a new application.
func (s *LifecycleService) Reject(ctx context.Context, actor Actor, req *RejectRequest) (*models.Application, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, ErrIncompleteApplication("validation failed: %v", err)
	}
	if !actor.IsAdmin() {
		return nil, ErrUnauthorized("rejection requires an administrative role")
	}

	unlock, err := s.lock(applicationKey(req.ApplicationNo))
	if err != nil {
		return nil, err
	}
	defer unlock()

	app, err := s.applicationByNo(ctx, req.ApplicationNo)
	if err != nil {
		return nil, err
	}
	if app.State != models.StateSubmitted {
		return nil, ErrInvalidTransition("cannot reject from state %s", app.State)
	}

	app.State = models.StateRejected
	app.RejectionReason = req.Reason

	err = s.store.Transact(ctx, func(tx store.Store) error {
		if err := tx.SaveApplication(ctx, app); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, s.auditEntry(app.ID, models.TransitionReject, actor, req.Reason))
	})
	if err != nil {
		return nil, err
	}

	return s.store.ApplicationByID(ctx, app.ID)
}

// Update corrects mutable applicant fields on a non-terminal application.
func (s *LifecycleService) Update(ctx context.Context, actor Actor, req *UpdateRequest) (*models.Application, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, ErrIncompleteApplication("validation failed: %v", err)
	}
	if !actor.IsAdmin() {
		return nil, ErrUnauthorized("updates require an administrative role")
	}

	unlock, err := s.lock(applicationKey(req.ApplicationNo))
	if err != nil {
		return nil, err
	}
	defer unlock()

	app, err := s.applicationByNo(ctx, req.ApplicationNo)
	if err != nil {
		return nil, err
	}
	if app.State.IsTerminal() {
		return nil, ErrInvalidTransition("cannot update application in terminal state %s", app.State)
	}

	mergeApplicantFields(app, req.FirstName, req.LastName, req.Email, req.Phone,
		req.DateOfBirth, req.Gender, req.LGA, req.StateOfBirth, req.Address)

	err = s.store.Transact(ctx, func(tx store.Store) error {
		if err := tx.SaveApplication(ctx, app); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, s.auditEntry(app.ID, models.TransitionUpdate, actor, ""))
	})
	if err != nil {
		return nil, err
	}

	return s.store.ApplicationByID(ctx, app.ID)
}

// Expire marks an active license expired. The license and its application
// are retained for audit.
func (s *LifecycleService) Expire(ctx context.Context, actor Actor, licenseNo string) (*models.License, error) {
	lic, err := s.licenseByNo(ctx, licenseNo)
	if err != nil {
		return nil, err
	}

	unlock, err := s.lock(licenseKey(lic.ID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Re-read under the lock.
	lic, err = s.licenseByNo(ctx, licenseNo)
	if err != nil {
		return nil, err
	}
	if lic.Status != models.LicenseStatusActive {
		return nil, ErrInvalidTransition("license %s is %s, not active", lic.LicenseNo, lic.Status)
	}

	app, err := s.store.ApplicationByID(ctx, lic.ApplicationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound("application for license %s not found", licenseNo)
		}
		return nil, err
	}

	lic.Status = models.LicenseStatusExpired
	app.State = models.StateExpired

	err = s.store.Transact(ctx, func(tx store.Store) error {
		if err := tx.SaveLicense(ctx, lic); err != nil {
			return err
		}
		if err := tx.SaveApplication(ctx, app); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, s.auditEntry(app.ID, models.TransitionExpire, actor, ""))
	})
	if err != nil {
		return nil, err
	}

	return lic, nil
}

// ExpireDue sweeps licenses past their expiry date. Called by the
// scheduler.
func (s *LifecycleService) ExpireDue(ctx context.Context, batchSize int) (int, error) {
	due, err := s.store.ListExpiring(ctx, s.now(), batchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, lic := range due {
		if _, err := s.Expire(ctx, SystemActor, lic.LicenseNo); err != nil {
			if CodeOf(err) == CodeInvalidTransition {
				continue // raced with a concurrent expiry
			}
			logrus.WithError(err).WithField("license_no", lic.LicenseNo).Error("Scheduled expiry failed")
			continue
		}
		expired++
	}
	return expired, nil
}

// VerifyLicense is an open read: given a license or application number it
// reports current state and validity without mutating anything.
func (s *LifecycleService) VerifyLicense(ctx context.Context, req *VerifyRequest) (*VerificationResult, error) {
	switch {
	case req.LicenseNo != "":
		lic, err := s.licenseByNo(ctx, req.LicenseNo)
		if err != nil {
			return nil, err
		}
		app, err := s.store.ApplicationByID(ctx, lic.ApplicationID)
		if err != nil {
			return nil, err
		}
		return verificationOf(app, lic), nil

	case req.ApplicationNo != "":
		app, err := s.applicationByNo(ctx, req.ApplicationNo)
		if err != nil {
			return nil, err
		}
		var lic *models.License
		if app.LicenseID != nil {
			lic, err = s.store.LicenseByID(ctx, *app.LicenseID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return nil, err
			}
		}
		return verificationOf(app, lic), nil

	default:
		return nil, ErrIncompleteApplication("license_no or application_no is required")
	}
}

// ApplicationByNo returns the full application record with attachments and
// audit trail.
func (s *LifecycleService) ApplicationByNo(ctx context.Context, applicationNo string) (*models.Application, error) {
	return s.applicationByNo(ctx, applicationNo)
}

// ApplicationByID returns the full application record by primary key.
func (s *LifecycleService) ApplicationByID(ctx context.Context, id uuid.UUID) (*models.Application, error) {
	app, err := s.store.ApplicationByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound("application %s not found", id)
		}
		return nil, err
	}
	return app, nil
}

// LicenseByNo returns a license and its originating application.
func (s *LifecycleService) LicenseByNo(ctx context.Context, licenseNo string) (*models.License, *models.Application, error) {
	lic, err := s.licenseByNo(ctx, licenseNo)
	if err != nil {
		return nil, nil, err
	}
	app, err := s.store.ApplicationByID(ctx, lic.ApplicationID)
	if err != nil {
		return nil, nil, err
	}
	return lic, app, nil
}

// internal helpers

func (s *LifecycleService) applicationByNo(ctx context.Context, applicationNo string) (*models.Application, error) {
	app, err := s.store.ApplicationByNo(ctx, applicationNo)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound("application %s not found", applicationNo)
		}
		return nil, err
	}
	return app, nil
}

func (s *LifecycleService) licenseByNo(ctx context.Context, licenseNo string) (*models.License, error) {
	lic, err := s.store.LicenseByNo(ctx, licenseNo)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound("license %s not found", licenseNo)
		}
		return nil, err
	}
	return lic, nil
}

func (s *LifecycleService) licenseWithOrigin(ctx context.Context, licenseNo string) (*models.License, *models.Application, error) {
	lic, err := s.licenseByNo(ctx, licenseNo)
	if err != nil {
		return nil, nil, err
	}
	origin, err := s.store.ApplicationByID(ctx, lic.ApplicationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrNotFound("application for license %s not found", licenseNo)
		}
		return nil, nil, err
	}
	return lic, origin, nil
}

func (s *LifecycleService) checkRenewalEligibility(lic *models.License) error {
	if lic.Status != models.LicenseStatusActive {
		return ErrNotEligible("license %s is %s", lic.LicenseNo, lic.Status)
	}
	now := s.now()
	if now.Before(lic.RenewableFrom(s.renewalWindow())) {
		return ErrNotEligible("license %s is not yet within its renewal window", lic.LicenseNo)
	}
	if now.After(lic.ExpiresAt) {
		return ErrNotEligible("license %s has passed its expiry date", lic.LicenseNo)
	}
	return nil
}

func (s *LifecycleService) checkOwnership(app *models.Application, actor Actor) error {
	if actor.IsAdmin() {
		return nil
	}
	switch actor.Role {
	case models.RoleAgent:
		if app.AgentID != nil && *app.AgentID == actor.ID {
			return nil
		}
	case models.RoleApplicant:
		if app.HolderID == actor.ID {
			return nil
		}
	}
	return ErrUnauthorized("caller may not act on application %s", app.ApplicationNo)
}

func (s *LifecycleService) auditEntry(applicationID uuid.UUID, transition models.Transition, actor Actor, note string) *models.AuditEntry {
	entry := &models.AuditEntry{
		ApplicationID: applicationID,
		Transition:    transition,
		ActorRole:     actor.Role,
		Note:          note,
	}
	if actor.ID != uuid.Nil {
		actorID := actor.ID
		entry.ActorID = &actorID
	}
	return entry
}

func newLinkedApplication(origin *models.Application, lic *models.License, now time.Time) *models.Application {
	prevID := lic.ID
	return &models.Application{
		State:             models.StatePreRegistered,
		HolderID:          lic.HolderID,
		FirstName:         origin.FirstName,
		LastName:          origin.LastName,
		Email:             origin.Email,
		Phone:             origin.Phone,
		DateOfBirth:       origin.DateOfBirth,
		Gender:            origin.Gender,
		LGA:               origin.LGA,
		StateOfBirth:      origin.StateOfBirth,
		Address:           origin.Address,
		LicenseClass:      lic.LicenseClass,
		PreviousLicenseID: &prevID,
	}
}

func defaultChannel(ch models.Channel) models.Channel {
	if ch == "" {
		return models.ChannelWeb
	}
	return ch
}

func applyContactUpdates(app *models.Application, email, phone, address string) {
	if email != "" {
		app.Email = email
	}
	if phone != "" {
		app.Phone = phone
	}
	if address != "" {
		app.Address = address
	}
}

func mergeApplicantFields(app *models.Application, firstName, lastName, email, phone string,
	dob *time.Time, gender models.Gender, lga, stateOfBirth, address string) {
	if firstName != "" {
		app.FirstName = firstName
	}
	if lastName != "" {
		app.LastName = lastName
	}
	if dob != nil {
		app.DateOfBirth = dob
	}
	if gender != "" {
		app.Gender = gender
	}
	if lga != "" {
		app.LGA = lga
	}
	if stateOfBirth != "" {
		app.StateOfBirth = stateOfBirth
	}
	applyContactUpdates(app, email, phone, address)
}

// missingRequiredFields lists the fields a request must carry before it can
// be submitted or approved. Renewals and replacements inherit identity from
// the originating application, so the same set applies.
func missingRequiredFields(app *models.Application) []string {
	var missing []string
	if app.FirstName == "" {
		missing = append(missing, "first_name")
	}
	if app.LastName == "" {
		missing = append(missing, "last_name")
	}
	if app.DateOfBirth == nil {
		missing = append(missing, "date_of_birth")
	}
	if app.Gender == "" {
		missing = append(missing, "gender")
	}
	if app.LGA == "" {
		missing = append(missing, "lga")
	}
	if app.Address == "" {
		missing = append(missing, "address")
	}
	if app.LicenseClass == "" {
		missing = append(missing, "license_class")
	}
	if app.Email == "" && app.Phone == "" {
		missing = append(missing, "email or phone")
	}
	return missing
}

func verificationOf(app *models.Application, lic *models.License) *VerificationResult {
	result := &VerificationResult{
		State:        app.State,
		HolderName:   app.FirstName + " " + app.LastName,
		LicenseClass: app.LicenseClass,
	}
	if lic != nil {
		result.LicenseNo = lic.LicenseNo
		result.LicenseStatus = lic.Status
		result.Valid = lic.Status == models.LicenseStatusActive
		issuedAt := lic.IssuedAt
		expiresAt := lic.ExpiresAt
		result.IssuedAt = &issuedAt
		result.ExpiresAt = &expiresAt
	}
	return result
}
