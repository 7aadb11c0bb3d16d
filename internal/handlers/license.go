// internal/handlers/license.go
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jbn434/lambda/internal/middleware"
	"github.com/jbn434/lambda/internal/models"
	"github.com/jbn434/lambda/internal/services"
	"github.com/jbn434/lambda/internal/store"
	"github.com/jbn434/lambda/internal/utils"
)

type LicenseHandler struct {
	lifecycle   *services.LifecycleService
	attachments *services.AttachmentService
	generator   *services.GenerationService
	stats       *services.StatsService
}

func NewLicenseHandler(lifecycle *services.LifecycleService, attachments *services.AttachmentService,
	generator *services.GenerationService, stats *services.StatsService) *LicenseHandler {
	return &LicenseHandler{
		lifecycle:   lifecycle,
		attachments: attachments,
		generator:   generator,
		stats:       stats,
	}
}

// respondDomainError translates engine error codes onto HTTP statuses. The
// envelope keeps the machine-readable code so clients never parse messages.
func respondDomainError(c *gin.Context, err error) {
	code := services.CodeOf(err)
	switch code {
	case services.CodeNotFound:
		utils.ErrorResponse(c, http.StatusNotFound, string(code), err.Error(), nil)
	case services.CodeConflict:
		utils.ErrorResponse(c, http.StatusConflict, string(code), err.Error(), nil)
	case services.CodeUnauthorized:
		utils.ErrorResponse(c, http.StatusForbidden, string(code), err.Error(), nil)
	case services.CodeInvalidTransition, services.CodeIncompleteApplication,
		services.CodeNotEligible, services.CodeAttachmentError:
		utils.ErrorResponse(c, http.StatusUnprocessableEntity, string(code), err.Error(), nil)
	case services.CodeGenerationFailed:
		utils.ErrorResponse(c, http.StatusBadGateway, string(code), err.Error(), nil)
	default:
		utils.InternalErrorResponse(c, err.Error())
	}
}

func (h *LicenseHandler) actor(c *gin.Context) (services.Actor, bool) {
	actor, ok := middleware.CurrentActor(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
	}
	return actor, ok
}

// POST /license/pre-registration
func (h *LicenseHandler) PreRegister(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	var req services.PreRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}

	app, err := h.lifecycle.PreRegister(c.Request.Context(), actor, &req)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{"application": app})
}

// POST /license/pre-registration/renewal
func (h *LicenseHandler) RenewalPreRegister(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	var req services.RenewalPreRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}

	app, err := h.lifecycle.RenewalPreRegister(c.Request.Context(), actor, &req)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{"application": app})
}

type attachFilesRequest struct {
	ApplicationNo string                `json:"application_no" binding:"required"`
	Files         []services.FileUpload `json:"files" binding:"required"`
}

// POST /license/submit-pre-registration-files
func (h *LicenseHandler) AttachFiles(c *gin.Context) {
	if _, ok := h.actor(c); !ok {
		return
	}

	var req attachFilesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}

	inputs := make([]services.AttachmentInput, 0, len(req.Files))
	for _, upload := range req.Files {
		if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&upload)); len(validationErrors) > 0 {
			utils.ValidationErrorResponse(c, validationErrors)
			return
		}
		stored, err := h.attachments.Store(req.ApplicationNo, upload)
		if err != nil {
			respondDomainError(c, err)
			return
		}
		inputs = append(inputs, *stored)
	}

	app, err := h.lifecycle.AttachFiles(c.Request.Context(), req.ApplicationNo, inputs)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"application": app})
}

// POST /license/submit-new-request
func (h *LicenseHandler) Submit(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	var req services.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}

	app, err := h.lifecycle.Submit(c.Request.Context(), actor, &req)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	h.stats.InvalidateCaches(c.Request.Context())
	utils.SuccessResponse(c, gin.H{"application": app})
}

// POST /license/submit-renewal-request
// POST /license/mobile/submit-renewal-request
func (h *LicenseHandler) SubmitRenewal(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	var req services.RenewalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}
	if isMobileRoute(c) {
		req.Channel = models.ChannelMobile
	}

	app, err := h.lifecycle.SubmitRenewal(c.Request.Context(), actor, &req)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	h.stats.InvalidateCaches(c.Request.Context())
	utils.SuccessResponse(c, gin.H{"application": app})
}

// POST /license/submit-replacement-request
// POST /license/mobile/submit-replacement-request
func (h *LicenseHandler) SubmitReplacement(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	var req services.ReplacementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}
	if isMobileRoute(c) {
		req.Channel = models.ChannelMobile
	}

	app, err := h.lifecycle.SubmitReplacement(c.Request.Context(), actor, &req)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	h.stats.InvalidateCaches(c.Request.Context())
	utils.SuccessResponse(c, gin.H{"application": app})
}

// POST /license/approve
func (h *LicenseHandler) Approve(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	var req services.ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}

	result, err := h.lifecycle.Approve(c.Request.Context(), actor, &req)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	h.stats.InvalidateCaches(c.Request.Context())
	utils.SuccessResponse(c, result)
}

// POST /license/reject
func (h *LicenseHandler) Reject(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	var req services.RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}

	app, err := h.lifecycle.Reject(c.Request.Context(), actor, &req)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	h.stats.InvalidateCaches(c.Request.Context())
	utils.SuccessResponse(c, gin.H{"application": app})
}

// PUT /license/update
func (h *LicenseHandler) Update(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	var req services.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}

	app, err := h.lifecycle.Update(c.Request.Context(), actor, &req)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"application": app})
}

type expireRequest struct {
	LicenseNo string `json:"license_no" binding:"required"`
}

// POST /license/expire
// Authentication is decided at the route: admin-only unless forced expiry
// is configured as an open endpoint.
func (h *LicenseHandler) Expire(c *gin.Context) {
	actor, ok := middleware.CurrentActor(c)
	if !ok {
		actor = services.SystemActor
	}

	var req expireRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}

	lic, err := h.lifecycle.Expire(c.Request.Context(), actor, req.LicenseNo)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	h.stats.InvalidateCaches(c.Request.Context())
	utils.SuccessResponse(c, gin.H{"license": lic})
}

// POST /license/generate-license/:licenseNo
func (h *LicenseHandler) GenerateLicense(c *gin.Context) {
	if _, ok := h.actor(c); !ok {
		return
	}

	lic, err := h.generator.Regenerate(c.Request.Context(), c.Param("licenseNo"))
	if err != nil {
		respondDomainError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"license": lic})
}

// GET /license/verify
func (h *LicenseHandler) Verify(c *gin.Context) {
	req := services.VerifyRequest{
		LicenseNo:     c.Query("license_no"),
		ApplicationNo: c.Query("application_no"),
	}

	result, err := h.lifecycle.VerifyLicense(c.Request.Context(), &req)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	utils.SuccessResponse(c, result)
}

// GET /license
func (h *LicenseHandler) List(c *gin.Context) {
	filter := buildApplicationFilter(c)

	apps, total, err := h.stats.ListApplications(c.Request.Context(), filter)
	if err != nil {
		utils.InternalErrorResponse(c, err.Error())
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(apps, total, filter.PaginationParams))
}

// GET /license/pre-registrations
func (h *LicenseHandler) ListPreRegistrations(c *gin.Context) {
	filter := buildApplicationFilter(c)

	apps, total, err := h.stats.ListPreRegistrations(c.Request.Context(), filter)
	if err != nil {
		utils.InternalErrorResponse(c, err.Error())
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(apps, total, filter.PaginationParams))
}

// GET /license/single/pre-registration and /license/single/pre-registration/:holderId.
// Without a path param the listing is scoped to the caller.
func (h *LicenseHandler) PreRegistrationsByHolder(c *gin.Context) {
	var holderID uuid.UUID
	if raw := c.Param("holderId"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			utils.BadRequestResponse(c, "Invalid holder ID", nil)
			return
		}
		holderID = parsed
	} else {
		actor, ok := h.actor(c)
		if !ok {
			return
		}
		holderID = actor.ID
	}

	filter := buildApplicationFilter(c)
	apps, total, err := h.stats.PreRegistrationsByHolder(c.Request.Context(), holderID, filter)
	if err != nil {
		utils.InternalErrorResponse(c, err.Error())
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(apps, total, filter.PaginationParams))
}

// GET /license/registrations-by-agent
func (h *LicenseHandler) RegistrationsByAgent(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	agentID := actor.ID
	if raw := c.Query("agent_id"); raw != "" && actor.IsAdmin() {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			utils.BadRequestResponse(c, "Invalid agent ID", nil)
			return
		}
		agentID = parsed
	}

	filter := buildApplicationFilter(c)
	apps, total, err := h.stats.RegistrationsByAgent(c.Request.Context(), agentID, filter)
	if err != nil {
		utils.InternalErrorResponse(c, err.Error())
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(apps, total, filter.PaginationParams))
}

// GET /license/details/:id
func (h *LicenseHandler) DetailsByID(c *gin.Context) {
	app, err := h.stats.ApplicationDetail(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondDomainError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"application": app})
}

// GET /license/details?application_no=...
func (h *LicenseHandler) Details(c *gin.Context) {
	applicationNo := c.Query("application_no")
	if applicationNo == "" {
		utils.BadRequestResponse(c, "application_no is required", nil)
		return
	}

	app, err := h.lifecycle.ApplicationByNo(c.Request.Context(), applicationNo)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"application": app})
}

// GET /license/details-by-license-no?license_no=...
func (h *LicenseHandler) DetailsByLicenseNo(c *gin.Context) {
	licenseNo := c.Query("license_no")
	if licenseNo == "" {
		utils.BadRequestResponse(c, "license_no is required", nil)
		return
	}

	lic, app, err := h.lifecycle.LicenseByNo(c.Request.Context(), licenseNo)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"license": lic, "application": app})
}

func isMobileRoute(c *gin.Context) bool {
	return strings.HasPrefix(c.FullPath(), "/license/mobile/")
}

func buildApplicationFilter(c *gin.Context) store.ApplicationFilter {
	filter := store.ApplicationFilter{
		PaginationParams: utils.GetPaginationParams(c),
	}

	if state := c.Query("state"); state != "" {
		s := models.ApplicationState(state)
		filter.State = &s
	}
	if requestType := c.Query("request_type"); requestType != "" {
		t := models.RequestType(requestType)
		filter.RequestType = &t
	}
	if channel := c.Query("channel"); channel != "" {
		ch := models.Channel(channel)
		filter.Channel = &ch
	}
	if class := c.Query("license_class"); class != "" {
		filter.LicenseClass = class
	}
	if holder := c.Query("holder_id"); holder != "" {
		if id, err := uuid.Parse(holder); err == nil {
			filter.HolderID = &id
		}
	}

	return filter
}
