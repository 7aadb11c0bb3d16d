// internal/handlers/dashboard.go
package handlers

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jbn434/lambda/internal/services"
	"github.com/jbn434/lambda/internal/utils"
)

type DashboardHandler struct {
	stats *services.StatsService
}

func NewDashboardHandler(stats *services.StatsService) *DashboardHandler {
	return &DashboardHandler{stats: stats}
}

// GET /license/dashboard/summary
func (h *DashboardHandler) Summary(c *gin.Context) {
	summary, err := h.stats.Summary(c.Request.Context())
	if err != nil {
		utils.InternalErrorResponse(c, err.Error())
		return
	}
	utils.SuccessResponse(c, summary)
}

// GET /license/dashboard/volume?year=2026
func (h *DashboardHandler) Volume(c *gin.Context) {
	year := time.Now().Year()
	if raw := c.Query("year"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 2000 || parsed > 2100 {
			utils.BadRequestResponse(c, "Invalid year", nil)
			return
		}
		year = parsed
	}

	volume, err := h.stats.Volume(c.Request.Context(), year)
	if err != nil {
		utils.InternalErrorResponse(c, err.Error())
		return
	}
	utils.SuccessResponse(c, volume)
}

// GET /license/dashboard/renewal-rate?start=...&end=...
func (h *DashboardHandler) RenewalRate(c *gin.Context) {
	start, err := time.Parse(time.RFC3339, c.Query("start"))
	if err != nil {
		utils.BadRequestResponse(c, "start must be an RFC3339 timestamp", nil)
		return
	}
	end, err := time.Parse(time.RFC3339, c.Query("end"))
	if err != nil {
		utils.BadRequestResponse(c, "end must be an RFC3339 timestamp", nil)
		return
	}

	rate, err := h.stats.RenewalRate(c.Request.Context(), start, end)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	utils.SuccessResponse(c, rate)
}

// GET /license/dashboard/distribution
func (h *DashboardHandler) Distribution(c *gin.Context) {
	dist, err := h.stats.Distribution(c.Request.Context())
	if err != nil {
		utils.InternalErrorResponse(c, err.Error())
		return
	}
	utils.SuccessResponse(c, dist)
}
