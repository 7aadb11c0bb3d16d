// internal/router/router.go
package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jbn434/lambda/internal/config"
	"github.com/jbn434/lambda/internal/handlers"
	"github.com/jbn434/lambda/internal/middleware"
	"github.com/jbn434/lambda/internal/models"
	"github.com/jbn434/lambda/internal/services"
	"github.com/jbn434/lambda/internal/store"
	"github.com/jbn434/lambda/internal/utils"
)

type Services struct {
	Lifecycle   *services.LifecycleService
	Attachments *services.AttachmentService
	Generator   *services.GenerationService
	Stats       *services.StatsService
}

// NewServices wires the service graph onto a store.
func NewServices(st store.Store, cfg *config.Config) (*Services, error) {
	attachments, err := services.NewAttachmentService(cfg.AWS)
	if err != nil {
		return nil, err
	}
	generator, err := services.NewGenerationService(cfg.AWS, st)
	if err != nil {
		return nil, err
	}
	cache := services.NewCacheService(cfg.Redis)

	return &Services{
		Lifecycle:   services.NewLifecycleService(st, generator, cfg.Engine),
		Attachments: attachments,
		Generator:   generator,
		Stats:       services.NewStatsService(st, cache),
	}, nil
}

func Initialize(svc *Services, cfg *config.Config) *gin.Engine {
	licenseHandler := handlers.NewLicenseHandler(svc.Lifecycle, svc.Attachments, svc.Generator, svc.Stats)
	dashboardHandler := handlers.NewDashboardHandler(svc.Stats)

	utils.SetJWTSecret(cfg.JWT.SecretKey)
	utils.SetJWTIssuer(cfg.JWT.Issuer)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"X-Total-Count", "X-Page", "X-Page-Size", "X-Total-Pages"},
		MaxAge:           12 * time.Hour,
		AllowCredentials: false,
	}))
	r.Use(middleware.NewRateLimiter(rate.Limit(50), 100).Middleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	adminRoles := middleware.RolesRequired(models.RoleAdmin, models.RoleRegulatorAdmin)
	staffRoles := middleware.RolesRequired(models.RoleAgent, models.RoleAdmin, models.RoleRegulatorAdmin)

	license := r.Group("/license")
	{
		// Open reads for third parties.
		license.GET("/verify", licenseHandler.Verify)
		license.GET("/details-by-license-no", licenseHandler.DetailsByLicenseNo)

		if cfg.Engine.OpenExpire {
			license.POST("/expire", licenseHandler.Expire)
		} else {
			license.POST("/expire", middleware.AuthRequired(), adminRoles, licenseHandler.Expire)
		}

		authed := license.Group("")
		authed.Use(middleware.AuthRequired())
		{
			authed.POST("/pre-registration", licenseHandler.PreRegister)
			authed.POST("/pre-registration/renewal", licenseHandler.RenewalPreRegister)
			authed.POST("/submit-pre-registration-files", licenseHandler.AttachFiles)
			authed.POST("/submit-new-request", licenseHandler.Submit)
			authed.POST("/submit-renewal-request", licenseHandler.SubmitRenewal)
			authed.POST("/mobile/submit-renewal-request", licenseHandler.SubmitRenewal)
			authed.POST("/submit-replacement-request", licenseHandler.SubmitReplacement)
			authed.POST("/mobile/submit-replacement-request", licenseHandler.SubmitReplacement)

			authed.GET("/single/pre-registration", licenseHandler.PreRegistrationsByHolder)
			authed.GET("/single/pre-registration/:holderId", licenseHandler.PreRegistrationsByHolder)
			authed.GET("/registrations-by-agent", staffRoles, licenseHandler.RegistrationsByAgent)

			// Review and back-office surface.
			authed.GET("", staffRoles, licenseHandler.List)
			authed.GET("/pre-registrations", staffRoles, licenseHandler.ListPreRegistrations)
			authed.GET("/details", staffRoles, licenseHandler.Details)
			authed.GET("/details/:id", staffRoles, licenseHandler.DetailsByID)

			authed.POST("/approve", adminRoles, licenseHandler.Approve)
			authed.POST("/reject", adminRoles, licenseHandler.Reject)
			authed.PUT("/update", adminRoles, licenseHandler.Update)
			authed.POST("/generate-license/:licenseNo", adminRoles, licenseHandler.GenerateLicense)

			dashboard := authed.Group("/dashboard", adminRoles)
			{
				dashboard.GET("/summary", dashboardHandler.Summary)
				dashboard.GET("/volume", dashboardHandler.Volume)
				dashboard.GET("/renewal-rate", dashboardHandler.RenewalRate)
				dashboard.GET("/distribution", dashboardHandler.Distribution)
			}
		}
	}

	return r
}
