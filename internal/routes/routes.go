package routes

import (
	"ctms-server/internal/config"
	"ctms-server/internal/handlers"
	"ctms-server/internal/middleware"
	"ctms-server/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SetupRoutes configures the application routes.
func SetupRoutes(router *gin.Engine, db *gorm.DB, cfg *config.Config, log *zap.Logger) {
	// Initialize handlers
	authHandler := handlers.NewAuthHandler(db, cfg, log)
	userHandler := handlers.NewUserHandler(db, log)
	siteHandler := handlers.NewSiteHandler(db, log)
	subjectHandler := handlers.NewSubjectHandler(db, log)
	drugUnitHandler := handlers.NewDrugUnitHandler(db, log)
	accountabilityHandler := handlers.NewAccountabilityHandler(db, cfg, log)
	auditHandler := handlers.NewAuditHandler(db, log)
	reportHandler := handlers.NewReportHandler(db, log)

	// Public routes (no authentication required)
	public := router.Group("/api")
	{
		public.POST("/auth/login", authHandler.Login)
		public.POST("/auth/refresh-token", authHandler.RefreshToken)
	}

	// Authenticated routes
	private := router.Group("/api")
	private.Use(middleware.AuthMiddleware(cfg))
	{
		authRoutes := private.Group("/auth")
		{
			authRoutes.POST("/logout", authHandler.Logout)
			authRoutes.GET("/profile", authHandler.GetProfile)
		}

		// User management (admin only)
		userRoutes := private.Group("/users")
		userRoutes.Use(middleware.RoleAuthMiddleware(models.RoleAdmin))
		{
			userRoutes.POST("", userHandler.CreateUser)
			userRoutes.GET("", userHandler.GetUsers)
			userRoutes.GET("/:id", userHandler.GetUserByID)
			userRoutes.PUT("/:id", userHandler.UpdateUser)
			userRoutes.DELETE("/:id", userHandler.DeactivateUser)
		}

		// Site reference data
		siteRoutes := private.Group("/sites")
		{
			siteRoutes.GET("", siteHandler.GetSites)
			siteRoutes.GET("/:id", siteHandler.GetSiteByID)
		}

		// Subjects: coordinators enroll and update, everyone at the site reads
		subjectRoutes := private.Group("/subjects")
		{
			subjectRoutes.GET("", subjectHandler.GetSubjects)
			subjectRoutes.GET("/:id", subjectHandler.GetSubjectByID)
			subjectRoutes.GET("/:id/visits", subjectHandler.GetSubjectVisits)
			subjectRoutes.POST("", middleware.RoleAuthMiddleware(models.RoleAdmin, models.RoleCoordinator), subjectHandler.CreateSubject)
			subjectRoutes.PUT("/:id", middleware.RoleAuthMiddleware(models.RoleAdmin, models.RoleCoordinator, models.RoleDoctor), subjectHandler.UpdateSubject)
		}
		private.PUT("/subject-visits/:id", middleware.RoleAuthMiddleware(models.RoleAdmin, models.RoleCoordinator, models.RoleDoctor), subjectHandler.UpdateSubjectVisit)

		// Drug inventory
		drugUnitRoutes := private.Group("/drug-units")
		{
			drugUnitRoutes.GET("", drugUnitHandler.GetDrugUnits)
			drugUnitRoutes.PUT("/bulk-update-site/:siteId", middleware.RoleAuthMiddleware(models.RoleAdmin), drugUnitHandler.BulkUpdateSite)
			drugUnitRoutes.PUT("/:id", middleware.RoleAuthMiddleware(models.RoleAdmin), drugUnitHandler.UpdateDrugUnit)
			drugUnitRoutes.POST("/:id/destroy", middleware.RoleAuthMiddleware(models.RoleAdmin, models.RoleCoordinator), drugUnitHandler.DestroyDrugUnit)
		}

		// Accountability ledger
		accountabilityRoutes := private.Group("/accountability")
		{
			accountabilityRoutes.GET("", accountabilityHandler.GetAccountability)
			accountabilityRoutes.POST("", middleware.RoleAuthMiddleware(models.RoleAdmin, models.RoleCoordinator, models.RoleDoctor), accountabilityHandler.CreateAccountability)
			accountabilityRoutes.PUT("/:id/return", middleware.RoleAuthMiddleware(models.RoleAdmin, models.RoleCoordinator, models.RoleDoctor), accountabilityHandler.ReturnAccountability)
			accountabilityRoutes.PUT("/:id", middleware.RoleAuthMiddleware(models.RoleAdmin), accountabilityHandler.UpdateAccountability)
			accountabilityRoutes.POST("/bulk-submit", middleware.RoleAuthMiddleware(models.RoleAdmin, models.RoleCoordinator), accountabilityHandler.BulkSubmit)
			accountabilityRoutes.POST("/recalculate", middleware.RoleAuthMiddleware(models.RoleAdmin), accountabilityHandler.Recalculate)
		}

		// Audit trail (compliance roles only)
		auditRoutes := private.Group("/audit")
		auditRoutes.Use(middleware.RoleAuthMiddleware(models.RoleAdmin, models.RoleAuditor, models.RoleMonitor))
		{
			auditRoutes.GET("", auditHandler.GetAuditLog)
			auditRoutes.GET("/export/csv", auditHandler.ExportCSV)
		}

		// Reports
		reportRoutes := private.Group("/reports")
		{
			reportRoutes.GET("/site-enrollment", reportHandler.SiteEnrollment)
			reportRoutes.GET("/drug-accountability", reportHandler.DrugAccountability)
			reportRoutes.GET("/drug-accountability/export/xlsx", reportHandler.ExportDrugAccountabilityXLSX)
		}
	}

	// Simple health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "UP"})
	})
}
