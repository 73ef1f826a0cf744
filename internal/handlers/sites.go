package handlers

import (
	"ctms-server/internal/middleware"
	"ctms-server/internal/models"
	"ctms-server/internal/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SiteHandler handles site reference-data requests. Sites are created by
// administrative seeding outside this API, so the surface is read-only.
type SiteHandler struct {
	DB  *gorm.DB
	Log *zap.Logger
}

// NewSiteHandler creates a new SiteHandler.
func NewSiteHandler(db *gorm.DB, log *zap.Logger) *SiteHandler {
	return &SiteHandler{DB: db, Log: log}
}

// GetSites handles fetching sites. Non-admin users only see their own.
func (h *SiteHandler) GetSites(c *gin.Context) {
	q := middleware.SiteScope(c, h.DB.Model(&models.Site{}), "sites.id")

	var sites []models.Site
	if err := q.Order("site_number").Find(&sites).Error; err != nil {
		internalError(c, h.Log, "site listing failed", err)
		return
	}
	utils.Success(c, "Sites fetched successfully", sites)
}

// GetSiteByID handles fetching a single site.
func (h *SiteHandler) GetSiteByID(c *gin.Context) {
	var site models.Site
	if err := h.DB.First(&site, "id = ?", c.Param("id")).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			utils.NotFound(c, "Site not found")
		} else {
			internalError(c, h.Log, "site lookup failed", err)
		}
		return
	}
	if !middleware.CanAccessSite(c, site.ID) {
		utils.Forbidden(c, "Site access denied")
		return
	}
	utils.Success(c, "Site fetched successfully", site)
}
