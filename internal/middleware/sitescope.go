package middleware

import (
	"ctms-server/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SiteScope narrows a query to the authenticated user's assigned site unless
// they are an admin. column is the site reference column of the queried table,
// e.g. "subjects.site_id". Non-admin users without a site assignment see
// nothing rather than everything.
func SiteScope(c *gin.Context, q *gorm.DB, column string) *gorm.DB {
	role, _ := GetUserRoleFromContext(c)
	if role == models.RoleAdmin {
		return q
	}
	siteID, ok := GetSiteIDFromContext(c)
	if !ok {
		return q.Where("1 = 0")
	}
	return q.Where(column+" = ?", siteID)
}

// CanAccessSite reports whether the authenticated user may touch records
// belonging to the given site.
func CanAccessSite(c *gin.Context, siteID string) bool {
	role, _ := GetUserRoleFromContext(c)
	if role == models.RoleAdmin {
		return true
	}
	own, ok := GetSiteIDFromContext(c)
	return ok && own == siteID
}
