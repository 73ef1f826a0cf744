package handlers

import (
	"time"

	"ctms-server/internal/middleware"
	"ctms-server/internal/models"
	"ctms-server/internal/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// internalError logs the underlying cause and sends a generic 500. Raw
// database errors are never surfaced to the client.
func internalError(c *gin.Context, log *zap.Logger, msg string, err error) {
	log.Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
	utils.InternalServerError(c, "internal server error")
}

// actor resolves the authenticated user's id and username for audit entries.
func actor(c *gin.Context, db *gorm.DB) (id string, name string) {
	id, ok := middleware.GetUserIDFromContext(c)
	if !ok {
		return "", ""
	}
	var user models.User
	if err := db.Select("username").First(&user, "id = ?", id).Error; err == nil {
		name = user.Username
	}
	return id, name
}

// dateLayout is the calendar-date format used by every date field in the API.
const dateLayout = "2006-01-02"

// parseDate parses an optional yyyy-mm-dd request field. An empty string
// yields nil without error.
func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// formatDate renders an optional date for exports; missing dates are blank.
func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}
