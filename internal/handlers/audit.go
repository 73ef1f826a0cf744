package handlers

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ctms-server/internal/models"
	"ctms-server/internal/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AuditHandler serves the regulatory change log. Read-only: the log is
// append-only and entries are only ever written by the audit package.
type AuditHandler struct {
	DB  *gorm.DB
	Log *zap.Logger
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(db *gorm.DB, log *zap.Logger) *AuditHandler {
	return &AuditHandler{DB: db, Log: log}
}

func (h *AuditHandler) filtered(c *gin.Context) (*gorm.DB, error) {
	q := h.DB.Model(&models.AuditLogEntry{})
	if table := c.Query("table"); table != "" {
		q = q.Where("table_name = ?", table)
	}
	if action := c.Query("action"); action != "" {
		q = q.Where("action = ?", action)
	}
	if actorID := c.Query("actorId"); actorID != "" {
		q = q.Where("actor_id = ?", actorID)
	}
	if flagged := c.Query("flagged"); flagged == "true" {
		q = q.Where("flagged = ?", true)
	}
	if from := c.Query("from"); from != "" {
		t, err := time.Parse(dateLayout, from)
		if err != nil {
			return nil, fmt.Errorf("invalid from date")
		}
		q = q.Where("created_at >= ?", t)
	}
	if to := c.Query("to"); to != "" {
		t, err := time.Parse(dateLayout, to)
		if err != nil {
			return nil, fmt.Errorf("invalid to date")
		}
		// inclusive of the whole day
		q = q.Where("created_at < ?", t.AddDate(0, 0, 1))
	}
	return q.Order("created_at desc"), nil
}

// GetAuditLog handles fetching audit entries with optional filters and
// limit/offset pagination.
func (h *AuditHandler) GetAuditLog(c *gin.Context) {
	q, err := h.filtered(c)
	if err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	limit := 100
	if l, err := strconv.Atoi(c.DefaultQuery("limit", "100")); err == nil && l > 0 && l <= 1000 {
		limit = l
	}
	offset := 0
	if o, err := strconv.Atoi(c.DefaultQuery("offset", "0")); err == nil && o >= 0 {
		offset = o
	}

	// Count on its own query; Count mutates the statement it runs on.
	countQ, _ := h.filtered(c)
	var total int64
	if err := countQ.Count(&total).Error; err != nil {
		internalError(c, h.Log, "audit count failed", err)
		return
	}

	var entries []models.AuditLogEntry
	if err := q.Limit(limit).Offset(offset).Find(&entries).Error; err != nil {
		internalError(c, h.Log, "audit listing failed", err)
		return
	}

	utils.Success(c, "Audit log fetched successfully", gin.H{
		"entries": entries,
		"total":   total,
	})
}

// ExportCSV streams the filtered audit log as a CSV download.
func (h *AuditHandler) ExportCSV(c *gin.Context) {
	q, err := h.filtered(c)
	if err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	var entries []models.AuditLogEntry
	if err := q.Find(&entries).Error; err != nil {
		internalError(c, h.Log, "audit export failed", err)
		return
	}

	filename := "audit-log-" + time.Now().Format(dateLayout) + ".csv"
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Header("Content-Type", "text/csv")
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	defer w.Flush()

	_ = w.Write([]string{"timestamp", "actor", "action", "table", "record_id", "reason", "flagged", "old_values", "new_values"})
	for _, e := range entries {
		_ = w.Write([]string{
			e.CreatedAt.UTC().Format(time.RFC3339),
			e.ActorName,
			string(e.Action),
			e.TableName,
			e.RecordID,
			e.Reason,
			strconv.FormatBool(e.Flagged),
			string(e.OldValues),
			string(e.NewValues),
		})
	}
}
