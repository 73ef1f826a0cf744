package handlers

import (
	"time"

	"ctms-server/internal/audit"
	"ctms-server/internal/middleware"
	"ctms-server/internal/models"
	"ctms-server/internal/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DrugUnitHandler handles investigational product inventory requests.
type DrugUnitHandler struct {
	DB  *gorm.DB
	Log *zap.Logger
}

// NewDrugUnitHandler creates a new DrugUnitHandler.
func NewDrugUnitHandler(db *gorm.DB, log *zap.Logger) *DrugUnitHandler {
	return &DrugUnitHandler{DB: db, Log: log}
}

// GetDrugUnits handles fetching drug units, scoped to the caller's site for
// non-admin roles.
func (h *DrugUnitHandler) GetDrugUnits(c *gin.Context) {
	q := middleware.SiteScope(c, h.DB.Model(&models.DrugUnit{}), "drug_units.site_id")
	if status := c.Query("status"); status != "" {
		q = q.Where("drug_units.status = ?", status)
	}
	if siteID := c.Query("siteId"); siteID != "" {
		q = q.Where("drug_units.site_id = ?", siteID)
	}
	if subjectID := c.Query("subjectId"); subjectID != "" {
		q = q.Where("drug_units.subject_id = ?", subjectID)
	}

	var units []models.DrugUnit
	if err := q.Order("drug_code, lot_number").Find(&units).Error; err != nil {
		internalError(c, h.Log, "drug unit listing failed", err)
		return
	}
	utils.Success(c, "Drug units fetched successfully", units)
}

// UpdateDrugUnitRequest represents the request body for editing drug unit
// metadata. Lifecycle status is not editable here; it changes through
// accountability events or the bulk override.
type UpdateDrugUnitRequest struct {
	DrugCode        string `json:"drugCode,omitempty"`
	LotNumber       string `json:"lotNumber,omitempty"`
	ExpirationDate  string `json:"expirationDate,omitempty"`
	QuantityPerUnit *int   `json:"quantityPerUnit,omitempty"`
}

// UpdateDrugUnit handles editing a drug unit's metadata (admin).
func (h *DrugUnitHandler) UpdateDrugUnit(c *gin.Context) {
	var req UpdateDrugUnitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "Invalid request payload: "+err.Error())
		return
	}

	var unit models.DrugUnit
	if err := h.DB.First(&unit, "id = ?", c.Param("id")).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			utils.NotFound(c, "Drug unit not found")
		} else {
			internalError(c, h.Log, "drug unit lookup failed", err)
		}
		return
	}
	before := unit

	if req.DrugCode != "" {
		unit.DrugCode = req.DrugCode
	}
	if req.LotNumber != "" {
		unit.LotNumber = req.LotNumber
	}
	if req.ExpirationDate != "" {
		exp, err := parseDate(req.ExpirationDate)
		if err != nil {
			utils.BadRequest(c, "Invalid expiration date, expected yyyy-mm-dd")
			return
		}
		unit.ExpirationDate = exp
	}
	if req.QuantityPerUnit != nil {
		if *req.QuantityPerUnit <= 0 {
			utils.BadRequest(c, "Quantity per unit must be positive")
			return
		}
		unit.QuantityPerUnit = *req.QuantityPerUnit
	}

	actorID, actorName := actor(c, h.DB)
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&unit).Error; err != nil {
			return err
		}
		return audit.Record(tx, audit.Entry{
			ActorID:   actorID,
			ActorName: actorName,
			Action:    models.AuditUpdate,
			Table:     "drug_units",
			RecordID:  unit.ID,
			Old:       before,
			New:       unit,
		})
	})
	if err != nil {
		internalError(c, h.Log, "drug unit update failed", err)
		return
	}

	utils.Success(c, "Drug unit updated successfully", unit)
}

// BulkUpdateSiteRequest represents the request body for the administrative
// inventory override.
type BulkUpdateSiteRequest struct {
	Status  string   `json:"status" binding:"required,oneof=Available Dispensed Destroyed Missing"`
	UnitIDs []string `json:"unitIds,omitempty"`
}

// BulkUpdateSite forces units at a site to an arbitrary status, bypassing the
// normal transition table. This is a deliberate escape hatch for inventory
// correction; every affected unit gets a flagged audit entry so monitors can
// review the override.
func (h *DrugUnitHandler) BulkUpdateSite(c *gin.Context) {
	var req BulkUpdateSiteRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	siteID := c.Param("siteId")

	var site models.Site
	if err := h.DB.First(&site, "id = ?", siteID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			utils.NotFound(c, "Site not found")
		} else {
			internalError(c, h.Log, "site lookup failed", err)
		}
		return
	}

	q := h.DB.Where("site_id = ?", siteID)
	if len(req.UnitIDs) > 0 {
		q = q.Where("id IN ?", req.UnitIDs)
	}
	var units []models.DrugUnit
	if err := q.Find(&units).Error; err != nil {
		internalError(c, h.Log, "drug unit listing failed", err)
		return
	}
	if len(units) == 0 {
		utils.NotFound(c, "No drug units matched")
		return
	}

	to := models.DrugUnitStatus(req.Status)
	actorID, actorName := actor(c, h.DB)
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		for i := range units {
			before := units[i]
			units[i].Status = to
			if to == models.UnitAvailable {
				// Keep the status/assignment invariant intact.
				units[i].SubjectID = nil
				units[i].AssignedAt = nil
			}
			if err := tx.Save(&units[i]).Error; err != nil {
				return err
			}
			if err := audit.Record(tx, audit.Entry{
				ActorID:   actorID,
				ActorName: actorName,
				Action:    models.AuditUpdate,
				Table:     "drug_units",
				RecordID:  units[i].ID,
				Old:       before,
				New:       units[i],
				Reason:    "bulk inventory correction",
				Flagged:   true,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		internalError(c, h.Log, "bulk status override failed", err)
		return
	}

	utils.Success(c, "Drug units updated successfully", gin.H{"updated": len(units)})
}

// DestroyDrugUnitRequest represents the request body for destroying a
// returned unit. Destruction requires an authenticated signature: the caller
// re-enters their credentials.
type DestroyDrugUnitRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Reason   string `json:"reason,omitempty"`
}

// DestroyDrugUnit transitions a Returned unit to Destroyed after verifying
// the signature credentials.
func (h *DrugUnitHandler) DestroyDrugUnit(c *gin.Context) {
	var req DestroyDrugUnitRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	// The signature must belong to the authenticated caller.
	callerID, _ := middleware.GetUserIDFromContext(c)
	var signer models.User
	if err := h.DB.Where("username = ?", req.Username).First(&signer).Error; err != nil ||
		signer.ID != callerID || !signer.CheckPassword(req.Password) {
		utils.Unauthorized(c, "Signature verification failed")
		return
	}

	var unit models.DrugUnit
	if err := h.DB.First(&unit, "id = ?", c.Param("id")).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			utils.NotFound(c, "Drug unit not found")
		} else {
			internalError(c, h.Log, "drug unit lookup failed", err)
		}
		return
	}
	if !middleware.CanAccessSite(c, unit.SiteID) {
		utils.Forbidden(c, "Drug unit belongs to another site")
		return
	}
	if !unit.Status.CanTransition(models.UnitDestroyed) {
		utils.Conflict(c, "Only Returned units can be destroyed; unit is "+string(unit.Status))
		return
	}
	before := unit

	err := h.DB.Transaction(func(tx *gorm.DB) error {
		// Conditional update so a concurrent transition loses cleanly.
		res := tx.Model(&models.DrugUnit{}).
			Where("id = ? AND status = ?", unit.ID, models.UnitReturned).
			Update("status", models.UnitDestroyed)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		unit.Status = models.UnitDestroyed
		return audit.Record(tx, audit.Entry{
			ActorID:   signer.ID,
			ActorName: signer.Username,
			Action:    models.AuditDestroy,
			Table:     "drug_units",
			RecordID:  unit.ID,
			Old:       before,
			New:       unit,
			Reason:    req.Reason,
		})
	})
	if err == gorm.ErrRecordNotFound {
		utils.Conflict(c, "Drug unit was modified concurrently; please retry")
		return
	}
	if err != nil {
		internalError(c, h.Log, "drug unit destruction failed", err)
		return
	}

	utils.Success(c, "Drug unit destroyed", unit)
}

// dispenseUnit transitions a unit Available -> Dispensed inside tx, assigning
// it to the subject. The status-conditional UPDATE makes a concurrent
// double-dispense of the same unit impossible: the second writer matches zero
// rows. Returns gorm.ErrRecordNotFound when the unit was not Available.
func dispenseUnit(tx *gorm.DB, unitID, subjectID string, at time.Time) error {
	res := tx.Model(&models.DrugUnit{}).
		Where("id = ? AND status = ?", unitID, models.UnitAvailable).
		Updates(map[string]interface{}{
			"status":      models.UnitDispensed,
			"subject_id":  subjectID,
			"assigned_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// returnUnit transitions a unit Dispensed -> Returned inside tx.
func returnUnit(tx *gorm.DB, unitID string) error {
	res := tx.Model(&models.DrugUnit{}).
		Where("id = ? AND status = ?", unitID, models.UnitDispensed).
		Update("status", models.UnitReturned)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
