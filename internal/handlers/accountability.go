package handlers

import (
	"time"

	"ctms-server/internal/audit"
	"ctms-server/internal/compliance"
	"ctms-server/internal/config"
	"ctms-server/internal/middleware"
	"ctms-server/internal/models"
	"ctms-server/internal/utils"
	"ctms-server/internal/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccountabilityHandler handles the dispense/return ledger.
type AccountabilityHandler struct {
	DB  *gorm.DB
	Cfg *config.Config
	Log *zap.Logger
}

// NewAccountabilityHandler creates a new AccountabilityHandler.
func NewAccountabilityHandler(db *gorm.DB, cfg *config.Config, log *zap.Logger) *AccountabilityHandler {
	return &AccountabilityHandler{DB: db, Cfg: cfg, Log: log}
}

func (h *AccountabilityHandler) thresholds() compliance.Thresholds {
	return compliance.Thresholds{
		WarnPct:  h.Cfg.Compliance.WarnPct,
		ErrorPct: h.Cfg.Compliance.ErrorPct,
	}
}

// applyResult copies the calculator's derived values onto the record. Nothing
// else in the codebase writes these columns.
func applyResult(rec *models.AccountabilityRecord, res compliance.Result) {
	if !res.Computable {
		rec.DaysUsed, rec.ExpectedPills, rec.PillsUsed, rec.CompliancePct = nil, nil, nil, nil
		return
	}
	d, e, p := res.DaysUsed, res.ExpectedPills, res.PillsUsed
	rec.DaysUsed, rec.ExpectedPills, rec.PillsUsed = &d, &e, &p
	rec.CompliancePct = res.Percentage
}

func recordInput(rec *models.AccountabilityRecord) compliance.Input {
	return compliance.Input{
		QtyDispensed: rec.QtyDispensed,
		QtyReturned:  rec.QtyReturned,
		FirstDose:    rec.FirstDoseDate,
		LastDose:     rec.LastDoseDate,
		PillsPerDay:  rec.PillsPerDay,
	}
}

// GetAccountability handles fetching accountability records, scoped to the
// caller's site through the owning subject.
func (h *AccountabilityHandler) GetAccountability(c *gin.Context) {
	q := h.DB.Model(&models.AccountabilityRecord{}).
		Joins("JOIN subjects ON subjects.id = accountability_records.subject_id")
	q = middleware.SiteScope(c, q, "subjects.site_id")

	if subjectID := c.Query("subjectId"); subjectID != "" {
		q = q.Where("accountability_records.subject_id = ?", subjectID)
	}
	if returnStatus := c.Query("returnStatus"); returnStatus != "" {
		q = q.Where("accountability_records.return_status = ?", returnStatus)
	}

	var records []models.AccountabilityRecord
	if err := q.Order("accountability_records.created_at desc").Find(&records).Error; err != nil {
		internalError(c, h.Log, "accountability listing failed", err)
		return
	}
	utils.Success(c, "Accountability records fetched successfully", records)
}

// CreateAccountabilityRequest represents the request body for a dispense.
type CreateAccountabilityRequest struct {
	SubjectID      string `json:"subjectId" binding:"required,uuid"`
	DrugUnitID     string `json:"drugUnitId" binding:"required,uuid"`
	SubjectVisitID string `json:"subjectVisitId" binding:"omitempty,uuid"`
	QtyDispensed   int    `json:"qtyDispensed" binding:"required"`
	PillsPerDay    int    `json:"pillsPerDay"`
	FirstDoseDate  string `json:"firstDoseDate"`
	Comments       string `json:"comments"`
}

// CreateAccountability records a dispense: the ledger entry, the unit's
// Available -> Dispensed transition and the audit entry commit together, or
// not at all. A unit that is not Available yields 409 with no state change.
func (h *AccountabilityHandler) CreateAccountability(c *gin.Context) {
	var req CreateAccountabilityRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	firstDose, err := parseDate(req.FirstDoseDate)
	if err != nil {
		utils.BadRequest(c, "Invalid first dose date, expected yyyy-mm-dd")
		return
	}
	if req.PillsPerDay == 0 {
		req.PillsPerDay = 1 // protocol default
	}

	var subject models.Subject
	if err := h.DB.First(&subject, "id = ?", req.SubjectID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			utils.NotFound(c, "Subject not found")
		} else {
			internalError(c, h.Log, "subject lookup failed", err)
		}
		return
	}
	if !middleware.CanAccessSite(c, subject.SiteID) {
		utils.Forbidden(c, "Subject belongs to another site")
		return
	}
	if subject.Status != models.SubjectActive {
		utils.Conflict(c, "Cannot dispense to a "+string(subject.Status)+" subject")
		return
	}

	var unit models.DrugUnit
	if err := h.DB.First(&unit, "id = ?", req.DrugUnitID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			utils.NotFound(c, "Drug unit not found")
		} else {
			internalError(c, h.Log, "drug unit lookup failed", err)
		}
		return
	}
	if unit.SiteID != subject.SiteID {
		utils.BadRequest(c, "Drug unit is stocked at a different site than the subject")
		return
	}

	// Prior unreturned dispense for this subject, for the overlap warning.
	var priorLastDose *time.Time
	var prior models.AccountabilityRecord
	if err := h.DB.Where("subject_id = ? AND return_status = ?", req.SubjectID, models.ReturnStatusNotReturned).
		Order("created_at desc").First(&prior).Error; err == nil {
		priorLastDose = prior.LastDoseDate
	}

	outcome := validation.Dispense(req.QtyDispensed, req.PillsPerDay, firstDose, priorLastDose)
	if !outcome.OK() {
		utils.Rejected(c, outcome.Rejections)
		return
	}

	record := models.AccountabilityRecord{
		SubjectID:     req.SubjectID,
		DrugUnitID:    req.DrugUnitID,
		QtyDispensed:  req.QtyDispensed,
		PillsPerDay:   req.PillsPerDay,
		FirstDoseDate: firstDose,
		ReturnStatus:  models.ReturnStatusNotReturned,
		Comments:      req.Comments,
	}
	if req.SubjectVisitID != "" {
		record.SubjectVisitID = &req.SubjectVisitID
	}

	unitBefore := unit
	actorID, actorName := actor(c, h.DB)
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		if err := dispenseUnit(tx, unit.ID, subject.ID, time.Now()); err != nil {
			return err
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		unit.Status = models.UnitDispensed
		unit.SubjectID = &record.SubjectID
		return audit.Record(tx, audit.Entry{
			ActorID:   actorID,
			ActorName: actorName,
			Action:    models.AuditDispense,
			Table:     "accountability_records",
			RecordID:  record.ID,
			Old:       unitBefore,
			New:       record,
		})
	})
	if err == gorm.ErrRecordNotFound {
		utils.Conflict(c, "Drug unit is not Available (status: "+string(unitBefore.Status)+")")
		return
	}
	if err != nil {
		internalError(c, h.Log, "dispense failed", err)
		return
	}

	utils.Created(c, "Drug dispensed successfully", gin.H{
		"record":   record,
		"warnings": outcome.Warnings,
	})
}

// ReturnAccountabilityRequest represents the request body for recording a
// return against a dispense record.
type ReturnAccountabilityRequest struct {
	QtyReturned  int    `json:"qtyReturned"`
	LastDoseDate string `json:"lastDoseDate"`
	ReturnDate   string `json:"returnDate"`
	ReturnStatus string `json:"returnStatus" binding:"required,oneof=RETURNED WASTED LOST DESTROYED"`
	Comments     string `json:"comments"`
}

// ReturnAccountability closes out a dispense: quantities are reconciled, the
// compliance fields are derived and persisted, and the unit transitions
// Dispensed -> Returned, all in one transaction.
func (h *AccountabilityHandler) ReturnAccountability(c *gin.Context) {
	var req ReturnAccountabilityRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	var record models.AccountabilityRecord
	if err := h.DB.Preload("Subject").First(&record, "id = ?", c.Param("id")).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			utils.NotFound(c, "Accountability record not found")
		} else {
			internalError(c, h.Log, "accountability lookup failed", err)
		}
		return
	}
	if !middleware.CanAccessSite(c, record.Subject.SiteID) {
		utils.Forbidden(c, "Record belongs to another site")
		return
	}
	if record.ReturnStatus != models.ReturnStatusNotReturned {
		utils.Conflict(c, "Record has already been reconciled")
		return
	}

	lastDose, err := parseDate(req.LastDoseDate)
	if err != nil {
		utils.BadRequest(c, "Invalid last dose date, expected yyyy-mm-dd")
		return
	}
	returnDate, err := parseDate(req.ReturnDate)
	if err != nil {
		utils.BadRequest(c, "Invalid return date, expected yyyy-mm-dd")
		return
	}

	outcome := validation.Return(record.QtyDispensed, req.QtyReturned, record.FirstDoseDate, lastDose)
	if !outcome.OK() {
		utils.Rejected(c, outcome.Rejections)
		return
	}

	before := record
	before.Subject = models.Subject{}

	record.QtyReturned = req.QtyReturned
	record.LastDoseDate = lastDose
	record.ReturnDate = returnDate
	record.ReturnStatus = models.ReturnStatus(req.ReturnStatus)
	if req.Comments != "" {
		record.Comments = req.Comments
	}
	now := time.Now()
	record.ReconciliationDate = &now

	res := compliance.Calculate(recordInput(&record), h.thresholds())
	applyResult(&record, res)
	outcome.Merge(validation.ComplianceFlags(res))

	actorID, actorName := actor(c, h.DB)
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		if err := returnUnit(tx, record.DrugUnitID); err != nil {
			return err
		}
		record.Subject = models.Subject{}
		if err := tx.Omit(clause.Associations).Save(&record).Error; err != nil {
			return err
		}
		return audit.Record(tx, audit.Entry{
			ActorID:   actorID,
			ActorName: actorName,
			Action:    models.AuditReturn,
			Table:     "accountability_records",
			RecordID:  record.ID,
			Old:       before,
			New:       record,
		})
	})
	if err == gorm.ErrRecordNotFound {
		utils.Conflict(c, "Drug unit is not Dispensed; it may have been modified concurrently")
		return
	}
	if err != nil {
		internalError(c, h.Log, "return failed", err)
		return
	}

	utils.Success(c, "Return recorded successfully", gin.H{
		"record":   record,
		"warnings": outcome.Warnings,
	})
}

// UpdateAccountabilityRequest represents the request body for an
// administrative date correction. Every correction must be justified.
type UpdateAccountabilityRequest struct {
	FirstDoseDate string `json:"firstDoseDate,omitempty"`
	LastDoseDate  string `json:"lastDoseDate,omitempty"`
	Comments      string `json:"comments,omitempty"`
	Reason        string `json:"reason" binding:"required"`
}

// UpdateAccountability corrects dosing dates on an existing record and
// recalculates the derived fields with the same calculator used everywhere
// else.
func (h *AccountabilityHandler) UpdateAccountability(c *gin.Context) {
	var req UpdateAccountabilityRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	var record models.AccountabilityRecord
	if err := h.DB.First(&record, "id = ?", c.Param("id")).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			utils.NotFound(c, "Accountability record not found")
		} else {
			internalError(c, h.Log, "accountability lookup failed", err)
		}
		return
	}
	before := record

	if req.FirstDoseDate != "" {
		firstDose, err := parseDate(req.FirstDoseDate)
		if err != nil {
			utils.BadRequest(c, "Invalid first dose date, expected yyyy-mm-dd")
			return
		}
		record.FirstDoseDate = firstDose
	}
	if req.LastDoseDate != "" {
		lastDose, err := parseDate(req.LastDoseDate)
		if err != nil {
			utils.BadRequest(c, "Invalid last dose date, expected yyyy-mm-dd")
			return
		}
		record.LastDoseDate = lastDose
	}
	if req.Comments != "" {
		record.Comments = req.Comments
	}

	outcome := validation.DoseDates(record.FirstDoseDate, record.LastDoseDate)
	if !outcome.OK() {
		utils.Rejected(c, outcome.Rejections)
		return
	}

	res := compliance.Calculate(recordInput(&record), h.thresholds())
	applyResult(&record, res)
	outcome.Merge(validation.ComplianceFlags(res))

	actorID, actorName := actor(c, h.DB)
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Save(&record).Error; err != nil {
			return err
		}
		return audit.Record(tx, audit.Entry{
			ActorID:   actorID,
			ActorName: actorName,
			Action:    models.AuditUpdate,
			Table:     "accountability_records",
			RecordID:  record.ID,
			Old:       before,
			New:       record,
			Reason:    req.Reason,
		})
	})
	if err != nil {
		internalError(c, h.Log, "accountability correction failed", err)
		return
	}

	utils.Success(c, "Accountability record updated successfully", gin.H{
		"record":   record,
		"warnings": outcome.Warnings,
	})
}

// BulkSubmitRequest represents a batch of returns submitted together, e.g.
// from a monitoring visit worksheet.
type BulkSubmitRequest struct {
	Items []BulkSubmitItem `json:"items" binding:"required,min=1"`
}

// BulkSubmitItem is one return in a bulk submission.
type BulkSubmitItem struct {
	RecordID     string `json:"recordId" binding:"required,uuid"`
	QtyReturned  int    `json:"qtyReturned"`
	LastDoseDate string `json:"lastDoseDate"`
	ReturnStatus string `json:"returnStatus" binding:"required,oneof=RETURNED WASTED LOST DESTROYED"`
}

// BulkSubmitResult reports the outcome for one submitted item.
type BulkSubmitResult struct {
	RecordID string   `json:"recordId"`
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// BulkSubmit processes a batch of returns. Each item commits in its own
// transaction; one bad item does not poison the rest.
func (h *AccountabilityHandler) BulkSubmit(c *gin.Context) {
	var req BulkSubmitRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	actorID, actorName := actor(c, h.DB)
	results := make([]BulkSubmitResult, 0, len(req.Items))
	for _, item := range req.Items {
		results = append(results, h.submitOne(c, item, actorID, actorName))
	}
	utils.Success(c, "Bulk submission processed", results)
}

func (h *AccountabilityHandler) submitOne(c *gin.Context, item BulkSubmitItem, actorID, actorName string) BulkSubmitResult {
	out := BulkSubmitResult{RecordID: item.RecordID}

	var record models.AccountabilityRecord
	if err := h.DB.Preload("Subject").First(&record, "id = ?", item.RecordID).Error; err != nil {
		out.Error = "record not found"
		return out
	}
	if !middleware.CanAccessSite(c, record.Subject.SiteID) {
		out.Error = "record belongs to another site"
		return out
	}
	if record.ReturnStatus != models.ReturnStatusNotReturned {
		out.Error = "record already reconciled"
		return out
	}

	lastDose, err := parseDate(item.LastDoseDate)
	if err != nil {
		out.Error = "invalid last dose date"
		return out
	}

	outcome := validation.Return(record.QtyDispensed, item.QtyReturned, record.FirstDoseDate, lastDose)
	if !outcome.OK() {
		out.Error = outcome.Rejections[0]
		return out
	}

	record.Subject = models.Subject{}
	record.QtyReturned = item.QtyReturned
	record.LastDoseDate = lastDose
	record.ReturnStatus = models.ReturnStatus(item.ReturnStatus)
	now := time.Now()
	record.ReconciliationDate = &now
	record.ReturnDate = &now

	res := compliance.Calculate(recordInput(&record), h.thresholds())
	applyResult(&record, res)
	outcome.Merge(validation.ComplianceFlags(res))

	err = h.DB.Transaction(func(tx *gorm.DB) error {
		if err := returnUnit(tx, record.DrugUnitID); err != nil {
			return err
		}
		if err := tx.Omit(clause.Associations).Save(&record).Error; err != nil {
			return err
		}
		return audit.Record(tx, audit.Entry{
			ActorID:   actorID,
			ActorName: actorName,
			Action:    models.AuditReturn,
			Table:     "accountability_records",
			RecordID:  record.ID,
			New:       record,
		})
	})
	if err == gorm.ErrRecordNotFound {
		out.Error = "drug unit is not Dispensed"
		return out
	}
	if err != nil {
		h.Log.Error("bulk submit item failed", zap.String("record_id", item.RecordID), zap.Error(err))
		out.Error = "internal error"
		return out
	}

	out.OK = true
	out.Warnings = outcome.Warnings
	return out
}

// Recalculate re-derives the compliance fields for every record with both
// dose dates recorded. Recalculation with unchanged inputs is idempotent, so
// only records whose stored values drifted produce an update and an audit
// entry.
func (h *AccountabilityHandler) Recalculate(c *gin.Context) {
	var records []models.AccountabilityRecord
	if err := h.DB.Where("first_dose_date IS NOT NULL AND last_dose_date IS NOT NULL").
		Find(&records).Error; err != nil {
		internalError(c, h.Log, "recalculation listing failed", err)
		return
	}

	actorID, actorName := actor(c, h.DB)
	updated := 0
	for i := range records {
		record := records[i]
		before := record

		res := compliance.Calculate(recordInput(&record), h.thresholds())
		applyResult(&record, res)
		if derivedEqual(&before, &record) {
			continue
		}

		err := h.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Omit(clause.Associations).Save(&record).Error; err != nil {
				return err
			}
			return audit.Record(tx, audit.Entry{
				ActorID:   actorID,
				ActorName: actorName,
				Action:    models.AuditUpdate,
				Table:     "accountability_records",
				RecordID:  record.ID,
				Old:       before,
				New:       record,
				Reason:    "batch compliance recalculation",
			})
		})
		if err != nil {
			internalError(c, h.Log, "recalculation failed", err)
			return
		}
		updated++
	}

	utils.Success(c, "Recalculation complete", gin.H{
		"scanned": len(records),
		"updated": updated,
	})
}

func derivedEqual(a, b *models.AccountabilityRecord) bool {
	return intPtrEqual(a.DaysUsed, b.DaysUsed) &&
		intPtrEqual(a.ExpectedPills, b.ExpectedPills) &&
		intPtrEqual(a.PillsUsed, b.PillsUsed) &&
		floatPtrEqual(a.CompliancePct, b.CompliancePct)
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
