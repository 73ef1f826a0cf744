package handlers

import (
	"fmt"
	"net/http"
	"time"

	"ctms-server/internal/middleware"
	"ctms-server/internal/models"
	"ctms-server/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReportHandler serves the compliance reporting endpoints.
type ReportHandler struct {
	DB  *gorm.DB
	Log *zap.Logger
}

// NewReportHandler creates a new ReportHandler.
func NewReportHandler(db *gorm.DB, log *zap.Logger) *ReportHandler {
	return &ReportHandler{DB: db, Log: log}
}

// SiteEnrollmentRow is one line of the site enrollment report.
type SiteEnrollmentRow struct {
	SiteID     string `json:"siteId"`
	SiteNumber string `json:"siteNumber"`
	SiteName   string `json:"siteName"`
	Active     int    `json:"active"`
	Completed  int    `json:"completed"`
	Terminated int    `json:"terminated"`
	Total      int    `json:"total"`
}

// SiteEnrollment reports per-site subject counts by status.
func (h *ReportHandler) SiteEnrollment(c *gin.Context) {
	type row struct {
		SiteID     string
		SiteNumber string
		SiteName   string
		Status     models.SubjectStatus
		N          int
	}
	var rows []row
	q := h.DB.Model(&models.Subject{}).
		Select("subjects.site_id, sites.site_number, sites.name as site_name, subjects.status, count(*) as n").
		Joins("JOIN sites ON sites.id = subjects.site_id").
		Group("subjects.site_id, sites.site_number, sites.name, subjects.status")
	q = middleware.SiteScope(c, q, "subjects.site_id")
	if err := q.Scan(&rows).Error; err != nil {
		internalError(c, h.Log, "site enrollment report failed", err)
		return
	}

	bySite := map[string]*SiteEnrollmentRow{}
	var order []string
	for _, r := range rows {
		out, ok := bySite[r.SiteID]
		if !ok {
			out = &SiteEnrollmentRow{SiteID: r.SiteID, SiteNumber: r.SiteNumber, SiteName: r.SiteName}
			bySite[r.SiteID] = out
			order = append(order, r.SiteID)
		}
		switch r.Status {
		case models.SubjectActive:
			out.Active = r.N
		case models.SubjectCompleted:
			out.Completed = r.N
		case models.SubjectTerminated:
			out.Terminated = r.N
		}
		out.Total += r.N
	}

	report := make([]SiteEnrollmentRow, 0, len(order))
	for _, id := range order {
		report = append(report, *bySite[id])
	}
	utils.Success(c, "Site enrollment report", report)
}

// DrugAccountabilityRow is one line of the drug accountability report.
type DrugAccountabilityRow struct {
	SiteID        string   `json:"siteId"`
	SiteNumber    string   `json:"siteNumber"`
	SiteName      string   `json:"siteName"`
	Available     int      `json:"available"`
	Dispensed     int      `json:"dispensed"`
	Returned      int      `json:"returned"`
	Destroyed     int      `json:"destroyed"`
	Missing       int      `json:"missing"`
	AvgCompliance *float64 `json:"avgCompliance,omitempty"`
}

// DrugAccountability reports per-site unit status counts and the mean
// compliance percentage of reconciled records.
func (h *ReportHandler) DrugAccountability(c *gin.Context) {
	rows, err := h.drugAccountabilityRows(c)
	if err != nil {
		internalError(c, h.Log, "drug accountability report failed", err)
		return
	}
	utils.Success(c, "Drug accountability report", rows)
}

func (h *ReportHandler) drugAccountabilityRows(c *gin.Context) ([]DrugAccountabilityRow, error) {
	type unitRow struct {
		SiteID     string
		SiteNumber string
		SiteName   string
		Status     models.DrugUnitStatus
		N          int
	}
	var unitRows []unitRow
	q := h.DB.Model(&models.DrugUnit{}).
		Select("drug_units.site_id, sites.site_number, sites.name as site_name, drug_units.status, count(*) as n").
		Joins("JOIN sites ON sites.id = drug_units.site_id").
		Group("drug_units.site_id, sites.site_number, sites.name, drug_units.status")
	q = middleware.SiteScope(c, q, "drug_units.site_id")
	if err := q.Scan(&unitRows).Error; err != nil {
		return nil, err
	}

	type pctRow struct {
		SiteID string
		Avg    float64
	}
	var pctRows []pctRow
	pq := h.DB.Model(&models.AccountabilityRecord{}).
		Select("subjects.site_id, avg(accountability_records.compliance_pct) as avg").
		Joins("JOIN subjects ON subjects.id = accountability_records.subject_id").
		Where("accountability_records.compliance_pct IS NOT NULL").
		Group("subjects.site_id")
	pq = middleware.SiteScope(c, pq, "subjects.site_id")
	if err := pq.Scan(&pctRows).Error; err != nil {
		return nil, err
	}
	avgBySite := map[string]float64{}
	for _, r := range pctRows {
		avgBySite[r.SiteID] = r.Avg
	}

	bySite := map[string]*DrugAccountabilityRow{}
	var order []string
	for _, r := range unitRows {
		out, ok := bySite[r.SiteID]
		if !ok {
			out = &DrugAccountabilityRow{SiteID: r.SiteID, SiteNumber: r.SiteNumber, SiteName: r.SiteName}
			if avg, found := avgBySite[r.SiteID]; found {
				a := avg
				out.AvgCompliance = &a
			}
			bySite[r.SiteID] = out
			order = append(order, r.SiteID)
		}
		switch r.Status {
		case models.UnitAvailable:
			out.Available = r.N
		case models.UnitDispensed:
			out.Dispensed = r.N
		case models.UnitReturned:
			out.Returned = r.N
		case models.UnitDestroyed:
			out.Destroyed = r.N
		case models.UnitMissing:
			out.Missing = r.N
		}
	}

	report := make([]DrugAccountabilityRow, 0, len(order))
	for _, id := range order {
		report = append(report, *bySite[id])
	}
	return report, nil
}

var accountabilityExportHeader = []string{
	"Subject Number",
	"Drug Code",
	"Lot Number",
	"Qty Dispensed",
	"Qty Returned",
	"First Dose",
	"Last Dose",
	"Pills Per Day",
	"Days Used",
	"Expected Pills",
	"Pills Used",
	"Compliance %",
	"Return Status",
}

// ExportDrugAccountabilityXLSX downloads the record-level accountability
// ledger as an Excel workbook.
func (h *ReportHandler) ExportDrugAccountabilityXLSX(c *gin.Context) {
	q := h.DB.Model(&models.AccountabilityRecord{}).
		Preload("Subject").Preload("DrugUnit").
		Joins("JOIN subjects ON subjects.id = accountability_records.subject_id")
	q = middleware.SiteScope(c, q, "subjects.site_id")

	var records []models.AccountabilityRecord
	if err := q.Order("subjects.subject_number").Find(&records).Error; err != nil {
		internalError(c, h.Log, "accountability export query failed", err)
		return
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Drug Accountability"
	index, err := f.NewSheet(sheet)
	if err != nil {
		internalError(c, h.Log, "workbook creation failed", err)
		return
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	for col, title := range accountabilityExportHeader {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		_ = f.SetCellValue(sheet, cell, title)
	}

	for i, rec := range records {
		values := []interface{}{
			rec.Subject.SubjectNumber,
			rec.DrugUnit.DrugCode,
			rec.DrugUnit.LotNumber,
			rec.QtyDispensed,
			rec.QtyReturned,
			formatDate(rec.FirstDoseDate),
			formatDate(rec.LastDoseDate),
			rec.PillsPerDay,
			derefInt(rec.DaysUsed),
			derefInt(rec.ExpectedPills),
			derefInt(rec.PillsUsed),
			derefFloat(rec.CompliancePct),
			string(rec.ReturnStatus),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}

	filename := fmt.Sprintf("drug-accountability-%s.xlsx", time.Now().Format(dateLayout))
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Status(http.StatusOK)

	if err := f.Write(c.Writer); err != nil {
		h.Log.Error("workbook write failed", zap.Error(err))
	}
}

func derefInt(v *int) interface{} {
	if v == nil {
		return ""
	}
	return *v
}

func derefFloat(v *float64) interface{} {
	if v == nil {
		return ""
	}
	return *v
}
