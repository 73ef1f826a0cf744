package models

import (
	"time"
)

// ReturnStatus enum
type ReturnStatus string

const (
	ReturnStatusReturned    ReturnStatus = "RETURNED"
	ReturnStatusNotReturned ReturnStatus = "NOT_RETURNED"
	ReturnStatusWasted      ReturnStatus = "WASTED"
	ReturnStatusLost        ReturnStatus = "LOST"
	ReturnStatusDestroyed   ReturnStatus = "DESTROYED"
)

// ValidReturnStatus reports whether s is one of the known return statuses.
func ValidReturnStatus(s string) bool {
	switch ReturnStatus(s) {
	case ReturnStatusReturned, ReturnStatusNotReturned, ReturnStatusWasted,
		ReturnStatusLost, ReturnStatusDestroyed:
		return true
	}
	return false
}

// AccountabilityRecord is one dispense-to-return ledger entry linking a drug
// unit to a subject at a visit. A new visit's dispense creates a new record
// rather than reusing the prior one.
//
// The derived fields (DaysUsed, ExpectedPills, PillsUsed, CompliancePct) are
// only ever written from internal/compliance so every trigger path stores
// identical values. They stay NULL while the dose dates are unrecorded.
type AccountabilityRecord struct {
	BaseModel
	SubjectID      string  `gorm:"size:36;index;not null" json:"subjectId"`
	DrugUnitID     string  `gorm:"size:36;index;not null" json:"drugUnitId"`
	SubjectVisitID *string `gorm:"size:36;index" json:"subjectVisitId,omitempty"`

	QtyDispensed int `gorm:"not null" json:"qtyDispensed"`
	QtyReturned  int `gorm:"default:0" json:"qtyReturned"`
	PillsPerDay  int `gorm:"default:1" json:"pillsPerDay"`

	FirstDoseDate      *time.Time `json:"firstDoseDate,omitempty"`
	LastDoseDate       *time.Time `json:"lastDoseDate,omitempty"`
	ReconciliationDate *time.Time `json:"reconciliationDate,omitempty"`
	ReturnDate         *time.Time `json:"returnDate,omitempty"`

	ReturnStatus ReturnStatus `gorm:"size:20;default:'NOT_RETURNED'" json:"returnStatus"`

	DaysUsed      *int     `json:"daysUsed,omitempty"`
	ExpectedPills *int     `json:"expectedPills,omitempty"`
	PillsUsed     *int     `json:"pillsUsed,omitempty"`
	CompliancePct *float64 `json:"compliancePercentage,omitempty"`

	Comments string `gorm:"type:text" json:"comments,omitempty"`

	Subject      Subject       `gorm:"foreignKey:SubjectID" json:"-"`
	DrugUnit     DrugUnit      `gorm:"foreignKey:DrugUnitID" json:"-"`
	SubjectVisit *SubjectVisit `gorm:"foreignKey:SubjectVisitID" json:"-"`
}
