package models

import (
	"time"
)

// Protocol visit sequence markers. Sequences 0 and 1 happen at enrollment;
// sequence 99 is the early-termination visit, only materialized when a subject
// terminates.
const (
	EnrollmentSequenceMax    = 1
	EarlyTerminationSequence = 99
	// TerminatedScheduleCutoff is the last sequence scheduled for a subject
	// already Terminated at enrollment time.
	TerminatedScheduleCutoff = 3
)

// Visit is a protocol-level visit template (static reference data).
type Visit struct {
	BaseModel
	Name       string `gorm:"size:100;not null" json:"name"`
	Sequence   int    `gorm:"uniqueIndex;not null" json:"sequence"`
	DayOffset  int    `gorm:"not null" json:"dayOffset"`
	WindowDays int    `gorm:"default:0" json:"windowDays"`
}

// SubjectVisitStatus enum
type SubjectVisitStatus string

const (
	VisitScheduled SubjectVisitStatus = "Scheduled"
	VisitCompleted SubjectVisitStatus = "Completed"
)

// SubjectVisit is a scheduled occurrence of a Visit for a specific Subject,
// created in bulk at enrollment time.
type SubjectVisit struct {
	BaseModel
	SubjectID    string             `gorm:"size:36;index;not null" json:"subjectId"`
	VisitID      string             `gorm:"size:36;index;not null" json:"visitId"`
	ExpectedDate time.Time          `gorm:"not null" json:"expectedDate"`
	ActualDate   *time.Time         `json:"actualDate,omitempty"`
	Status       SubjectVisitStatus `gorm:"size:20;default:'Scheduled'" json:"status"`

	Subject Subject `gorm:"foreignKey:SubjectID" json:"-"`
	Visit   Visit   `gorm:"foreignKey:VisitID" json:"visit"`
}
