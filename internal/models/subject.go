package models

import (
	"time"
)

// SubjectStatus enum
type SubjectStatus string

const (
	SubjectActive     SubjectStatus = "Active"
	SubjectCompleted  SubjectStatus = "Completed"
	SubjectTerminated SubjectStatus = "Terminated"
)

// CanTransition reports whether a subject status change is legal. Status moves
// monotonically toward Completed or Terminated; a subject never un-terminates.
func (s SubjectStatus) CanTransition(to SubjectStatus) bool {
	if s == to {
		return true
	}
	return s == SubjectActive && (to == SubjectCompleted || to == SubjectTerminated)
}

// Subject represents a trial participant. A subject belongs to exactly one site.
type Subject struct {
	BaseModel
	SubjectNumber   string        `gorm:"uniqueIndex;size:20;not null" json:"subjectNumber"`
	SiteID          string        `gorm:"size:36;index;not null" json:"siteId"`
	DateOfBirth     *time.Time    `json:"dateOfBirth,omitempty"`
	Sex             string        `gorm:"size:10" json:"sex"`
	Status          SubjectStatus `gorm:"size:20;default:'Active'" json:"status"`
	ConsentDate     *time.Time    `json:"consentDate,omitempty"`
	EnrollmentDate  time.Time     `gorm:"not null" json:"enrollmentDate"`
	TerminationDate *time.Time    `json:"terminationDate,omitempty"`

	Site   Site           `gorm:"foreignKey:SiteID" json:"-"`
	Visits []SubjectVisit `gorm:"foreignKey:SubjectID" json:"-"`
}
