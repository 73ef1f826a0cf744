package models

import (
	"time"
)

// SiteStatus enum
type SiteStatus string

const (
	SiteActive   SiteStatus = "Active"
	SiteInactive SiteStatus = "Inactive"
)

// Site represents a trial location enrolling subjects.
type Site struct {
	BaseModel
	SiteNumber            string     `gorm:"uniqueIndex;size:20;not null" json:"siteNumber"`
	Name                  string     `gorm:"size:255;not null" json:"name"`
	PrincipalInvestigator string     `gorm:"size:255" json:"principalInvestigator"`
	Country               string     `gorm:"size:100" json:"country"`
	Status                SiteStatus `gorm:"size:20;default:'Active'" json:"status"`
	ActivationDate        *time.Time `json:"activationDate,omitempty"`

	Subjects  []Subject  `gorm:"foreignKey:SiteID" json:"-"`
	DrugUnits []DrugUnit `gorm:"foreignKey:SiteID" json:"-"`
}
