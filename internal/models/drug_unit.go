package models

import (
	"time"
)

// DrugUnitStatus enum
type DrugUnitStatus string

const (
	UnitAvailable DrugUnitStatus = "Available"
	UnitDispensed DrugUnitStatus = "Dispensed"
	UnitReturned  DrugUnitStatus = "Returned"
	UnitDestroyed DrugUnitStatus = "Destroyed"
	UnitMissing   DrugUnitStatus = "Missing"
)

// ValidDrugUnitStatus reports whether s is one of the known unit statuses.
func ValidDrugUnitStatus(s string) bool {
	switch DrugUnitStatus(s) {
	case UnitAvailable, UnitDispensed, UnitReturned, UnitDestroyed, UnitMissing:
		return true
	}
	return false
}

// drugUnitTransitions is the table of legal lifecycle moves. Destroyed and
// Missing are terminal; Missing is only reachable through the administrative
// bulk override, never through a normal accountability event.
var drugUnitTransitions = map[DrugUnitStatus][]DrugUnitStatus{
	UnitAvailable: {UnitDispensed},
	UnitDispensed: {UnitReturned},
	UnitReturned:  {UnitDestroyed},
}

// CanTransition reports whether moving from s to the given status is a legal
// accountability transition.
func (s DrugUnitStatus) CanTransition(to DrugUnitStatus) bool {
	for _, t := range drugUnitTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no accountability event can move the unit further.
func (s DrugUnitStatus) Terminal() bool {
	return len(drugUnitTransitions[s]) == 0
}

// DrugUnit is one unit of investigational product (e.g. one bottle).
// Invariant: status and subject assignment stay consistent; a Dispensed unit
// always references a subject, an Available unit never does.
type DrugUnit struct {
	BaseModel
	DrugCode        string         `gorm:"size:50;index;not null" json:"drugCode"`
	LotNumber       string         `gorm:"size:50;not null" json:"lotNumber"`
	ExpirationDate  *time.Time     `json:"expirationDate,omitempty"`
	QuantityPerUnit int            `gorm:"not null" json:"quantityPerUnit"`
	Status          DrugUnitStatus `gorm:"size:20;default:'Available';index" json:"status"`
	SiteID          string         `gorm:"size:36;index;not null" json:"siteId"`
	SubjectID       *string        `gorm:"size:36;index" json:"subjectId,omitempty"`
	AssignedAt      *time.Time     `json:"assignedAt,omitempty"`

	Site    Site     `gorm:"foreignKey:SiteID" json:"-"`
	Subject *Subject `gorm:"foreignKey:SubjectID" json:"-"`
}
