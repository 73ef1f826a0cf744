package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditAction enum
type AuditAction string

const (
	AuditCreate   AuditAction = "CREATE"
	AuditUpdate   AuditAction = "UPDATE"
	AuditDelete   AuditAction = "DELETE"
	AuditDispense AuditAction = "DISPENSE"
	AuditReturn   AuditAction = "RETURN"
	AuditDestroy  AuditAction = "DESTROY"
	AuditLogin    AuditAction = "LOGIN"
	AuditLogout   AuditAction = "LOGOUT"
	AuditView     AuditAction = "VIEW"
)

// AuditLogEntry is an append-only record of a mutation: who changed what,
// with before/after snapshots. Entries are never updated or deleted through
// the API.
type AuditLogEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index;not null" json:"createdAt"`

	ActorID   string      `gorm:"size:36;index" json:"actorId"`
	ActorName string      `gorm:"size:100" json:"actorName"`
	Action    AuditAction `gorm:"size:20;index;not null" json:"action"`

	TableName string `gorm:"size:50;index" json:"tableName"`
	RecordID  string `gorm:"size:36;index" json:"recordId"`

	OldValues datatypes.JSON `json:"oldValues,omitempty"`
	NewValues datatypes.JSON `json:"newValues,omitempty"`

	Reason string `gorm:"type:text" json:"reason,omitempty"`
	// Flagged marks entries written by escape hatches (e.g. the bulk
	// inventory override) so monitors can review them.
	Flagged bool `gorm:"default:false;index" json:"flagged"`
}
