// Package audit writes the regulatory change log. Entries are inserted inside
// the caller's transaction so an audit-write failure rolls the primary
// mutation back: a mutation without its audit entry never commits.
package audit

import (
	"encoding/json"
	"fmt"

	"ctms-server/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Entry describes one auditable event. Old and New are snapshotted to JSON;
// either may be nil (e.g. CREATE has no old value, LOGIN has neither).
type Entry struct {
	ActorID   string
	ActorName string
	Action    models.AuditAction
	Table     string
	RecordID  string
	Old       interface{}
	New       interface{}
	Reason    string
	Flagged   bool
}

// Record appends an audit entry using the given database handle, which is
// expected to be the transaction of the mutation being audited.
func Record(tx *gorm.DB, e Entry) error {
	row := models.AuditLogEntry{
		ActorID:   e.ActorID,
		ActorName: e.ActorName,
		Action:    e.Action,
		TableName: e.Table,
		RecordID:  e.RecordID,
		Reason:    e.Reason,
		Flagged:   e.Flagged,
	}

	var err error
	if row.OldValues, err = snapshot(e.Old); err != nil {
		return fmt.Errorf("snapshot old values: %w", err)
	}
	if row.NewValues, err = snapshot(e.New); err != nil {
		return fmt.Errorf("snapshot new values: %w", err)
	}

	if err := tx.Create(&row).Error; err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

func snapshot(v interface{}) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}
