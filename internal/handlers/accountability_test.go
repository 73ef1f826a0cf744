package handlers_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctms-server/internal/models"
)

// dispense drives the dispense endpoint and returns the created ledger record.
func dispense(t *testing.T, env *testEnv, token string, subject models.Subject, unit models.DrugUnit, qty, pillsPerDay int, firstDose string) models.AccountabilityRecord {
	t.Helper()
	w := env.do(t, "POST", "/api/accountability", token, gin.H{
		"subjectId":     subject.ID,
		"drugUnitId":    unit.ID,
		"qtyDispensed":  qty,
		"pillsPerDay":   pillsPerDay,
		"firstDoseDate": firstDose,
	})
	require.Equal(t, 201, w.Code, w.Body.String())

	var record models.AccountabilityRecord
	require.NoError(t, env.db.
		Where("subject_id = ? AND drug_unit_id = ?", subject.ID, unit.ID).
		Order("created_at desc").First(&record).Error)
	return record
}

func TestDispenseAndReturnRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "coord", coordPassword)
	subject := env.seedSubject(t, env.site.ID, "1001", models.SubjectActive)
	unit := env.seedUnit(t, env.site.ID, models.UnitAvailable)

	record := dispense(t, env, token, subject, unit, 30, 1, "2024-01-01")
	assert.Equal(t, models.ReturnStatusNotReturned, record.ReturnStatus)
	assert.Nil(t, record.CompliancePct)

	// the unit moved with the ledger entry
	require.NoError(t, env.db.First(&unit, "id = ?", unit.ID).Error)
	assert.Equal(t, models.UnitDispensed, unit.Status)
	require.NotNil(t, unit.SubjectID)
	assert.Equal(t, subject.ID, *unit.SubjectID)
	assert.NotNil(t, unit.AssignedAt)
	assert.EqualValues(t, 1, env.auditCount(t, models.AuditDispense, "accountability_records"))

	// return every pill: zero used is 0% compliance, not unknown
	w := env.do(t, "PUT", "/api/accountability/"+record.ID+"/return", token, gin.H{
		"qtyReturned":  30,
		"lastDoseDate": "2024-01-30",
		"returnDate":   "2024-02-01",
		"returnStatus": "RETURNED",
	})
	require.Equal(t, 200, w.Code, w.Body.String())

	require.NoError(t, env.db.First(&record, "id = ?", record.ID).Error)
	assert.Equal(t, models.ReturnStatusReturned, record.ReturnStatus)
	assert.Equal(t, 30, record.QtyReturned)
	require.NotNil(t, record.DaysUsed)
	assert.Equal(t, 30, *record.DaysUsed)
	require.NotNil(t, record.ExpectedPills)
	assert.Equal(t, 30, *record.ExpectedPills)
	require.NotNil(t, record.PillsUsed)
	assert.Equal(t, 0, *record.PillsUsed)
	require.NotNil(t, record.CompliancePct)
	assert.Equal(t, 0.0, *record.CompliancePct)
	assert.NotNil(t, record.ReconciliationDate)

	require.NoError(t, env.db.First(&unit, "id = ?", unit.ID).Error)
	assert.Equal(t, models.UnitReturned, unit.Status)
	assert.EqualValues(t, 1, env.auditCount(t, models.AuditReturn, "accountability_records"))
}

func TestDispensePartialReturnCompliance(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "coord", coordPassword)
	subject := env.seedSubject(t, env.site.ID, "1001", models.SubjectActive)
	unit := env.seedUnit(t, env.site.ID, models.UnitAvailable)

	record := dispense(t, env, token, subject, unit, 30, 1, "2024-01-01")

	w := env.do(t, "PUT", "/api/accountability/"+record.ID+"/return", token, gin.H{
		"qtyReturned":  5,
		"lastDoseDate": "2024-01-30",
		"returnDate":   "2024-02-01",
		"returnStatus": "RETURNED",
	})
	require.Equal(t, 200, w.Code, w.Body.String())

	require.NoError(t, env.db.First(&record, "id = ?", record.ID).Error)
	require.NotNil(t, record.PillsUsed)
	assert.Equal(t, 25, *record.PillsUsed)
	require.NotNil(t, record.CompliancePct)
	assert.Equal(t, 83.33, *record.CompliancePct)
}

func TestDispenseUnavailableUnitConflictsWithoutStateChange(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "coord", coordPassword)
	subject := env.seedSubject(t, env.site.ID, "1001", models.SubjectActive)
	unit := env.seedUnit(t, env.site.ID, models.UnitDispensed)

	w := env.do(t, "POST", "/api/accountability", token, gin.H{
		"subjectId":     subject.ID,
		"drugUnitId":    unit.ID,
		"qtyDispensed":  30,
		"firstDoseDate": "2024-01-01",
	})
	require.Equal(t, 409, w.Code, w.Body.String())

	// nothing was written
	var n int64
	env.db.Model(&models.AccountabilityRecord{}).Count(&n)
	assert.EqualValues(t, 0, n)
	require.NoError(t, env.db.First(&unit, "id = ?", unit.ID).Error)
	assert.Equal(t, models.UnitDispensed, unit.Status)
	assert.EqualValues(t, 0, env.auditCount(t, models.AuditDispense, "accountability_records"))
}

func TestDispenseToInactiveSubjectConflicts(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "coord", coordPassword)
	unit := env.seedUnit(t, env.site.ID, models.UnitAvailable)

	for _, status := range []models.SubjectStatus{models.SubjectCompleted, models.SubjectTerminated} {
		subject := env.seedSubject(t, env.site.ID, "10-"+string(status), status)
		w := env.do(t, "POST", "/api/accountability", token, gin.H{
			"subjectId":     subject.ID,
			"drugUnitId":    unit.ID,
			"qtyDispensed":  30,
			"firstDoseDate": "2024-01-01",
		})
		assert.Equal(t, 409, w.Code, w.Body.String())
	}
}

func TestDispenseUnitFromAnotherSiteRejected(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "admin", adminPassword)
	subject := env.seedSubject(t, env.site.ID, "1001", models.SubjectActive)
	unit := env.seedUnit(t, env.otherSite.ID, models.UnitAvailable)

	w := env.do(t, "POST", "/api/accountability", token, gin.H{
		"subjectId":     subject.ID,
		"drugUnitId":    unit.ID,
		"qtyDispensed":  30,
		"firstDoseDate": "2024-01-01",
	})
	assert.Equal(t, 400, w.Code, w.Body.String())
}

func TestDispenseOverlapWarning(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "coord", coordPassword)
	subject := env.seedSubject(t, env.site.ID, "1001", models.SubjectActive)
	first := env.seedUnit(t, env.site.ID, models.UnitAvailable)
	second := env.seedUnit(t, env.site.ID, models.UnitAvailable)

	record := dispense(t, env, token, subject, first, 30, 1, "2024-01-01")
	// give the open record a last dose date so overlap can be detected
	require.NoError(t, env.db.Model(&record).
		Update("last_dose_date", time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)).Error)

	w := env.do(t, "POST", "/api/accountability", token, gin.H{
		"subjectId":     subject.ID,
		"drugUnitId":    second.ID,
		"qtyDispensed":  30,
		"firstDoseDate": "2024-01-15",
	})
	require.Equal(t, 201, w.Code, w.Body.String())

	var resp struct {
		Data struct {
			Warnings []string `json:"warnings"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Warnings, 1)
	assert.Contains(t, resp.Data.Warnings[0], "overlaps")
}

func TestReturnMoreThanDispensedRejected(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "coord", coordPassword)
	subject := env.seedSubject(t, env.site.ID, "1001", models.SubjectActive)
	unit := env.seedUnit(t, env.site.ID, models.UnitAvailable)
	record := dispense(t, env, token, subject, unit, 30, 1, "2024-01-01")

	w := env.do(t, "PUT", "/api/accountability/"+record.ID+"/return", token, gin.H{
		"qtyReturned":  31,
		"lastDoseDate": "2024-01-30",
		"returnStatus": "RETURNED",
	})
	require.Equal(t, 400, w.Code, w.Body.String())

	var resp struct {
		Errors []string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Errors)
	assert.Contains(t, resp.Errors[0], "exceeds")

	// record and unit untouched
	require.NoError(t, env.db.First(&record, "id = ?", record.ID).Error)
	assert.Equal(t, models.ReturnStatusNotReturned, record.ReturnStatus)
	require.NoError(t, env.db.First(&unit, "id = ?", unit.ID).Error)
	assert.Equal(t, models.UnitDispensed, unit.Status)
}

func TestReturnAlreadyReconciledConflicts(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "coord", coordPassword)
	subject := env.seedSubject(t, env.site.ID, "1001", models.SubjectActive)
	unit := env.seedUnit(t, env.site.ID, models.UnitAvailable)
	record := dispense(t, env, token, subject, unit, 30, 1, "2024-01-01")

	body := gin.H{
		"qtyReturned":  5,
		"lastDoseDate": "2024-01-30",
		"returnStatus": "RETURNED",
	}
	w := env.do(t, "PUT", "/api/accountability/"+record.ID+"/return", token, body)
	require.Equal(t, 200, w.Code, w.Body.String())

	w = env.do(t, "PUT", "/api/accountability/"+record.ID+"/return", token, body)
	assert.Equal(t, 409, w.Code, w.Body.String())
}

func TestReturnLastDoseBeforeFirstDoseRejected(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "coord", coordPassword)
	subject := env.seedSubject(t, env.site.ID, "1001", models.SubjectActive)
	unit := env.seedUnit(t, env.site.ID, models.UnitAvailable)
	record := dispense(t, env, token, subject, unit, 30, 1, "2024-01-15")

	w := env.do(t, "PUT", "/api/accountability/"+record.ID+"/return", token, gin.H{
		"qtyReturned":  5,
		"lastDoseDate": "2024-01-10",
		"returnStatus": "RETURNED",
	})
	assert.Equal(t, 400, w.Code, w.Body.String())
}

func TestOverComplianceStoredWithWarning(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "coord", coordPassword)
	subject := env.seedSubject(t, env.site.ID, "1001", models.SubjectActive)
	unit := env.seedUnit(t, env.site.ID, models.UnitAvailable)
	record := dispense(t, env, token, subject, unit, 10, 2, "2024-01-01")

	w := env.do(t, "PUT", "/api/accountability/"+record.ID+"/return", token, gin.H{
		"qtyReturned":  0,
		"lastDoseDate": "2024-01-01",
		"returnStatus": "RETURNED",
	})
	require.Equal(t, 200, w.Code, w.Body.String())

	var resp struct {
		Data struct {
			Warnings []string `json:"warnings"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Data.Warnings)
	assert.Contains(t, resp.Data.Warnings[0], "data-entry error")

	require.NoError(t, env.db.First(&record, "id = ?", record.ID).Error)
	require.NotNil(t, record.CompliancePct)
	assert.Equal(t, 500.0, *record.CompliancePct)
}

func TestUpdateAccountabilityRequiresReasonAndRecalculates(t *testing.T) {
	env := newTestEnv(t)
	coordToken := env.login(t, "coord", coordPassword)
	adminToken := env.login(t, "admin", adminPassword)
	subject := env.seedSubject(t, env.site.ID, "1001", models.SubjectActive)
	unit := env.seedUnit(t, env.site.ID, models.UnitAvailable)
	record := dispense(t, env, coordToken, subject, unit, 30, 1, "2024-01-01")

	w := env.do(t, "PUT", "/api/accountability/"+record.ID+"/return", coordToken, gin.H{
		"qtyReturned":  5,
		"lastDoseDate": "2024-01-30",
		"returnStatus": "RETURNED",
	})
	require.Equal(t, 200, w.Code, w.Body.String())

	// missing reason blocks the correction
	w = env.do(t, "PUT", "/api/accountability/"+record.ID, adminToken, gin.H{
		"lastDoseDate": "2024-01-25",
	})
	assert.Equal(t, 400, w.Code, w.Body.String())

	w = env.do(t, "PUT", "/api/accountability/"+record.ID, adminToken, gin.H{
		"lastDoseDate": "2024-01-25",
		"reason":       "worksheet transcription error",
	})
	require.Equal(t, 200, w.Code, w.Body.String())

	require.NoError(t, env.db.First(&record, "id = ?", record.ID).Error)
	require.NotNil(t, record.DaysUsed)
	assert.Equal(t, 25, *record.DaysUsed)
	require.NotNil(t, record.CompliancePct)
	assert.Equal(t, 100.0, *record.CompliancePct)
}

func TestBulkSubmitIsolatesFailures(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "coord", coordPassword)
	subject := env.seedSubject(t, env.site.ID, "1001", models.SubjectActive)
	unitA := env.seedUnit(t, env.site.ID, models.UnitAvailable)
	unitB := env.seedUnit(t, env.site.ID, models.UnitAvailable)

	good := dispense(t, env, token, subject, unitA, 30, 1, "2024-01-01")
	bad := dispense(t, env, token, subject, unitB, 30, 1, "2024-02-01")

	w := env.do(t, "POST", "/api/accountability/bulk-submit", token, gin.H{
		"items": []gin.H{
			{"recordId": good.ID, "qtyReturned": 5, "lastDoseDate": "2024-01-30", "returnStatus": "RETURNED"},
			{"recordId": bad.ID, "qtyReturned": 99, "lastDoseDate": "2024-02-28", "returnStatus": "RETURNED"},
		},
	})
	require.Equal(t, 200, w.Code, w.Body.String())

	var resp struct {
		Data []struct {
			RecordID string `json:"recordId"`
			OK       bool   `json:"ok"`
			Error    string `json:"error"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	assert.True(t, resp.Data[0].OK)
	assert.False(t, resp.Data[1].OK)
	assert.NotEmpty(t, resp.Data[1].Error)

	// the good item committed, the bad one left no trace
	require.NoError(t, env.db.First(&good, "id = ?", good.ID).Error)
	assert.Equal(t, models.ReturnStatusReturned, good.ReturnStatus)
	require.NoError(t, env.db.First(&bad, "id = ?", bad.ID).Error)
	assert.Equal(t, models.ReturnStatusNotReturned, bad.ReturnStatus)
	require.NoError(t, env.db.First(&unitB, "id = ?", unitB.ID).Error)
	assert.Equal(t, models.UnitDispensed, unitB.Status)
}

func TestRecalculateIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	coordToken := env.login(t, "coord", coordPassword)
	adminToken := env.login(t, "admin", adminPassword)
	subject := env.seedSubject(t, env.site.ID, "1001", models.SubjectActive)
	unit := env.seedUnit(t, env.site.ID, models.UnitAvailable)
	record := dispense(t, env, coordToken, subject, unit, 30, 1, "2024-01-01")

	w := env.do(t, "PUT", "/api/accountability/"+record.ID+"/return", coordToken, gin.H{
		"qtyReturned":  5,
		"lastDoseDate": "2024-01-30",
		"returnStatus": "RETURNED",
	})
	require.Equal(t, 200, w.Code, w.Body.String())

	// stored values are already current, so nothing should change
	w = env.do(t, "POST", "/api/accountability/recalculate", adminToken, nil)
	require.Equal(t, 200, w.Code, w.Body.String())

	var resp struct {
		Data struct {
			Scanned int `json:"scanned"`
			Updated int `json:"updated"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Data.Scanned)
	assert.Equal(t, 0, resp.Data.Updated)

	// drift the stored value behind the calculator's back; recalculation
	// repairs it and audits the repair
	require.NoError(t, env.db.Model(&record).Update("compliance_pct", 12.34).Error)
	w = env.do(t, "POST", "/api/accountability/recalculate", adminToken, nil)
	require.Equal(t, 200, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Data.Updated)

	require.NoError(t, env.db.First(&record, "id = ?", record.ID).Error)
	require.NotNil(t, record.CompliancePct)
	assert.Equal(t, 83.33, *record.CompliancePct)
}

func TestAccountabilityListScopedAndFiltered(t *testing.T) {
	env := newTestEnv(t)
	coordToken := env.login(t, "coord", coordPassword)
	adminToken := env.login(t, "admin", adminPassword)

	mine := env.seedSubject(t, env.site.ID, "1001", models.SubjectActive)
	unitA := env.seedUnit(t, env.site.ID, models.UnitAvailable)
	dispense(t, env, coordToken, mine, unitA, 30, 1, "2024-01-01")

	other := env.seedSubject(t, env.otherSite.ID, "2001", models.SubjectActive)
	unitB := env.seedUnit(t, env.otherSite.ID, models.UnitAvailable)
	dispense(t, env, adminToken, other, unitB, 30, 1, "2024-01-01")

	var resp struct {
		Data []models.AccountabilityRecord `json:"data"`
	}

	w := env.do(t, "GET", "/api/accountability", coordToken, nil)
	require.Equal(t, 200, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, mine.ID, resp.Data[0].SubjectID)

	w = env.do(t, "GET", "/api/accountability?returnStatus=NOT_RETURNED", adminToken, nil)
	require.Equal(t, 200, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 2)
}
