package handlers_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctms-server/internal/models"
)

type auditListResponse struct {
	Data struct {
		Entries []models.AuditLogEntry `json:"entries"`
		Total   int64                  `json:"total"`
	} `json:"data"`
}

func TestAuditLogFiltersAndPagination(t *testing.T) {
	env := newTestEnv(t)
	coordToken := env.login(t, "coord", coordPassword)
	adminToken := env.login(t, "admin", adminPassword)

	// generate some entries beyond the two LOGINs
	subject := env.seedSubject(t, env.site.ID, "1001", models.SubjectActive)
	unit := env.seedUnit(t, env.site.ID, models.UnitAvailable)
	dispense(t, env, coordToken, subject, unit, 30, 1, "2024-01-01")

	var resp auditListResponse
	w := env.do(t, "GET", "/api/audit?action=LOGIN", adminToken, nil)
	require.Equal(t, 200, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 2, resp.Data.Total)
	for _, e := range resp.Data.Entries {
		assert.Equal(t, models.AuditLogin, e.Action)
	}

	// limit caps the page, not the total
	w = env.do(t, "GET", "/api/audit?action=LOGIN&limit=1", adminToken, nil)
	require.Equal(t, 200, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data.Entries, 1)
	assert.EqualValues(t, 2, resp.Data.Total)

	w = env.do(t, "GET", "/api/audit?table=accountability_records", adminToken, nil)
	require.Equal(t, 200, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.EqualValues(t, 1, resp.Data.Total)
	assert.Equal(t, models.AuditDispense, resp.Data.Entries[0].Action)
	assert.NotEmpty(t, resp.Data.Entries[0].NewValues)

	w = env.do(t, "GET", "/api/audit?actorId="+env.coordinator.ID, adminToken, nil)
	require.Equal(t, 200, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	for _, e := range resp.Data.Entries {
		assert.Equal(t, env.coordinator.ID, e.ActorID)
		assert.Equal(t, "coord", e.ActorName)
	}
}

func TestAuditLogRejectsBadDateFilter(t *testing.T) {
	env := newTestEnv(t)
	adminToken := env.login(t, "admin", adminPassword)

	w := env.do(t, "GET", "/api/audit?from=not-a-date", adminToken, nil)
	assert.Equal(t, 400, w.Code)
}

func TestAuditLogRoleRestricted(t *testing.T) {
	env := newTestEnv(t)
	coordToken := env.login(t, "coord", coordPassword)

	w := env.do(t, "GET", "/api/audit", coordToken, nil)
	assert.Equal(t, 403, w.Code)

	auditor := models.User{Username: "auditor", Role: models.RoleAuditor, IsActive: true}
	require.NoError(t, auditor.SetPassword("auditor-pass"))
	require.NoError(t, env.db.Create(&auditor).Error)

	auditorToken := env.login(t, "auditor", "auditor-pass")
	w = env.do(t, "GET", "/api/audit", auditorToken, nil)
	assert.Equal(t, 200, w.Code)
}

func TestAuditExportCSV(t *testing.T) {
	env := newTestEnv(t)
	adminToken := env.login(t, "admin", adminPassword)

	w := env.do(t, "GET", "/api/audit/export/csv", adminToken, nil)
	require.Equal(t, 200, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[0], "timestamp")
	assert.Contains(t, lines[0], "action")
	// the admin's own LOGIN is in there
	require.Greater(t, len(lines), 1)
	assert.Contains(t, w.Body.String(), "LOGIN")
}
