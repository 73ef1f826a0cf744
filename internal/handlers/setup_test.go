package handlers_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ctms-server/internal/config"
	"ctms-server/internal/models"
	"ctms-server/internal/routes"
)

// testEnv wires the full router against an in-memory database so handler
// tests exercise the real middleware chain.
type testEnv struct {
	router *gin.Engine
	db     *gorm.DB

	site        models.Site
	otherSite   models.Site
	admin       models.User
	coordinator models.User
}

const (
	adminPassword = "admin-pass-123"
	coordPassword = "coord-pass-123"
)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))

	cfg := &config.Config{
		Environment:               "test",
		JWTSecret:                 "test-secret",
		JWTRefreshSecret:          "test-refresh-secret",
		JWTExpirationHours:        1,
		JWTRefreshExpirationHours: 24,
		Compliance:                config.ComplianceConfig{WarnPct: 120, ErrorPct: 200},
	}

	router := gin.New()
	routes.SetupRoutes(router, db, cfg, zap.NewNop())

	env := &testEnv{router: router, db: db}
	env.seed(t)
	return env
}

func (e *testEnv) seed(t *testing.T) {
	t.Helper()

	e.site = models.Site{SiteNumber: "001", Name: "City Hospital", Country: "US", Status: "Active"}
	require.NoError(t, e.db.Create(&e.site).Error)
	e.otherSite = models.Site{SiteNumber: "002", Name: "County Clinic", Country: "US", Status: "Active"}
	require.NoError(t, e.db.Create(&e.otherSite).Error)

	e.admin = models.User{Username: "admin", Email: "admin@example.com", Role: models.RoleAdmin, IsActive: true}
	require.NoError(t, e.admin.SetPassword(adminPassword))
	require.NoError(t, e.db.Create(&e.admin).Error)

	e.coordinator = models.User{Username: "coord", Email: "coord@example.com", Role: models.RoleCoordinator, SiteID: &e.site.ID, IsActive: true}
	require.NoError(t, e.coordinator.SetPassword(coordPassword))
	require.NoError(t, e.db.Create(&e.coordinator).Error)

	defs := []models.Visit{
		{Name: "Screening", Sequence: 0, DayOffset: -14},
		{Name: "Baseline", Sequence: 1, DayOffset: 0},
		{Name: "Week 4", Sequence: 2, DayOffset: 28, WindowDays: 3},
		{Name: "Week 8", Sequence: 3, DayOffset: 56, WindowDays: 3},
		{Name: "Week 12", Sequence: 4, DayOffset: 84, WindowDays: 3},
		{Name: "Early Termination", Sequence: 99, DayOffset: 0},
	}
	require.NoError(t, e.db.Create(&defs).Error)
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) login(t *testing.T, username, password string) string {
	t.Helper()
	w := e.do(t, "POST", "/api/auth/login", "", gin.H{"username": username, "password": password})
	require.Equal(t, 200, w.Code, w.Body.String())

	var resp struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Data.Token)
	return resp.Data.Token
}

func (e *testEnv) seedSubject(t *testing.T, siteID, number string, status models.SubjectStatus) models.Subject {
	t.Helper()
	s := models.Subject{
		SubjectNumber:  number,
		SiteID:         siteID,
		Status:         status,
		EnrollmentDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, e.db.Create(&s).Error)
	return s
}

func (e *testEnv) seedUnit(t *testing.T, siteID string, status models.DrugUnitStatus) models.DrugUnit {
	t.Helper()
	u := models.DrugUnit{
		DrugCode:        "CTM-001",
		LotNumber:       "LOT-A",
		QuantityPerUnit: 30,
		Status:          status,
		SiteID:          siteID,
	}
	require.NoError(t, e.db.Create(&u).Error)
	return u
}

func (e *testEnv) auditCount(t *testing.T, action models.AuditAction, table string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&models.AuditLogEntry{}).
		Where("action = ? AND table_name = ?", action, table).
		Count(&n).Error)
	return n
}
