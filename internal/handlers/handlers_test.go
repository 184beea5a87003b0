package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clawkeeper/internal/alerts"
	"clawkeeper/internal/credits"
	"clawkeeper/internal/events"
	"clawkeeper/internal/ingest"
	"clawkeeper/internal/insights"
	"clawkeeper/internal/middleware"
	"clawkeeper/internal/models"
	"clawkeeper/internal/storage"
)

func setupTest(t *testing.T, plan models.Plan) (*gin.Engine, *storage.MockStorage, *models.Organization) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := storage.NewMockStorage()
	org, err := store.CreateOrganization("acme", "owner@acme.test", plan)
	require.NoError(t, err)

	ledger := credits.NewLedger(store)
	analyzer := insights.NewAnalyzer(store, nil)
	service := ingest.NewService(
		store,
		ledger,
		events.NewEngine(store),
		alerts.NewEvaluator(store, nil),
		analyzer,
		ingest.WithSynchronousSideEffects(),
	)
	h := New(store, service, ledger, analyzer)

	router := gin.New()
	// Stand-in for AuthMiddleware: every request runs as the test org
	router.Use(func(c *gin.Context) {
		c.Set(middleware.OrgIDKey, org.ID)
		c.Next()
	})

	router.GET("/health", h.Health)
	api := router.Group("/api/v1")
	{
		api.POST("/scans", h.IngestScan)
		api.GET("/scans/:id/checks", h.GetScanChecks)
		api.GET("/hosts", h.ListHosts)
		api.GET("/hosts/:id", h.GetHost)
		api.DELETE("/hosts/:id", h.DeleteHost)
		api.GET("/hosts/:id/scans", h.ListHostScans)
		api.GET("/events", h.ListEvents)
		api.POST("/events", h.RecordAgentEvent)
		api.GET("/credits", h.GetCredits)
		api.GET("/alerts/rules", h.ListAlertRules)
		api.POST("/alerts/rules", h.CreateAlertRule)
		api.PUT("/alerts/rules/:id", h.UpdateAlertRule)
		api.DELETE("/alerts/rules/:id", h.DeleteAlertRule)
		api.GET("/alerts/events", h.ListAlertEvents)
		api.GET("/insights", h.ListInsights)
		api.POST("/insights/refresh", h.RefreshStaleHostInsights)
		api.GET("/notifications/settings", h.GetNotificationSettings)
		api.PUT("/notifications/settings", h.UpdateNotificationSettings)
	}

	return router, store, org
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func scanReport(hostname, grade string, score int) map[string]interface{} {
	return map[string]interface{}{
		"hostname":   hostname,
		"platform":   "ubuntu",
		"os_version": "22.04",
		"score":      score,
		"grade":      grade,
		"scanned_at": time.Now().UTC().Format(time.RFC3339),
		"checks": []map[string]interface{}{
			{"status": "PASS", "check_name": "SSH root login disabled"},
		},
	}
}

func TestHealthEndpoint(t *testing.T) {
	router, _, _ := setupTest(t, models.PlanPro)

	w := doJSON(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestIngestScanEndpoint(t *testing.T) {
	router, store, org := setupTest(t, models.PlanPro)

	w := doJSON(t, router, http.MethodPost, "/api/v1/scans", scanReport("web-01", "B", 85))
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.IngestResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.NotEmpty(t, resp.HostID)
	assert.NotEmpty(t, resp.ScanID)

	host, err := store.GetHostByHostname(org.ID, "web-01")
	require.NoError(t, err)
	assert.Equal(t, resp.HostID, host.ID)
}

func TestIngestScanValidationError(t *testing.T) {
	router, _, _ := setupTest(t, models.PlanPro)

	report := scanReport("web-01", "Z", 85)
	w := doJSON(t, router, http.MethodPost, "/api/v1/scans", report)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "grade")
}

func TestIngestScanCreditsExhausted(t *testing.T) {
	router, store, org := setupTest(t, models.PlanFree)
	store.SetOrganizationCredits(org.ID, 0, 10, time.Now().UTC())

	w := doJSON(t, router, http.MethodPost, "/api/v1/scans", scanReport("web-01", "B", 85))
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
}

func TestIngestScanHostLimit(t *testing.T) {
	router, _, _ := setupTest(t, models.PlanFree)

	w := doJSON(t, router, http.MethodPost, "/api/v1/scans", scanReport("web-01", "B", 85))
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/scans", scanReport("web-02", "B", 85))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestIngestScanPersistenceFailure(t *testing.T) {
	router, store, _ := setupTest(t, models.PlanPro)
	store.FailCreateScan = true

	w := doJSON(t, router, http.MethodPost, "/api/v1/scans", scanReport("web-01", "B", 85))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHostEndpoints(t *testing.T) {
	router, store, org := setupTest(t, models.PlanPro)

	w := doJSON(t, router, http.MethodPost, "/api/v1/scans", scanReport("web-01", "B", 85))
	require.Equal(t, http.StatusOK, w.Code)
	host, err := store.GetHostByHostname(org.ID, "web-01")
	require.NoError(t, err)

	w = doJSON(t, router, http.MethodGet, "/api/v1/hosts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var hosts []models.Host
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hosts))
	require.Len(t, hosts, 1)
	assert.Equal(t, "web-01", hosts[0].Hostname)

	w = doJSON(t, router, http.MethodGet, "/api/v1/hosts/"+host.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/hosts/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/hosts/"+host.ID+"/scans", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var scans []models.Scan
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &scans))
	require.Len(t, scans, 1)

	w = doJSON(t, router, http.MethodGet, "/api/v1/scans/"+scans[0].ID+"/checks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var checks []models.Check
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &checks))
	assert.Len(t, checks, 1)

	w = doJSON(t, router, http.MethodDelete, "/api/v1/hosts/"+host.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/hosts/"+host.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEventsEndpoint(t *testing.T) {
	router, _, _ := setupTest(t, models.PlanPro)

	w := doJSON(t, router, http.MethodPost, "/api/v1/scans", scanReport("web-01", "B", 85))
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/events", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var all []models.Event
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	assert.GreaterOrEqual(t, len(all), 2) // host.registered + scan.completed

	w = doJSON(t, router, http.MethodGet, "/api/v1/events?type=host.registered", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var filtered []models.Event
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &filtered))
	require.Len(t, filtered, 1)
	assert.Equal(t, models.EventHostRegistered, filtered[0].EventType)
}

func TestRecordAgentEvent(t *testing.T) {
	router, _, _ := setupTest(t, models.PlanPro)

	w := doJSON(t, router, http.MethodPost, "/api/v1/scans", scanReport("web-01", "B", 85))
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/events", map[string]interface{}{
		"event_type": "agent.installed",
		"hostname":   "web-01",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok":true`)

	w = doJSON(t, router, http.MethodGet, "/api/v1/events?type=agent.installed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var events []models.Event
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "Agent installed on web-01", events[0].Title)
	assert.Equal(t, models.ActorAgent, events[0].Actor)
	assert.NotEmpty(t, events[0].HostID)
}

func TestRecordAgentEventUnknownHost(t *testing.T) {
	router, _, _ := setupTest(t, models.PlanPro)

	// No scan has registered the host yet, so the event carries no host ref
	w := doJSON(t, router, http.MethodPost, "/api/v1/events", map[string]interface{}{
		"event_type": "agent.installed",
		"hostname":   "never-seen",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/events?type=agent.installed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var events []models.Event
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Empty(t, events[0].HostID)
}

func TestRecordAgentEventValidation(t *testing.T) {
	router, _, _ := setupTest(t, models.PlanPro)

	w := doJSON(t, router, http.MethodPost, "/api/v1/events", map[string]interface{}{
		"event_type": "scan.completed",
		"hostname":   "web-01",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid event_type")

	w = doJSON(t, router, http.MethodPost, "/api/v1/events", map[string]interface{}{
		"event_type": "agent.started",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "hostname is required")
}

func TestCreditsEndpoint(t *testing.T) {
	router, store, org := setupTest(t, models.PlanFree)
	store.SetOrganizationCredits(org.ID, 7, 10, time.Now().UTC())

	w := doJSON(t, router, http.MethodGet, "/api/v1/credits", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var status models.CreditStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, 7, status.Remaining)
	assert.Equal(t, 10, status.Cap)
}

func TestAlertRuleCRUD(t *testing.T) {
	router, _, _ := setupTest(t, models.PlanPro)

	w := doJSON(t, router, http.MethodPost, "/api/v1/alerts/rules", map[string]interface{}{
		"name":      "low score",
		"rule_type": "score_below",
		"config":    map[string]interface{}{"threshold": 60},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var rule models.AlertRule
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rule))
	assert.True(t, rule.Enabled)
	assert.Equal(t, 60, rule.Config.Threshold)

	w = doJSON(t, router, http.MethodPut, "/api/v1/alerts/rules/"+rule.ID, map[string]interface{}{
		"name":      "low score",
		"rule_type": "score_below",
		"config":    map[string]interface{}{"threshold": 70},
		"enabled":   false,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/alerts/rules", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rules []models.AlertRule
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rules))
	require.Len(t, rules, 1)
	assert.False(t, rules[0].Enabled)
	assert.Equal(t, 70, rules[0].Config.Threshold)

	w = doJSON(t, router, http.MethodDelete, "/api/v1/alerts/rules/"+rule.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, router, http.MethodDelete, "/api/v1/alerts/rules/"+rule.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAlertRuleValidation(t *testing.T) {
	router, _, _ := setupTest(t, models.PlanPro)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{
			name: "unknown rule type",
			body: map[string]interface{}{"name": "x", "rule_type": "nonsense"},
		},
		{
			name: "score_below without threshold",
			body: map[string]interface{}{"name": "x", "rule_type": "score_below"},
		},
		{
			name: "check_fail without check_name",
			body: map[string]interface{}{"name": "x", "rule_type": "check_fail"},
		},
		{
			name: "missing name",
			body: map[string]interface{}{"rule_type": "grade_drop"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, router, http.MethodPost, "/api/v1/alerts/rules", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestAlertEventsEndpoint(t *testing.T) {
	router, _, _ := setupTest(t, models.PlanPro)

	w := doJSON(t, router, http.MethodPost, "/api/v1/alerts/rules", map[string]interface{}{
		"name":      "any fail",
		"rule_type": "check_fail",
		"config":    map[string]interface{}{"check_name": "ssh"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	report := scanReport("web-01", "C", 70)
	report["checks"] = []map[string]interface{}{
		{"status": "FAIL", "check_name": "SSH root login disabled"},
	}
	w = doJSON(t, router, http.MethodPost, "/api/v1/scans", report)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/alerts/events", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var fired []models.AlertEvent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fired))
	require.Len(t, fired, 1)
	assert.Contains(t, fired[0].Message, "SSH root login disabled")
}

func TestInsightsEndpoint(t *testing.T) {
	router, _, _ := setupTest(t, models.PlanPro)

	report := scanReport("web-01", "C", 70)
	report["checks"] = []map[string]interface{}{
		{"status": "FAIL", "check_name": "Firewall enabled"},
	}
	w := doJSON(t, router, http.MethodPost, "/api/v1/scans", report)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/insights", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var open []models.Insight
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &open))
	require.Len(t, open, 1)
	assert.Equal(t, models.InsightCriticalFailure, open[0].InsightType)
}

func TestNotificationSettingsEndpoints(t *testing.T) {
	router, _, org := setupTest(t, models.PlanPro)

	// Defaults before anything is saved
	w := doJSON(t, router, http.MethodGet, "/api/v1/notifications/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var settings models.NotificationSettings
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &settings))
	assert.Equal(t, org.ID, settings.OrgID)
	assert.False(t, settings.WebhookEnabled)

	w = doJSON(t, router, http.MethodPut, "/api/v1/notifications/settings", map[string]interface{}{
		"webhook_enabled": true,
		"webhook_url":     "https://hooks.acme.test/clawkeeper",
		"webhook_secret":  "whsec_abc",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/notifications/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &settings))
	assert.True(t, settings.WebhookEnabled)
	assert.Equal(t, "https://hooks.acme.test/clawkeeper", settings.WebhookURL)

	// Enabled channels need a target
	w = doJSON(t, router, http.MethodPut, "/api/v1/notifications/settings", map[string]interface{}{
		"email_enabled": true,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
