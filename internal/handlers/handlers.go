package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"clawkeeper/internal/credits"
	"clawkeeper/internal/ingest"
	"clawkeeper/internal/insights"
	"clawkeeper/internal/logger"
	"clawkeeper/internal/middleware"
	"clawkeeper/internal/report"
	"clawkeeper/internal/storage"
)

// Handlers contains HTTP handlers
type Handlers struct {
	storage  storage.Storage
	ingest   *ingest.Service
	ledger   *credits.Ledger
	insights *insights.Analyzer
}

// New creates a new Handlers instance
func New(store storage.Storage, ingestService *ingest.Service, ledger *credits.Ledger, analyzer *insights.Analyzer) *Handlers {
	return &Handlers{
		storage:  store,
		ingest:   ingestService,
		ledger:   ledger,
		insights: analyzer,
	}
}

// Health returns server health status
// @Summary     Health check
// @Description Returns service health including database connectivity
// @Tags        Health
// @Produce     json
// @Success     200  {object}  models.HealthResponse
// @Router      /health [get]
func (h *Handlers) Health(c *gin.Context) {
	_, err := h.storage.GetOrganizationByID("00000000-0000-0000-0000-000000000000")
	if err != nil && err != storage.ErrNotFound {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "error",
			"service":  "clawkeeper",
			"database": "disconnected",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"service":  "clawkeeper",
		"database": "connected",
	})
}

// IngestScan accepts an uploaded scan report from an agent
// @Summary     Ingest a scan report
// @Description Validates and persists a scan report, consuming one scan credit
// @Tags        Scans
// @Accept      json
// @Produce     json
// @Param       request  body      models.ScanPayload  true  "Scan report"
// @Success     200      {object}  models.IngestResponse
// @Failure     400      {object}  map[string]string  "Invalid report"
// @Failure     402      {object}  map[string]string  "Scan credits exhausted"
// @Failure     403      {object}  map[string]string  "Host limit reached"
// @Failure     500      {object}  map[string]string  "Persistence failure"
// @Router      /api/v1/scans [post]
func (h *Handlers) IngestScan(c *gin.Context) {
	orgID := middleware.OrgID(c)

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	resp, err := h.ingest.Ingest(orgID, raw)
	if err != nil {
		h.writeIngestError(c, orgID, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// writeIngestError maps pipeline error types onto HTTP statuses
func (h *Handlers) writeIngestError(c *gin.Context, orgID string, err error) {
	var verr *report.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
		return
	}

	var qerr *ingest.QuotaExceededError
	if errors.As(err, &qerr) {
		status := http.StatusPaymentRequired
		if qerr.Kind == ingest.QuotaHosts {
			status = http.StatusForbidden
		}
		c.JSON(status, gin.H{"error": qerr.Error()})
		return
	}

	logger.WithOrg(orgID).Error().Err(err).Msg("Scan ingestion failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to ingest scan"})
}

// ListHosts returns the org's hosts, most recently scanned first
// @Summary     List hosts
// @Tags        Hosts
// @Produce     json
// @Success     200  {array}  models.Host
// @Router      /api/v1/hosts [get]
func (h *Handlers) ListHosts(c *gin.Context) {
	orgID := middleware.OrgID(c)

	hosts, err := h.storage.ListHosts(orgID)
	if err != nil {
		logger.WithOrg(orgID).Error().Err(err).Msg("Failed to list hosts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list hosts"})
		return
	}

	c.JSON(http.StatusOK, hosts)
}

// GetHost returns one host by id
// @Summary     Get host
// @Tags        Hosts
// @Produce     json
// @Param       id  path  string  true  "Host ID"
// @Success     200  {object}  models.Host
// @Failure     404  {object}  map[string]string
// @Router      /api/v1/hosts/{id} [get]
func (h *Handlers) GetHost(c *gin.Context) {
	orgID := middleware.OrgID(c)

	host, err := h.storage.GetHost(c.Param("id"), orgID)
	if err != nil {
		if err == storage.ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "host not found"})
			return
		}
		logger.WithOrg(orgID).Error().Err(err).Msg("Failed to get host")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get host"})
		return
	}

	c.JSON(http.StatusOK, host)
}

// DeleteHost removes a host and its scan history
// @Summary     Delete host
// @Tags        Hosts
// @Param       id  path  string  true  "Host ID"
// @Success     204
// @Failure     404  {object}  map[string]string
// @Router      /api/v1/hosts/{id} [delete]
func (h *Handlers) DeleteHost(c *gin.Context) {
	orgID := middleware.OrgID(c)
	hostID := c.Param("id")

	if err := h.storage.DeleteHost(hostID, orgID); err != nil {
		if err == storage.ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "host not found"})
			return
		}
		logger.WithOrg(orgID).Error().Err(err).Msg("Failed to delete host")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete host"})
		return
	}

	logger.WithHost(orgID, hostID).Info().Msg("Host deleted")
	c.Status(http.StatusNoContent)
}

// ListHostScans returns a host's scan history, newest first
// @Summary     List scans for a host
// @Tags        Scans
// @Produce     json
// @Param       id     path   string  true   "Host ID"
// @Param       limit  query  int     false  "Max scans to return"
// @Success     200  {array}  models.Scan
// @Router      /api/v1/hosts/{id}/scans [get]
func (h *Handlers) ListHostScans(c *gin.Context) {
	orgID := middleware.OrgID(c)
	hostID := c.Param("id")

	if _, err := h.storage.GetHost(hostID, orgID); err != nil {
		if err == storage.ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "host not found"})
			return
		}
		logger.WithOrg(orgID).Error().Err(err).Msg("Failed to get host")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list scans"})
		return
	}

	scans, err := h.storage.ListScans(hostID, orgID, queryLimit(c, 50))
	if err != nil {
		logger.WithOrg(orgID).Error().Err(err).Msg("Failed to list scans")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list scans"})
		return
	}

	c.JSON(http.StatusOK, scans)
}

// GetScanChecks returns the check results of one scan
// @Summary     List checks for a scan
// @Tags        Scans
// @Produce     json
// @Param       id  path  string  true  "Scan ID"
// @Success     200  {array}  models.Check
// @Router      /api/v1/scans/{id}/checks [get]
func (h *Handlers) GetScanChecks(c *gin.Context) {
	orgID := middleware.OrgID(c)

	checks, err := h.storage.GetChecks(c.Param("id"))
	if err != nil {
		logger.WithOrg(orgID).Error().Err(err).Msg("Failed to get checks")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get checks"})
		return
	}

	c.JSON(http.StatusOK, checks)
}

// ListEvents returns the org's audit trail, newest first
// @Summary     List audit events
// @Tags        Events
// @Produce     json
// @Param       type   query  string  false  "Filter by event type"
// @Param       limit  query  int     false  "Max events to return"
// @Success     200  {array}  models.Event
// @Router      /api/v1/events [get]
func (h *Handlers) ListEvents(c *gin.Context) {
	orgID := middleware.OrgID(c)

	events, err := h.storage.ListEvents(orgID, c.Query("type"), queryLimit(c, 100))
	if err != nil {
		logger.WithOrg(orgID).Error().Err(err).Msg("Failed to list events")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list events"})
		return
	}

	c.JSON(http.StatusOK, events)
}

// GetCredits returns the org's remaining scan credits
// @Summary     Get credit status
// @Tags        Credits
// @Produce     json
// @Success     200  {object}  models.CreditStatus
// @Router      /api/v1/credits [get]
func (h *Handlers) GetCredits(c *gin.Context) {
	orgID := middleware.OrgID(c)

	status, err := h.ledger.Peek(orgID)
	if err != nil {
		logger.WithOrg(orgID).Error().Err(err).Msg("Failed to read credit status")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read credits"})
		return
	}

	c.JSON(http.StatusOK, status)
}

// queryLimit parses the limit query parameter with a default cap
func queryLimit(c *gin.Context, fallback int) int {
	raw := c.Query("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return fallback
	}
	if limit > 500 {
		limit = 500
	}
	return limit
}
