package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"clawkeeper/internal/logger"
	"clawkeeper/internal/metrics"
	"clawkeeper/internal/middleware"
	"clawkeeper/internal/models"
	"clawkeeper/internal/storage"
)

// agentEventTypes is the closed set of lifecycle events an agent may report.
// shield.* events are emitted by the shield collaborator, not through this
// endpoint.
var agentEventTypes = []string{
	models.EventAgentInstalled,
	models.EventAgentStarted,
	models.EventAgentStopped,
	models.EventAgentRemoved,
}

var agentEventTitles = map[string]func(hostname string) string{
	models.EventAgentInstalled: func(h string) string { return "Agent installed on " + h },
	models.EventAgentStarted:   func(h string) string { return "Agent scan started on " + h },
	models.EventAgentStopped:   func(h string) string { return "Agent scan finished on " + h },
	models.EventAgentRemoved:   func(h string) string { return "Agent uninstalled from " + h },
}

type agentEventRequest struct {
	EventType string `json:"event_type"`
	Hostname  string `json:"hostname"`
}

// RecordAgentEvent appends an agent lifecycle event to the audit trail. The
// host reference is resolved by hostname and left empty when the host is not
// registered yet, which happens for agent.installed before the first scan.
// @Summary     Record agent lifecycle event
// @Tags        Events
// @Accept      json
// @Produce     json
// @Param       event  body  agentEventRequest  true  "Agent event"
// @Success     200  {object}  map[string]bool
// @Failure     400  {object}  map[string]string
// @Router      /api/v1/events [post]
func (h *Handlers) RecordAgentEvent(c *gin.Context) {
	orgID := middleware.OrgID(c)

	var req agentEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
		return
	}

	titleFn, known := agentEventTitles[req.EventType]
	if !known {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid event_type. Must be one of: " + strings.Join(agentEventTypes, ", "),
		})
		return
	}

	if req.Hostname == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "hostname is required"})
		return
	}

	hostID := ""
	host, err := h.storage.GetHostByHostname(orgID, req.Hostname)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		logger.WithOrg(orgID).Error().Err(err).Msg("Failed to resolve host for agent event")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record event"})
		return
	}
	if host != nil {
		hostID = host.ID
	}

	detail, _ := json.Marshal(map[string]string{"hostname": req.Hostname})
	event := &models.Event{
		OrgID:     orgID,
		HostID:    hostID,
		EventType: req.EventType,
		Title:     titleFn(req.Hostname),
		Detail:    detail,
		Actor:     models.ActorAgent,
	}

	if err := h.storage.CreateEvent(event); err != nil {
		logger.WithOrg(orgID).Error().Err(err).Msg("Failed to record agent event")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record event"})
		return
	}
	metrics.AuditEventsTotal.WithLabelValues(event.EventType).Inc()

	c.JSON(http.StatusOK, gin.H{"ok": true})
}
