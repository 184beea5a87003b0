package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"clawkeeper/internal/logger"
	"clawkeeper/internal/middleware"
	"clawkeeper/internal/models"
	"clawkeeper/internal/storage"
)

// alertRuleRequest is the create/update body for alert rules
type alertRuleRequest struct {
	Name     string                 `json:"name" binding:"required"`
	RuleType string                 `json:"rule_type" binding:"required"`
	Config   models.AlertRuleConfig `json:"config"`
	Enabled  *bool                  `json:"enabled"`
}

func (r *alertRuleRequest) validate() string {
	switch r.RuleType {
	case models.RuleGradeDrop:
		return ""
	case models.RuleScoreBelow:
		if r.Config.Threshold < 1 || r.Config.Threshold > 100 {
			return "score_below rules need a threshold between 1 and 100"
		}
		return ""
	case models.RuleCheckFail:
		if r.Config.CheckName == "" {
			return "check_fail rules need a check_name to match"
		}
		return ""
	default:
		return "rule_type must be one of grade_drop, score_below, check_fail"
	}
}

// CreateAlertRule creates an alert rule
// @Summary     Create alert rule
// @Tags        Alerts
// @Accept      json
// @Produce     json
// @Success     201  {object}  models.AlertRule
// @Failure     400  {object}  map[string]string
// @Router      /api/v1/alerts/rules [post]
func (h *Handlers) CreateAlertRule(c *gin.Context) {
	orgID := middleware.OrgID(c)

	var req alertRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if msg := req.validate(); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	rule := &models.AlertRule{
		OrgID:    orgID,
		Name:     req.Name,
		RuleType: req.RuleType,
		Config:   req.Config,
		Enabled:  enabled,
	}
	if err := h.storage.CreateAlertRule(rule); err != nil {
		logger.WithOrg(orgID).Error().Err(err).Msg("Failed to create alert rule")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create alert rule"})
		return
	}

	c.JSON(http.StatusCreated, rule)
}

// UpdateAlertRule updates an alert rule
// @Summary     Update alert rule
// @Tags        Alerts
// @Accept      json
// @Produce     json
// @Param       id  path  string  true  "Rule ID"
// @Success     200  {object}  models.AlertRule
// @Failure     404  {object}  map[string]string
// @Router      /api/v1/alerts/rules/{id} [put]
func (h *Handlers) UpdateAlertRule(c *gin.Context) {
	orgID := middleware.OrgID(c)

	var req alertRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if msg := req.validate(); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	rule := &models.AlertRule{
		ID:       c.Param("id"),
		OrgID:    orgID,
		Name:     req.Name,
		RuleType: req.RuleType,
		Config:   req.Config,
		Enabled:  enabled,
	}
	if err := h.storage.UpdateAlertRule(rule); err != nil {
		if err == storage.ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "alert rule not found"})
			return
		}
		logger.WithOrg(orgID).Error().Err(err).Msg("Failed to update alert rule")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update alert rule"})
		return
	}

	c.JSON(http.StatusOK, rule)
}

// DeleteAlertRule removes an alert rule
// @Summary     Delete alert rule
// @Tags        Alerts
// @Param       id  path  string  true  "Rule ID"
// @Success     204
// @Failure     404  {object}  map[string]string
// @Router      /api/v1/alerts/rules/{id} [delete]
func (h *Handlers) DeleteAlertRule(c *gin.Context) {
	orgID := middleware.OrgID(c)

	if err := h.storage.DeleteAlertRule(c.Param("id"), orgID); err != nil {
		if err == storage.ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "alert rule not found"})
			return
		}
		logger.WithOrg(orgID).Error().Err(err).Msg("Failed to delete alert rule")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete alert rule"})
		return
	}

	c.Status(http.StatusNoContent)
}

// ListAlertRules returns the org's alert rules
// @Summary     List alert rules
// @Tags        Alerts
// @Produce     json
// @Success     200  {array}  models.AlertRule
// @Router      /api/v1/alerts/rules [get]
func (h *Handlers) ListAlertRules(c *gin.Context) {
	orgID := middleware.OrgID(c)

	rules, err := h.storage.ListAlertRules(orgID)
	if err != nil {
		logger.WithOrg(orgID).Error().Err(err).Msg("Failed to list alert rules")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list alert rules"})
		return
	}

	c.JSON(http.StatusOK, rules)
}

// ListAlertEvents returns the org's alert firings, newest first
// @Summary     List alert events
// @Tags        Alerts
// @Produce     json
// @Param       limit  query  int  false  "Max events to return"
// @Success     200  {array}  models.AlertEvent
// @Router      /api/v1/alerts/events [get]
func (h *Handlers) ListAlertEvents(c *gin.Context) {
	orgID := middleware.OrgID(c)

	events, err := h.storage.ListAlertEvents(orgID, queryLimit(c, 100))
	if err != nil {
		logger.WithOrg(orgID).Error().Err(err).Msg("Failed to list alert events")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list alert events"})
		return
	}

	c.JSON(http.StatusOK, events)
}
