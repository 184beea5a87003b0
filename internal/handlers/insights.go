package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"clawkeeper/internal/logger"
	"clawkeeper/internal/middleware"
	"clawkeeper/internal/models"
	"clawkeeper/internal/storage"
)

// ListInsights returns the org's insights, open ones by default
// @Summary     List insights
// @Tags        Insights
// @Produce     json
// @Param       include_resolved  query  bool  false  "Include resolved insights"
// @Param       limit             query  int   false  "Max insights to return"
// @Success     200  {array}  models.Insight
// @Router      /api/v1/insights [get]
func (h *Handlers) ListInsights(c *gin.Context) {
	orgID := middleware.OrgID(c)
	includeResolved := c.Query("include_resolved") == "true"

	insights, err := h.storage.ListInsights(orgID, includeResolved, queryLimit(c, 100))
	if err != nil {
		logger.WithOrg(orgID).Error().Err(err).Msg("Failed to list insights")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list insights"})
		return
	}

	c.JSON(http.StatusOK, insights)
}

// RefreshStaleHostInsights runs the stale host analyzer for the org
// @Summary     Refresh stale host insights
// @Tags        Insights
// @Success     202
// @Router      /api/v1/insights/refresh [post]
func (h *Handlers) RefreshStaleHostInsights(c *gin.Context) {
	orgID := middleware.OrgID(c)

	h.insights.AnalyzeStaleHosts(orgID)
	c.Status(http.StatusAccepted)
}

// notificationSettingsRequest is the upsert body for notification settings
type notificationSettingsRequest struct {
	EmailEnabled      bool   `json:"email_enabled"`
	EmailAddress      string `json:"email_address"`
	WebhookEnabled    bool   `json:"webhook_enabled"`
	WebhookURL        string `json:"webhook_url"`
	WebhookSecret     string `json:"webhook_secret"`
	NotifyOnGradeDrop bool   `json:"notify_on_grade_drop"`
	NotifyOnCritical  bool   `json:"notify_on_critical"`
	NotifyOnNewHost   bool   `json:"notify_on_new_host"`
}

// GetNotificationSettings returns the org's notification settings
// @Summary     Get notification settings
// @Tags        Notifications
// @Produce     json
// @Success     200  {object}  models.NotificationSettings
// @Router      /api/v1/notifications/settings [get]
func (h *Handlers) GetNotificationSettings(c *gin.Context) {
	orgID := middleware.OrgID(c)

	settings, err := h.storage.GetNotificationSettings(orgID)
	if err != nil {
		if err == storage.ErrNotFound {
			c.JSON(http.StatusOK, &models.NotificationSettings{OrgID: orgID})
			return
		}
		logger.WithOrg(orgID).Error().Err(err).Msg("Failed to get notification settings")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get notification settings"})
		return
	}

	c.JSON(http.StatusOK, settings)
}

// UpdateNotificationSettings upserts the org's notification settings
// @Summary     Update notification settings
// @Tags        Notifications
// @Accept      json
// @Produce     json
// @Success     200  {object}  models.NotificationSettings
// @Failure     400  {object}  map[string]string
// @Router      /api/v1/notifications/settings [put]
func (h *Handlers) UpdateNotificationSettings(c *gin.Context) {
	orgID := middleware.OrgID(c)

	var req notificationSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.EmailEnabled && req.EmailAddress == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email_address is required when email is enabled"})
		return
	}
	if req.WebhookEnabled && req.WebhookURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "webhook_url is required when webhook is enabled"})
		return
	}

	settings := &models.NotificationSettings{
		OrgID:             orgID,
		EmailEnabled:      req.EmailEnabled,
		EmailAddress:      req.EmailAddress,
		WebhookEnabled:    req.WebhookEnabled,
		WebhookURL:        req.WebhookURL,
		WebhookSecret:     req.WebhookSecret,
		NotifyOnGradeDrop: req.NotifyOnGradeDrop,
		NotifyOnCritical:  req.NotifyOnCritical,
		NotifyOnNewHost:   req.NotifyOnNewHost,
	}
	if err := h.storage.UpsertNotificationSettings(settings); err != nil {
		logger.WithOrg(orgID).Error().Err(err).Msg("Failed to update notification settings")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update notification settings"})
		return
	}

	c.JSON(http.StatusOK, settings)
}
