package notify

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"clawkeeper/internal/models"
)

func TestDispatchDeliversToEnabledWebhook(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dispatcher := NewDispatcher(nil)
	settings := &models.NotificationSettings{
		OrgID:          "org-1",
		WebhookEnabled: true,
		WebhookURL:     server.URL,
		WebhookSecret:  "secret",
	}

	dispatcher.Dispatch("org-1", settings, testMessage())
	assert.Equal(t, int32(1), hits.Load())
}

func TestDispatchSkipsDisabledChannels(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	dispatcher := NewDispatcher(nil)
	settings := &models.NotificationSettings{
		OrgID:          "org-1",
		WebhookEnabled: false,
		WebhookURL:     server.URL,
		EmailEnabled:   true, // no SMTP configured, channel unavailable
		EmailAddress:   "owner@acme.test",
	}

	dispatcher.Dispatch("org-1", settings, testMessage())
	assert.Equal(t, int32(0), hits.Load())
}

func TestDispatchNilSettingsIsNoop(t *testing.T) {
	dispatcher := NewDispatcher(nil)
	assert.NotPanics(t, func() {
		dispatcher.Dispatch("org-1", nil, testMessage())
	})
}

func TestDispatchFailureDoesNotPanic(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	dispatcher := NewDispatcher(nil)
	settings := &models.NotificationSettings{
		OrgID:          "org-1",
		WebhookEnabled: true,
		WebhookURL:     server.URL,
	}

	assert.NotPanics(t, func() {
		dispatcher.Dispatch("org-1", settings, testMessage())
	})
}
