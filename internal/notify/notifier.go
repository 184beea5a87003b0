package notify

import (
	"context"
	"sync"
	"time"

	"clawkeeper/internal/logger"
	"clawkeeper/internal/metrics"
	"clawkeeper/internal/models"
)

// SendTimeout bounds a single delivery attempt. There are no retries: a
// notification that cannot be delivered within the window is logged and
// dropped.
const SendTimeout = 10 * time.Second

// Message is one rendered notification, shared by all channels.
type Message struct {
	Event       string            `json:"event"`
	Severity    string            `json:"severity"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Remediation string            `json:"remediation,omitempty"`
	Hostname    string            `json:"hostname,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// Notifier delivers a message over one channel
type Notifier interface {
	Name() string
	Send(ctx context.Context, msg *Message) error
}

// Dispatcher fans a message out to an organization's configured channels.
// Channels are independent: they run in parallel and one failing never
// blocks or cancels another.
type Dispatcher struct {
	email *EmailNotifier // nil when SMTP is not configured
}

// NewDispatcher creates a dispatcher. email may be nil to disable the
// email channel globally.
func NewDispatcher(email *EmailNotifier) *Dispatcher {
	return &Dispatcher{email: email}
}

// channelsFor assembles the notifiers enabled by an organization's settings.
func (d *Dispatcher) channelsFor(settings *models.NotificationSettings) []Notifier {
	var channels []Notifier

	if settings.WebhookEnabled && settings.WebhookURL != "" {
		channels = append(channels, NewWebhookNotifier(settings.WebhookURL, settings.WebhookSecret))
	}
	if d.email != nil && settings.EmailEnabled && settings.EmailAddress != "" {
		channels = append(channels, d.email.To(settings.EmailAddress))
	}

	return channels
}

// Dispatch delivers msg to every enabled channel and waits for all attempts
// to finish. Failures are logged and counted, never returned: by the time a
// notification is dispatched the triggering scan is already persisted.
func (d *Dispatcher) Dispatch(orgID string, settings *models.NotificationSettings, msg *Message) {
	if settings == nil {
		return
	}

	channels := d.channelsFor(settings)
	if len(channels) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, channel := range channels {
		wg.Add(1)
		go func(n Notifier) {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), SendTimeout)
			defer cancel()

			if err := n.Send(ctx, msg); err != nil {
				metrics.NotificationsTotal.WithLabelValues(n.Name(), "error").Inc()
				logger.WithOrg(orgID).Error().Err(err).
					Str("channel", n.Name()).
					Str("event", msg.Event).
					Msg("Notification delivery failed")
				return
			}

			metrics.NotificationsTotal.WithLabelValues(n.Name(), "ok").Inc()
			logger.WithOrg(orgID).Debug().
				Str("channel", n.Name()).
				Str("event", msg.Event).
				Msg("Notification delivered")
		}(channel)
	}
	wg.Wait()
}
