package notify

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage() *Message {
	return &Message{
		Event:       "alert.grade_drop",
		Severity:    "high",
		Title:       "Grade dropped on web-01",
		Description: "Grade changed from B to D",
		Hostname:    "web-01",
		Timestamp:   time.Now().UTC(),
	}
}

func TestWebhookSendSignsBody(t *testing.T) {
	const secret = "whsec_test"

	var gotBody []byte
	var gotSignature, gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSignature = r.Header.Get("X-Signature")
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL, secret)
	require.NoError(t, notifier.Send(context.Background(), testMessage()))

	assert.Equal(t, "application/json", gotContentType)

	// Receiver-side verification: strip the scheme prefix, recompute
	require.True(t, len(gotSignature) > len("sha256="))
	assert.Equal(t, "sha256=", gotSignature[:7])
	expected := Sign(secret, gotBody)
	assert.True(t, hmac.Equal([]byte(expected), []byte(gotSignature[7:])))

	var decoded Message
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, "alert.grade_drop", decoded.Event)
	assert.Equal(t, "web-01", decoded.Hostname)
}

func TestWebhookSendWithoutSecretOmitsSignature(t *testing.T) {
	var gotSignature string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("X-Signature")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL, "")
	require.NoError(t, notifier.Send(context.Background(), testMessage()))
	assert.Empty(t, gotSignature)
}

func TestWebhookSendNon2xxFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL, "secret")
	err := notifier.Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestWebhookSendUnreachableEndpoint(t *testing.T) {
	notifier := NewWebhookNotifier("http://127.0.0.1:1/hook", "secret")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.Error(t, notifier.Send(ctx, testMessage()))
}
