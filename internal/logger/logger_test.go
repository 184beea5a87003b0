package logger

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func captureLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	prev := Logger
	t.Cleanup(func() { Logger = prev })

	var buf bytes.Buffer
	Logger = zerolog.New(&buf)
	return &buf
}

func TestWithOrgScopesLogger(t *testing.T) {
	buf := captureLogger(t)

	WithOrg("org-1").Error().Msg("scan failed")

	out := buf.String()
	assert.Contains(t, out, `"org_id":"org-1"`)
	assert.Contains(t, out, `"level":"error"`)
	assert.Contains(t, out, "scan failed")
}

func TestWithOrgEmptyIDOmitsField(t *testing.T) {
	buf := captureLogger(t)

	WithOrg("").Info().Msg("no org")

	assert.NotContains(t, buf.String(), "org_id")
}

func TestWithHostScopesLogger(t *testing.T) {
	buf := captureLogger(t)

	WithHost("org-1", "host-7").Info().Msg("host deleted")

	out := buf.String()
	assert.Contains(t, out, `"org_id":"org-1"`)
	assert.Contains(t, out, `"host_id":"host-7"`)
}
