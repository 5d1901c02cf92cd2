package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	original := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = original })
	return &buf
}

func TestLog_WritesStructuredFields(t *testing.T) {
	buf := captureLog(t)

	Log(context.Background(), Event{
		Type:      EventCredentialMismatch,
		SessionID: "s-1",
		Details:   map[string]interface{}{"targetSessionId": "s-2", "attempts": 1},
	})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "security", entry["audit"])
	assert.Equal(t, "credential_mismatch", entry["event_type"])
	assert.Equal(t, "s-1", entry["session_id"])
	assert.Equal(t, "s-2", entry["targetSessionId"])
	assert.Equal(t, float64(1), entry["attempts"])
	assert.NotContains(t, entry, "staff_id")
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1:1234", ClientIP(r))

	r.Header.Set("X-Real-IP", "192.0.2.7")
	assert.Equal(t, "192.0.2.7", ClientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.2")
	assert.Equal(t, "203.0.113.5", ClientIP(r))
}
