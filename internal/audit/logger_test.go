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
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func TestLog(t *testing.T) {
	buf := captureLog(t)

	Log(context.Background(), Event{
		Type:       EventExtensionCredited,
		SessionID:  "sess-1",
		PaymentRef: "pay-1",
		Details: map[string]any{
			"addedSeconds": int64(300),
			"reactivated":  false,
		},
	})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "billing", line["audit"])
	assert.Equal(t, "extension_credited", line["eventType"])
	assert.Equal(t, "sess-1", line["sessionId"])
	assert.Equal(t, "pay-1", line["paymentRef"])
	assert.Equal(t, float64(300), line["addedSeconds"])
	assert.Equal(t, false, line["reactivated"])
	assert.NotContains(t, line, "ip")
}

func TestLogFromRequest(t *testing.T) {
	buf := captureLog(t)

	req := httptest.NewRequest("GET", "/v1/sessions", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	req.Header.Set("User-Agent", "payments/1.0")
	LogFromRequest(req, Event{Type: EventAuthFailure})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "auth_failure", line["eventType"])
	assert.Equal(t, "10.0.0.7:5555", line["ip"])
	assert.Equal(t, "payments/1.0", line["userAgent"])
}
