// Package audit writes the billing and access audit trail as tagged log lines
// so it can be shipped and retained separately from operational logs.
package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventSessionCompleted   EventType = "session_completed"
	EventSessionCancelled   EventType = "session_cancelled"
	EventSessionReactivated EventType = "session_reactivated"
	EventExtensionCredited  EventType = "extension_credited"
	EventExtensionDuplicate EventType = "extension_duplicate"
	EventExtensionRejected  EventType = "extension_rejected"
	EventAuthFailure        EventType = "auth_failure"
)

type Event struct {
	Type       EventType
	SessionID  string
	PaymentRef string
	IP         string
	UserAgent  string
	Details    map[string]any
}

func Log(ctx context.Context, event Event) {
	logger := log.With().
		Str("audit", "billing").
		Str("eventType", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.SessionID != "" {
		logger = logger.With().Str("sessionId", event.SessionID).Logger()
	}
	if event.PaymentRef != "" {
		logger = logger.With().Str("paymentRef", event.PaymentRef).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}
	if event.UserAgent != "" {
		logger = logger.With().Str("userAgent", event.UserAgent).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("audit event")
}

func addField(e *zerolog.Event, key string, value any) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = r.RemoteAddr
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}
