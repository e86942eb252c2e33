package sse

import (
	"encoding/json"
	"time"
)

// Session lifecycle event types.
const (
	EventStarted   = "started"
	EventPaused    = "paused"
	EventResumed   = "resumed"
	EventExtended  = "extended"
	EventWarning   = "warning"
	EventEnded     = "ended"
	EventCancelled = "cancelled"
)

type StartedData struct {
	SessionID        string    `json:"sessionId"`
	StartTime        time.Time `json:"startTime"`
	RemainingSeconds int64     `json:"remainingSeconds"`
}

type PausedData struct {
	SessionID string `json:"sessionId"`
}

type ResumedData struct {
	SessionID        string `json:"sessionId"`
	RemainingSeconds int64  `json:"remainingSeconds"`
}

type ExtendedData struct {
	SessionID        string `json:"sessionId"`
	RemainingSeconds int64  `json:"remainingSeconds"`
	AddedSeconds     int64  `json:"addedSeconds"`
}

type WarningData struct {
	SessionID        string `json:"sessionId"`
	RemainingSeconds int64  `json:"remainingSeconds"`
}

type EndedData struct {
	SessionID            string `json:"sessionId"`
	TotalDurationSeconds int64  `json:"totalDurationSeconds"`
	TotalAmountMinor     int64  `json:"totalAmountMinor"`
}

type CancelledData struct {
	SessionID string `json:"sessionId"`
}

// NewEvent encodes data as the payload of an event of the given type.
func NewEvent(eventType string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Data: raw}, nil
}
