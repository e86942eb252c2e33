package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type Session struct {
	ID          string        `db:"id" json:"id"`
	CustomerRef string        `db:"customer_ref" json:"customerRef"`
	ProviderRef string        `db:"provider_ref" json:"providerRef"`
	JobRef      *string       `db:"job_ref" json:"jobRef,omitempty"`
	RoomToken   string        `db:"room_token" json:"roomToken"`
	Status      SessionStatus `db:"status" json:"status"`
	StartTime   *time.Time    `db:"start_time" json:"startTime,omitempty"`
	EndTime     *time.Time    `db:"end_time" json:"endTime,omitempty"`
	PausedAt    *time.Time    `db:"paused_at" json:"pausedAt,omitempty"`

	BaseDurationSeconds      int64 `db:"base_duration_seconds" json:"baseDurationSeconds"`
	BasePriceMinor           int64 `db:"base_price_minor" json:"basePriceMinor"`
	ExtensionDurationSeconds int64 `db:"extension_duration_seconds" json:"extensionDurationSeconds"`
	ExtensionPriceMinor      int64 `db:"extension_price_minor" json:"extensionPriceMinor"`
	ExtendedDurationSeconds  int64 `db:"extended_duration_seconds" json:"extendedDurationSeconds"`
	GracePeriodSeconds       int64 `db:"grace_period_seconds" json:"gracePeriodSeconds"`

	Transactions Transactions `db:"transactions" json:"transactions"`

	TotalDurationSeconds int64         `db:"total_duration_seconds" json:"totalDurationSeconds"`
	TotalAmountMinor     int64         `db:"total_amount_minor" json:"totalAmountMinor"`
	PaymentStatus        PaymentStatus `db:"payment_status" json:"paymentStatus"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// RateSnapshot is the rate plan copied onto a session when it is created.
type RateSnapshot struct {
	BaseDurationSeconds      int64 `json:"baseDurationSeconds"`
	BasePriceMinor           int64 `json:"basePriceMinor"`
	ExtensionDurationSeconds int64 `json:"extensionDurationSeconds"`
	ExtensionPriceMinor      int64 `json:"extensionPriceMinor"`
	GracePeriodSeconds       int64 `json:"gracePeriodSeconds"`
}

type CreateSessionParams struct {
	CustomerRef string
	ProviderRef string
	JobRef      *string
	RoomToken   string
	Rate        RateSnapshot
}

type Transaction struct {
	PaymentRef   string    `json:"paymentRef"`
	AmountMinor  int64     `json:"amountMinor"`
	AddedSeconds int64     `json:"addedSeconds"`
	Timestamp    time.Time `json:"timestamp"`
}

// Transactions is stored as a JSONB array on the session row.
type Transactions []Transaction

func (t Transactions) Value() (driver.Value, error) {
	if t == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(t)
}

func (t *Transactions) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*t = Transactions{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("scan transactions: unsupported type %T", src)
	}
	return json.Unmarshal(data, t)
}

// Find returns the transaction recorded under paymentRef, if any.
func (t Transactions) Find(paymentRef string) (*Transaction, bool) {
	for i := range t {
		if t[i].PaymentRef == paymentRef {
			return &t[i], true
		}
	}
	return nil, false
}

// BudgetSeconds is the total billable time granted so far.
func (s *Session) BudgetSeconds() int64 {
	return s.BaseDurationSeconds + s.ExtendedDurationSeconds
}

// ElapsedSeconds is the whole seconds between startTime and now, never negative.
func (s *Session) ElapsedSeconds(now time.Time) int64 {
	if s.StartTime == nil {
		return 0
	}
	elapsed := int64(now.Sub(*s.StartTime) / time.Second)
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// RemainingSeconds applies budget minus elapsed, clamped at zero. It is the
// ground truth the countdown cache is rebuilt from.
func (s *Session) RemainingSeconds(now time.Time) int64 {
	remaining := s.BudgetSeconds() - s.ElapsedSeconds(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RemainingAtPause recomputes the budget left when the session was paused.
// ok is false when the record carries no pause marker.
func (s *Session) RemainingAtPause() (remaining int64, ok bool) {
	if s.PausedAt == nil {
		return 0, false
	}
	return s.RemainingSeconds(*s.PausedAt), true
}

// DeriveStartTime back-dates startTime so that exactly remaining seconds of
// the budget are left at now.
func (s *Session) DeriveStartTime(now time.Time, remaining int64) time.Time {
	used := s.BudgetSeconds() - remaining
	if used < 0 {
		used = 0
	}
	return now.Add(-time.Duration(used) * time.Second)
}

// WithinGrace reports whether now is still inside the grace window after endTime.
func (s *Session) WithinGrace(now time.Time) bool {
	if s.EndTime == nil {
		return false
	}
	return now.Sub(*s.EndTime) <= time.Duration(s.GracePeriodSeconds)*time.Second
}

// ChargeFor prices a duration at basePrice/baseDuration per second, rounded up.
func (s *Session) ChargeFor(durationSeconds int64) int64 {
	if s.BaseDurationSeconds <= 0 || durationSeconds <= 0 {
		return 0
	}
	num := durationSeconds * s.BasePriceMinor
	return (num + s.BaseDurationSeconds - 1) / s.BaseDurationSeconds
}

// IsParticipant reports whether identity is the customer or the provider.
func (s *Session) IsParticipant(identity string) bool {
	return identity != "" && (identity == s.CustomerRef || identity == s.ProviderRef)
}
