package service

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/consult-session-go/internal/audit"
	apperrors "github.com/openclaw/consult-session-go/internal/errors"
	"github.com/openclaw/consult-session-go/internal/metrics"
	"github.com/openclaw/consult-session-go/internal/model"
	"github.com/openclaw/consult-session-go/internal/repository"
	"github.com/openclaw/consult-session-go/internal/sse"
)

type ExtendInput struct {
	SessionID   string `json:"-"`
	PaymentRef  string `json:"paymentRef"`
	AmountMinor int64  `json:"amountMinor"`
	// AddedSeconds defaults to the session's extension unit when zero.
	AddedSeconds int64 `json:"addedSeconds,omitempty"`
}

type ExtendResult struct {
	Session          *model.Session    `json:"session"`
	Transaction      model.Transaction `json:"transaction"`
	RemainingSeconds int64             `json:"remainingSeconds"`
	Duplicate        bool              `json:"duplicate"`
	Reactivated      bool              `json:"reactivated"`
}

// ExtendSession credits paid time to a session. A payment reference is
// credited at most once; replays return the original transaction.
func (s *SessionService) ExtendSession(ctx context.Context, in ExtendInput) (*ExtendResult, error) {
	in.PaymentRef = strings.TrimSpace(in.PaymentRef)
	if in.PaymentRef == "" {
		return nil, apperrors.MissingRequired("paymentRef")
	}
	if in.AmountMinor < 0 {
		return nil, apperrors.InvalidInput("amountMinor", "must not be negative")
	}
	if in.AddedSeconds < 0 {
		return nil, apperrors.InvalidInput("addedSeconds", "must not be negative")
	}

	unlock := s.locks.Lock(in.SessionID)
	defer unlock()

	session, err := s.load(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}

	if prior, ok := session.Transactions.Find(in.PaymentRef); ok {
		metrics.RecordExtension(metrics.ExtensionDuplicate)
		audit.Log(ctx, audit.Event{
			Type:       audit.EventExtensionDuplicate,
			SessionID:  session.ID,
			PaymentRef: in.PaymentRef,
		})
		log.Info().
			Str("sessionId", session.ID).
			Str("paymentRef", in.PaymentRef).
			Msg("duplicate extension ignored")
		return &ExtendResult{
			Session:          session,
			Transaction:      *prior,
			RemainingSeconds: s.remaining(ctx, session),
			Duplicate:        true,
		}, nil
	}

	added := in.AddedSeconds
	if added == 0 {
		added = session.ExtensionDurationSeconds
	}
	if added <= 0 {
		return nil, apperrors.ValidationError("session has no default extension duration; addedSeconds is required")
	}

	now := s.now()
	reactivated := false
	if session.Status == model.SessionStatusCompleted {
		if !session.WithinGrace(now) || session.StartTime == nil {
			metrics.RecordExtension(metrics.ExtensionExpired)
			audit.Log(ctx, audit.Event{
				Type:       audit.EventExtensionRejected,
				SessionID:  session.ID,
				PaymentRef: in.PaymentRef,
				Details:    map[string]any{"reason": "grace period elapsed"},
			})
			return nil, apperrors.SessionExpired()
		}
		// Shift startTime by the completed dwell so it is not billed as elapsed.
		dwell := now.Sub(*session.EndTime)
		shifted := session.StartTime.Add(dwell)
		session.StartTime = &shifted
		session.EndTime = nil
		session.Status = model.SessionStatusActive
		session.TotalDurationSeconds = 0
		session.TotalAmountMinor = 0
		reactivated = true
	}

	if session.Status != model.SessionStatusActive {
		return nil, apperrors.InvalidState("extend", session.Status)
	}

	tx := model.Transaction{
		PaymentRef:   in.PaymentRef,
		AmountMinor:  in.AmountMinor,
		AddedSeconds: added,
		Timestamp:    now,
	}
	session.Transactions = append(session.Transactions, tx)
	session.ExtendedDurationSeconds += added

	var remaining int64
	incremented := false
	if !reactivated {
		// Atomic increment so a concurrent timer decrement is never lost.
		remaining, incremented, err = s.cache.IncrementIfPresent(ctx, session.ID, added)
		if err != nil {
			log.Warn().Err(err).Str("sessionId", session.ID).Msg("failed to increment countdown")
			incremented = false
		}
	}

	if err := s.sessionRepo.Save(ctx, session); err != nil {
		if incremented {
			if _, _, rbErr := s.cache.IncrementIfPresent(ctx, session.ID, -added); rbErr != nil {
				log.Error().Err(rbErr).Str("sessionId", session.ID).Msg("failed to roll back countdown increment")
			}
		}
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperrors.Conflict("an open session already exists for this job")
		}
		return nil, apperrors.Database(err)
	}

	if !incremented {
		// Missing counter: the record now carries the extension, rebuild from it.
		remaining = session.RemainingSeconds(now)
		seeded, err := s.cache.SeedIfAbsent(ctx, session.ID, remaining)
		if err != nil {
			log.Warn().Err(err).Str("sessionId", session.ID).Msg("failed to seed countdown")
		} else if !seeded {
			if v, ok, err := s.cache.Get(ctx, session.ID); err == nil && ok {
				remaining = v
			}
		}
	}

	if reactivated {
		metrics.RecordExtension(metrics.ExtensionReactivated)
		audit.Log(ctx, audit.Event{Type: audit.EventSessionReactivated, SessionID: session.ID})
	} else {
		metrics.RecordExtension(metrics.ExtensionCredited)
	}
	audit.Log(ctx, audit.Event{
		Type:       audit.EventExtensionCredited,
		SessionID:  session.ID,
		PaymentRef: in.PaymentRef,
		Details: map[string]any{
			"addedSeconds": added,
			"amountMinor":  in.AmountMinor,
			"reactivated":  reactivated,
		},
	})

	log.Info().
		Str("sessionId", session.ID).
		Str("paymentRef", in.PaymentRef).
		Int64("addedSeconds", added).
		Int64("remainingSeconds", remaining).
		Bool("reactivated", reactivated).
		Msg("session extended")

	s.emit(ctx, session, sse.EventExtended, sse.ExtendedData{
		SessionID:        session.ID,
		RemainingSeconds: remaining,
		AddedSeconds:     added,
	})

	return &ExtendResult{
		Session:          session,
		Transaction:      tx,
		RemainingSeconds: remaining,
		Reactivated:      reactivated,
	}, nil
}
