package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/consult-session-go/internal/audit"
	apperrors "github.com/openclaw/consult-session-go/internal/errors"
	"github.com/openclaw/consult-session-go/internal/metrics"
	"github.com/openclaw/consult-session-go/internal/model"
	"github.com/openclaw/consult-session-go/internal/sse"
)

// CompleteSession bills and closes a session on request. Completing an
// already completed session returns it unchanged.
func (s *SessionService) CompleteSession(ctx context.Context, sessionID string) (*model.Session, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	switch session.Status {
	case model.SessionStatusCompleted:
		return session, nil
	case model.SessionStatusActive, model.SessionStatusPaused:
	default:
		return nil, apperrors.InvalidState("complete", session.Status)
	}

	return s.finalize(ctx, session, metrics.SourceManual)
}

// ExpireSession is the timer's completion path. It only bills a session that
// is still active and whose countdown is really exhausted, so an extension
// that lands between the worker's decrement and this call wins.
func (s *SessionService) ExpireSession(ctx context.Context, sessionID string) (*model.Session, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != model.SessionStatusActive {
		return session, nil
	}

	if !s.exhausted(ctx, session) {
		log.Info().Str("sessionId", session.ID).Msg("expiry skipped, countdown replenished")
		return session, nil
	}

	return s.finalize(ctx, session, metrics.SourceTimer)
}

func (s *SessionService) exhausted(ctx context.Context, session *model.Session) bool {
	v, ok, err := s.cache.Get(ctx, session.ID)
	if err == nil && ok {
		return v <= 0
	}
	if err != nil {
		log.Warn().Err(err).Str("sessionId", session.ID).Msg("countdown unreadable, using record")
	}
	return session.RemainingSeconds(s.now()) <= 0
}

// finalize bills actual elapsed wall-clock time, independent of whatever the
// countdown said, then tears down cache entries and the room.
func (s *SessionService) finalize(ctx context.Context, session *model.Session, source string) (*model.Session, error) {
	now := s.now()

	var duration int64
	if session.Status == model.SessionStatusPaused {
		duration = session.BudgetSeconds() - s.pausedRemaining(ctx, session)
		if duration < 0 {
			duration = 0
		}
	} else {
		duration = session.ElapsedSeconds(now)
	}

	// Keep endTime - startTime equal to the billed duration so a grace
	// reactivation can rebuild the budget from the record.
	startTime := now.Add(-time.Duration(duration) * time.Second)
	session.StartTime = &startTime
	session.Status = model.SessionStatusCompleted
	session.EndTime = &now
	session.PausedAt = nil
	session.TotalDurationSeconds = duration
	session.TotalAmountMinor = session.ChargeFor(duration)

	if err := s.sessionRepo.Save(ctx, session); err != nil {
		return nil, apperrors.Database(err)
	}

	if err := s.cache.Clear(ctx, session.ID); err != nil {
		log.Warn().Err(err).Str("sessionId", session.ID).Msg("failed to clear countdown")
	}
	s.teardownRoom(ctx, session)

	metrics.RecordCompletion(source)
	audit.Log(ctx, audit.Event{
		Type:      audit.EventSessionCompleted,
		SessionID: session.ID,
		Details: map[string]any{
			"source":               source,
			"totalDurationSeconds": session.TotalDurationSeconds,
			"totalAmountMinor":     session.TotalAmountMinor,
		},
	})

	log.Info().
		Str("sessionId", session.ID).
		Str("source", source).
		Int64("totalDurationSeconds", session.TotalDurationSeconds).
		Int64("totalAmountMinor", session.TotalAmountMinor).
		Msg("session completed")

	s.emit(ctx, session, sse.EventEnded, sse.EndedData{
		SessionID:            session.ID,
		TotalDurationSeconds: session.TotalDurationSeconds,
		TotalAmountMinor:     session.TotalAmountMinor,
	})

	return session, nil
}
