package service

import (
	"context"

	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/consult-session-go/internal/errors"
	"github.com/openclaw/consult-session-go/internal/model"
	"github.com/openclaw/consult-session-go/internal/sse"
)

// PauseSession freezes the countdown of an active session. It is a no-op for
// any other status since connectivity signals can arrive out of order.
func (s *SessionService) PauseSession(ctx context.Context, sessionID string) (*model.Session, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != model.SessionStatusActive {
		log.Debug().
			Str("sessionId", session.ID).
			Str("status", string(session.Status)).
			Msg("pause ignored")
		return session, nil
	}

	now := s.now()
	// What is left right now, per the record; used when the cache has nothing.
	formulaRemaining := session.RemainingSeconds(now)

	// Record first: the timer worker selects by durable status.
	session.Status = model.SessionStatusPaused
	session.PausedAt = &now
	if err := s.sessionRepo.Save(ctx, session); err != nil {
		return nil, apperrors.Database(err)
	}

	remaining, ok, err := s.cache.SnapshotForPause(ctx, session.ID)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", session.ID).Msg("failed to snapshot countdown")
	}
	if err != nil || !ok {
		remaining = formulaRemaining
		if err := s.cache.SavePaused(ctx, session.ID, remaining); err != nil {
			log.Warn().Err(err).Str("sessionId", session.ID).Msg("failed to save paused snapshot")
		}
	}

	log.Info().
		Str("sessionId", session.ID).
		Int64("remainingSeconds", remaining).
		Msg("session paused")

	s.emit(ctx, session, sse.EventPaused, sse.PausedData{SessionID: session.ID})

	return session, nil
}

// ResumeSession restarts a paused session with the budget it had when paused.
// startTime is re-derived so the record alone still yields the right remaining.
func (s *SessionService) ResumeSession(ctx context.Context, sessionID string) (*model.Session, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != model.SessionStatusPaused {
		log.Debug().
			Str("sessionId", session.ID).
			Str("status", string(session.Status)).
			Msg("resume ignored")
		return session, nil
	}

	remaining := s.pausedRemaining(ctx, session)

	now := s.now()
	startTime := session.DeriveStartTime(now, remaining)
	session.Status = model.SessionStatusActive
	session.StartTime = &startTime
	session.PausedAt = nil
	if err := s.sessionRepo.Save(ctx, session); err != nil {
		return nil, apperrors.Database(err)
	}

	if err := s.cache.Restore(ctx, session.ID, remaining); err != nil {
		log.Warn().Err(err).Str("sessionId", session.ID).Msg("failed to restore countdown")
	}

	log.Info().
		Str("sessionId", session.ID).
		Int64("remainingSeconds", remaining).
		Time("startTime", startTime).
		Msg("session resumed")

	s.emit(ctx, session, sse.EventResumed, sse.ResumedData{
		SessionID:        session.ID,
		RemainingSeconds: remaining,
	})

	return session, nil
}
