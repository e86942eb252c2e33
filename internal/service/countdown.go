package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/consult-session-go/internal/model"
)

type HealOutcome int

const (
	// HealSkipped means the session is gone or no longer active.
	HealSkipped HealOutcome = iota
	// HealPresent means a countdown already existed; nothing was written.
	HealPresent
	// HealSeeded means the countdown was rebuilt from the record.
	HealSeeded
	// HealPlaceholder means the budget was spent and a placeholder was seeded.
	HealPlaceholder
	// HealExpired means the budget was spent and the caller should complete.
	HealExpired
)

type HealResult struct {
	Outcome          HealOutcome
	RemainingSeconds int64
}

// HealCountdown rebuilds a missing countdown from the session record. When the
// budget is already spent it seeds placeholder seconds if placeholder > 0, and
// otherwise reports HealExpired without touching the cache.
func (s *SessionService) HealCountdown(ctx context.Context, sessionID string, placeholder int64) (HealResult, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return HealResult{}, err
	}
	if session == nil || session.Status != model.SessionStatusActive {
		return HealResult{Outcome: HealSkipped}, nil
	}

	remaining := session.RemainingSeconds(s.now())
	outcome := HealSeeded
	if remaining <= 0 {
		if placeholder <= 0 {
			return HealResult{Outcome: HealExpired}, nil
		}
		remaining = placeholder
		outcome = HealPlaceholder
	}

	seeded, err := s.cache.SeedIfAbsent(ctx, session.ID, remaining)
	if err != nil {
		return HealResult{}, err
	}
	if !seeded {
		return HealResult{Outcome: HealPresent}, nil
	}

	log.Info().
		Str("sessionId", session.ID).
		Int64("remainingSeconds", remaining).
		Bool("placeholder", outcome == HealPlaceholder).
		Msg("countdown reseeded from record")

	return HealResult{Outcome: outcome, RemainingSeconds: remaining}, nil
}
