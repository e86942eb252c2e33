package jobs

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/consult-session-go/internal/metrics"
	"github.com/openclaw/consult-session-go/internal/service"
)

type RecoveryStats struct {
	Active      int
	Reseeded    int
	Placeholder int
	Present     int
	Errors      int
}

// Recovery rebuilds countdowns lost to a cache wipe or process restart. It
// runs once before the timer worker starts and never completes sessions: an
// exhausted session gets a placeholder so the worker's normal path ends it.
type Recovery struct {
	sessions    ActiveLister
	lifecycle   Lifecycle
	placeholder int64
}

func NewRecovery(sessions ActiveLister, lifecycle Lifecycle, placeholderSeconds int64) *Recovery {
	if placeholderSeconds <= 0 {
		placeholderSeconds = 1
	}
	return &Recovery{
		sessions:    sessions,
		lifecycle:   lifecycle,
		placeholder: placeholderSeconds,
	}
}

func (r *Recovery) Run(ctx context.Context) (RecoveryStats, error) {
	var stats RecoveryStats

	sessions, err := r.sessions.ListActive(ctx)
	if err != nil {
		return stats, fmt.Errorf("list active sessions: %w", err)
	}
	stats.Active = len(sessions)

	for _, session := range sessions {
		res, err := r.lifecycle.HealCountdown(ctx, session.ID, r.placeholder)
		if err != nil {
			stats.Errors++
			log.Error().Err(err).Str("sessionId", session.ID).Msg("crash recovery failed for session")
			continue
		}

		switch res.Outcome {
		case service.HealSeeded:
			stats.Reseeded++
			metrics.RecordRecovery(metrics.RecoveryRemaining)
		case service.HealPlaceholder:
			stats.Placeholder++
			metrics.RecordRecovery(metrics.RecoveryPlaceholder)
		case service.HealPresent:
			stats.Present++
		}
	}

	log.Info().
		Int("active", stats.Active).
		Int("reseeded", stats.Reseeded).
		Int("placeholder", stats.Placeholder).
		Int("errors", stats.Errors).
		Msg("crash recovery finished")

	return stats, nil
}
