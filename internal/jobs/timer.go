package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/openclaw/consult-session-go/internal/config"
	"github.com/openclaw/consult-session-go/internal/countdown"
	"github.com/openclaw/consult-session-go/internal/metrics"
	"github.com/openclaw/consult-session-go/internal/model"
	"github.com/openclaw/consult-session-go/internal/service"
	"github.com/openclaw/consult-session-go/internal/sse"
)

// ActiveLister is the slice of the session store the jobs read from.
type ActiveLister interface {
	ListActive(ctx context.Context) ([]model.Session, error)
}

// Lifecycle is the slice of the session service the jobs drive.
type Lifecycle interface {
	HealCountdown(ctx context.Context, sessionID string, placeholder int64) (service.HealResult, error)
	ExpireSession(ctx context.Context, sessionID string) (*model.Session, error)
}

type TimerOptions struct {
	Interval                time.Duration
	WarningThresholdSeconds int64
	// LeaseEnabled takes a per-session Redis lease before each decrement so
	// several worker processes never tick the same session twice.
	LeaseEnabled bool
	Concurrency  int
}

type TickStats struct {
	Active      int64
	Decremented int64
	Healed      int64
	Completed   int64
	Warnings    int64
	Skipped     int64
	Errors      int64
}

// TimerWorker decrements the countdown of every active session once per tick.
type TimerWorker struct {
	sessions  ActiveLister
	cache     countdown.Cache
	lifecycle Lifecycle
	publisher service.Publisher
	opts      TimerOptions
	leaseTTL  time.Duration
	holder    string

	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

func NewTimerWorker(
	sessions ActiveLister,
	cache countdown.Cache,
	lifecycle Lifecycle,
	publisher service.Publisher,
	opts TimerOptions,
) *TimerWorker {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &TimerWorker{
		sessions:  sessions,
		cache:     cache,
		lifecycle: lifecycle,
		publisher: publisher,
		opts:      opts,
		leaseTTL:  opts.Interval * 9 / 10,
		holder:    uuid.NewString(),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

func (w *TimerWorker) Start() {
	go w.run()
	log.Info().
		Dur("interval", w.opts.Interval).
		Bool("lease", w.opts.LeaseEnabled).
		Msg("timer worker started")
}

// Stop ends the loop and waits for an in-flight tick to finish.
func (w *TimerWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		<-w.stopped
		log.Info().Msg("timer worker stopped")
	})
}

func (w *TimerWorker) run() {
	defer close(w.stopped)

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), config.TimerTickTimeout)
			w.Tick(ctx)
			cancel()
		}
	}
}

// Tick processes every active session once. A failure on one session is
// logged and never stops the others.
func (w *TimerWorker) Tick(ctx context.Context) TickStats {
	start := time.Now()
	var stats tickCounters

	sessions, err := w.sessions.ListActive(ctx)
	if err != nil {
		log.Error().Err(err).Msg("timer tick: failed to list active sessions")
		metrics.RecordTimerError("list")
		stats.errors.Add(1)
		return stats.snapshot()
	}
	stats.active.Store(int64(len(sessions)))
	metrics.ActiveSessions.Set(float64(len(sessions)))

	var g errgroup.Group
	g.SetLimit(w.opts.Concurrency)
	for i := range sessions {
		session := &sessions[i]
		g.Go(func() error {
			w.process(ctx, session, &stats)
			return nil
		})
	}
	_ = g.Wait()

	metrics.TimerTicksTotal.Inc()
	metrics.TimerTickDuration.Observe(time.Since(start).Seconds())

	return stats.snapshot()
}

func (w *TimerWorker) process(ctx context.Context, session *model.Session, stats *tickCounters) {
	if w.opts.LeaseEnabled {
		acquired, err := w.cache.AcquireTickLease(ctx, session.ID, w.holder, w.leaseTTL)
		if err != nil {
			w.fail(stats, "lease", session.ID, err)
			w.expire(ctx, session, stats)
			return
		}
		if !acquired {
			stats.skipped.Add(1)
			return
		}
	}

	remaining, ok, err := w.cache.Decrement(ctx, session.ID)
	if err != nil {
		w.fail(stats, "decrement", session.ID, err)
		// The countdown is unreadable; expiry falls back to the record and
		// leaves sessions with budget left untouched.
		w.expire(ctx, session, stats)
		return
	}

	if !ok {
		w.heal(ctx, session, stats)
		return
	}
	stats.decremented.Add(1)

	if remaining == w.opts.WarningThresholdSeconds {
		w.warn(ctx, session, remaining)
		stats.warnings.Add(1)
	}

	if remaining <= 0 {
		w.expire(ctx, session, stats)
	}
}

func (w *TimerWorker) heal(ctx context.Context, session *model.Session, stats *tickCounters) {
	res, err := w.lifecycle.HealCountdown(ctx, session.ID, 0)
	if err != nil {
		w.fail(stats, "heal", session.ID, err)
		return
	}

	switch res.Outcome {
	case service.HealSeeded:
		stats.healed.Add(1)
		metrics.TimerSelfHealTotal.Inc()
		log.Warn().
			Str("sessionId", session.ID).
			Int64("remainingSeconds", res.RemainingSeconds).
			Msg("countdown missing, reseeded from record")
	case service.HealExpired:
		w.expire(ctx, session, stats)
	}
}

func (w *TimerWorker) expire(ctx context.Context, session *model.Session, stats *tickCounters) {
	completed, err := w.lifecycle.ExpireSession(ctx, session.ID)
	if err != nil {
		w.fail(stats, "complete", session.ID, err)
		return
	}
	if completed.Status == model.SessionStatusCompleted {
		stats.completed.Add(1)
	}
}

func (w *TimerWorker) warn(ctx context.Context, session *model.Session, remaining int64) {
	if w.publisher == nil {
		return
	}
	event, err := sse.NewEvent(sse.EventWarning, sse.WarningData{
		SessionID:        session.ID,
		RemainingSeconds: remaining,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to encode warning event")
		return
	}
	if err := w.publisher.Publish(ctx, session.RoomToken, event); err != nil {
		log.Warn().Err(err).Str("sessionId", session.ID).Msg("failed to publish warning")
	}
}

func (w *TimerWorker) fail(stats *tickCounters, stage, sessionID string, err error) {
	stats.errors.Add(1)
	metrics.RecordTimerError(stage)
	log.Error().
		Err(err).
		Str("sessionId", sessionID).
		Str("stage", stage).
		Msg("timer tick failed for session")
}

type tickCounters struct {
	active, decremented, healed, completed, warnings, skipped, errors atomic.Int64
}

func (c *tickCounters) snapshot() TickStats {
	return TickStats{
		Active:      c.active.Load(),
		Decremented: c.decremented.Load(),
		Healed:      c.healed.Load(),
		Completed:   c.completed.Load(),
		Warnings:    c.warnings.Load(),
		Skipped:     c.skipped.Load(),
		Errors:      c.errors.Load(),
	}
}
