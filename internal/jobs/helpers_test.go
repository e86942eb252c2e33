package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/consult-session-go/internal/countdown"
	"github.com/openclaw/consult-session-go/internal/model"
	"github.com/openclaw/consult-session-go/internal/repository/repotest"
	"github.com/openclaw/consult-session-go/internal/service"
	"github.com/openclaw/consult-session-go/internal/sse"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []sse.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, roomToken string, event sse.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type env struct {
	repo  *repotest.MemorySessionRepository
	cache *countdown.RedisCache
	mr    *miniredis.Miniredis
	pub   *recordingPublisher
	clock *fakeClock
	svc   *service.SessionService
}

func newEnv(t *testing.T) *env {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	e := &env{
		repo:  repotest.NewMemorySessionRepository(),
		cache: countdown.NewRedisCache(client),
		mr:    mr,
		pub:   &recordingPublisher{},
		clock: &fakeClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)},
	}
	e.svc = service.NewSessionService(nil, e.repo, e.cache, e.pub, nil, service.Options{
		WarningThresholdSeconds:   60,
		PausedFallbackSeconds:     60,
		DefaultGracePeriodSeconds: 300,
		Now:                       e.clock.Now,
	})
	return e
}

func (e *env) worker(leased bool) *TimerWorker {
	return NewTimerWorker(e.repo, e.cache, e.svc, e.pub, TimerOptions{
		Interval:                time.Second,
		WarningThresholdSeconds: 60,
		LeaseEnabled:            leased,
		Concurrency:             4,
	})
}

func (e *env) startSession(t *testing.T, baseSeconds int64) *model.Session {
	t.Helper()
	ctx := context.Background()

	s, err := e.svc.CreateSession(ctx, service.CreateSessionInput{
		CustomerRef: "cust-1",
		ProviderRef: "prov-1",
		Rate: model.RateSnapshot{
			BaseDurationSeconds:      baseSeconds,
			BasePriceMinor:           600,
			ExtensionDurationSeconds: 60,
		},
	})
	require.NoError(t, err)

	s, err = e.svc.StartSession(ctx, s.ID)
	require.NoError(t, err)
	return s
}

// tick advances the clock by one second and runs a single worker tick.
func (e *env) tick(w *TimerWorker) TickStats {
	e.clock.Advance(time.Second)
	return w.Tick(context.Background())
}

func (e *env) countdown(t *testing.T, sessionID string) (int64, bool) {
	t.Helper()
	v, ok, err := e.cache.Get(context.Background(), sessionID)
	require.NoError(t, err)
	return v, ok
}

func newScheduledInput() service.CreateSessionInput {
	return service.CreateSessionInput{
		CustomerRef: "cust-2",
		ProviderRef: "prov-2",
		Rate:        model.RateSnapshot{BaseDurationSeconds: 300},
	}
}
