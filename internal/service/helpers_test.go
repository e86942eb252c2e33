package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/consult-session-go/internal/countdown"
	"github.com/openclaw/consult-session-go/internal/model"
	"github.com/openclaw/consult-session-go/internal/repository/repotest"
	"github.com/openclaw/consult-session-go/internal/sse"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
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

type mockRoomClient struct {
	mock.Mock
}

func (m *mockRoomClient) IssueAccessToken(ctx context.Context, identity, roomToken string) (string, error) {
	args := m.Called(ctx, identity, roomToken)
	return args.String(0), args.Error(1)
}

func (m *mockRoomClient) DestroyRoom(ctx context.Context, roomToken string) error {
	args := m.Called(ctx, roomToken)
	return args.Error(0)
}

type harness struct {
	svc   *SessionService
	repo  *repotest.MemorySessionRepository
	cache *countdown.RedisCache
	mr    *miniredis.Miniredis
	pub   *recordingPublisher
	rooms *mockRoomClient
	clock *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := &harness{
		repo:  repotest.NewMemorySessionRepository(),
		cache: countdown.NewRedisCache(client),
		mr:    mr,
		pub:   &recordingPublisher{},
		rooms: &mockRoomClient{},
		clock: newFakeClock(),
	}
	h.rooms.On("DestroyRoom", mock.Anything, mock.Anything).Return(nil).Maybe()

	h.svc = NewSessionService(nil, h.repo, h.cache, h.pub, h.rooms, Options{
		WarningThresholdSeconds:   60,
		PausedFallbackSeconds:     60,
		DefaultGracePeriodSeconds: 300,
		Now:                       h.clock.Now,
	})
	return h
}

func defaultRate() model.RateSnapshot {
	return model.RateSnapshot{
		BaseDurationSeconds:      900,
		BasePriceMinor:           500,
		ExtensionDurationSeconds: 300,
		ExtensionPriceMinor:      200,
		GracePeriodSeconds:       300,
	}
}

func (h *harness) create(t *testing.T) *model.Session {
	t.Helper()
	s, err := h.svc.CreateSession(context.Background(), CreateSessionInput{
		CustomerRef: "cust-1",
		ProviderRef: "prov-1",
		Rate:        defaultRate(),
	})
	require.NoError(t, err)
	return s
}

func (h *harness) started(t *testing.T) *model.Session {
	t.Helper()
	s := h.create(t)
	s, err := h.svc.StartSession(context.Background(), s.ID)
	require.NoError(t, err)
	return s
}

// tick advances the clock and decrements the countdown n times, the way the
// timer worker would.
func (h *harness) tick(t *testing.T, sessionID string, n int) int64 {
	t.Helper()
	var v int64
	for i := 0; i < n; i++ {
		h.clock.Advance(time.Second)
		val, ok, err := h.cache.Decrement(context.Background(), sessionID)
		require.NoError(t, err)
		require.True(t, ok, "countdown missing at tick %d", i)
		v = val
	}
	return v
}

func (h *harness) countdown(t *testing.T, sessionID string) (int64, bool) {
	t.Helper()
	v, ok, err := h.cache.Get(context.Background(), sessionID)
	require.NoError(t, err)
	return v, ok
}

func (h *harness) reload(t *testing.T, sessionID string) *model.Session {
	t.Helper()
	s, err := h.repo.FindByID(context.Background(), sessionID)
	require.NoError(t, err)
	require.NotNil(t, s)
	return s
}
