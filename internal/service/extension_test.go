package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/openclaw/consult-session-go/internal/errors"
	"github.com/openclaw/consult-session-go/internal/model"
	redisclient "github.com/openclaw/consult-session-go/internal/redis"
	"github.com/openclaw/consult-session-go/internal/repository"
	"github.com/openclaw/consult-session-go/internal/sse"
)

func TestExtendSession_Credits(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.started(t)
	h.tick(t, s.ID, 100)

	res, err := h.svc.ExtendSession(ctx, ExtendInput{SessionID: s.ID, PaymentRef: "pay-1", AmountMinor: 200, AddedSeconds: 120})
	require.NoError(t, err)

	assert.False(t, res.Duplicate)
	assert.Equal(t, int64(920), res.RemainingSeconds)
	assert.Equal(t, int64(120), res.Session.ExtendedDurationSeconds)
	require.Len(t, res.Session.Transactions, 1)
	assert.Equal(t, "pay-1", res.Transaction.PaymentRef)

	v, _ := h.countdown(t, s.ID)
	assert.Equal(t, int64(920), v)
	assert.Equal(t, int64(920), h.reload(t, s.ID).RemainingSeconds(h.clock.Now()))
	assert.Equal(t, 1, h.pub.count(sse.EventExtended))
}

func TestExtendSession_Idempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := h.started(t)

	in := ExtendInput{SessionID: s.ID, PaymentRef: "pay-1", AmountMinor: 200, AddedSeconds: 120}
	first, err := h.svc.ExtendSession(ctx, in)
	require.NoError(t, err)

	h.tick(t, s.ID, 3)
	second, err := h.svc.ExtendSession(ctx, in)
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Transaction, second.Transaction)
	assert.Equal(t, int64(1017), second.RemainingSeconds)

	stored := h.reload(t, s.ID)
	assert.Len(t, stored.Transactions, 1)
	assert.Equal(t, int64(120), stored.ExtendedDurationSeconds)
	assert.Equal(t, 1, h.pub.count(sse.EventExtended))
}

func TestExtendSession_DefaultsToExtensionUnit(t *testing.T) {
	h := newHarness(t)
	s := h.started(t)

	res, err := h.svc.ExtendSession(context.Background(), ExtendInput{SessionID: s.ID, PaymentRef: "pay-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(300), res.Transaction.AddedSeconds)
	assert.Equal(t, int64(1200), res.RemainingSeconds)
}

func TestExtendSession_SeedsMissingCountdown(t *testing.T) {
	h := newHarness(t)
	s := h.started(t)
	h.clock.Advance(200 * time.Second)
	h.mr.Del(redisclient.CountdownKey(s.ID))

	res, err := h.svc.ExtendSession(context.Background(), ExtendInput{SessionID: s.ID, PaymentRef: "pay-1", AddedSeconds: 60})
	require.NoError(t, err)
	assert.Equal(t, int64(760), res.RemainingSeconds)

	v, ok := h.countdown(t, s.ID)
	assert.True(t, ok)
	assert.Equal(t, int64(760), v)
}

func TestExtendSession_RollsBackOnSaveFailure(t *testing.T) {
	h := newHarness(t)
	s := h.started(t)
	h.tick(t, s.ID, 10)
	h.repo.SaveErr = errors.New("db down")

	_, err := h.svc.ExtendSession(context.Background(), ExtendInput{SessionID: s.ID, PaymentRef: "pay-1", AddedSeconds: 60})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDatabase))

	v, _ := h.countdown(t, s.ID)
	assert.Equal(t, int64(890), v)
	assert.Empty(t, h.reload(t, s.ID).Transactions)
	assert.Equal(t, 0, h.pub.count(sse.EventExtended))
}

func TestExtendSession_Validation(t *testing.T) {
	ctx := context.Background()

	t.Run("payment ref required", func(t *testing.T) {
		h := newHarness(t)
		s := h.started(t)
		_, err := h.svc.ExtendSession(ctx, ExtendInput{SessionID: s.ID, PaymentRef: "  "})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMissingRequired))
	})

	t.Run("scheduled session", func(t *testing.T) {
		h := newHarness(t)
		s := h.create(t)
		_, err := h.svc.ExtendSession(ctx, ExtendInput{SessionID: s.ID, PaymentRef: "pay-1"})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidState))
	})

	t.Run("paused session", func(t *testing.T) {
		h := newHarness(t)
		s := h.started(t)
		_, err := h.svc.PauseSession(ctx, s.ID)
		require.NoError(t, err)

		_, err = h.svc.ExtendSession(ctx, ExtendInput{SessionID: s.ID, PaymentRef: "pay-1"})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidState))
	})
}

func TestExtendSession_GraceWindow(t *testing.T) {
	ctx := context.Background()

	expired := func(t *testing.T) (*harness, *model.Session) {
		h := newHarness(t)
		s := h.started(t)
		require.Equal(t, int64(0), h.tick(t, s.ID, 900))
		done, err := h.svc.ExpireSession(ctx, s.ID)
		require.NoError(t, err)
		require.Equal(t, model.SessionStatusCompleted, done.Status)
		require.Equal(t, int64(900), done.TotalDurationSeconds)
		return h, s
	}

	t.Run("reactivates just inside grace", func(t *testing.T) {
		h, s := expired(t)
		h.clock.Advance(299 * time.Second)

		res, err := h.svc.ExtendSession(ctx, ExtendInput{SessionID: s.ID, PaymentRef: "pay-late", AddedSeconds: 300})
		require.NoError(t, err)
		assert.True(t, res.Reactivated)
		assert.Equal(t, model.SessionStatusActive, res.Session.Status)
		assert.Nil(t, res.Session.EndTime)
		assert.Zero(t, res.Session.TotalAmountMinor)
		assert.Equal(t, int64(300), res.RemainingSeconds)

		v, ok := h.countdown(t, s.ID)
		assert.True(t, ok)
		assert.Equal(t, int64(300), v)
	})

	t.Run("rejects just outside grace", func(t *testing.T) {
		h, s := expired(t)
		h.clock.Advance(301 * time.Second)

		_, err := h.svc.ExtendSession(ctx, ExtendInput{SessionID: s.ID, PaymentRef: "pay-late", AddedSeconds: 300})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSessionExpired))
		assert.Equal(t, model.SessionStatusCompleted, h.reload(t, s.ID).Status)
	})

	t.Run("reactivation blocked by another open session", func(t *testing.T) {
		h, s := expired(t)
		h.clock.Advance(100 * time.Second)
		h.repo.SaveErr = repository.ErrConflict

		_, err := h.svc.ExtendSession(ctx, ExtendInput{SessionID: s.ID, PaymentRef: "pay-late", AddedSeconds: 300})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))

		_, ok := h.countdown(t, s.ID)
		assert.False(t, ok)
		reloaded := h.reload(t, s.ID)
		assert.Equal(t, model.SessionStatusCompleted, reloaded.Status)
		assert.Empty(t, reloaded.Transactions)
		assert.Equal(t, 0, h.pub.count(sse.EventExtended))
	})
}
