// Package repotest provides an in-memory SessionRepository for tests.
package repotest

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/openclaw/consult-session-go/internal/model"
	"github.com/openclaw/consult-session-go/internal/repository"
)

type MemorySessionRepository struct {
	mu       sync.Mutex
	sessions map[string]model.Session

	// SaveErr, when set, is returned by Save without writing.
	SaveErr error
	// ListErr, when set, is returned by ListActive.
	ListErr error
	Saves   int
}

var _ repository.SessionRepository = (*MemorySessionRepository)(nil)

func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{sessions: make(map[string]model.Session)}
}

func (r *MemorySessionRepository) FindByID(ctx context.Context, id string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	return clone(s), nil
}

func (r *MemorySessionRepository) FindOpenByJobRef(ctx context.Context, jobRef string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sessions {
		if s.JobRef != nil && *s.JobRef == jobRef && s.Status.IsOpen() {
			return clone(s), nil
		}
	}
	return nil, nil
}

func (r *MemorySessionRepository) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	s := model.Session{
		ID:                       uuid.NewString(),
		CustomerRef:              params.CustomerRef,
		ProviderRef:              params.ProviderRef,
		JobRef:                   params.JobRef,
		RoomToken:                params.RoomToken,
		Status:                   model.SessionStatusScheduled,
		BaseDurationSeconds:      params.Rate.BaseDurationSeconds,
		BasePriceMinor:           params.Rate.BasePriceMinor,
		ExtensionDurationSeconds: params.Rate.ExtensionDurationSeconds,
		ExtensionPriceMinor:      params.Rate.ExtensionPriceMinor,
		GracePeriodSeconds:       params.Rate.GracePeriodSeconds,
		Transactions:             model.Transactions{},
		PaymentStatus:            model.PaymentStatusPending,
		CreatedAt:                now,
		UpdatedAt:                now,
	}
	r.sessions[s.ID] = s
	return clone(s), nil
}

// Put stores s as is, replacing any existing record with the same id.
func (r *MemorySessionRepository) Put(s model.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = *clone(s)
}

func (r *MemorySessionRepository) Save(ctx context.Context, session *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.SaveErr != nil {
		return r.SaveErr
	}
	if _, ok := r.sessions[session.ID]; !ok {
		return sql.ErrNoRows
	}
	session.UpdatedAt = time.Now()
	r.sessions[session.ID] = *clone(*session)
	r.Saves++
	return nil
}

func (r *MemorySessionRepository) ListActive(ctx context.Context) ([]model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ListErr != nil {
		return nil, r.ListErr
	}
	var out []model.Session
	for _, s := range r.sessions {
		if s.Status == model.SessionStatusActive {
			out = append(out, *clone(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemorySessionRepository) WithTx(tx *sqlx.Tx) repository.SessionRepository {
	return r
}

func clone(s model.Session) *model.Session {
	out := s
	out.JobRef = clonePtr(s.JobRef)
	out.StartTime = clonePtr(s.StartTime)
	out.EndTime = clonePtr(s.EndTime)
	out.PausedAt = clonePtr(s.PausedAt)
	out.Transactions = append(model.Transactions{}, s.Transactions...)
	return &out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
