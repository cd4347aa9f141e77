// Package store persists sessions against the in-process map and, when
// configured, mirrors them to a durable backend.
//
// The in-process map is written first on every call so a single process keeps
// working with no durable backend at all, and a durable outage degrades to
// "works for this process only".
package store

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"training-sync-service/internal/domain"
	"training-sync-service/internal/infra/memory"
)

const defaultDurableTimeout = 5 * time.Second

var errMissingMemory = errors.New("in-process session store is required")

// Durable is an external backend holding the three per-session collections.
type Durable interface {
	SaveSession(ctx context.Context, session domain.Session) error
	FindSession(ctx context.Context, code string) (domain.Session, bool, error)
	UpsertParticipant(ctx context.Context, code string, participant domain.Participant) error
	DeleteParticipant(ctx context.Context, code, participantID string) error
	ListParticipants(ctx context.Context, code string) ([]domain.Participant, error)
	UpsertScore(ctx context.Context, code string, score domain.ScoreEntry) error
	ListScores(ctx context.Context, code string) ([]domain.ScoreEntry, error)
	ClearAll(ctx context.Context) error
}

// Config wires the store's collaborators.
type Config struct {
	Memory  *memory.SessionStore
	Durable Durable // nil selects pure in-process mode
	Logger  *zap.Logger
	Clock   func() time.Time
	NewCode func() (string, error)
	// DefaultSection is revealed in states synthesized for unknown codes.
	DefaultSection string
	// DurableTimeout bounds each best-effort durable call.
	DurableTimeout time.Duration
}

// Store implements the session store operations.
type Store struct {
	memory         *memory.SessionStore
	durable        Durable
	logger         *zap.Logger
	clock          func() time.Time
	newCode        func() (string, error)
	defaultSection string
	timeout        time.Duration
	lookups        singleflight.Group
}

func New(cfg Config) (*Store, error) {
	if cfg.Memory == nil {
		return nil, errMissingMemory
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newCode := cfg.NewCode
	if newCode == nil {
		newCode = domain.NewCode
	}
	timeout := cfg.DurableTimeout
	if timeout <= 0 {
		timeout = defaultDurableTimeout
	}
	return &Store{
		memory:         cfg.Memory,
		durable:        cfg.Durable,
		logger:         logger,
		clock:          clock,
		newCode:        newCode,
		defaultSection: cfg.DefaultSection,
		timeout:        timeout,
	}, nil
}

// HasDurable reports whether a durable backend is configured.
func (s *Store) HasDurable() bool {
	return s.durable != nil
}

// CreateSession allocates a fresh code and stores initial under it.
func (s *Store) CreateSession(ctx context.Context, initial domain.PresentationState) (domain.Session, error) {
	code, err := s.newCode()
	if err != nil {
		return domain.Session{}, err
	}
	session := domain.Session{
		Code:         code,
		State:        initial.Clone(),
		Participants: []domain.Participant{},
		Scores:       []domain.ScoreEntry{},
		CreatedAt:    s.clock().UnixMilli(),
	}
	s.memory.Put(session)

	s.bestEffort(ctx, "create_session", code, func(ctx context.Context) error {
		return s.durable.SaveSession(ctx, session)
	})
	return session, nil
}

// GetSession checks the in-process map first, then the durable backend. A
// durable hit is cached locally before it is returned.
func (s *Store) GetSession(ctx context.Context, code string) (domain.Session, bool) {
	if session, ok := s.memory.Get(code); ok {
		return session, true
	}
	if s.durable == nil {
		return domain.Session{}, false
	}

	result, err, _ := s.lookups.Do(code, func() (interface{}, error) {
		// shared by every waiter, so one caller's cancellation must not fail the rest
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		remote, found, err := s.durable.FindSession(lookupCtx, code)
		if err != nil || !found {
			return nil, err
		}
		remote.Code = code
		return s.memory.PutIfAbsent(remote), nil
	})
	if err != nil {
		s.logger.Warn("durable session lookup failed, falling back to in-process map",
			zap.String("operation", "get_session"),
			zap.String("code", code),
			zap.Error(err))
		return s.memory.Get(code)
	}
	if result == nil {
		return domain.Session{}, false
	}
	return result.(domain.Session).Clone(), true
}

// UpsertState replaces the state of code unconditionally. Ordering is the
// reader's concern; the store is last-write-wins.
func (s *Store) UpsertState(ctx context.Context, code string, state domain.PresentationState) domain.Session {
	updated := s.memory.Update(code, func(current domain.Session, ok bool) domain.Session {
		if !ok {
			current = s.synthesize(code)
		}
		current.State = state.Clone()
		return current
	})

	s.bestEffort(ctx, "upsert_state", code, func(ctx context.Context) error {
		return s.durable.SaveSession(ctx, updated)
	})
	return updated
}

// RegisterParticipant replaces any record with the same id, refreshing lastSeen.
func (s *Store) RegisterParticipant(ctx context.Context, code string, participant domain.Participant) []domain.Participant {
	participant.LastSeen = s.clock().UnixMilli()
	updated := s.memory.Update(code, func(current domain.Session, ok bool) domain.Session {
		if !ok {
			current = s.synthesize(code)
		}
		current.Participants = append(withoutParticipant(current.Participants, participant.ID), participant)
		return current
	})

	s.bestEffort(ctx, "register_participant", code, func(ctx context.Context) error {
		return s.durable.UpsertParticipant(ctx, code, participant)
	})
	return updated.Participants
}

// RemoveParticipant drops the record for participantID. Used for best-effort
// teardown; liveness expiry remains the authoritative cleanup.
func (s *Store) RemoveParticipant(ctx context.Context, code, participantID string) []domain.Participant {
	var remaining []domain.Participant
	if _, ok := s.memory.Get(code); ok {
		updated := s.memory.Update(code, func(current domain.Session, _ bool) domain.Session {
			current.Participants = withoutParticipant(current.Participants, participantID)
			return current
		})
		remaining = updated.Participants
	}

	s.bestEffort(ctx, "remove_participant", code, func(ctx context.Context) error {
		return s.durable.DeleteParticipant(ctx, code, participantID)
	})
	if remaining == nil {
		remaining = []domain.Participant{}
	}
	return remaining
}

// ListParticipants prefers the durable view, which sees heartbeats from every
// process, and falls back to the in-process roster on any error.
func (s *Store) ListParticipants(ctx context.Context, code string) []domain.Participant {
	local, _ := s.GetSession(ctx, code)
	if s.durable == nil {
		return nonNilParticipants(local.Participants)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	remote, err := s.durable.ListParticipants(lookupCtx, code)
	if err != nil {
		s.logger.Warn("durable participant list failed, falling back to in-process roster",
			zap.String("operation", "list_participants"),
			zap.String("code", code),
			zap.Error(err))
		return nonNilParticipants(local.Participants)
	}
	if len(remote) > 0 {
		s.recache(code, func(session *domain.Session) {
			session.Participants = append([]domain.Participant{}, remote...)
		})
	}
	return nonNilParticipants(remote)
}

// AddScore replaces any entry with the same (participant, activity, type) key.
func (s *Store) AddScore(ctx context.Context, code string, score domain.ScoreEntry) []domain.ScoreEntry {
	updated := s.memory.Update(code, func(current domain.Session, ok bool) domain.Session {
		if !ok {
			current = s.synthesize(code)
		}
		current.Scores = ReplaceScore(current.Scores, score)
		return current
	})

	s.bestEffort(ctx, "add_score", code, func(ctx context.Context) error {
		return s.durable.UpsertScore(ctx, code, score)
	})
	return updated.Scores
}

// ListScores follows the same durable-preferred pattern as ListParticipants.
func (s *Store) ListScores(ctx context.Context, code string) []domain.ScoreEntry {
	local, _ := s.GetSession(ctx, code)
	if s.durable == nil {
		return nonNilScores(local.Scores)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	remote, err := s.durable.ListScores(lookupCtx, code)
	if err != nil {
		s.logger.Warn("durable score list failed, falling back to in-process ledger",
			zap.String("operation", "list_scores"),
			zap.String("code", code),
			zap.Error(err))
		return nonNilScores(local.Scores)
	}
	if len(remote) > 0 {
		s.recache(code, func(session *domain.Session) {
			session.Scores = append([]domain.ScoreEntry{}, remote...)
		})
	}
	return nonNilScores(remote)
}

// ClearAll wipes the in-process map and, when configured, every durable
// collection. Durable failures are returned, never swallowed.
func (s *Store) ClearAll(ctx context.Context) (domain.ClearResult, error) {
	s.memory.Clear()
	if s.durable == nil {
		return domain.ClearResult{Cleared: false, Reason: domain.ErrDurableNotConfigured.Error()}, nil
	}
	if err := s.mustPropagate(ctx, "clear_all", func(ctx context.Context) error {
		return s.durable.ClearAll(ctx)
	}); err != nil {
		return domain.ClearResult{}, err
	}
	return domain.ClearResult{Cleared: true}, nil
}

// ReplaceScore drops entries sharing score's key and appends score.
func ReplaceScore(scores []domain.ScoreEntry, score domain.ScoreEntry) []domain.ScoreEntry {
	key := score.Key()
	out := make([]domain.ScoreEntry, 0, len(scores)+1)
	for _, existing := range scores {
		if existing.Key() == key {
			continue
		}
		out = append(out, existing)
	}
	return append(out, score)
}

func (s *Store) synthesize(code string) domain.Session {
	return domain.Session{
		Code:         code,
		State:        domain.DefaultState(s.clock(), s.defaultSection),
		Participants: []domain.Participant{},
		Scores:       []domain.ScoreEntry{},
		CreatedAt:    s.clock().UnixMilli(),
	}
}

// recache refreshes a collection of an existing local record. Codes with no
// local record are left for GetSession to populate with the durable state.
func (s *Store) recache(code string, apply func(session *domain.Session)) {
	if _, ok := s.memory.Get(code); !ok {
		return
	}
	s.memory.Update(code, func(current domain.Session, _ bool) domain.Session {
		apply(&current)
		return current
	})
}

func withoutParticipant(participants []domain.Participant, id string) []domain.Participant {
	out := make([]domain.Participant, 0, len(participants)+1)
	for _, p := range participants {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}

func nonNilParticipants(participants []domain.Participant) []domain.Participant {
	if participants == nil {
		return []domain.Participant{}
	}
	return participants
}

func nonNilScores(scores []domain.ScoreEntry) []domain.ScoreEntry {
	if scores == nil {
		return []domain.ScoreEntry{}
	}
	return scores
}
