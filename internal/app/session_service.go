package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"training-sync-service/internal/content"
	"training-sync-service/internal/domain"
	"training-sync-service/internal/presence"
)

// SessionStore abstracts the dual-backend session store.
type SessionStore interface {
	HasDurable() bool
	CreateSession(ctx context.Context, initial domain.PresentationState) (domain.Session, error)
	GetSession(ctx context.Context, code string) (domain.Session, bool)
	UpsertState(ctx context.Context, code string, state domain.PresentationState) domain.Session
	RegisterParticipant(ctx context.Context, code string, participant domain.Participant) []domain.Participant
	RemoveParticipant(ctx context.Context, code, participantID string) []domain.Participant
	ListParticipants(ctx context.Context, code string) []domain.Participant
	AddScore(ctx context.Context, code string, score domain.ScoreEntry) []domain.ScoreEntry
	ListScores(ctx context.Context, code string) []domain.ScoreEntry
	ClearAll(ctx context.Context) (domain.ClearResult, error)
}

// ContentRepository loads course content (from cache/backing store).
type ContentRepository interface {
	LoadContent(ctx context.Context, id string) (content.Content, error)
}

// HostAuthority issues and verifies per-session host capabilities.
type HostAuthority interface {
	Issue(code string) (string, error)
	Verify(token, code string) error
}

// PasswordChecker guards the password-protected operations.
type PasswordChecker interface {
	Configured() bool
	Check(candidate string) bool
}

// Dependencies wires the service's collaborators.
type Dependencies struct {
	Store         SessionStore
	Content       ContentRepository
	Authority     HostAuthority
	HostPassword  PasswordChecker // unconfigured lets anyone create sessions
	AdminPassword PasswordChecker // unconfigured disables purge-all over the API
	Presence      *presence.Tracker
	Logger        *zap.Logger
	Clock         func() time.Time
}

// SessionService is the API boundary over the session store.
type SessionService struct {
	store    SessionStore
	content  ContentRepository
	auth     HostAuthority
	hostPW   PasswordChecker
	adminPW  PasswordChecker
	presence *presence.Tracker
	logger   *zap.Logger
	clock    func() time.Time
	hub      *hub
}

// Created is returned to the host that created a session.
type Created struct {
	Code      string                   `json:"code"`
	State     domain.PresentationState `json:"state"`
	HostToken string                   `json:"hostToken"`
}

func NewSessionService(deps Dependencies) (*SessionService, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("session service: store is required")
	}
	if deps.Content == nil {
		return nil, fmt.Errorf("session service: content repository is required")
	}
	if deps.Authority == nil {
		return nil, fmt.Errorf("session service: host authority is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	tracker := deps.Presence
	if tracker == nil {
		tracker = presence.NewTracker(presence.DefaultWindow, clock, logger)
	}
	return &SessionService{
		store:    deps.Store,
		content:  deps.Content,
		auth:     deps.Authority,
		hostPW:   deps.HostPassword,
		adminPW:  deps.AdminPassword,
		presence: tracker,
		logger:   logger,
		clock:    clock,
		hub:      newHub(),
	}, nil
}

// Content returns the default course document.
func (s *SessionService) Content(ctx context.Context) (content.Content, error) {
	return s.content.LoadContent(ctx, content.DefaultID)
}

// Create allocates a session. A nil initial state starts from the default
// state of the current content.
func (s *SessionService) Create(ctx context.Context, initial *domain.PresentationState, hostPassword string) (Created, error) {
	if s.hostPW != nil && s.hostPW.Configured() && !s.hostPW.Check(hostPassword) {
		return Created{}, fmt.Errorf("%w: host password rejected", domain.ErrUnauthorized)
	}

	var state domain.PresentationState
	if initial != nil {
		state = initial.Clone()
	} else {
		doc, err := s.Content(ctx)
		if err != nil {
			return Created{}, fmt.Errorf("load content: %w", err)
		}
		state = domain.DefaultState(s.clock(), doc.FirstSection())
	}

	session, err := s.store.CreateSession(ctx, state)
	if err != nil {
		return Created{}, fmt.Errorf("create session: %w", err)
	}
	token, err := s.auth.Issue(session.Code)
	if err != nil {
		return Created{}, fmt.Errorf("issue host token: %w", err)
	}

	s.logger.Info("session created", zap.String("code", session.Code))
	return Created{Code: session.Code, State: session.State, HostToken: token}, nil
}

// Get returns the full session record for code.
func (s *SessionService) Get(ctx context.Context, rawCode string) (domain.Session, error) {
	code, err := domain.NormalizeCode(rawCode)
	if err != nil {
		return domain.Session{}, err
	}
	session, ok := s.store.GetSession(ctx, code)
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session, nil
}

// ReplaceState stores state wholesale for code. Only the holder of the host
// token for code may call it; anything else leaves the stored state as is.
func (s *SessionService) ReplaceState(ctx context.Context, rawCode, hostToken string, state domain.PresentationState) (domain.PresentationState, error) {
	code, err := domain.NormalizeCode(rawCode)
	if err != nil {
		return domain.PresentationState{}, err
	}
	if err := s.auth.Verify(hostToken, code); err != nil {
		s.logger.Warn("rejected state replace",
			zap.String("code", code),
			zap.Error(err))
		return domain.PresentationState{}, err
	}

	updated := s.store.UpsertState(ctx, code, state)
	s.hub.publish(code, updated.State)
	return updated.State, nil
}

// RegisterParticipant upserts the caller's own presence record.
func (s *SessionService) RegisterParticipant(ctx context.Context, rawCode string, participant domain.Participant) ([]domain.Participant, error) {
	code, err := domain.NormalizeCode(rawCode)
	if err != nil {
		return nil, err
	}
	participant.ID = strings.TrimSpace(participant.ID)
	participant.Name = strings.TrimSpace(participant.Name)
	if participant.ID == "" {
		return nil, fmt.Errorf("%w: id is required", domain.ErrInvalidParticipant)
	}
	return s.store.RegisterParticipant(ctx, code, participant), nil
}

// RemoveParticipant is the best-effort teardown of a participant's record.
func (s *SessionService) RemoveParticipant(ctx context.Context, rawCode, participantID string) ([]domain.Participant, error) {
	code, err := domain.NormalizeCode(rawCode)
	if err != nil {
		return nil, err
	}
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return nil, fmt.Errorf("%w: id is required", domain.ErrInvalidParticipant)
	}
	return s.store.RemoveParticipant(ctx, code, participantID), nil
}

func (s *SessionService) ListParticipants(ctx context.Context, rawCode string) ([]domain.Participant, error) {
	code, err := domain.NormalizeCode(rawCode)
	if err != nil {
		return nil, err
	}
	return s.store.ListParticipants(ctx, code), nil
}

// AddScore records a result, replacing the participant's previous attempt at
// the same activity.
func (s *SessionService) AddScore(ctx context.Context, rawCode string, score domain.ScoreEntry) ([]domain.ScoreEntry, error) {
	code, err := domain.NormalizeCode(rawCode)
	if err != nil {
		return nil, err
	}
	score.ParticipantID = strings.TrimSpace(score.ParticipantID)
	score.Activity = strings.TrimSpace(score.Activity)
	switch {
	case score.ParticipantID == "":
		return nil, fmt.Errorf("%w: participantId is required", domain.ErrInvalidScore)
	case score.Activity == "":
		return nil, fmt.Errorf("%w: activity is required", domain.ErrInvalidScore)
	case !score.Type.Valid():
		return nil, fmt.Errorf("%w: unknown type %q", domain.ErrInvalidScore, score.Type)
	case score.Score < 0 || score.Total < 0:
		return nil, fmt.Errorf("%w: score and total must be non-negative", domain.ErrInvalidScore)
	}
	if score.Timestamp == 0 {
		score.Timestamp = s.clock().UnixMilli()
	}
	return s.store.AddScore(ctx, code, score), nil
}

func (s *SessionService) ListScores(ctx context.Context, rawCode string) ([]domain.ScoreEntry, error) {
	code, err := domain.NormalizeCode(rawCode)
	if err != nil {
		return nil, err
	}
	return s.store.ListScores(ctx, code), nil
}

// Presence counts the active participants of code.
func (s *SessionService) Presence(ctx context.Context, rawCode string) (presence.Summary, error) {
	code, err := domain.NormalizeCode(rawCode)
	if err != nil {
		return presence.Summary{}, err
	}
	return s.presence.Count(ctx, s.store, code), nil
}

// Purge clears every session. A result with Cleared false and a reason means
// there was nothing durable to clear; an error means the purge failed.
func (s *SessionService) Purge(ctx context.Context, adminPassword string) (domain.ClearResult, error) {
	if s.adminPW == nil || !s.adminPW.Check(adminPassword) {
		return domain.ClearResult{}, fmt.Errorf("%w: admin password rejected", domain.ErrUnauthorized)
	}
	result, err := s.store.ClearAll(ctx)
	if err != nil {
		return domain.ClearResult{}, err
	}
	s.logger.Info("store purged", zap.Bool("durable_cleared", result.Cleared))
	return result, nil
}

// Subscribe streams every state replaced on this process for code, starting
// with the current one. The caller must invoke cancel.
func (s *SessionService) Subscribe(ctx context.Context, rawCode string) (<-chan domain.PresentationState, func(), error) {
	session, err := s.Get(ctx, rawCode)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := s.hub.subscribe(session.Code, session.State)
	return ch, cancel, nil
}

// Close ends every open subscription.
func (s *SessionService) Close() {
	s.hub.closeAll()
}
