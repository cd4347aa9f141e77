package syncclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"training-sync-service/internal/domain"
	"training-sync-service/internal/presence"
	"training-sync-service/internal/presentation"
)

// Mode tells whether a client syncs through the session service or through
// the local fallback room. A session code belongs to exactly one mode.
type Mode string

const (
	ModeNetworked Mode = "networked"
	ModeLocal     Mode = "local"
)

const (
	defaultPollInterval    = time.Second
	defaultCountInterval   = 3 * time.Second
	defaultCleanupInterval = time.Minute
	teardownTimeout        = 2 * time.Second
)

var (
	ErrNoSession        = errors.New("no session hosted or joined")
	ErrNotHost          = errors.New("only the host can change the presentation")
	ErrNoContent        = errors.New("no module tree configured")
	ErrLocalUnsupported = errors.New("operation needs the session service")
)

// Options configures a Client.
type Options struct {
	API     *API
	Local   *LocalRoom
	Machine *presentation.Machine
	Logger  *zap.Logger
	Clock   func() time.Time

	ParticipantID string
	Name          string
	HostPassword  string
	// DisableServerSync forces the local fallback room.
	DisableServerSync bool

	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	CountInterval     time.Duration
	PresenceWindow    time.Duration
	CleanupInterval   time.Duration

	// OnState is called after every change of the local state.
	OnState func(domain.PresentationState)
}

// Client holds one browser-tab equivalent: a local state copy plus the
// loops that keep it and the roster fresh.
type Client struct {
	api      *API
	local    *LocalRoom
	machine  *presentation.Machine
	logger   *zap.Logger
	clock    func() time.Time
	opts     Options
	self     domain.Participant
	onState  func(domain.PresentationState)
	wake     chan struct{}
	disabled bool

	mu        sync.RWMutex
	state     domain.PresentationState
	code      string
	hostToken string
	isHost    bool
	mode      Mode
	online    bool
	lastSync  time.Time
	connected int
	paused    bool
}

func New(opts Options) (*Client, error) {
	disabled := opts.DisableServerSync || opts.API == nil
	if disabled && opts.Local == nil {
		return nil, fmt.Errorf("sync client: a local room is required when server sync is disabled")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = presence.DefaultHeartbeat
	}
	if opts.CountInterval <= 0 {
		opts.CountInterval = defaultCountInterval
	}
	if opts.PresenceWindow <= 0 {
		opts.PresenceWindow = presence.DefaultWindow
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = defaultCleanupInterval
	}
	id := opts.ParticipantID
	if id == "" {
		id = NewParticipantID(clock())
	}
	return &Client{
		api:      opts.API,
		local:    opts.Local,
		machine:  opts.Machine,
		logger:   logger,
		clock:    clock,
		opts:     opts,
		self:     domain.Participant{ID: id, Name: opts.Name},
		onState:  opts.OnState,
		wake:     make(chan struct{}, 1),
		disabled: disabled,
	}, nil
}

// NewParticipantID builds a time+random id that stays stable for the
// client's lifetime.
func NewParticipantID(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}

// Host creates a session and makes this client its single writer. When the
// service cannot be reached the session is created in the local room.
func (c *Client) Host(ctx context.Context, initial *domain.PresentationState) (string, error) {
	if c.disabled {
		return c.hostLocally(ctx, initial)
	}

	created, err := c.api.CreateSession(ctx, initial, c.opts.HostPassword)
	if err != nil {
		if isUnreachable(err) && c.local != nil {
			c.logger.Warn("session service unreachable, hosting in local room", zap.Error(err))
			return c.hostLocally(ctx, initial)
		}
		return "", fmt.Errorf("create session: %w", err)
	}

	c.mu.Lock()
	c.code = created.Code
	c.hostToken = created.HostToken
	c.isHost = true
	c.mode = ModeNetworked
	c.state = created.State.Clone()
	c.online = true
	c.lastSync = c.clock()
	c.self.IsHost = true
	c.mu.Unlock()

	c.notify(created.State)
	c.logger.Info("hosting session", zap.String("code", created.Code), zap.String("mode", string(ModeNetworked)))
	c.Reconcile(ctx)
	return created.Code, nil
}

func (c *Client) hostLocally(ctx context.Context, initial *domain.PresentationState) (string, error) {
	if c.local == nil {
		return "", fmt.Errorf("create session: %w", ErrLocalUnsupported)
	}
	var state domain.PresentationState
	if initial != nil {
		state = initial.Clone()
	} else {
		first := ""
		if c.machine != nil {
			first = c.machine.Tree().FirstSection()
		}
		state = domain.DefaultState(c.clock(), first)
	}
	code, err := c.local.Create(state)
	if err != nil {
		return "", fmt.Errorf("create local room: %w", err)
	}

	c.mu.Lock()
	c.code = code
	c.hostToken = ""
	c.isHost = true
	c.mode = ModeLocal
	c.state = state
	c.online = false
	c.self.IsHost = true
	c.mu.Unlock()

	c.notify(state)
	c.logger.Info("hosting session", zap.String("code", code), zap.String("mode", string(ModeLocal)))
	c.Reconcile(ctx)
	return code, nil
}

// Join seeds the local state from the session with rawCode. An unknown code
// is reported as domain.ErrSessionNotFound.
func (c *Client) Join(ctx context.Context, rawCode string) error {
	code, err := domain.NormalizeCode(rawCode)
	if err != nil {
		return err
	}
	if c.disabled {
		return c.joinLocally(code)
	}

	session, err := c.api.GetSession(ctx, code)
	if err != nil {
		if isUnreachable(err) && c.local != nil {
			c.logger.Warn("session service unreachable, joining local room", zap.String("code", code), zap.Error(err))
			return c.joinLocally(code)
		}
		return fmt.Errorf("join %s: %w", code, err)
	}

	c.mu.Lock()
	c.code = code
	c.isHost = false
	c.mode = ModeNetworked
	c.state = session.State.Clone()
	c.online = true
	c.lastSync = c.clock()
	c.mu.Unlock()

	c.notify(session.State)
	return nil
}

func (c *Client) joinLocally(code string) error {
	if c.local == nil {
		return fmt.Errorf("join %s: %w", code, ErrLocalUnsupported)
	}
	state, found, err := c.local.Read(code)
	if err != nil {
		return fmt.Errorf("join local room %s: %w", code, err)
	}
	if !found {
		return fmt.Errorf("join local room %s: %w", code, domain.ErrSessionNotFound)
	}

	c.mu.Lock()
	c.code = code
	c.isHost = false
	c.mode = ModeLocal
	c.state = state
	c.online = false
	c.mu.Unlock()

	c.notify(state)
	return nil
}

// UpdateState stamps next with a fresh lastModified, applies it locally and
// pushes it. Push failures are logged; the next successful push wins.
func (c *Client) UpdateState(ctx context.Context, next domain.PresentationState) (domain.PresentationState, error) {
	c.mu.Lock()
	if c.code == "" {
		c.mu.Unlock()
		return domain.PresentationState{}, ErrNoSession
	}
	if !c.isHost {
		c.mu.Unlock()
		return domain.PresentationState{}, ErrNotHost
	}
	stamp := c.clock().UnixMilli()
	if stamp <= c.state.LastModified {
		stamp = c.state.LastModified + 1
	}
	next = next.Clone()
	next.LastModified = stamp
	c.state = next
	code, token, mode := c.code, c.hostToken, c.mode
	c.mu.Unlock()

	c.notify(next)
	c.push(ctx, code, token, mode, next)
	return next.Clone(), nil
}

func (c *Client) push(ctx context.Context, code, token string, mode Mode, state domain.PresentationState) {
	if mode == ModeLocal {
		if err := c.local.Publish(code, state); err != nil {
			c.logger.Warn("local publish failed", zap.String("code", code), zap.Error(err))
		}
		return
	}
	if err := c.api.ReplaceState(ctx, code, token, state); err != nil {
		c.setOnline(false)
		c.logger.Warn("state push failed", zap.String("code", code), zap.Error(err))
		return
	}
	c.markSynced()
}

// Refresh polls the session once and adopts the result if it is newer.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.RLock()
	code, mode := c.code, c.mode
	c.mu.RUnlock()
	if code == "" {
		return ErrNoSession
	}

	if mode == ModeLocal {
		state, found, err := c.local.Read(code)
		if err != nil || !found {
			return err
		}
		c.apply(state)
		return nil
	}

	session, err := c.api.GetSession(ctx, code)
	if err != nil {
		c.setOnline(false)
		c.logger.Debug("poll failed", zap.String("code", code), zap.Error(err))
		return err
	}
	c.markSynced()
	c.apply(session.State)
	return nil
}

// apply replaces the local state with incoming only when incoming is strictly
// newer. Equal or older states are discarded.
func (c *Client) apply(incoming domain.PresentationState) bool {
	c.mu.Lock()
	if !incoming.Supersedes(c.state) {
		c.mu.Unlock()
		return false
	}
	c.state = incoming.Clone()
	c.mu.Unlock()

	c.notify(incoming)
	return true
}

// Reconcile clamps the host's position into the module tree and pushes the
// correction when one was needed.
func (c *Client) Reconcile(ctx context.Context) bool {
	if c.machine == nil || !c.IsHost() {
		return false
	}
	clamped, changed := c.machine.Clamp(c.rawState())
	if !changed {
		return false
	}
	_, err := c.UpdateState(ctx, clamped)
	return err == nil
}

// Advance, Rewind and the other transitions run the presentation machine on
// the current state and push the result.
func (c *Client) Advance(ctx context.Context) (domain.PresentationState, error) {
	return c.transition(ctx, func(m *presentation.Machine, s domain.PresentationState) (domain.PresentationState, bool, error) {
		next, changed := m.Advance(s)
		return next, changed, nil
	})
}

func (c *Client) Rewind(ctx context.Context) (domain.PresentationState, error) {
	return c.transition(ctx, func(m *presentation.Machine, s domain.PresentationState) (domain.PresentationState, bool, error) {
		next, changed := m.Rewind(s)
		return next, changed, nil
	})
}

func (c *Client) Jump(ctx context.Context, module, step int) (domain.PresentationState, error) {
	return c.transition(ctx, func(m *presentation.Machine, s domain.PresentationState) (domain.PresentationState, bool, error) {
		next, err := m.Jump(s, module, step)
		return next, err == nil, err
	})
}

func (c *Client) RevealModule(ctx context.Context, module int) (domain.PresentationState, error) {
	return c.transition(ctx, func(m *presentation.Machine, s domain.PresentationState) (domain.PresentationState, bool, error) {
		next, err := m.RevealModule(s, module)
		return next, err == nil, err
	})
}

func (c *Client) ToggleSection(ctx context.Context, sectionID string) (domain.PresentationState, error) {
	return c.transition(ctx, func(m *presentation.Machine, s domain.PresentationState) (domain.PresentationState, bool, error) {
		return m.ToggleSection(s, sectionID), true, nil
	})
}

func (c *Client) JumpToEnd(ctx context.Context) (domain.PresentationState, error) {
	return c.transition(ctx, func(m *presentation.Machine, s domain.PresentationState) (domain.PresentationState, bool, error) {
		return m.JumpToEnd(s), true, nil
	})
}

func (c *Client) Reset(ctx context.Context) (domain.PresentationState, error) {
	return c.transition(ctx, func(m *presentation.Machine, s domain.PresentationState) (domain.PresentationState, bool, error) {
		return m.Reset(s), true, nil
	})
}

type transitionFunc func(m *presentation.Machine, s domain.PresentationState) (domain.PresentationState, bool, error)

func (c *Client) transition(ctx context.Context, fn transitionFunc) (domain.PresentationState, error) {
	if c.machine == nil {
		return domain.PresentationState{}, ErrNoContent
	}
	if !c.IsHost() {
		return domain.PresentationState{}, ErrNotHost
	}
	current := c.rawState()
	next, changed, err := fn(c.machine, current)
	if err != nil {
		return current, err
	}
	if !changed {
		return current, nil
	}
	return c.UpdateState(ctx, next)
}

// SubmitScore records a result for this client and returns the session's
// ledger. In local mode, or when the service cannot be reached, the entry
// goes to the local room's ledger instead.
func (c *Client) SubmitScore(ctx context.Context, activity string, score, total int, kind domain.ScoreType) ([]domain.ScoreEntry, error) {
	c.mu.RLock()
	code, mode := c.code, c.mode
	c.mu.RUnlock()
	if code == "" {
		return nil, ErrNoSession
	}
	entry := domain.ScoreEntry{
		ParticipantID:   c.self.ID,
		ParticipantName: c.self.Name,
		Activity:        activity,
		Score:           score,
		Total:           total,
		Timestamp:       c.clock().UnixMilli(),
		Type:            kind,
	}
	if mode == ModeLocal {
		return c.recordLocalScore(code, entry)
	}

	scores, err := c.api.AddScore(ctx, code, entry)
	if err != nil {
		if isUnreachable(err) && c.local != nil {
			c.setOnline(false)
			c.logger.Warn("score submit failed, keeping it in the local ledger",
				zap.String("code", code),
				zap.String("activity", activity),
				zap.Error(err))
			return c.recordLocalScore(code, entry)
		}
		return nil, err
	}
	c.markSynced()
	return scores, nil
}

// Scores returns the session's ledger, read from the local room in local
// mode or when the service cannot be reached.
func (c *Client) Scores(ctx context.Context) ([]domain.ScoreEntry, error) {
	c.mu.RLock()
	code, mode := c.code, c.mode
	c.mu.RUnlock()
	if code == "" {
		return nil, ErrNoSession
	}
	if mode == ModeLocal {
		return c.localScores(code)
	}
	scores, err := c.api.ListScores(ctx, code)
	if err != nil {
		if isUnreachable(err) && c.local != nil {
			c.setOnline(false)
			c.logger.Debug("score list failed, reading the local ledger", zap.String("code", code), zap.Error(err))
			return c.localScores(code)
		}
		return nil, err
	}
	c.markSynced()
	return scores, nil
}

func (c *Client) recordLocalScore(code string, entry domain.ScoreEntry) ([]domain.ScoreEntry, error) {
	if c.local == nil {
		return nil, ErrLocalUnsupported
	}
	if err := c.local.RecordScore(code, entry); err != nil {
		return nil, fmt.Errorf("record local score: %w", err)
	}
	return c.localScores(code)
}

func (c *Client) localScores(code string) ([]domain.ScoreEntry, error) {
	if c.local == nil {
		return nil, ErrLocalUnsupported
	}
	return c.local.ListScores(code)
}

// Run drives the heartbeat, connected-count and (for participants) polling
// loops until ctx is done, then attempts to remove the client's own
// presence record.
func (c *Client) Run(ctx context.Context) error {
	c.mu.RLock()
	code, isHost, mode := c.code, c.isHost, c.mode
	c.mu.RUnlock()
	if code == "" {
		return ErrNoSession
	}

	var wg sync.WaitGroup
	start := func(loop func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loop(ctx)
		}()
	}

	start(c.heartbeatLoop)
	start(c.countLoop)
	if !isHost {
		start(c.pollLoop)
	}
	if mode == ModeLocal {
		start(c.cleanupLoop)
	}

	<-ctx.Done()
	wg.Wait()
	c.leave(ctx)
	return nil
}

// Pause stops polling until Resume; use it while the view is hidden.
func (c *Client) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

// Resume restarts polling with an immediate refresh.
func (c *Client) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Client) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.wake:
			_ = c.Refresh(ctx)
		case <-ticker.C:
			if c.Paused() {
				continue
			}
			_ = c.Refresh(ctx)
		}
	}
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	c.heartbeat(ctx)
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.heartbeat(ctx)
		}
	}
}

func (c *Client) countLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.CountInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.count(ctx)
		}
	}
}

func (c *Client) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.local.Cleanup(RoomTTL); err != nil {
				c.logger.Warn("local room cleanup failed", zap.Error(err))
			}
		}
	}
}

func (c *Client) heartbeat(ctx context.Context) {
	c.mu.RLock()
	code, mode, self := c.code, c.mode, c.self
	c.mu.RUnlock()

	if mode == ModeLocal {
		if err := c.local.Heartbeat(code, self); err != nil {
			c.logger.Debug("local heartbeat failed", zap.Error(err))
		}
		return
	}
	if _, err := c.api.RegisterParticipant(ctx, code, self); err != nil {
		c.setOnline(false)
		c.logger.Debug("heartbeat failed", zap.String("code", code), zap.Error(err))
		return
	}
	c.markSynced()
}

func (c *Client) count(ctx context.Context) {
	c.mu.RLock()
	code, mode := c.code, c.mode
	c.mu.RUnlock()

	var active int
	if mode == ModeLocal {
		n, err := c.local.Count(code, c.opts.PresenceWindow)
		if err != nil {
			c.logger.Debug("local count failed", zap.Error(err))
			return
		}
		active = n
	} else {
		summary, err := c.api.Presence(ctx, code)
		if err != nil {
			c.logger.Debug("presence count failed", zap.String("code", code), zap.Error(err))
			return
		}
		active = summary.Active
	}

	c.mu.Lock()
	c.connected = active
	c.mu.Unlock()
}

// leave removes the own presence record. Best effort: expiry of the
// liveness window is what actually cleans up.
func (c *Client) leave(ctx context.Context) {
	c.mu.RLock()
	code, mode, id := c.code, c.mode, c.self.ID
	c.mu.RUnlock()

	if mode == ModeLocal {
		_ = c.local.Leave(code, id)
		return
	}
	leaveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()
	if err := c.api.RemoveParticipant(leaveCtx, code, id); err != nil {
		c.logger.Debug("presence removal failed", zap.String("code", code), zap.Error(err))
	}
}

func (c *Client) notify(state domain.PresentationState) {
	if c.onState != nil {
		c.onState(state.Clone())
	}
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	c.online = online
	c.mu.Unlock()
}

func (c *Client) markSynced() {
	c.mu.Lock()
	c.online = true
	c.lastSync = c.clock()
	c.mu.Unlock()
}

func (c *Client) rawState() domain.PresentationState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Clone()
}

// State returns the local state, with the position clamped into the module
// tree when one is configured.
func (c *Client) State() domain.PresentationState {
	state := c.rawState()
	if c.machine != nil {
		state.CurrentModule, state.CurrentStep = c.machine.Tree().Clamp(state.CurrentModule, state.CurrentStep)
	}
	return state
}

func (c *Client) Code() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.code
}

func (c *Client) HostToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hostToken
}

func (c *Client) IsHost() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isHost
}

func (c *Client) Mode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// Online reports whether the last request to the session service succeeded.
func (c *Client) Online() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

func (c *Client) LastSync() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSync
}

// ConnectedCount is the active participant count from the last count tick.
func (c *Client) ConnectedCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Client) Paused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paused
}

// Self is the client's own presence record.
func (c *Client) Self() domain.Participant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.self
}
