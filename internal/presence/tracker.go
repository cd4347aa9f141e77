// Package presence computes the connected count of a session from the
// heartbeat timestamps in its roster.
package presence

import (
	"context"
	"time"

	"go.uber.org/zap"

	"training-sync-service/internal/domain"
)

const (
	// DefaultWindow is how long a heartbeat keeps a participant active.
	DefaultWindow = 30 * time.Second
	// DefaultHeartbeat is how often clients refresh their own record.
	DefaultHeartbeat = 5 * time.Second
)

// Roster is the subset of the session store the tracker reads and prunes.
type Roster interface {
	HasDurable() bool
	ListParticipants(ctx context.Context, code string) []domain.Participant
	RemoveParticipant(ctx context.Context, code, participantID string) []domain.Participant
}

// Summary is the outcome of a count.
type Summary struct {
	Active int                  `json:"active"`
	Total  int                  `json:"total"`
	Online []domain.Participant `json:"participants"`
}

type Tracker struct {
	window time.Duration
	clock  func() time.Time
	logger *zap.Logger
}

func NewTracker(window time.Duration, clock func() time.Time, logger *zap.Logger) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{window: window, clock: clock, logger: logger}
}

// Window is the liveness window in use.
func (t *Tracker) Window() time.Duration {
	return t.window
}

// Active reports whether a record last seen at lastSeen (epoch ms) is still
// inside the window at now.
func (t *Tracker) Active(now time.Time, lastSeen int64) bool {
	return now.UnixMilli()-lastSeen < t.window.Milliseconds()
}

// Partition splits participants into active and expired records.
func (t *Tracker) Partition(participants []domain.Participant) (active, expired []domain.Participant) {
	now := t.clock()
	active = make([]domain.Participant, 0, len(participants))
	for _, p := range participants {
		if t.Active(now, p.LastSeen) {
			active = append(active, p)
		} else {
			expired = append(expired, p)
		}
	}
	return active, expired
}

// Count scans the roster of code and counts active records. Without a
// durable backend, expired records are pruned from the in-process roster as
// a side effect; the durable path leaves pruning to the backend.
func (t *Tracker) Count(ctx context.Context, roster Roster, code string) Summary {
	participants := roster.ListParticipants(ctx, code)
	active, expired := t.Partition(participants)

	if !roster.HasDurable() && len(expired) > 0 {
		for _, p := range expired {
			roster.RemoveParticipant(ctx, code, p.ID)
		}
		t.logger.Debug("pruned expired participants",
			zap.String("code", code),
			zap.Int("pruned", len(expired)),
		)
	}

	return Summary{
		Active: len(active),
		Total:  len(participants),
		Online: active,
	}
}
