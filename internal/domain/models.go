package domain

import (
	"encoding/json"
	"time"
)

// PresentationState is the single synchronized document of a session.
// Holders other than the host replace it wholesale and never merge fields.
type PresentationState struct {
	CurrentModule    int             `json:"currentModule"`
	CurrentStep      int             `json:"currentStep"`
	CompletedModules []int           `json:"completedModules"`
	VisibleSections  []string        `json:"visibleSections"`
	LastModified     int64           `json:"lastModified"`
	IsPlaying        *bool           `json:"isPlaying,omitempty"`
	AutoAdvance      *bool           `json:"autoAdvance,omitempty"`
	SessionID        string          `json:"sessionId,omitempty"`
	CustomContent    json.RawMessage `json:"customContent,omitempty"`
}

// Clone returns a deep copy so callers can mutate the result freely.
func (s PresentationState) Clone() PresentationState {
	out := s
	out.CompletedModules = append([]int(nil), s.CompletedModules...)
	out.VisibleSections = append([]string(nil), s.VisibleSections...)
	if s.CustomContent != nil {
		out.CustomContent = append(json.RawMessage(nil), s.CustomContent...)
	}
	if s.IsPlaying != nil {
		v := *s.IsPlaying
		out.IsPlaying = &v
	}
	if s.AutoAdvance != nil {
		v := *s.AutoAdvance
		out.AutoAdvance = &v
	}
	if out.CompletedModules == nil {
		out.CompletedModules = []int{}
	}
	if out.VisibleSections == nil {
		out.VisibleSections = []string{}
	}
	return out
}

// Supersedes reports whether s should replace held. Only a strictly newer
// lastModified wins; equal or older states are discarded.
func (s PresentationState) Supersedes(held PresentationState) bool {
	return s.LastModified > held.LastModified
}

// DefaultState is the state a fresh session starts from.
func DefaultState(now time.Time, firstSection string) PresentationState {
	playing, auto := false, false
	visible := []string{}
	if firstSection != "" {
		visible = append(visible, firstSection)
	}
	return PresentationState{
		CurrentModule:    0,
		CurrentStep:      0,
		CompletedModules: []int{},
		VisibleSections:  visible,
		LastModified:     now.UnixMilli(),
		IsPlaying:        &playing,
		AutoAdvance:      &auto,
	}
}

// Participant is one client's presence record in a session roster.
type Participant struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	IsHost   bool   `json:"isHost"`
	LastSeen int64  `json:"lastSeen"`
}

// ScoreType distinguishes quiz results from workshop results.
type ScoreType string

const (
	ScoreTypeQuiz    ScoreType = "quiz"
	ScoreTypeAtelier ScoreType = "atelier"
)

// Valid reports whether t is a known score type.
func (t ScoreType) Valid() bool {
	return t == ScoreTypeQuiz || t == ScoreTypeAtelier
}

// ScoreEntry is one participant's result for an activity.
type ScoreEntry struct {
	ParticipantID   string    `json:"participantId"`
	ParticipantName string    `json:"participantName"`
	Activity        string    `json:"activity"`
	Score           int       `json:"score"`
	Total           int       `json:"total"`
	Timestamp       int64     `json:"timestamp"`
	Type            ScoreType `json:"type"`
}

// ScoreKey identifies the ledger slot a score entry occupies.
type ScoreKey struct {
	ParticipantID string
	Activity      string
	Type          ScoreType
}

// Key returns the (participant, activity, type) slot of the entry.
func (e ScoreEntry) Key() ScoreKey {
	return ScoreKey{ParticipantID: e.ParticipantID, Activity: e.Activity, Type: e.Type}
}

// Session is the full per-code record held by the store.
type Session struct {
	Code         string            `json:"code"`
	State        PresentationState `json:"state"`
	Participants []Participant     `json:"participants"`
	Scores       []ScoreEntry      `json:"scores"`
	CreatedAt    int64             `json:"createdAt"`
}

// Clone returns a deep copy of the record.
func (s Session) Clone() Session {
	out := s
	out.State = s.State.Clone()
	out.Participants = append([]Participant{}, s.Participants...)
	out.Scores = append([]ScoreEntry{}, s.Scores...)
	return out
}

// ClearResult reports the outcome of a purge-all.
type ClearResult struct {
	Cleared bool   `json:"cleared"`
	Reason  string `json:"reason,omitempty"`
}
