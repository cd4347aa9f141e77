// Package schema maps durable-backend rows (snake_case columns) to domain
// records and back. Both the Postgres and Redis backends decode through these
// functions so field-name fallbacks live in exactly one place.
package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"training-sync-service/internal/domain"
)

// Row is a generic backend record keyed by column name.
type Row map[string]any

// SessionRow renders a session for the durable "sessions" collection.
func SessionRow(session domain.Session, updatedAt time.Time) (Row, error) {
	state, err := json.Marshal(session.State)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return Row{
		"code":       session.Code,
		"state":      json.RawMessage(state),
		"created_at": time.UnixMilli(session.CreatedAt).UTC().Format(time.RFC3339Nano),
		"updated_at": updatedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

// SessionFromRow decodes a "sessions" row. Participants and scores live in
// their own collections and are left empty.
func SessionFromRow(row Row, now time.Time) (domain.Session, error) {
	session := domain.Session{
		Code:         firstString(row, "code"),
		Participants: []domain.Participant{},
		Scores:       []domain.ScoreEntry{},
		CreatedAt:    Timestamp(first(row, "created_at", "createdAt"), now),
	}
	state, err := decodeState(row["state"])
	if err != nil {
		return domain.Session{}, err
	}
	session.State = state.Clone()
	return session, nil
}

// ParticipantRow renders a participant for the durable "participants" collection.
func ParticipantRow(code string, p domain.Participant) Row {
	var name any
	if trimmed := strings.TrimSpace(p.Name); trimmed != "" {
		name = trimmed
	}
	return Row{
		"code":           code,
		"participant_id": p.ID,
		"name":           name,
		"last_seen":      time.UnixMilli(p.LastSeen).UTC().Format(time.RFC3339Nano),
		"is_host":        p.IsHost,
	}
}

// ParticipantFromRow accepts either the snake_case backend schema or the
// camelCase wire schema.
func ParticipantFromRow(row Row, now time.Time) domain.Participant {
	return domain.Participant{
		ID:       firstString(row, "participant_id", "id"),
		Name:     firstString(row, "name", "participant_name"),
		IsHost:   truthy(first(row, "is_host", "isHost")),
		LastSeen: Timestamp(first(row, "last_seen", "lastSeen"), now),
	}
}

// ScoreRow renders a score for the durable "scores" collection.
func ScoreRow(code string, s domain.ScoreEntry) Row {
	return Row{
		"code":             code,
		"participant_id":   s.ParticipantID,
		"participant_name": s.ParticipantName,
		"activity":         s.Activity,
		"score":            s.Score,
		"total":            s.Total,
		"type":             string(s.Type),
		"timestamp":        time.UnixMilli(s.Timestamp).UTC().Format(time.RFC3339Nano),
	}
}

// ScoreFromRow accepts either the snake_case backend schema or the camelCase wire schema.
func ScoreFromRow(row Row, now time.Time) domain.ScoreEntry {
	return domain.ScoreEntry{
		ParticipantID:   firstString(row, "participant_id", "participantId"),
		ParticipantName: firstString(row, "participant_name", "participantName"),
		Activity:        firstString(row, "activity"),
		Score:           integer(row["score"]),
		Total:           integer(row["total"]),
		Type:            domain.ScoreType(firstString(row, "type")),
		Timestamp:       Timestamp(row["timestamp"], now),
	}
}

// Timestamp converts an epoch-milliseconds number, an ISO-8601 string or a
// time.Time into epoch milliseconds. Anything unparseable becomes now.
func Timestamp(raw any, now time.Time) int64 {
	switch v := raw.(type) {
	case time.Time:
		if v.IsZero() {
			return now.UnixMilli()
		}
		return v.UnixMilli()
	case *time.Time:
		if v == nil || v.IsZero() {
			return now.UnixMilli()
		}
		return v.UnixMilli()
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return now.UnixMilli()
		}
		return int64(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		if f, err := v.Float64(); err == nil {
			return Timestamp(f, now)
		}
	case string:
		s := strings.TrimSpace(v)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999-07"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UnixMilli()
			}
		}
	}
	return now.UnixMilli()
}

func decodeState(raw any) (domain.PresentationState, error) {
	var data []byte
	switch v := raw.(type) {
	case nil:
		return domain.PresentationState{}, nil
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	case string:
		data = []byte(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return domain.PresentationState{}, fmt.Errorf("encode state column: %w", err)
		}
		data = encoded
	}
	var state domain.PresentationState
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.PresentationState{}, fmt.Errorf("decode state column: %w", err)
	}
	return state, nil
}

func first(row Row, keys ...string) any {
	for _, key := range keys {
		if v, ok := row[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstString(row Row, keys ...string) string {
	switch v := first(row, keys...).(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func truthy(raw any) bool {
	switch v := raw.(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

func integer(raw any) int {
	switch v := raw.(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(v))
		return n
	default:
		return 0
	}
}
