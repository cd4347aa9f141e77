package schema

import (
	"encoding/json"
	"testing"
	"time"

	"training-sync-service/internal/domain"
)

var fixedNow = time.UnixMilli(1_700_000_000_000)

func TestTimestampAcceptsEpochAndISO(t *testing.T) {
	if got := Timestamp(float64(1234), fixedNow); got != 1234 {
		t.Fatalf("epoch float: got %d", got)
	}
	if got := Timestamp(json.Number("5678"), fixedNow); got != 5678 {
		t.Fatalf("epoch json number: got %d", got)
	}
	iso := "2024-03-01T10:00:00.5Z"
	want := time.Date(2024, 3, 1, 10, 0, 0, 500_000_000, time.UTC).UnixMilli()
	if got := Timestamp(iso, fixedNow); got != want {
		t.Fatalf("iso: got %d want %d", got, want)
	}
	if got := Timestamp("not a time", fixedNow); got != fixedNow.UnixMilli() {
		t.Fatalf("garbage should default to now, got %d", got)
	}
	if got := Timestamp(nil, fixedNow); got != fixedNow.UnixMilli() {
		t.Fatalf("nil should default to now, got %d", got)
	}
}

func TestParticipantFromRowFallbackKeys(t *testing.T) {
	snake := ParticipantFromRow(Row{
		"participant_id":   "p1",
		"participant_name": "Alice",
		"is_host":          true,
		"last_seen":        "2024-03-01T10:00:00Z",
	}, fixedNow)
	if snake.ID != "p1" || snake.Name != "Alice" || !snake.IsHost {
		t.Fatalf("unexpected snake_case decode: %+v", snake)
	}
	if snake.LastSeen != time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC).UnixMilli() {
		t.Fatalf("unexpected lastSeen: %d", snake.LastSeen)
	}

	camel := ParticipantFromRow(Row{"id": "p2", "name": "Bob", "isHost": false, "lastSeen": float64(42)}, fixedNow)
	if camel.ID != "p2" || camel.Name != "Bob" || camel.IsHost || camel.LastSeen != 42 {
		t.Fatalf("unexpected camelCase decode: %+v", camel)
	}
}

func TestScoreRoundTripThroughRow(t *testing.T) {
	entry := domain.ScoreEntry{
		ParticipantID:   "p1",
		ParticipantName: "Alice",
		Activity:        "quiz-final",
		Score:           7,
		Total:           10,
		Timestamp:       1_700_000_000_123,
		Type:            domain.ScoreTypeQuiz,
	}
	row := ScoreRow("AB12CD", entry)
	if row["participant_id"] != "p1" || row["code"] != "AB12CD" {
		t.Fatalf("unexpected row: %+v", row)
	}
	decoded := ScoreFromRow(row, fixedNow)
	if decoded != entry {
		t.Fatalf("expected %+v, got %+v", entry, decoded)
	}
}

func TestSessionFromRowDecodesStateColumn(t *testing.T) {
	row := Row{
		"code":       "AB12CD",
		"state":      []byte(`{"currentModule":1,"currentStep":2,"visibleSections":["intro"],"lastModified":99}`),
		"created_at": time.UnixMilli(1000),
	}
	session, err := SessionFromRow(row, fixedNow)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if session.State.CurrentModule != 1 || session.State.CurrentStep != 2 || session.State.LastModified != 99 {
		t.Fatalf("unexpected state: %+v", session.State)
	}
	if session.State.CompletedModules == nil {
		t.Fatalf("completedModules should be normalized to empty")
	}
	if session.CreatedAt != 1000 {
		t.Fatalf("unexpected createdAt: %d", session.CreatedAt)
	}
}
