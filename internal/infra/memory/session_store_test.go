package memory

import (
	"testing"

	"training-sync-service/internal/domain"
)

func TestSessionStoreLifecycle(t *testing.T) {
	store := NewSessionStore()

	store.Put(domain.Session{Code: "AB12CD", State: domain.PresentationState{LastModified: 1}})
	session, ok := store.Get("AB12CD")
	if !ok {
		t.Fatalf("expected session present")
	}
	if session.State.LastModified != 1 {
		t.Fatalf("unexpected state: %+v", session.State)
	}

	store.Clear()
	if _, ok := store.Get("AB12CD"); ok {
		t.Fatalf("expected session removed after clear")
	}
}

func TestSessionStoreReturnsCopies(t *testing.T) {
	store := NewSessionStore()
	store.Put(domain.Session{
		Code:  "AB12CD",
		State: domain.PresentationState{VisibleSections: []string{"intro"}},
	})

	session, _ := store.Get("AB12CD")
	session.State.VisibleSections[0] = "mutated"
	session.Participants = append(session.Participants, domain.Participant{ID: "p1"})

	again, _ := store.Get("AB12CD")
	if again.State.VisibleSections[0] != "intro" {
		t.Fatalf("caller mutation leaked into the store")
	}
	if len(again.Participants) != 0 {
		t.Fatalf("caller append leaked into the store")
	}
}

func TestSessionStoreUpdateSynthesizesMissingRecord(t *testing.T) {
	store := NewSessionStore()

	updated := store.Update("ZZ99ZZ", func(current domain.Session, ok bool) domain.Session {
		if ok {
			t.Fatalf("expected no existing record")
		}
		current.Scores = append(current.Scores, domain.ScoreEntry{ParticipantID: "p1"})
		return current
	})
	if updated.Code != "ZZ99ZZ" || len(updated.Scores) != 1 {
		t.Fatalf("unexpected update result: %+v", updated)
	}

	kept := store.PutIfAbsent(domain.Session{Code: "ZZ99ZZ"})
	if len(kept.Scores) != 1 {
		t.Fatalf("PutIfAbsent must not overwrite an existing record")
	}
}
