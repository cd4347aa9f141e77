package presentation

import (
	"errors"
	"slices"
	"testing"
	"time"

	"training-sync-service/internal/domain"
)

func sampleTree() Tree {
	return Tree{
		{"intro-1", "intro-2"},
		{"core-1", "core-2", "core-3"},
		{"end-1"},
	}
}

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

func newTestMachine() *Machine {
	m := NewMachine(sampleTree(), fixedClock(10_000))
	m.newSessionID = func() string { return "run-2" }
	return m
}

func startState() domain.PresentationState {
	return domain.DefaultState(time.UnixMilli(1_000), "intro-1")
}

func TestAdvanceWithinModule(t *testing.T) {
	m := newTestMachine()
	next, changed := m.Advance(startState())
	if !changed {
		t.Fatalf("expected advance to change state")
	}
	if next.CurrentModule != 0 || next.CurrentStep != 1 {
		t.Fatalf("unexpected position %d/%d", next.CurrentModule, next.CurrentStep)
	}
	if !slices.Contains(next.VisibleSections, "intro-2") {
		t.Fatalf("expected intro-2 visible, got %v", next.VisibleSections)
	}
	if next.LastModified != 10_000 {
		t.Fatalf("expected lastModified stamped from clock, got %d", next.LastModified)
	}
}

func TestAdvanceCrossesModuleAndCompletesPrevious(t *testing.T) {
	m := newTestMachine()
	s := startState()
	s.CurrentStep = 1

	next, changed := m.Advance(s)
	if !changed {
		t.Fatalf("expected advance to change state")
	}
	if next.CurrentModule != 1 || next.CurrentStep != 0 {
		t.Fatalf("unexpected position %d/%d", next.CurrentModule, next.CurrentStep)
	}
	if !slices.Equal(next.CompletedModules, []int{0}) {
		t.Fatalf("expected module 0 completed, got %v", next.CompletedModules)
	}
	if !slices.Contains(next.VisibleSections, "core-1") {
		t.Fatalf("expected first section of next module visible, got %v", next.VisibleSections)
	}
}

func TestAdvanceAtEndIsNoOp(t *testing.T) {
	m := newTestMachine()
	s := startState()
	s.CurrentModule = 2
	s.CurrentStep = 0

	next, changed := m.Advance(s)
	if changed {
		t.Fatalf("expected no change at the last step")
	}
	if next.LastModified != s.LastModified {
		t.Fatalf("no-op must not restamp")
	}
}

func TestRewindUndoesCompletion(t *testing.T) {
	m := newTestMachine()
	s := startState()
	s.CurrentModule = 1
	s.CurrentStep = 0
	s.CompletedModules = []int{0}

	next, changed := m.Rewind(s)
	if !changed {
		t.Fatalf("expected rewind to change state")
	}
	if next.CurrentModule != 0 || next.CurrentStep != 1 {
		t.Fatalf("expected last step of previous module, got %d/%d", next.CurrentModule, next.CurrentStep)
	}
	if len(next.CompletedModules) != 0 {
		t.Fatalf("expected module 0 no longer completed, got %v", next.CompletedModules)
	}
	if !slices.Equal(s.CompletedModules, []int{0}) {
		t.Fatalf("input state was mutated: %v", s.CompletedModules)
	}
}

func TestRewindAtStartIsNoOp(t *testing.T) {
	m := newTestMachine()
	if _, changed := m.Rewind(startState()); changed {
		t.Fatalf("expected no rewind at the first step")
	}
}

func TestJumpValidatesPosition(t *testing.T) {
	m := newTestMachine()
	next, err := m.Jump(startState(), 1, 2)
	if err != nil {
		t.Fatalf("jump: %v", err)
	}
	if next.CurrentModule != 1 || next.CurrentStep != 2 || !slices.Contains(next.VisibleSections, "core-3") {
		t.Fatalf("unexpected state after jump: %+v", next)
	}

	if _, err := m.Jump(startState(), 3, 0); !errors.Is(err, ErrInvalidPosition) {
		t.Fatalf("expected ErrInvalidPosition, got %v", err)
	}
	if _, err := m.Jump(startState(), 2, 1); !errors.Is(err, ErrInvalidPosition) {
		t.Fatalf("expected ErrInvalidPosition for missing step, got %v", err)
	}
}

func TestRevealModuleIsIdempotent(t *testing.T) {
	m := newTestMachine()
	once, err := m.RevealModule(startState(), 1)
	if err != nil {
		t.Fatalf("reveal: %v", err)
	}
	twice, err := m.RevealModule(once, 1)
	if err != nil {
		t.Fatalf("reveal again: %v", err)
	}
	want := []string{"intro-1", "core-1", "core-2", "core-3"}
	if !slices.Equal(twice.VisibleSections, want) {
		t.Fatalf("expected %v, got %v", want, twice.VisibleSections)
	}
}

func TestToggleSection(t *testing.T) {
	m := newTestMachine()
	shown := m.ToggleSection(startState(), "bonus")
	if !slices.Contains(shown.VisibleSections, "bonus") {
		t.Fatalf("expected bonus shown")
	}
	hidden := m.ToggleSection(shown, "bonus")
	if slices.Contains(hidden.VisibleSections, "bonus") {
		t.Fatalf("expected bonus hidden")
	}
	if hidden.LastModified <= shown.LastModified {
		t.Fatalf("expected strictly increasing lastModified, got %d then %d", shown.LastModified, hidden.LastModified)
	}
}

func TestJumpToEnd(t *testing.T) {
	m := newTestMachine()
	next := m.JumpToEnd(startState())
	if next.CurrentModule != 2 || next.CurrentStep != 0 {
		t.Fatalf("unexpected position %d/%d", next.CurrentModule, next.CurrentStep)
	}
	if !slices.Equal(next.CompletedModules, []int{0, 1}) {
		t.Fatalf("expected all but last completed, got %v", next.CompletedModules)
	}
	if !slices.Contains(next.VisibleSections, CertificateSection) {
		t.Fatalf("expected certificate visible, got %v", next.VisibleSections)
	}
}

func TestResetMintsNewSessionID(t *testing.T) {
	m := newTestMachine()
	s := startState()
	s.SessionID = "run-1"
	s.CurrentModule = 2
	s.CompletedModules = []int{0, 1}

	next := m.Reset(s)
	if next.SessionID != "run-2" {
		t.Fatalf("expected new session id, got %q", next.SessionID)
	}
	if next.CurrentModule != 0 || next.CurrentStep != 0 || len(next.CompletedModules) != 0 {
		t.Fatalf("expected default position, got %+v", next)
	}
	if !slices.Equal(next.VisibleSections, []string{"intro-1"}) {
		t.Fatalf("expected only first section visible, got %v", next.VisibleSections)
	}
}

func TestClampCorrectsOutOfRangePosition(t *testing.T) {
	m := newTestMachine()
	s := startState()
	s.CurrentModule = 7
	s.CurrentStep = 9

	next, changed := m.Clamp(s)
	if !changed {
		t.Fatalf("expected clamp to report a correction")
	}
	if next.CurrentModule != 2 || next.CurrentStep != 0 {
		t.Fatalf("unexpected clamped position %d/%d", next.CurrentModule, next.CurrentStep)
	}

	if _, changed := m.Clamp(startState()); changed {
		t.Fatalf("valid position must not be corrected")
	}
}

func TestStampStaysMonotonicWithStaleClock(t *testing.T) {
	m := NewMachine(sampleTree(), fixedClock(500))
	s := startState()
	next, _ := m.Advance(s)
	if next.LastModified != s.LastModified+1 {
		t.Fatalf("expected lastModified %d, got %d", s.LastModified+1, next.LastModified)
	}
}

func TestTreeProgress(t *testing.T) {
	tree := sampleTree()
	if got := tree.Progress(0, 0); got != 16 {
		t.Fatalf("expected 16%%, got %d", got)
	}
	if got := tree.Progress(2, 0); got != 100 {
		t.Fatalf("expected 100%%, got %d", got)
	}
	if got := (Tree{}).Progress(0, 0); got != 0 {
		t.Fatalf("expected 0 for empty tree, got %d", got)
	}
}
