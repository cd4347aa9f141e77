// Package presentation implements the host-only transitions over a session's
// presentation state. Every transition returns a new state; the input is
// never mutated.
package presentation

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"training-sync-service/internal/domain"
)

// CertificateSection is revealed when the host jumps to the end of the course.
const CertificateSection = "certificate"

// ErrInvalidPosition is returned for a jump or reveal outside the tree.
var ErrInvalidPosition = errors.New("position outside the module tree")

// Machine applies transitions against a fixed tree.
type Machine struct {
	tree         Tree
	clock        func() time.Time
	newSessionID func() string
}

func NewMachine(tree Tree, clock func() time.Time) *Machine {
	if clock == nil {
		clock = time.Now
	}
	return &Machine{
		tree:         tree,
		clock:        clock,
		newSessionID: uuid.NewString,
	}
}

// Tree exposes the tree transitions run against.
func (m *Machine) Tree() Tree {
	return m.tree
}

// CanAdvance is false at the last step of the last module.
func (m *Machine) CanAdvance(s domain.PresentationState) bool {
	module, step := m.tree.Clamp(s.CurrentModule, s.CurrentStep)
	return step < m.tree.LastStep(module) || module < m.tree.LastModule()
}

// CanRewind is false at the first step of the first module.
func (m *Machine) CanRewind(s domain.PresentationState) bool {
	module, step := m.tree.Clamp(s.CurrentModule, s.CurrentStep)
	return step > 0 || module > 0
}

// Advance moves to the next step, crossing into the next module when needed.
// At the very end it returns s unchanged and false.
func (m *Machine) Advance(s domain.PresentationState) (domain.PresentationState, bool) {
	if !m.CanAdvance(s) {
		return s, false
	}
	next := s.Clone()
	module, step := m.tree.Clamp(s.CurrentModule, s.CurrentStep)

	if step < m.tree.LastStep(module) {
		next.CurrentModule = module
		next.CurrentStep = step + 1
	} else {
		next.CompletedModules = appendUniqueInt(next.CompletedModules, module)
		next.CurrentModule = module + 1
		next.CurrentStep = 0
	}
	m.revealCurrent(&next)
	return m.stamp(next, s), true
}

// Rewind is the inverse of Advance; leaving a module backwards undoes the
// completion mark of the module being re-entered.
func (m *Machine) Rewind(s domain.PresentationState) (domain.PresentationState, bool) {
	if !m.CanRewind(s) {
		return s, false
	}
	next := s.Clone()
	module, step := m.tree.Clamp(s.CurrentModule, s.CurrentStep)

	if step > 0 {
		next.CurrentModule = module
		next.CurrentStep = step - 1
	} else {
		previous := module - 1
		next.CurrentModule = previous
		next.CurrentStep = m.tree.LastStep(previous)
		next.CompletedModules = slices.DeleteFunc(next.CompletedModules, func(id int) bool {
			return id == previous
		})
	}
	return m.stamp(next, s), true
}

// Jump moves directly to (module, step) and makes its section visible.
func (m *Machine) Jump(s domain.PresentationState, module, step int) (domain.PresentationState, error) {
	if !m.tree.Valid(module, step) {
		return s, fmt.Errorf("%w: module %d step %d", ErrInvalidPosition, module, step)
	}
	next := s.Clone()
	next.CurrentModule = module
	next.CurrentStep = step
	m.revealCurrent(&next)
	return m.stamp(next, s), nil
}

// RevealModule makes every step section of module visible.
func (m *Machine) RevealModule(s domain.PresentationState, module int) (domain.PresentationState, error) {
	if module < 0 || module >= len(m.tree) {
		return s, fmt.Errorf("%w: module %d", ErrInvalidPosition, module)
	}
	next := s.Clone()
	for _, section := range m.tree[module] {
		next.VisibleSections = appendUniqueString(next.VisibleSections, section)
	}
	return m.stamp(next, s), nil
}

// ToggleSection shows sectionID if hidden and hides it if shown.
func (m *Machine) ToggleSection(s domain.PresentationState, sectionID string) domain.PresentationState {
	next := s.Clone()
	if slices.Contains(next.VisibleSections, sectionID) {
		next.VisibleSections = slices.DeleteFunc(next.VisibleSections, func(id string) bool {
			return id == sectionID
		})
	} else {
		next.VisibleSections = append(next.VisibleSections, sectionID)
	}
	return m.stamp(next, s)
}

// JumpToEnd moves to the final step, completes every earlier module and
// reveals the certificate.
func (m *Machine) JumpToEnd(s domain.PresentationState) domain.PresentationState {
	next := s.Clone()
	last := m.tree.LastModule()
	next.CurrentModule = last
	next.CurrentStep = m.tree.LastStep(last)
	next.CompletedModules = make([]int, 0, last)
	for i := 0; i < last; i++ {
		next.CompletedModules = append(next.CompletedModules, i)
	}
	m.revealCurrent(&next)
	next.VisibleSections = appendUniqueString(next.VisibleSections, CertificateSection)
	return m.stamp(next, s)
}

// Reset replaces the state with a fresh default under a new session id, so
// clients holding the old run can tell it apart.
func (m *Machine) Reset(s domain.PresentationState) domain.PresentationState {
	next := domain.DefaultState(m.clock(), m.tree.FirstSection())
	next.SessionID = m.newSessionID()
	return m.stamp(next, s)
}

// Clamp pulls an out-of-range position back into the tree. changed reports
// whether a correcting push is needed.
func (m *Machine) Clamp(s domain.PresentationState) (domain.PresentationState, bool) {
	module, step := m.tree.Clamp(s.CurrentModule, s.CurrentStep)
	if module == s.CurrentModule && step == s.CurrentStep {
		return s, false
	}
	next := s.Clone()
	next.CurrentModule = module
	next.CurrentStep = step
	m.revealCurrent(&next)
	return m.stamp(next, s), true
}

func (m *Machine) revealCurrent(s *domain.PresentationState) {
	if section, ok := m.tree.Section(s.CurrentModule, s.CurrentStep); ok {
		s.VisibleSections = appendUniqueString(s.VisibleSections, section)
	}
}

// stamp sets a fresh lastModified that is strictly greater than the previous
// one, even when two transitions land in the same millisecond.
func (m *Machine) stamp(next, previous domain.PresentationState) domain.PresentationState {
	now := m.clock().UnixMilli()
	if now <= previous.LastModified {
		now = previous.LastModified + 1
	}
	next.LastModified = now
	return next
}

func appendUniqueString(values []string, v string) []string {
	if slices.Contains(values, v) {
		return values
	}
	return append(values, v)
}

func appendUniqueInt(values []int, v int) []int {
	if slices.Contains(values, v) {
		return values
	}
	return append(values, v)
}
