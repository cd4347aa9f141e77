package presentation

// Tree lists, per module, the ordered section ids of its steps.
type Tree [][]string

// FirstSection returns the section of the first step, or "" for an empty tree.
func (t Tree) FirstSection() string {
	section, _ := t.Section(0, 0)
	return section
}

// Section returns the section id at (module, step).
func (t Tree) Section(module, step int) (string, bool) {
	if !t.Valid(module, step) {
		return "", false
	}
	return t[module][step], true
}

// Valid reports whether (module, step) addresses an existing step.
func (t Tree) Valid(module, step int) bool {
	return module >= 0 && module < len(t) && step >= 0 && step < len(t[module])
}

// LastModule is the index of the final module, or 0 for an empty tree.
func (t Tree) LastModule() int {
	if len(t) == 0 {
		return 0
	}
	return len(t) - 1
}

// LastStep is the index of the final step of module, or 0 when it has none.
func (t Tree) LastStep(module int) int {
	if module < 0 || module >= len(t) || len(t[module]) == 0 {
		return 0
	}
	return len(t[module]) - 1
}

// Clamp pulls (module, step) into the valid range of the tree.
func (t Tree) Clamp(module, step int) (int, int) {
	module = clampInt(module, 0, t.LastModule())
	step = clampInt(step, 0, t.LastStep(module))
	return module, step
}

// StepCount is the total number of steps across modules.
func (t Tree) StepCount() int {
	total := 0
	for _, steps := range t {
		total += len(steps)
	}
	return total
}

// Progress returns the share of steps reached, in percent.
func (t Tree) Progress(module, step int) int {
	total := t.StepCount()
	if total == 0 {
		return 0
	}
	module, step = t.Clamp(module, step)
	done := 0
	for i := 0; i < module; i++ {
		done += len(t[i])
	}
	if len(t) > 0 && len(t[module]) > 0 {
		done += step + 1
	}
	percent := done * 100 / total
	if percent > 100 {
		return 100
	}
	return percent
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
