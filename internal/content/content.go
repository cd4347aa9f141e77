// Package content describes the fixed module/step tree a session walks through.
package content

import (
	"context"
	"encoding/json"
	"errors"

	"training-sync-service/internal/presentation"
)

// DefaultID names the content document served when none is requested.
const DefaultID = "default"

// ErrContentNotFound indicates no content document exists for an id.
var ErrContentNotFound = errors.New("training content not found")

// Module is one chapter of the course with its ordered step section ids.
type Module struct {
	ID         int      `json:"id" yaml:"id"`
	Title      string   `json:"title" yaml:"title"`
	Summary    string   `json:"summary" yaml:"summary"`
	Steps      []string `json:"steps" yaml:"steps"`
	StepTitles []string `json:"stepTitles" yaml:"stepTitles"`
}

// Content is the whole course.
type Content struct {
	Title    string   `json:"title" yaml:"title"`
	Subtitle string   `json:"subtitle" yaml:"subtitle"`
	Modules  []Module `json:"modules" yaml:"modules"`
}

// Loader fetches content from a backing store.
type Loader interface {
	LoadContent(ctx context.Context, id string) (Content, error)
}

// Tree returns the step ids per module, the only part transitions depend on.
func (c Content) Tree() presentation.Tree {
	tree := make(presentation.Tree, len(c.Modules))
	for i, module := range c.Modules {
		tree[i] = append([]string(nil), module.Steps...)
	}
	return tree
}

// FirstSection is the section revealed in a fresh state.
func (c Content) FirstSection() string {
	return c.Tree().FirstSection()
}

type moduleOverride struct {
	ID         int      `json:"id"`
	Title      *string  `json:"title"`
	Summary    *string  `json:"summary"`
	StepTitles []string `json:"stepTitles"`
}

type overrides struct {
	Title    string           `json:"title"`
	Subtitle string           `json:"subtitle"`
	Modules  []moduleOverride `json:"modules"`
}

// ApplyOverrides merges a state's customContent into base. Step ids are never
// overridden; malformed overrides leave base untouched.
func ApplyOverrides(base Content, raw json.RawMessage) Content {
	if len(raw) == 0 || string(raw) == "null" {
		return base
	}
	var o overrides
	if err := json.Unmarshal(raw, &o); err != nil {
		return base
	}

	merged := Content{
		Title:    base.Title,
		Subtitle: base.Subtitle,
		Modules:  make([]Module, len(base.Modules)),
	}
	if o.Title != "" {
		merged.Title = o.Title
	}
	if o.Subtitle != "" {
		merged.Subtitle = o.Subtitle
	}
	for i, module := range base.Modules {
		module.Steps = append([]string(nil), module.Steps...)
		module.StepTitles = append([]string(nil), module.StepTitles...)
		for _, override := range o.Modules {
			if override.ID != module.ID {
				continue
			}
			if override.Title != nil {
				module.Title = *override.Title
			}
			if override.Summary != nil {
				module.Summary = *override.Summary
			}
			if override.StepTitles != nil {
				module.StepTitles = append([]string(nil), override.StepTitles...)
			}
		}
		merged.Modules[i] = module
	}
	return merged
}
