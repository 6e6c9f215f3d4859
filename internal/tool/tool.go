// Package tool implements the Tool Registry: an immutable catalog of
// declared tool descriptors filtered by a selector-based specification
// into a deterministic, insertion-ordered active set. Grounded on the
// teacher's internal/app/toolregistry package (its static/dynamic/mcp
// maps and sorted, defsDirty-cached List()), generalized from a
// Go-coded builtin registration table to data-driven descriptors per
// the "opaque descriptor" note.
package tool

import (
	"fmt"
	"sort"
	"strings"
)

// ClassifyRead marks a tool's result as cacheable by the dispatcher.
type Classify string

const (
	ClassifyRead  Classify = "read"
	ClassifyWrite Classify = "write"
	ClassifyAdmin Classify = "admin"
)

// AuthMode names which credential a tool call is authorized under.
type AuthMode string

const (
	AuthTenant AuthMode = "tenant"
	AuthUser   AuthMode = "user"
	AuthEither AuthMode = "either"
)

// Descriptor is an immutable tool record. Descriptors are registered
// once at startup and never mutated afterward.
type Descriptor struct {
	Name        string
	Description string
	InputSchema map[string]any
	Category    string
	Classify    Classify
	Auth        AuthMode
	RateTier    string
}

// Preset names a stored, reusable selector list.
type Preset struct {
	Name      string
	Selectors []string
}

// UnknownPresetError reports a filter specification referencing a
// preset that was never declared.
type UnknownPresetError struct{ Preset string }

func (e *UnknownPresetError) Error() string {
	return fmt.Sprintf("tool: unknown preset %q", e.Preset)
}

// NoToolsMatchedError reports a filter specification whose resolved
// active set is empty. Fatal per spec: the registry must not start
// with zero active tools.
type NoToolsMatchedError struct{}

func (e *NoToolsMatchedError) Error() string { return "tool: no tools matched the filter specification" }

// FilterSpec is an ordered inclusion list plus an exclusion list,
// applied after inclusion.
type FilterSpec struct {
	Include []string
	Exclude []string
}

// Registry holds the full declared catalog plus any stored presets.
// It is built once and is safe for concurrent read-only use; it has
// no mutation methods beyond construction because descriptors are
// fixed for process lifetime per spec.
type Registry struct {
	all     map[string]Descriptor
	order   []string // insertion order of `all`, for deterministic prefix/`*` expansion
	presets map[string]Preset
}

// New builds a Registry from a declared descriptor set (in
// registration order) and a set of named presets.
func New(descriptors []Descriptor, presets []Preset) (*Registry, error) {
	r := &Registry{
		all:     make(map[string]Descriptor, len(descriptors)),
		order:   make([]string, 0, len(descriptors)),
		presets: make(map[string]Preset, len(presets)),
	}
	for _, d := range descriptors {
		if _, exists := r.all[d.Name]; exists {
			return nil, fmt.Errorf("tool: duplicate descriptor name %q", d.Name)
		}
		r.all[d.Name] = d
		r.order = append(r.order, d.Name)
	}
	for _, p := range presets {
		r.presets[p.Name] = p
	}
	return r, nil
}

// Resolve expands spec into the active set: a deterministic,
// insertion-ordered mapping from name to descriptor. Insertion order
// follows first-match-wins over the include list, in list order, with
// `prefix.*` and `*` selectors expanded in catalog registration order.
func (r *Registry) Resolve(spec FilterSpec) (*ActiveSet, error) {
	included := make(map[string]bool)
	var orderedNames []string

	addName := func(name string) {
		if included[name] {
			return
		}
		if _, ok := r.all[name]; !ok {
			return
		}
		included[name] = true
		orderedNames = append(orderedNames, name)
	}

	for _, sel := range spec.Include {
		switch {
		case sel == "*":
			for _, name := range r.order {
				addName(name)
			}
		case strings.HasSuffix(sel, ".*"):
			prefix := strings.TrimSuffix(sel, "*")
			for _, name := range r.order {
				if strings.HasPrefix(name, prefix) {
					addName(name)
				}
			}
		default:
			if preset, ok := r.presets[sel]; ok {
				for _, presetSel := range expandPreset(r, preset, map[string]bool{}) {
					addName(presetSel)
				}
				continue
			}
			if _, ok := r.all[sel]; ok {
				addName(sel)
				continue
			}
			return nil, &UnknownPresetError{Preset: sel}
		}
	}

	exclude := make(map[string]bool, len(spec.Exclude))
	for _, name := range spec.Exclude {
		exclude[name] = true
	}

	active := make(map[string]Descriptor, len(orderedNames))
	finalOrder := make([]string, 0, len(orderedNames))
	for _, name := range orderedNames {
		if exclude[name] {
			continue
		}
		active[name] = r.all[name]
		finalOrder = append(finalOrder, name)
	}

	if len(active) == 0 {
		return nil, &NoToolsMatchedError{}
	}

	return &ActiveSet{descriptors: active, order: finalOrder}, nil
}

// expandPreset flattens a preset's selector list into concrete tool
// names, recursing into nested presets while guarding against cycles.
func expandPreset(r *Registry, preset Preset, seen map[string]bool) []string {
	if seen[preset.Name] {
		return nil
	}
	seen[preset.Name] = true

	var names []string
	for _, sel := range preset.Selectors {
		switch {
		case sel == "*":
			names = append(names, r.order...)
		case strings.HasSuffix(sel, ".*"):
			prefix := strings.TrimSuffix(sel, "*")
			for _, name := range r.order {
				if strings.HasPrefix(name, prefix) {
					names = append(names, name)
				}
			}
		default:
			if nested, ok := r.presets[sel]; ok {
				names = append(names, expandPreset(r, nested, seen)...)
				continue
			}
			names = append(names, sel)
		}
	}
	return names
}

// ActiveSet is the finalized, immutable result of Resolve. It is what
// the dispatcher and MCP adapter consult at call time.
type ActiveSet struct {
	descriptors map[string]Descriptor
	order       []string
}

// Get returns the named tool's descriptor if it is active.
func (a *ActiveSet) Get(name string) (Descriptor, bool) {
	d, ok := a.descriptors[name]
	return d, ok
}

// List returns every active descriptor in deterministic insertion
// order.
func (a *ActiveSet) List() []Descriptor {
	out := make([]Descriptor, 0, len(a.order))
	for _, name := range a.order {
		out = append(out, a.descriptors[name])
	}
	return out
}

// Names returns the active set's tool names, sorted for stable
// diagnostic output (List preserves insertion order; Names does not).
func (a *ActiveSet) Names() []string {
	names := make([]string, 0, len(a.order))
	names = append(names, a.order...)
	sort.Strings(names)
	return names
}

// Len reports the number of active tools.
func (a *ActiveSet) Len() int { return len(a.order) }
