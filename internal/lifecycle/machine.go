// Package lifecycle holds the guarded transition tables shared by every
// entity state machine.
package lifecycle

import (
	"sort"

	"github.com/jwalitptl/referral-api/pkg/errors"
)

type rule[S ~string] struct {
	from map[S]struct{}
	to   S
}

// Machine is a table of named actions. Each action lists the statuses it may
// start from and the status it lands in.
type Machine[S ~string] struct {
	entity   string
	states   []S
	terminal map[S]struct{}
	rules    map[string]rule[S]
}

// New declares a machine over states. terminal statuses accept no action.
func New[S ~string](entity string, states []S, terminal ...S) *Machine[S] {
	m := &Machine[S]{
		entity:   entity,
		states:   states,
		terminal: make(map[S]struct{}, len(terminal)),
		rules:    make(map[string]rule[S]),
	}
	for _, s := range terminal {
		m.terminal[s] = struct{}{}
	}
	return m
}

// Allow registers action: from any of from → to.
func (m *Machine[S]) Allow(action string, to S, from ...S) *Machine[S] {
	r := rule[S]{from: make(map[S]struct{}, len(from)), to: to}
	for _, s := range from {
		r.from[s] = struct{}{}
	}
	m.rules[action] = r
	return m
}

// AllowFromActive registers action from every non-terminal status.
func (m *Machine[S]) AllowFromActive(action string, to S) *Machine[S] {
	var from []S
	for _, s := range m.states {
		if !m.IsTerminal(s) {
			from = append(from, s)
		}
	}
	return m.Allow(action, to, from...)
}

func (m *Machine[S]) Entity() string {
	return m.entity
}

// Next returns the target status of action from current, or an
// InvalidTransition error carrying current.
func (m *Machine[S]) Next(action string, current S) (S, error) {
	r, ok := m.rules[action]
	if !ok {
		return current, errors.Internal(errors.Validation("unknown %s action %q", m.entity, action))
	}
	if _, ok := r.from[current]; !ok {
		return current, errors.InvalidTransition(m.entity, action, string(current))
	}
	return r.to, nil
}

// Can reports whether action is allowed from current.
func (m *Machine[S]) Can(action string, current S) bool {
	_, err := m.Next(action, current)
	return err == nil
}

func (m *Machine[S]) IsTerminal(s S) bool {
	_, ok := m.terminal[s]
	return ok
}

// IsValid reports whether s is one of the declared statuses.
func (m *Machine[S]) IsValid(s S) bool {
	for _, st := range m.states {
		if st == s {
			return true
		}
	}
	return false
}

// Allowed lists the actions available from current, sorted.
func (m *Machine[S]) Allowed(current S) []string {
	var actions []string
	for name, r := range m.rules {
		if _, ok := r.from[current]; ok {
			actions = append(actions, name)
		}
	}
	sort.Strings(actions)
	return actions
}
