package fsm

import (
	"context"
	"fmt"
)

// State is one step in an ordered enumeration. The last state in the
// enumeration is terminal; every other state has an action representing the
// work done transitioning out of it.
type State string

// Action performs the work that moves the machine out of one state.
type Action func(ctx context.Context) error

// Machine walks an ordered state enumeration, persisting after every
// transition so a crashed run resumes at the last fully completed state.
type Machine struct {
	name    string
	states  []State
	index   map[State]int
	current State
	persist func(State) error
}

// New builds a machine positioned at current. persist is called with the new
// state after each successful action and must write durably before returning.
func New(name string, states []State, current State, persist func(State) error) (*Machine, error) {
	if len(states) < 2 {
		return nil, fmt.Errorf("%s: need at least two states", name)
	}
	index := make(map[State]int, len(states))
	for i, s := range states {
		if _, dup := index[s]; dup {
			return nil, fmt.Errorf("%s: duplicate state %q", name, s)
		}
		index[s] = i
	}
	if _, ok := index[current]; !ok {
		return nil, fmt.Errorf("%s: unknown state %q", name, current)
	}
	if persist == nil {
		persist = func(State) error { return nil }
	}
	return &Machine{name: name, states: states, index: index, current: current, persist: persist}, nil
}

func (m *Machine) Current() State  { return m.current }
func (m *Machine) Terminal() State { return m.states[len(m.states)-1] }

// Done reports whether the machine has reached its terminal state.
func (m *Machine) Done() bool { return m.current == m.Terminal() }

// AdvanceToCompletion runs the action for each state in order, persisting
// after every transition. It stops at the terminal state, at until
// (inclusive), or on the first action error, leaving current at the last
// successfully completed state so the caller can resume later.
func (m *Machine) AdvanceToCompletion(ctx context.Context, actions map[State]Action, until State) error {
	stopAt := -1
	if until != "" {
		i, ok := m.index[until]
		if !ok {
			return fmt.Errorf("%s: unknown until state %q", m.name, until)
		}
		stopAt = i
	}
	for !m.Done() {
		if stopAt >= 0 && m.index[m.current] >= stopAt {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: interrupted at %s: %w", m.name, m.current, err)
		}
		if act := actions[m.current]; act != nil {
			if err := act(ctx); err != nil {
				return fmt.Errorf("%s: state %s: %w", m.name, m.current, err)
			}
		}
		next := m.states[m.index[m.current]+1]
		if err := m.persist(next); err != nil {
			return fmt.Errorf("%s: persisting %s: %w", m.name, next, err)
		}
		m.current = next
	}
	return nil
}
