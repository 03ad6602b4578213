package workflow

import (
	"context"
	"fmt"
	"sort"
)

// GuardFunc is a function that evaluates whether a transition should be allowed
type GuardFunc func(ctx context.Context) bool

// StateMachineBuilder builds a configured state machine
type StateMachineBuilder interface {
	// Configure returns a state configuration for the given state
	Configure(state State) StateConfiguration

	// Table freezes the configuration into an immutable transition table
	Table() *Table
}

// StateConfiguration configures transitions for a specific state
type StateConfiguration interface {
	// Permit allows an action to transition to the target state
	Permit(action Action, toState State) StateConfiguration

	// PermitIf allows an action to transition to the target state if the guard condition passes
	PermitIf(action Action, toState State, guard GuardFunc) StateConfiguration
}

type transition struct {
	toState State
	guard   GuardFunc
}

type stateConfig struct {
	builder     *stateMachineBuilder
	fromState   State
	transitions map[Action][]transition
}

type stateMachineBuilder struct {
	name           string
	states         []State
	declared       map[State]bool
	configurations map[State]*stateConfig
}

// NewBuilder creates a builder for the named table. States lists the table's
// vocabulary; configuring or targeting a state outside it panics.
func NewBuilder(name string, states ...State) StateMachineBuilder {
	declared := make(map[State]bool, len(states))
	for _, s := range states {
		if !s.IsValid() {
			panic(fmt.Sprintf("invalid state: %s", s))
		}
		declared[s] = true
	}
	return &stateMachineBuilder{
		name:           name,
		states:         append([]State(nil), states...),
		declared:       declared,
		configurations: make(map[State]*stateConfig),
	}
}

func (b *stateMachineBuilder) check(state State) {
	if !state.IsValid() || (len(b.declared) > 0 && !b.declared[state]) {
		panic(fmt.Sprintf("%s: invalid state: %s", b.name, state))
	}
}

// Configure returns a state configuration for the given state
func (b *stateMachineBuilder) Configure(state State) StateConfiguration {
	b.check(state)

	config, exists := b.configurations[state]
	if !exists {
		config = &stateConfig{
			builder:     b,
			fromState:   state,
			transitions: make(map[Action][]transition),
		}
		b.configurations[state] = config
	}

	return config
}

// Table freezes the current configuration. Later changes to the builder do
// not affect the returned table.
func (b *stateMachineBuilder) Table() *Table {
	configs := make(map[State]map[Action][]transition, len(b.configurations))
	for state, config := range b.configurations {
		transitions := make(map[Action][]transition, len(config.transitions))
		for action, ts := range config.transitions {
			transitions[action] = append([]transition{}, ts...)
		}
		configs[state] = transitions
	}

	states := append([]State(nil), b.states...)
	if len(states) == 0 {
		for state := range configs {
			states = append(states, state)
		}
		sort.Slice(states, func(i, j int) bool { return states[i] < states[j] })
	}

	return &Table{name: b.name, states: states, configurations: configs}
}

// Permit allows an action to transition to the target state
func (c *stateConfig) Permit(action Action, toState State) StateConfiguration {
	return c.PermitIf(action, toState, nil)
}

// PermitIf allows an action to transition to the target state if the guard condition passes.
// Guards are evaluated in declaration order; the first passing one wins.
func (c *stateConfig) PermitIf(action Action, toState State, guard GuardFunc) StateConfiguration {
	c.builder.check(toState)

	c.transitions[action] = append(c.transitions[action], transition{
		toState: toState,
		guard:   guard,
	})

	return c
}

// Table is an immutable transition table for one document type
type Table struct {
	name           string
	states         []State
	configurations map[State]map[Action][]transition
}

// Pair is one (state, action) cell of a table
type Pair struct {
	From    State
	Action  Action
	Allowed bool
	Targets []State
}

// Name returns the table name
func (t *Table) Name() string {
	return t.name
}

// States returns the table's state vocabulary in declaration order
func (t *Table) States() []State {
	return append([]State(nil), t.states...)
}

// Has reports whether state belongs to the table
func (t *Table) Has(state State) bool {
	for _, s := range t.states {
		if s == state {
			return true
		}
	}
	return false
}

// Actions returns the actions permitted from state, sorted by name
func (t *Table) Actions(from State) []Action {
	transitions := t.configurations[from]
	actions := make([]Action, 0, len(transitions))
	for action, ts := range transitions {
		if len(ts) > 0 {
			actions = append(actions, action)
		}
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })
	return actions
}

// Targets returns every state the action may lead to from state
func (t *Table) Targets(from State, action Action) []State {
	ts := t.configurations[from][action]
	out := make([]State, 0, len(ts))
	for _, tr := range ts {
		out = append(out, tr.toState)
	}
	return out
}

// Allows reports whether the table has an entry for (from, action)
func (t *Table) Allows(from State, action Action) bool {
	return len(t.configurations[from][action]) > 0
}

// IsTerminal reports whether no action leaves state
func (t *Table) IsTerminal(state State) bool {
	return len(t.Actions(state)) == 0
}

// Pairs enumerates every (state, action) combination over the table's
// states and all known actions
func (t *Table) Pairs() []Pair {
	actions := AllActions()
	pairs := make([]Pair, 0, len(t.states)*len(actions))
	for _, s := range t.states {
		for _, a := range actions {
			pairs = append(pairs, Pair{
				From:    s,
				Action:  a,
				Allowed: t.Allows(s, a),
				Targets: t.Targets(s, a),
			})
		}
	}
	return pairs
}

// Decide resolves the destination of action from state using facts for any
// guard. It has no side effects.
func (t *Table) Decide(ctx context.Context, from State, action Action, facts Facts) (State, error) {
	if !t.Has(from) {
		return "", fmt.Errorf("%w: %s is not a %s state", ErrInvalidState, from, t.name)
	}
	m := t.Machine(from)
	if err := m.Fire(WithFacts(ctx, facts), action); err != nil {
		return "", err
	}
	return m.State(), nil
}

// Machine creates a state machine positioned at initialState
func (t *Table) Machine(initialState State) StateMachine {
	if !initialState.IsValid() {
		panic(fmt.Sprintf("invalid initial state: %s", initialState))
	}
	return &stateMachine{
		table:        t,
		currentState: initialState,
	}
}

type stateMachine struct {
	table        *Table
	currentState State
}

// State returns the current state
func (m *stateMachine) State() State {
	return m.currentState
}

// Fire attempts to execute the action, transitioning to the new state if allowed
func (m *stateMachine) Fire(ctx context.Context, action Action) error {
	transitions := m.table.configurations[m.currentState][action]
	if len(transitions) == 0 {
		return fmt.Errorf("%w: cannot fire %s from state %s", ErrInvalidTransition, action, m.currentState)
	}

	for _, t := range transitions {
		if t.guard == nil || t.guard(ctx) {
			m.currentState = t.toState
			return nil
		}
	}

	return fmt.Errorf("%w: %s from state %s", ErrGuardFailed, action, m.currentState)
}
