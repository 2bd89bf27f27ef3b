// Copyright 2025 Arcade Team
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package statemachine

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// TransitionHook is triggered when a state transition occurs.
type TransitionHook[T comparable] func(from, to T) error

// StateHook is triggered when entering a state.
type StateHook[T comparable] func(state T) error

// TransitionRecord records a state transition in the FSM history.
type TransitionRecord[T comparable] struct {
	From      T
	To        T
	Reason    string
	Timestamp time.Time
	Error     error
}

// StateMachine is a generic finite state machine with a transition table,
// enter/transition hooks and a bounded history.
//
// A StateMachine that is only used through CanTransition can be shared as
// an immutable rule table; one that tracks Current must be owned by a
// single run.
type StateMachine[T comparable] struct {
	mu sync.RWMutex

	currentState T
	initialState T

	validTransitions map[T][]T
	terminal         map[T]bool

	history        []TransitionRecord[T]
	maxHistorySize int

	onTransition []TransitionHook[T]
	onEnter      map[T][]StateHook[T]
}

// New creates a new StateMachine instance.
func New[T comparable]() *StateMachine[T] {
	return &StateMachine[T]{
		validTransitions: make(map[T][]T),
		terminal:         make(map[T]bool),
		onEnter:          make(map[T][]StateHook[T]),
		maxHistorySize:   100,
	}
}

// NewWithState creates a new StateMachine with an initial state.
func NewWithState[T comparable](initialState T) *StateMachine[T] {
	sm := New[T]()
	sm.currentState = initialState
	sm.initialState = initialState
	return sm
}

// Allow registers valid transitions from a source state.
func (sm *StateMachine[T]) Allow(from T, to ...T) *StateMachine[T] {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for _, target := range to {
		if !slices.Contains(sm.validTransitions[from], target) {
			sm.validTransitions[from] = append(sm.validTransitions[from], target)
		}
	}
	return sm
}

// Terminal marks states with no outgoing transitions.
func (sm *StateMachine[T]) Terminal(states ...T) *StateMachine[T] {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for _, s := range states {
		sm.terminal[s] = true
	}
	return sm
}

// IsTerminal reports whether state was declared terminal.
func (sm *StateMachine[T]) IsTerminal(state T) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.terminal[state]
}

// CanTransition checks if a transition from one state to another is valid.
func (sm *StateMachine[T]) CanTransition(from, to T) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return slices.Contains(sm.validTransitions[from], to)
}

// Validate returns an error when from → to is not in the table.
func (sm *StateMachine[T]) Validate(from, to T) error {
	if !sm.CanTransition(from, to) {
		return fmt.Errorf("invalid transition: %v → %v", from, to)
	}
	return nil
}

// Current returns the current state of the StateMachine.
func (sm *StateMachine[T]) Current() T {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.currentState
}

// Initial returns the initial state of the StateMachine.
func (sm *StateMachine[T]) Initial() T {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.initialState
}

// Is checks if the current state matches the given state.
func (sm *StateMachine[T]) Is(state T) bool {
	return sm.Current() == state
}

// GetValidNextStates returns all valid next states from the given state.
func (sm *StateMachine[T]) GetValidNextStates(from T) []T {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return slices.Clone(sm.validTransitions[from])
}

// History returns a copy of the transition history.
func (sm *StateMachine[T]) History() []TransitionRecord[T] {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return slices.Clone(sm.history)
}

// SetMaxHistorySize sets the maximum number of history records to keep.
func (sm *StateMachine[T]) SetMaxHistorySize(size int) *StateMachine[T] {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.maxHistorySize = size
	if len(sm.history) > size {
		sm.history = sm.history[len(sm.history)-size:]
	}
	return sm
}

// OnTransition registers a hook that is called during any state transition.
func (sm *StateMachine[T]) OnTransition(h TransitionHook[T]) *StateMachine[T] {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.onTransition = append(sm.onTransition, h)
	return sm
}

// OnEnter registers a hook that is called when entering a specific state.
func (sm *StateMachine[T]) OnEnter(state T, h StateHook[T]) *StateMachine[T] {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.onEnter[state] = append(sm.onEnter[state], h)
	return sm
}

// TransitionTo moves from the current state to the target state.
// Hooks run with the lock held and must not call back into the machine.
func (sm *StateMachine[T]) TransitionTo(to T, reason string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	from := sm.currentState
	record := TransitionRecord[T]{From: from, To: to, Reason: reason, Timestamp: time.Now()}
	defer func() {
		sm.history = append(sm.history, record)
		if len(sm.history) > sm.maxHistorySize {
			sm.history = sm.history[len(sm.history)-sm.maxHistorySize:]
		}
	}()

	if !slices.Contains(sm.validTransitions[from], to) {
		record.Error = fmt.Errorf("invalid transition: %v → %v", from, to)
		return record.Error
	}

	for _, h := range sm.onTransition {
		if err := h(from, to); err != nil {
			record.Error = fmt.Errorf("transition hook failed: %w", err)
			return record.Error
		}
	}

	sm.currentState = to

	for _, h := range sm.onEnter[to] {
		if err := h(to); err != nil {
			record.Error = fmt.Errorf("enter hook failed for state %v: %w", to, err)
			return record.Error
		}
	}
	return nil
}
