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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type light string

const (
	red    light = "red"
	green  light = "green"
	yellow light = "yellow"
)

func newLight() *StateMachine[light] {
	return NewWithState(red).
		Allow(red, green).
		Allow(green, yellow).
		Allow(yellow, red)
}

func TestStateMachine_Transitions(t *testing.T) {
	sm := newLight()

	assert.Equal(t, red, sm.Initial())
	assert.True(t, sm.CanTransition(red, green))
	assert.False(t, sm.CanTransition(red, yellow))

	require.NoError(t, sm.TransitionTo(green, "go"))
	assert.True(t, sm.Is(green))

	err := sm.TransitionTo(red, "skip yellow")
	require.Error(t, err)
	assert.Equal(t, green, sm.Current())
}

func TestStateMachine_History(t *testing.T) {
	sm := newLight().SetMaxHistorySize(2)

	require.NoError(t, sm.TransitionTo(green, "a"))
	require.NoError(t, sm.TransitionTo(yellow, "b"))
	require.NoError(t, sm.TransitionTo(red, "c"))

	history := sm.History()
	require.Len(t, history, 2)
	assert.Equal(t, "b", history[0].Reason)
	assert.Equal(t, yellow, history[1].From)
	assert.Equal(t, red, history[1].To)
}

func TestStateMachine_FailedTransitionRecorded(t *testing.T) {
	sm := newLight()
	_ = sm.TransitionTo(yellow, "bad")

	history := sm.History()
	require.Len(t, history, 1)
	assert.Error(t, history[0].Error)
}

func TestStateMachine_Hooks(t *testing.T) {
	var entered []light
	var moves int

	sm := newLight().
		OnTransition(func(from, to light) error {
			moves++
			return nil
		}).
		OnEnter(green, func(state light) error {
			entered = append(entered, state)
			return nil
		})

	require.NoError(t, sm.TransitionTo(green, ""))
	require.NoError(t, sm.TransitionTo(yellow, ""))

	assert.Equal(t, 2, moves)
	assert.Equal(t, []light{green}, entered)
}

func TestStateMachine_TransitionHookBlocks(t *testing.T) {
	sm := newLight().OnTransition(func(from, to light) error {
		return errors.New("blocked")
	})

	err := sm.TransitionTo(green, "")
	require.Error(t, err)
	assert.Equal(t, red, sm.Current())
}

func TestStateMachine_Terminal(t *testing.T) {
	sm := New[light]().Allow(red, green).Terminal(green)

	assert.True(t, sm.IsTerminal(green))
	assert.False(t, sm.IsTerminal(red))
	assert.Equal(t, []light{green}, sm.GetValidNextStates(red))
	assert.Empty(t, sm.GetValidNextStates(green))
	assert.NoError(t, sm.Validate(red, green))
	assert.Error(t, sm.Validate(green, red))
}
