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

package task

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	e := New(KindCode, map[string]any{"file_path": "a.go"})
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "code", e.Channel)
	assert.Equal(t, StatusPending, e.Status)
	assert.Equal(t, DefaultMaxAttempts, e.MaxAttempts)
	assert.Equal(t, 0, e.Attempt)
	assert.False(t, e.CreatedAt.IsZero())
}

func TestNew_Options(t *testing.T) {
	e := New(KindQuality, nil,
		WithPriority(5000),
		WithMaxAttempts(5),
		WithChannel("review"),
		WithPipeline("p1", 2, "review"),
	)
	assert.Equal(t, MaxPriority, e.Priority)
	assert.Equal(t, 5, e.MaxAttempts)
	assert.Equal(t, "review", e.Channel)
	assert.Equal(t, "p1", e.PipelineID)
	assert.Equal(t, 2, e.StageIndex)

	e = New(KindQuality, nil, WithMaxAttempts(0), WithPriority(-5000))
	assert.Equal(t, DefaultMaxAttempts, e.MaxAttempts)
	assert.Equal(t, MinPriority, e.Priority)
}

func TestEnvelope_Transition(t *testing.T) {
	e := New(KindCode, nil)
	require.NoError(t, e.Transition(StatusInProgress))
	require.NoError(t, e.Transition(StatusFailed))
	require.NoError(t, e.Transition(StatusPending))

	err := e.Transition(StatusSucceeded)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, StatusPending, e.Status)
}

func TestEnvelope_Ready(t *testing.T) {
	now := time.Now()
	e := New(KindCode, nil)
	assert.True(t, e.Ready(now))

	e.NotBefore = now.Add(time.Second)
	assert.False(t, e.Ready(now))
	assert.True(t, e.Ready(now.Add(time.Second)))
}

func TestEnvelope_CloneIsDeep(t *testing.T) {
	e := New(KindCode, map[string]any{
		"nested": map[string]any{"k": "v"},
		"list":   []any{"a"},
	})
	c := e.Clone()
	c.Payload["nested"].(map[string]any)["k"] = "changed"
	c.Payload["list"].([]any)[0] = "b"

	assert.Equal(t, "v", e.Payload["nested"].(map[string]any)["k"])
	assert.Equal(t, "a", e.Payload["list"].([]any)[0])
}

func TestLess(t *testing.T) {
	low := &Envelope{Priority: 1, Seq: 1}
	high := &Envelope{Priority: 5, Seq: 2}
	later := &Envelope{Priority: 5, Seq: 3}

	assert.True(t, Less(high, low))
	assert.True(t, Less(high, later))
	assert.False(t, Less(later, high))
}

func TestPipelineStageFailure(t *testing.T) {
	err := &PipelineStageFailure{PipelineID: "p", StageIndex: 0, Stage: "generate", Cause: ErrExecutionFailure}
	assert.True(t, errors.Is(err, ErrExecutionFailure))
	assert.Contains(t, err.Error(), "stage 0")

	var sf *PipelineStageFailure
	assert.True(t, errors.As(error(err), &sf))
}
