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

package id

import (
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/rs/xid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskID_Monotonic(t *testing.T) {
	prev := TaskID()
	for i := 0; i < 1000; i++ {
		next := TaskID()
		assert.Greater(t, next, prev)
		prev = next
	}
	_, err := ulid.Parse(prev)
	require.NoError(t, err)
}

func TestPipelineID(t *testing.T) {
	v := PipelineID()
	_, err := xid.FromString(v)
	require.NoError(t, err)
	assert.NotEqual(t, v, PipelineID())
}

func TestRequestID(t *testing.T) {
	assert.Len(t, RequestID(), 36)
	assert.Len(t, RequestIDWithoutDashes(), 32)
}
