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

package cron

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		spec    string
		wantErr bool
	}{
		{"*/5 * * * * *", false},
		{"0 30 2 * * *", false},
		{"0 0 * * *", false},
		{"@every 5m", false},
		{"@daily", false},
		{"", true},
		{"not a spec", true},
		{"61 * * * * *", true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			_, err := Parse(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCron_AddAndRemove(t *testing.T) {
	c := New(WithLocation(time.UTC))
	assert.Equal(t, time.UTC, c.Location())

	require.NoError(t, c.AddFunc("b", "@every 1m", func() {}))
	require.NoError(t, c.AddFunc("a", "@hourly", func() {}))
	assert.ErrorIs(t, c.AddFunc("a", "@hourly", func() {}), ErrDuplicateName)
	assert.Error(t, c.AddFunc("", "@hourly", func() {}))
	assert.Error(t, c.AddFunc("c", "bogus", func() {}))
	assert.Equal(t, 2, c.Len())

	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Name)
	assert.Equal(t, "@hourly", entries[0].Spec)
	assert.Equal(t, "b", entries[1].Name)

	require.NoError(t, c.Remove("a"))
	assert.ErrorIs(t, c.Remove("a"), ErrNotFound)
	entries = c.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "b", entries[0].Name)
}

func TestCron_Runs(t *testing.T) {
	c := New()
	var fired atomic.Int32
	require.NoError(t, c.AddFunc("tick", "* * * * * *", func() { fired.Add(1) }))

	c.Start()
	c.Start()
	defer c.Stop()
	assert.True(t, c.Running())

	require.Eventually(t, func() bool { return fired.Load() > 0 }, 3*time.Second, 20*time.Millisecond)

	entries := c.Entries()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Next.IsZero())
}

func TestCron_RemoveWhileRunning(t *testing.T) {
	c := New()
	var removed, kept atomic.Int32
	require.NoError(t, c.AddFunc("removed", "* * * * * *", func() { removed.Add(1) }))
	require.NoError(t, c.AddFunc("kept", "* * * * * *", func() { kept.Add(1) }))
	c.Start()
	defer c.Stop()

	require.NoError(t, c.Remove("removed"))
	time.Sleep(50 * time.Millisecond)
	before := removed.Load()
	require.Eventually(t, func() bool { return kept.Load() > 0 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(1100 * time.Millisecond)
	assert.Equal(t, before, removed.Load())
	assert.True(t, c.Running())
}

func TestCron_StopIdempotent(t *testing.T) {
	c := New()
	c.Stop()
	c.Start()
	c.Stop()
	c.Stop()
	assert.False(t, c.Running())
}
