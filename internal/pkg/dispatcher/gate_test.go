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

package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotGate(t *testing.T) {
	g := newSlotGate(2)
	ctx := context.Background()

	a, err := g.acquire(ctx)
	require.NoError(t, err)
	b, err := g.acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, a)
	assert.Equal(t, 1, b)

	tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = g.acquire(tctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	g.release(a)
	c, err := g.acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, c)
}

func TestSlotGate_Resize(t *testing.T) {
	g := newSlotGate(1)
	ctx := context.Background()
	_, err := g.acquire(ctx)
	require.NoError(t, err)

	got := make(chan int, 1)
	go func() {
		idx, _ := g.acquire(ctx)
		got <- idx
	}()

	select {
	case <-got:
		t.Fatal("acquired beyond limit")
	case <-time.After(20 * time.Millisecond):
	}

	g.resize(2)
	select {
	case idx := <-got:
		assert.Equal(t, 1, idx)
	case <-time.After(time.Second):
		t.Fatal("resize did not wake waiter")
	}

	limit, busy := g.snapshot()
	assert.Equal(t, 2, limit)
	assert.Equal(t, 2, busy)

	g.resize(0)
	limit, _ = g.snapshot()
	assert.Equal(t, 1, limit)
}
