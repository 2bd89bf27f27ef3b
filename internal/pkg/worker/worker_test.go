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

package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-arcade/dispatch/internal/pkg/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(NewFunc(task.KindCode, func(context.Context, map[string]any) (map[string]any, error) {
		return nil, nil
	}), WithTimeout(time.Second), WithMaxAttempts(5), WithChannel("heavy"))

	b, err := r.Lookup(task.KindCode)
	require.NoError(t, err)
	assert.Equal(t, time.Second, b.Timeout)
	assert.Equal(t, 5, b.MaxAttempts)
	assert.Equal(t, "heavy", b.Channel)
	assert.True(t, r.Has(task.KindCode))

	_, err = r.Lookup("video")
	assert.ErrorIs(t, err, task.ErrInvalidKind)

	assert.Equal(t, []task.Kind{task.KindCode}, r.Kinds())
	assert.Equal(t, []string{"heavy"}, r.Channels())
}

func TestRegistry_Defaults(t *testing.T) {
	r := NewRegistry()
	r.Register(NewGenericWorker(GenericConf{}))

	b, err := r.Lookup(task.KindGeneric)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, b.Timeout)
	assert.Equal(t, task.DefaultMaxAttempts, b.MaxAttempts)
	assert.Equal(t, "generic", b.Channel)
}

func TestCancelFlag(t *testing.T) {
	ctx, flag := WithCancelFlag(context.Background())
	assert.False(t, Canceled(ctx))
	assert.NoError(t, Checkpoint(ctx))

	flag.Cancel()
	assert.True(t, Canceled(ctx))
	assert.ErrorIs(t, Checkpoint(ctx), task.ErrCanceled)
	assert.Error(t, ctx.Err())
}

func TestCancelFlag_Release(t *testing.T) {
	ctx, flag := WithCancelFlag(context.Background())
	flag.Release()
	assert.False(t, Canceled(ctx))
	assert.ErrorIs(t, Checkpoint(ctx), context.Canceled)
}

func TestInfo(t *testing.T) {
	_, ok := InfoFrom(context.Background())
	assert.False(t, ok)

	ctx := WithInfo(context.Background(), Info{TaskID: "t1", Attempt: 2})
	info, ok := InfoFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, "t1", info.TaskID)
	assert.Equal(t, 2, info.Attempt)
}

func TestStatsCollector(t *testing.T) {
	c := NewStatsCollector()
	c.Observe(task.KindCode, 100*time.Millisecond, nil)
	c.Observe(task.KindCode, 300*time.Millisecond, errors.New("boom"))

	s := c.Snapshot()[task.KindCode]
	assert.Equal(t, int64(1), s.TasksCompleted)
	assert.Equal(t, int64(1), s.Errors)
	assert.Equal(t, 200*time.Millisecond, s.AvgDuration)
}

func TestProvideRegistry(t *testing.T) {
	conf := Conf{Kinds: map[string]KindConf{"quality": {Timeout: 10, MaxAttempts: 4}}}
	r := ProvideRegistry(conf, nil, NewInMemoryIndex())

	assert.ElementsMatch(t, task.BuiltinKinds, r.Kinds())
	b, err := r.Lookup(task.KindQuality)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, b.Timeout)
	assert.Equal(t, 4, b.MaxAttempts)

	b, err = r.Lookup(task.KindCode)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, b.Timeout)
}
