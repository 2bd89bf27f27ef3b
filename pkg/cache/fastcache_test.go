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

package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFastCache_SetGet(t *testing.T) {
	c := NewFastCache(FastCacheConfig{MaxBytes: 1024 * 1024})
	defer c.Reset()

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("k", []byte("v"))
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", string(v))

	c.Del("k")
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestFastCache_JSON(t *testing.T) {
	c := NewFastCache(FastCacheConfig{})

	type record struct {
		ID    string `json:"id"`
		Score int    `json:"score"`
	}

	require.NoError(t, c.SetJSON("r1", record{ID: "a", Score: 90}))

	var got record
	require.True(t, c.GetJSON("r1", &got))
	assert.Equal(t, record{ID: "a", Score: 90}, got)
	assert.Equal(t, uint64(1), c.EntriesCount())

	assert.False(t, c.GetJSON("r2", &got))
}

func TestRedis_SetDefaults(t *testing.T) {
	var conf Redis
	conf.SetDefaults()
	assert.Equal(t, "single", conf.Mode)
	assert.Equal(t, "localhost:6379", conf.Address)
	assert.Equal(t, 20, conf.PoolSize)
}

func TestNewRedis_UnsupportedMode(t *testing.T) {
	_, err := NewRedis(Redis{Mode: "bogus"})
	assert.Error(t, err)
}

func TestProvideRedis_Disabled(t *testing.T) {
	client, cleanup, err := ProvideRedis(Redis{})
	assert.NoError(t, err)
	assert.Nil(t, client)
	cleanup()
}
