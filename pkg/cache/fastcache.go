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
	"github.com/VictoriaMetrics/fastcache"
	"github.com/bytedance/sonic"
)

// FastCacheConfig holds fastcache configuration
type FastCacheConfig struct {
	MaxBytes int `mapstructure:"maxBytes"` // default 32MB
}

// FastCache is a local byte cache for values that never change once written.
// Entries may be evicted under memory pressure, so callers must treat a miss
// as "look it up in the source of truth".
type FastCache struct {
	cache *fastcache.Cache
}

// NewFastCache creates a new FastCache instance
func NewFastCache(conf FastCacheConfig) *FastCache {
	maxBytes := conf.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 32 * 1024 * 1024
	}
	return &FastCache{cache: fastcache.New(maxBytes)}
}

// Get returns the raw bytes for key
func (fc *FastCache) Get(key string) ([]byte, bool) {
	return fc.cache.HasGet(nil, []byte(key))
}

// Set stores raw bytes for key
func (fc *FastCache) Set(key string, value []byte) {
	fc.cache.Set([]byte(key), value)
}

// GetJSON decodes the cached value into v, reporting whether it was present
func (fc *FastCache) GetJSON(key string, v any) bool {
	data, ok := fc.Get(key)
	if !ok {
		return false
	}
	return sonic.Unmarshal(data, v) == nil
}

// SetJSON encodes v with sonic and stores it
func (fc *FastCache) SetJSON(key string, v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	fc.Set(key, data)
	return nil
}

// Del removes keys
func (fc *FastCache) Del(keys ...string) {
	for _, k := range keys {
		fc.cache.Del([]byte(k))
	}
}

// Reset drops every entry
func (fc *FastCache) Reset() {
	fc.cache.Reset()
}

// EntriesCount returns the number of cached entries
func (fc *FastCache) EntriesCount() uint64 {
	var s fastcache.Stats
	fc.cache.UpdateStats(&s)
	return s.EntriesCount
}
