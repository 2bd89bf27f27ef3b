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
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-arcade/dispatch/internal/pkg/task"
	"github.com/redis/go-redis/v9"
)

const recentChangesLimit = 100

type IndexEntry struct {
	FilePath        string    `json:"file_path"`
	TaskDescription string    `json:"task_description"`
	CodeHash        string    `json:"code_hash"`
	LinesOfCode     int       `json:"lines_of_code"`
	TaskID          string    `json:"task_id"`
	PipelineID      string    `json:"pipeline_id,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// MemoryIndex 代码索引存储
type MemoryIndex interface {
	Index(ctx context.Context, entry IndexEntry) error
	SavePatterns(ctx context.Context, filePath string, patterns map[string]any) error
	// Search 按任务描述或文件路径做大小写不敏感的子串匹配，空查询返回全部
	Search(ctx context.Context, query string) ([]IndexEntry, error)
	Count(ctx context.Context) (int, error)
	Recent(ctx context.Context, n int) ([]IndexEntry, error)
	Stats(ctx context.Context) (map[string]int64, error)
}

func matches(e IndexEntry, query string) bool {
	if query == "" {
		return true
	}
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(e.TaskDescription), q) ||
		strings.Contains(strings.ToLower(e.FilePath), q)
}

// RedisIndex
// file_index:<path>  hash
// patterns:<path>    hash
// recent_changes     list，保留最近 100 条
// global_stats       hash: files_processed / total_lines
type RedisIndex struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisIndex(client redis.UniversalClient, prefix string) *RedisIndex {
	return &RedisIndex{client: client, prefix: prefix}
}

func (r *RedisIndex) key(parts ...string) string {
	return r.prefix + strings.Join(parts, ":")
}

func storageErr(err error) error {
	return fmt.Errorf("%w: %v", task.ErrStorageUnavailable, err)
}

func (r *RedisIndex) Index(ctx context.Context, e IndexEntry) error {
	data, err := sonic.Marshal(e)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.key("file_index", e.FilePath), map[string]any{
			"file_path":        e.FilePath,
			"task_description": e.TaskDescription,
			"code_hash":        e.CodeHash,
			"lines_of_code":    e.LinesOfCode,
			"task_id":          e.TaskID,
			"pipeline_id":      e.PipelineID,
			"timestamp":        e.Timestamp.Format(time.RFC3339Nano),
		})
		pipe.LPush(ctx, r.key("recent_changes"), data)
		pipe.LTrim(ctx, r.key("recent_changes"), 0, recentChangesLimit-1)
		pipe.HIncrBy(ctx, r.key("global_stats"), "files_processed", 1)
		pipe.HIncrBy(ctx, r.key("global_stats"), "total_lines", int64(e.LinesOfCode))
		return nil
	})
	if err != nil {
		return storageErr(err)
	}
	return nil
}

func (r *RedisIndex) SavePatterns(ctx context.Context, filePath string, patterns map[string]any) error {
	fields := make(map[string]any, len(patterns))
	for k, v := range patterns {
		if s, ok := v.(string); ok {
			fields[k] = s
			continue
		}
		data, err := sonic.MarshalString(v)
		if err != nil {
			return err
		}
		fields[k] = data
	}
	if len(fields) == 0 {
		return nil
	}
	if err := r.client.HSet(ctx, r.key("patterns", filePath), fields).Err(); err != nil {
		return storageErr(err)
	}
	return nil
}

func (r *RedisIndex) scan(ctx context.Context, fn func(key string) error) error {
	iter := r.client.Scan(ctx, 0, r.key("file_index", "*"), 100).Iterator()
	for iter.Next(ctx) {
		if err := fn(iter.Val()); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return storageErr(err)
	}
	return nil
}

func (r *RedisIndex) Search(ctx context.Context, query string) ([]IndexEntry, error) {
	var out []IndexEntry
	err := r.scan(ctx, func(key string) error {
		fields, err := r.client.HGetAll(ctx, key).Result()
		if err != nil {
			return storageErr(err)
		}
		e := entryFromHash(fields)
		if matches(e, query) {
			out = append(out, e)
		}
		return nil
	})
	slices.SortFunc(out, func(a, b IndexEntry) int { return strings.Compare(a.FilePath, b.FilePath) })
	return out, err
}

func (r *RedisIndex) Count(ctx context.Context) (int, error) {
	n := 0
	err := r.scan(ctx, func(string) error {
		n++
		return nil
	})
	return n, err
}

func (r *RedisIndex) Recent(ctx context.Context, n int) ([]IndexEntry, error) {
	if n <= 0 || n > recentChangesLimit {
		n = recentChangesLimit
	}
	items, err := r.client.LRange(ctx, r.key("recent_changes"), 0, int64(n-1)).Result()
	if err != nil {
		return nil, storageErr(err)
	}
	out := make([]IndexEntry, 0, len(items))
	for _, item := range items {
		var e IndexEntry
		if sonic.UnmarshalString(item, &e) == nil {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *RedisIndex) Stats(ctx context.Context) (map[string]int64, error) {
	fields, err := r.client.HGetAll(ctx, r.key("global_stats")).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, storageErr(err)
	}
	out := make(map[string]int64, len(fields))
	for k, v := range fields {
		n, _ := strconv.ParseInt(v, 10, 64)
		out[k] = n
	}
	return out, nil
}

func entryFromHash(h map[string]string) IndexEntry {
	lines, _ := strconv.Atoi(h["lines_of_code"])
	ts, _ := time.Parse(time.RFC3339Nano, h["timestamp"])
	return IndexEntry{
		FilePath:        h["file_path"],
		TaskDescription: h["task_description"],
		CodeHash:        h["code_hash"],
		LinesOfCode:     lines,
		TaskID:          h["task_id"],
		PipelineID:      h["pipeline_id"],
		Timestamp:       ts,
	}
}

// InMemoryIndex 进程内实现
type InMemoryIndex struct {
	mu       sync.RWMutex
	files    map[string]IndexEntry
	patterns map[string]map[string]any
	recent   []IndexEntry
	stats    map[string]int64
}

func NewInMemoryIndex() *InMemoryIndex {
	return &InMemoryIndex{
		files:    make(map[string]IndexEntry),
		patterns: make(map[string]map[string]any),
		stats:    make(map[string]int64),
	}
}

func (m *InMemoryIndex) Index(_ context.Context, e IndexEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.files[e.FilePath] = e
	m.recent = append([]IndexEntry{e}, m.recent...)
	if len(m.recent) > recentChangesLimit {
		m.recent = m.recent[:recentChangesLimit]
	}
	m.stats["files_processed"]++
	m.stats["total_lines"] += int64(e.LinesOfCode)
	return nil
}

func (m *InMemoryIndex) SavePatterns(_ context.Context, filePath string, patterns map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patterns[filePath] = task.CopyPayload(patterns)
	return nil
}

func (m *InMemoryIndex) Search(_ context.Context, query string) ([]IndexEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []IndexEntry
	for _, e := range m.files {
		if matches(e, query) {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b IndexEntry) int { return strings.Compare(a.FilePath, b.FilePath) })
	return out, nil
}

func (m *InMemoryIndex) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files), nil
}

func (m *InMemoryIndex) Recent(_ context.Context, n int) ([]IndexEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n <= 0 || n > len(m.recent) {
		n = len(m.recent)
	}
	return slices.Clone(m.recent[:n]), nil
}

func (m *InMemoryIndex) Stats(_ context.Context) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int64, len(m.stats))
	for k, v := range m.stats {
		out[k] = v
	}
	return out, nil
}

// Patterns 仅内存实现提供，测试使用
func (m *InMemoryIndex) Patterns(filePath string) map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.patterns[filePath]
}
