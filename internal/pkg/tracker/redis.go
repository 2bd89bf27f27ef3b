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

package tracker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-arcade/dispatch/internal/pkg/task"
	"github.com/go-arcade/dispatch/pkg/cache"
	"github.com/redis/go-redis/v9"
)

/**
 * @file: redis.go
 * @description: Redis 结果存储，终态结果在进程内用 fastcache 缓存
 *
 *  {prefix}:result:<id>   hash attempt -> json，当前轮次
 *  {prefix}:prior:<id>    list json，Reopen 前的记录
 *  {prefix}:terminal:<id> 终态标记
 *  {prefix}:gen:<id>      Reopen 代数，fastcache 键带上代数，跨进程 Reopen 后旧缓存不再命中
 *  {prefix}:reopened:<id> 最近一次 Reopen 归档的条数
 */

const DefaultTTL = 7 * 24 * time.Hour

type RedisRecords struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	// 终态任务的历史不再变化，直到 Reopen
	cache *cache.FastCache
}

func NewRedisRecords(client redis.UniversalClient, prefix string, ttl time.Duration, fc *cache.FastCache) *RedisRecords {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisRecords{client: client, prefix: prefix, ttl: ttl, cache: fc}
}

func (s *RedisRecords) key(kind, id string) string {
	return s.prefix + ":" + kind + ":" + id
}

func (s *RedisRecords) cacheKey(id, gen string) string {
	return "result:" + id + ":" + gen
}

func (s *RedisRecords) generation(ctx context.Context, taskID string) (string, error) {
	gen, err := s.client.Get(ctx, s.key("gen", taskID)).Result()
	if errors.Is(err, redis.Nil) {
		return "0", nil
	}
	if err != nil {
		return "", unavailable(err)
	}
	return gen, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", task.ErrStorageUnavailable, err)
}

func (s *RedisRecords) Append(ctx context.Context, r *task.Result) error {
	data, err := sonic.Marshal(r)
	if err != nil {
		return err
	}
	key := s.key("result", r.TaskID)
	ok, err := s.client.HSetNX(ctx, key, strconv.Itoa(r.Attempt), data).Result()
	if err != nil {
		return unavailable(err)
	}
	if !ok {
		return task.ErrAlreadyRecorded
	}
	if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *RedisRecords) Current(ctx context.Context, taskID string) ([]*task.Result, error) {
	fields, err := s.client.HGetAll(ctx, s.key("result", taskID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable(err)
	}
	out := make([]*task.Result, 0, len(fields))
	for _, v := range fields {
		var r task.Result
		if err := sonic.UnmarshalString(v, &r); err != nil {
			return nil, fmt.Errorf("decode result of %s: %w", taskID, err)
		}
		out = append(out, &r)
	}
	slices.SortFunc(out, func(a, b *task.Result) int { return a.Attempt - b.Attempt })
	return out, nil
}

func (s *RedisRecords) History(ctx context.Context, taskID string) ([]*task.Result, error) {
	var gen string
	if s.cache != nil {
		g, err := s.generation(ctx, taskID)
		if err != nil {
			return nil, err
		}
		gen = g
		var cached []*task.Result
		if s.cache.GetJSON(s.cacheKey(taskID, gen), &cached) {
			return cached, nil
		}
	}

	items, err := s.client.LRange(ctx, s.key("prior", taskID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable(err)
	}
	out := make([]*task.Result, 0, len(items))
	for _, item := range items {
		var r task.Result
		if err := sonic.UnmarshalString(item, &r); err != nil {
			return nil, fmt.Errorf("decode result of %s: %w", taskID, err)
		}
		out = append(out, &r)
	}
	current, err := s.Current(ctx, taskID)
	if err != nil {
		return nil, err
	}
	out = append(out, current...)

	if s.cache != nil && len(out) > 0 {
		if terminal, err := s.IsTerminal(ctx, taskID); err == nil && terminal {
			_ = s.cache.SetJSON(s.cacheKey(taskID, gen), out)
		}
	}
	return out, nil
}

func (s *RedisRecords) MarkTerminal(ctx context.Context, taskID string) error {
	if err := s.client.Set(ctx, s.key("terminal", taskID), time.Now().Unix(), s.ttl).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *RedisRecords) IsTerminal(ctx context.Context, taskID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key("terminal", taskID)).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return n > 0, nil
}

func (s *RedisRecords) Reopen(ctx context.Context, taskID string) error {
	current, err := s.Current(ctx, taskID)
	if err != nil {
		return err
	}
	gen, err := s.generation(ctx, taskID)
	if err != nil {
		return err
	}
	priorKey := s.key("prior", taskID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, r := range current {
			data, err := sonic.Marshal(r)
			if err != nil {
				return err
			}
			pipe.RPush(ctx, priorKey, data)
		}
		pipe.Expire(ctx, priorKey, s.ttl)
		pipe.Del(ctx, s.key("result", taskID), s.key("terminal", taskID))
		pipe.Set(ctx, s.key("reopened", taskID), len(current), s.ttl)
		pipe.Incr(ctx, s.key("gen", taskID))
		pipe.Expire(ctx, s.key("gen", taskID), s.ttl)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	if s.cache != nil {
		s.cache.Del(s.cacheKey(taskID, gen))
	}
	return nil
}

func (s *RedisRecords) Reinstate(ctx context.Context, taskID string) error {
	n, err := s.client.Get(ctx, s.key("reopened", taskID)).Int()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return unavailable(err)
	}
	live, err := s.client.HLen(ctx, s.key("result", taskID)).Result()
	if err != nil {
		return unavailable(err)
	}
	if live > 0 {
		return nil
	}

	priorKey := s.key("prior", taskID)
	var items []string
	if n > 0 {
		items, err = s.client.LRange(ctx, priorKey, int64(-n), -1).Result()
		if err != nil {
			return unavailable(err)
		}
	}
	fields := make(map[string]any, len(items))
	for _, item := range items {
		var r task.Result
		if err := sonic.UnmarshalString(item, &r); err != nil {
			return fmt.Errorf("decode result of %s: %w", taskID, err)
		}
		fields[strconv.Itoa(r.Attempt)] = item
	}

	resultKey := s.key("result", taskID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(items) > 0 {
			pipe.LTrim(ctx, priorKey, 0, int64(-len(items)-1))
			pipe.HSet(ctx, resultKey, fields)
			pipe.Expire(ctx, resultKey, s.ttl)
		}
		pipe.Set(ctx, s.key("terminal", taskID), time.Now().Unix(), s.ttl)
		pipe.Del(ctx, s.key("reopened", taskID))
		pipe.Incr(ctx, s.key("gen", taskID))
		pipe.Expire(ctx, s.key("gen", taskID), s.ttl)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}
