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

package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-arcade/dispatch/internal/pkg/task"
	"github.com/go-arcade/dispatch/pkg/log"
	"github.com/go-arcade/dispatch/pkg/safe"
	"github.com/redis/go-redis/v9"
)

/**
 * @file: redis.go
 * @description: 基于 Redis ZSET 的队列存储
 * ready:<channel>    就绪队列，score = -priority*1e12 + seq
 * delayed:<channel>  延迟队列，score = not_before (ms)
 * rscore:<channel>   延迟信封到期后使用的就绪 score
 * inflight           执行中信封，score = started_at (ms)
 * task:<id>          信封 JSON
 */

const DefaultKeyPrefix = "{dispatch}"

const priorityScale = 1e12

// popScript 先把到期的延迟信封移入就绪队列，再取出队首
// ARGV[1] 当前时间 ms，ARGV[2] 为 1 时弹出，否则只查看
var popScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1], 'LIMIT', 0, 128)
for _, id in ipairs(due) do
  local s = redis.call('HGET', KEYS[4], id)
  redis.call('ZREM', KEYS[2], id)
  redis.call('HDEL', KEYS[4], id)
  if s then
    redis.call('ZADD', KEYS[1], s, id)
  end
end
local top = redis.call('ZRANGE', KEYS[1], 0, 0)
if #top == 0 then
  return false
end
if ARGV[2] == '1' then
  redis.call('ZREM', KEYS[1], top[1])
  redis.call('ZADD', KEYS[3], ARGV[1], top[1])
end
return top[1]
`)

// enqueueScript 信封与队列成员一起写入，队列写入失败时不会留下孤立的信封
// KEYS: task ready delayed rscore；ARGV[1] 信封 JSON，ARGV[2] 就绪 score，ARGV[3] 非空时为到期时间 ms
var enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
if ARGV[3] == '' then
  redis.call('ZADD', KEYS[2], ARGV[2], ARGV[4])
else
  redis.call('ZADD', KEYS[3], ARGV[3], ARGV[4])
  redis.call('HSET', KEYS[4], ARGV[4], ARGV[2])
end
redis.call('SET', KEYS[1], ARGV[1])
return 1
`)

// RedisStore 跨进程共享的队列存储
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time

	mu     sync.Mutex
	wake   map[string]chan struct{}
	pubsub *redis.PubSub
	cancel context.CancelFunc
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		now:    time.Now,
		wake:   make(map[string]chan struct{}),
	}
}

func (s *RedisStore) taskKey(id string) string    { return s.prefix + ":task:" + id }
func (s *RedisStore) readyKey(ch string) string   { return s.prefix + ":ready:" + ch }
func (s *RedisStore) delayedKey(ch string) string { return s.prefix + ":delayed:" + ch }
func (s *RedisStore) scoreKey(ch string) string   { return s.prefix + ":rscore:" + ch }
func (s *RedisStore) wakeTopic(ch string) string  { return s.prefix + ":wake:" + ch }
func (s *RedisStore) inflightKey() string         { return s.prefix + ":inflight" }
func (s *RedisStore) seqKey() string              { return s.prefix + ":seq" }

func readyScore(env *task.Envelope) float64 {
	return -float64(env.Priority)*priorityScale + float64(env.Seq)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", task.ErrStorageUnavailable, err)
}

func (s *RedisStore) load(ctx context.Context, id string) (*task.Envelope, error) {
	data, err := s.client.Get(ctx, s.taskKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, task.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	var env task.Envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	return &env, nil
}

// schedule 在事务中写入信封并放入就绪或延迟队列
func (s *RedisStore) schedule(ctx context.Context, pipe redis.Pipeliner, env *task.Envelope, data []byte) {
	pipe.Set(ctx, s.taskKey(env.ID), data, 0)
	pipe.ZRem(ctx, s.inflightKey(), env.ID)
	if env.Ready(s.now()) {
		pipe.ZAdd(ctx, s.readyKey(env.Channel), redis.Z{Score: readyScore(env), Member: env.ID})
		return
	}
	pipe.ZAdd(ctx, s.delayedKey(env.Channel), redis.Z{Score: float64(env.NotBefore.UnixMilli()), Member: env.ID})
	pipe.HSet(ctx, s.scoreKey(env.Channel), env.ID, readyScore(env))
}

func (s *RedisStore) publishWake(ctx context.Context, channel string) {
	if err := s.client.Publish(ctx, s.wakeTopic(channel), "1").Err(); err != nil {
		log.Warnw("failed to publish wake signal", "channel", channel, "error", err)
	}
	s.mu.Lock()
	ch, ok := s.wake[channel]
	s.mu.Unlock()
	if ok {
		notify(ch)
	}
}

func (s *RedisStore) Enqueue(ctx context.Context, env *task.Envelope) error {
	if err := validateEnqueue(env); err != nil {
		return err
	}
	seq, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return unavailable(err)
	}
	env.Seq = seq

	data, err := sonic.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", env.ID, err)
	}
	notBefore := ""
	if !env.Ready(s.now()) {
		notBefore = strconv.FormatInt(env.NotBefore.UnixMilli(), 10)
	}
	keys := []string{s.taskKey(env.ID), s.readyKey(env.Channel), s.delayedKey(env.Channel), s.scoreKey(env.Channel)}
	created, err := enqueueScript.Run(ctx, s.client, keys,
		data, strconv.FormatFloat(readyScore(env), 'f', -1, 64), notBefore, env.ID).Int()
	if err != nil {
		return unavailable(err)
	}
	if created == 0 {
		return fmt.Errorf("task %s already enqueued", env.ID)
	}
	s.publishWake(ctx, env.Channel)
	return nil
}

func (s *RedisStore) pop(ctx context.Context, channel string, remove bool) (string, error) {
	flag := "0"
	if remove {
		flag = "1"
	}
	keys := []string{s.readyKey(channel), s.delayedKey(channel), s.inflightKey(), s.scoreKey(channel)}
	id, err := popScript.Run(ctx, s.client, keys, s.now().UnixMilli(), flag).Text()
	if errors.Is(err, redis.Nil) {
		return "", task.ErrEmpty
	}
	if err != nil {
		return "", unavailable(err)
	}
	return id, nil
}

func (s *RedisStore) Dequeue(ctx context.Context, channel string) (*task.Envelope, error) {
	id, err := s.pop(ctx, channel, true)
	if err != nil {
		return nil, err
	}
	env, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := startEnvelope(env, now); err != nil {
		return nil, err
	}
	if err := s.write(ctx, env); err != nil {
		return nil, err
	}
	return env, nil
}

func (s *RedisStore) Peek(ctx context.Context, channel string) (*task.Envelope, error) {
	id, err := s.pop(ctx, channel, false)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, id)
}

func (s *RedisStore) write(ctx context.Context, env *task.Envelope) error {
	data, err := sonic.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", env.ID, err)
	}
	if err := s.client.Set(ctx, s.taskKey(env.ID), data, 0).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *RedisStore) Requeue(ctx context.Context, env *task.Envelope, delay time.Duration) (*task.Envelope, error) {
	next := env.Clone()
	reinsert, err := failEnvelope(next, delay, s.now())
	if err != nil {
		return nil, err
	}
	data, err := sonic.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("encode task %s: %w", next.ID, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if reinsert {
			s.schedule(ctx, pipe, next, data)
			return nil
		}
		pipe.Set(ctx, s.taskKey(next.ID), data, 0)
		pipe.ZRem(ctx, s.inflightKey(), next.ID)
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}
	if reinsert {
		s.publishWake(ctx, next.Channel)
	}
	return next, nil
}

func (s *RedisStore) Cancel(ctx context.Context, id string) (*task.Envelope, error) {
	env, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	// 从队列中移除即取得所有权，与 Dequeue 的 ZREM 互斥
	var readyRem, delayedRem *redis.IntCmd
	if _, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		readyRem = pipe.ZRem(ctx, s.readyKey(env.Channel), id)
		delayedRem = pipe.ZRem(ctx, s.delayedKey(env.Channel), id)
		pipe.HDel(ctx, s.scoreKey(env.Channel), id)
		return nil
	}); err != nil {
		return nil, unavailable(err)
	}
	if readyRem.Val()+delayedRem.Val() == 0 {
		return env, task.ErrNotPending
	}

	if err := env.Transition(task.StatusCanceled); err != nil {
		return nil, err
	}
	env.CompletedAt = s.now()
	env.LastError = task.ErrCanceled.Error()
	if err := s.write(ctx, env); err != nil {
		return nil, err
	}
	return env, nil
}

func (s *RedisStore) Restore(ctx context.Context, id string) (*task.Envelope, error) {
	env, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := restoreEnvelope(env); err != nil {
		return nil, err
	}
	seq, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	env.Seq = seq

	data, err := sonic.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode task %s: %w", env.ID, err)
	}
	if _, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.schedule(ctx, pipe, env, data)
		return nil
	}); err != nil {
		return nil, unavailable(err)
	}
	s.publishWake(ctx, env.Channel)
	return env, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*task.Envelope, error) {
	return s.load(ctx, id)
}

func (s *RedisStore) Save(ctx context.Context, env *task.Envelope) error {
	data, err := sonic.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", env.ID, err)
	}
	if _, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.taskKey(env.ID), data, 0)
		if env.Status != task.StatusInProgress {
			pipe.ZRem(ctx, s.inflightKey(), env.ID)
		}
		return nil
	}); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *RedisStore) Depth(ctx context.Context, channel string) (int, error) {
	var ready, delayed *redis.IntCmd
	if _, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		ready = pipe.ZCard(ctx, s.readyKey(channel))
		delayed = pipe.ZCard(ctx, s.delayedKey(channel))
		return nil
	}); err != nil {
		return 0, unavailable(err)
	}
	return int(ready.Val() + delayed.Val()), nil
}

// Recover 把崩溃引擎遗留的执行中信封按失败处理并重新入队
func (s *RedisStore) Recover(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := fmt.Sprintf("%d", s.now().Add(-olderThan).UnixMilli())
	ids, err := s.client.ZRangeByScore(ctx, s.inflightKey(), &redis.ZRangeBy{Min: "-inf", Max: cutoff}).Result()
	if err != nil {
		return 0, unavailable(err)
	}

	recovered := 0
	for _, id := range ids {
		env, err := s.load(ctx, id)
		if errors.Is(err, task.ErrNotFound) {
			s.client.ZRem(ctx, s.inflightKey(), id)
			continue
		}
		if err != nil {
			return recovered, err
		}
		if env.Status != task.StatusInProgress {
			s.client.ZRem(ctx, s.inflightKey(), id)
			continue
		}
		env.LastError = "execution interrupted by engine restart"
		if _, err := s.Requeue(ctx, env, 0); err != nil {
			return recovered, err
		}
		recovered++
		log.Warnw("recovered orphaned task", "task_id", id, "channel", env.Channel, "attempt", env.Attempt)
	}
	return recovered, nil
}

func (s *RedisStore) Wake(channel string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.wake[channel]
	if !ok {
		ch = make(chan struct{}, 1)
		s.wake[channel] = ch
	}
	if s.pubsub == nil {
		s.subscribe()
	}
	return ch
}

// subscribe 调用方持有锁
func (s *RedisStore) subscribe() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.pubsub = s.client.PSubscribe(ctx, s.wakeTopic("*"))
	msgs := s.pubsub.Channel()
	topicPrefix := s.wakeTopic("")

	safe.Go(func() {
		for msg := range msgs {
			name := strings.TrimPrefix(msg.Channel, topicPrefix)
			s.mu.Lock()
			ch, ok := s.wake[name]
			s.mu.Unlock()
			if ok {
				notify(ch)
			}
		}
	})
}

func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	if s.pubsub != nil {
		err := s.pubsub.Close()
		s.pubsub = nil
		return err
	}
	return nil
}
