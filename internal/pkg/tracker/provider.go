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
	"time"

	"github.com/go-arcade/dispatch/pkg/cache"
	"github.com/go-arcade/dispatch/pkg/event"
	"github.com/go-arcade/dispatch/pkg/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

var ProviderSet = wire.NewSet(ProvideRecordStore, ProvideTracker)

type Conf struct {
	KeyPrefix string `mapstructure:"keyPrefix"`
	TTL       int    `mapstructure:"ttl"`     // 小时
	Archive   bool   `mapstructure:"archive"` // 写入 t_task_result，需要启用 database
}

func (c *Conf) SetDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "{dispatch}"
	}
	if c.TTL <= 0 {
		c.TTL = int(DefaultTTL / time.Hour)
	}
}

// ProvideRecordStore 没有 Redis 时使用进程内存储
func ProvideRecordStore(conf Conf, client redis.UniversalClient, fc *cache.FastCache) RecordStore {
	conf.SetDefaults()
	if client == nil {
		return NewMemoryRecords()
	}
	return NewRedisRecords(client, conf.KeyPrefix, time.Duration(conf.TTL)*time.Hour, fc)
}

func ProvideTracker(conf Conf, store RecordStore, db *gorm.DB, bus *event.EventBus) (*Tracker, error) {
	opts := []Option{WithEventBus(bus)}
	if conf.Archive {
		if db == nil {
			log.Warn("result archive requested but database is disabled, skipping")
		} else {
			archive := NewGormArchive(db)
			if err := archive.Migrate(); err != nil {
				return nil, err
			}
			opts = append(opts, WithArchive(archive))
		}
	}
	return NewTracker(store, opts...), nil
}
