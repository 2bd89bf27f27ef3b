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
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
)

// ProviderSet 提供缓存相关的依赖
var ProviderSet = wire.NewSet(ProvideRedis, ProvideFastCache)

// ProvideRedis 提供 Redis 客户端，返回的清理函数关闭连接
// 未启用时返回 nil，由使用方退回到内存实现
func ProvideRedis(conf Redis) (redis.UniversalClient, func(), error) {
	if !conf.Enabled {
		return nil, func() {}, nil
	}
	client, err := NewRedis(conf)
	if err != nil {
		return nil, nil, err
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideFastCache 提供本地缓存实例
func ProvideFastCache(conf FastCacheConfig) *FastCache {
	return NewFastCache(conf)
}
