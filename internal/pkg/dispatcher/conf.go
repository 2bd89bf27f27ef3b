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
	"time"

	"github.com/go-arcade/dispatch/pkg/retry"
)

var DefaultConcurrency = map[string]int{
	"code":    2,
	"quality": 1,
	"memory":  1,
	"generic": 2,
}

type BackoffConf struct {
	Base   int     `mapstructure:"base"` // 毫秒
	Factor float64 `mapstructure:"factor"`
	Max    int     `mapstructure:"max"` // 毫秒
	Jitter *bool   `mapstructure:"jitter"`
}

type Conf struct {
	Concurrency  map[string]int `mapstructure:"concurrency"`
	PollInterval int            `mapstructure:"pollInterval"` // 毫秒，延迟任务到期的检查间隔
	DrainTimeout int            `mapstructure:"drainTimeout"` // 秒
	Backoff      BackoffConf    `mapstructure:"backoff"`
}

func (c *Conf) SetDefaults() {
	if c.Concurrency == nil {
		c.Concurrency = make(map[string]int)
	}
	for ch, n := range DefaultConcurrency {
		if c.Concurrency[ch] <= 0 {
			c.Concurrency[ch] = n
		}
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30
	}
	if c.Backoff.Base <= 0 {
		c.Backoff.Base = 1000
	}
	if c.Backoff.Factor <= 1 {
		c.Backoff.Factor = 2
	}
	if c.Backoff.Max <= 0 {
		c.Backoff.Max = 60000
	}
}

// ConcurrencyFor 未配置的 channel 默认 1 个槽位
func (c *Conf) ConcurrencyFor(channel string) int {
	if n := c.Concurrency[channel]; n > 0 {
		return n
	}
	return 1
}

func (c *Conf) Policy() retry.Policy {
	p := retry.Policy{
		Backoff: retry.Exponential(
			time.Duration(c.Backoff.Base)*time.Millisecond,
			c.Backoff.Factor,
			time.Duration(c.Backoff.Max)*time.Millisecond,
		),
		Jitter: retry.FullJitter,
	}
	if c.Backoff.Jitter != nil && !*c.Backoff.Jitter {
		p.Jitter = retry.NoJitter
	}
	return p
}

func (c *Conf) PollDuration() time.Duration {
	return time.Duration(c.PollInterval) * time.Millisecond
}

func (c *Conf) DrainDuration() time.Duration {
	return time.Duration(c.DrainTimeout) * time.Second
}
