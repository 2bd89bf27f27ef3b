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

package database

import (
	"fmt"
	"time"
)

// Database MySQL 数据源配置，Enabled 为 false 时不建立连接
type Database struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         string `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	DBName       string `mapstructure:"dbname"`
	OutPut       bool   `mapstructure:"output"`
	AutoMigrate  bool   `mapstructure:"autoMigrate"`
	MaxOpenConns int    `mapstructure:"maxOpenConns"`
	MaxIdleConns int    `mapstructure:"maxIdleConns"`
	MaxLifetime  int    `mapstructure:"maxLifeTime"` // 秒
	MaxIdleTime  int    `mapstructure:"maxIdleTime"` // 秒
}

// SetDefaults 设置默认值
func (c *Database) SetDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == "" {
		c.Port = "3306"
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 20
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 5
	}
}

// DSN builds the MySQL DSN string
func (c *Database) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// ConnMaxLifetime returns MaxLifetime as time.Duration, default 5 minutes
func (c *Database) ConnMaxLifetime() time.Duration {
	if c.MaxLifetime > 0 {
		return time.Duration(c.MaxLifetime) * time.Second
	}
	return 300 * time.Second
}

// ConnMaxIdleTime returns MaxIdleTime as time.Duration, default 1 minute
func (c *Database) ConnMaxIdleTime() time.Duration {
	if c.MaxIdleTime > 0 {
		return time.Duration(c.MaxIdleTime) * time.Second
	}
	return 60 * time.Second
}
