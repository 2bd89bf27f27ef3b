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
	"fmt"

	"github.com/go-arcade/dispatch/pkg/log"
)

// asynqLoggerAdapter 将 asynq 日志输出到 pkg/log
type asynqLoggerAdapter struct{}

func (l *asynqLoggerAdapter) Debug(args ...any) {
	log.Debugw(fmt.Sprint(args...), "component", "asynq")
}

func (l *asynqLoggerAdapter) Info(args ...any) {
	log.Infow(fmt.Sprint(args...), "component", "asynq")
}

func (l *asynqLoggerAdapter) Warn(args ...any) {
	log.Warnw(fmt.Sprint(args...), "component", "asynq")
}

func (l *asynqLoggerAdapter) Error(args ...any) {
	log.Errorw(fmt.Sprint(args...), "component", "asynq")
}

// Fatal 实现 asynq.Logger 接口
func (l *asynqLoggerAdapter) Fatal(args ...any) {
	log.Fatal(args...)
}
