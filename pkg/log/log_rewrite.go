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

package log

func Debug(args ...any) { GetLogger().Debug(args...) }

func Info(args ...any) { GetLogger().Info(args...) }

func Warn(args ...any) { GetLogger().Warn(args...) }

func Error(args ...any) { GetLogger().Error(args...) }

func Fatal(args ...any) { GetLogger().Fatal(args...) }

func Debugf(template string, args ...any) { GetLogger().Debugf(template, args...) }

func Infof(template string, args ...any) { GetLogger().Infof(template, args...) }

func Warnf(template string, args ...any) { GetLogger().Warnf(template, args...) }

func Errorf(template string, args ...any) { GetLogger().Errorf(template, args...) }

func Fatalf(template string, args ...any) { GetLogger().Fatalf(template, args...) }

func Debugw(msg string, keysAndValues ...any) { GetLogger().Debugw(msg, keysAndValues...) }

func Infow(msg string, keysAndValues ...any) { GetLogger().Infow(msg, keysAndValues...) }

func Warnw(msg string, keysAndValues ...any) { GetLogger().Warnw(msg, keysAndValues...) }

func Errorw(msg string, keysAndValues ...any) { GetLogger().Errorw(msg, keysAndValues...) }

// Sync flushes buffered entries. stdout sync errors are ignored.
func Sync() error {
	_ = GetLogger().Sync()
	return nil
}
