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

package event

/**
 * @file: event.go
 * @description: 事件定义
 */

type Event interface {
	// EventName returns the name handlers subscribe to
	EventName() string
	// EventType returns the type of the event
	EventType() string
}

type EventHandler interface {
	Handle(event Event)
}

// HandlerFunc 函数适配器
type HandlerFunc func(event Event)

func (f HandlerFunc) Handle(event Event) {
	f(event)
}
