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

package shutdown

import (
	"sync"
	"sync/atomic"
)

// Manager tracks graceful shutdown state. Once triggered, callers that
// check IsShuttingDown reject new work while in-flight work drains.
type Manager struct {
	shuttingDown atomic.Bool
	once         sync.Once
	done         chan struct{}
}

// NewManager creates a new shutdown manager
func NewManager() *Manager {
	return &Manager{done: make(chan struct{})}
}

// IsShuttingDown returns true if the service is shutting down
func (m *Manager) IsShuttingDown() bool {
	return m.shuttingDown.Load()
}

// Shutdown triggers graceful shutdown.
// Returns true if shutdown was triggered, false if already shutting down.
func (m *Manager) Shutdown() bool {
	if !m.shuttingDown.CompareAndSwap(false, true) {
		return false
	}
	m.once.Do(func() { close(m.done) })
	return true
}

// Done is closed once shutdown has been triggered.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}
