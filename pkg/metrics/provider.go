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

package metrics

import "github.com/google/wire"

// ProviderSet 提供指标服务与分发指标
var ProviderSet = wire.NewSet(ProvideServer, ProvideDispatchMetrics)

// ProvideServer 创建指标服务
func ProvideServer(conf Conf) *Server {
	return NewServer(conf)
}

// ProvideDispatchMetrics 在指标服务的 registry 上注册分发指标
func ProvideDispatchMetrics(server *Server) *DispatchMetrics {
	return NewDispatchMetrics(server.GetRegistry())
}
