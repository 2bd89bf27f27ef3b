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

import (
	"sync"
	"time"

	"github.com/go-arcade/dispatch/pkg/log"
	gometrics "github.com/hashicorp/go-metrics"
	gmprometheus "github.com/hashicorp/go-metrics/prometheus"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
)

// QueueInspector is the subset of *asynq.Inspector the collector reads
type QueueInspector interface {
	Queues() ([]string, error)
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// AsynqMetricsCollector periodically copies ingress queue stats into a go-metrics sink
type AsynqMetricsCollector struct {
	inspector QueueInspector
	sink      gometrics.MetricSink
	stopCh    chan struct{}
	doneCh    chan struct{}
	stopOnce  sync.Once
}

// NewPrometheusSink 创建写入指定 registry 的 go-metrics sink
func NewPrometheusSink(reg prometheus.Registerer) (gometrics.MetricSink, error) {
	return gmprometheus.NewPrometheusSinkFrom(gmprometheus.PrometheusOpts{
		Expiration: time.Minute,
		Registerer: reg,
	})
}

// NewAsynqMetricsCollector creates a new ingress queue metrics collector
func NewAsynqMetricsCollector(inspector QueueInspector, sink gometrics.MetricSink) *AsynqMetricsCollector {
	return &AsynqMetricsCollector{
		inspector: inspector,
		sink:      sink,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start starts collecting metrics periodically
func (c *AsynqMetricsCollector) Start(interval time.Duration) {
	go c.collectLoop(interval)
}

// Stop stops collecting metrics
func (c *AsynqMetricsCollector) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		<-c.doneCh
	})
}

func (c *AsynqMetricsCollector) collectLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(c.doneCh)

	c.Collect()
	for {
		select {
		case <-ticker.C:
			c.Collect()
		case <-c.stopCh:
			return
		}
	}
}

// Collect reads every ingress queue once
func (c *AsynqMetricsCollector) Collect() {
	if c.inspector == nil || c.sink == nil {
		return
	}

	queues, err := c.inspector.Queues()
	if err != nil {
		log.Warnw("failed to list ingress queues for metrics", "error", err)
		return
	}

	for _, queueName := range queues {
		labels := []gometrics.Label{{Name: "queue", Value: queueName}}
		info, err := c.inspector.GetQueueInfo(queueName)
		if err != nil {
			log.Warnw("failed to get ingress queue info", "queue", queueName, "error", err)
			continue
		}
		c.sink.SetGaugeWithLabels([]string{"ingress", "queue", "size"}, float32(info.Size), labels)
		c.sink.SetGaugeWithLabels([]string{"ingress", "queue", "pending"}, float32(info.Pending), labels)
		c.sink.SetGaugeWithLabels([]string{"ingress", "queue", "active"}, float32(info.Active), labels)
		c.sink.SetGaugeWithLabels([]string{"ingress", "queue", "retry"}, float32(info.Retry), labels)
		c.sink.SetGaugeWithLabels([]string{"ingress", "queue", "archived"}, float32(info.Archived), labels)
		c.sink.SetGaugeWithLabels([]string{"ingress", "queue", "processed", "total"}, float32(info.Processed), labels)
		c.sink.SetGaugeWithLabels([]string{"ingress", "queue", "failed", "total"}, float32(info.Failed), labels)
	}
}
