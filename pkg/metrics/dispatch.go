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
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DispatchMetrics 任务分发相关指标
type DispatchMetrics struct {
	submitted    *prometheus.CounterVec
	finished     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	queueDepth   *prometheus.GaugeVec
	busySlots    *prometheus.GaugeVec
	pipelineRuns *prometheus.CounterVec
	scheduleRuns *prometheus.CounterVec
}

// NewDispatchMetrics 创建并注册指标
func NewDispatchMetrics(reg prometheus.Registerer) *DispatchMetrics {
	m := &DispatchMetrics{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "tasks_submitted_total",
			Help:      "Total number of submitted tasks",
		}, []string{"kind"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "task_attempts_total",
			Help:      "Finished execution attempts by outcome",
		}, []string{"kind", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dispatch",
			Name:      "task_duration_seconds",
			Help:      "Execution duration of task attempts",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 16),
		}, []string{"kind"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dispatch",
			Name:      "queue_depth",
			Help:      "Pending envelopes per channel",
		}, []string{"channel"}),
		busySlots: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dispatch",
			Name:      "busy_slots",
			Help:      "Worker slots currently executing per channel",
		}, []string{"channel"}),
		pipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "pipeline_runs_total",
			Help:      "Finished pipeline runs by status",
		}, []string{"pipeline", "status"}),
		scheduleRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "schedule_runs_total",
			Help:      "Cron schedule triggers by outcome",
		}, []string{"schedule", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.submitted, m.finished, m.duration, m.queueDepth, m.busySlots, m.pipelineRuns, m.scheduleRuns)
	}
	return m
}

func (m *DispatchMetrics) Submitted(kind string) {
	m.submitted.WithLabelValues(kind).Inc()
}

// Finished 记录一次执行结果
func (m *DispatchMetrics) Finished(kind, status string, d time.Duration) {
	m.finished.WithLabelValues(kind, status).Inc()
	m.duration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *DispatchMetrics) SetQueueDepth(channel string, depth int) {
	m.queueDepth.WithLabelValues(channel).Set(float64(depth))
}

func (m *DispatchMetrics) SlotAcquired(channel string) {
	m.busySlots.WithLabelValues(channel).Inc()
}

func (m *DispatchMetrics) SlotReleased(channel string) {
	m.busySlots.WithLabelValues(channel).Dec()
}

func (m *DispatchMetrics) PipelineFinished(pipeline, status string) {
	m.pipelineRuns.WithLabelValues(pipeline, status).Inc()
}

func (m *DispatchMetrics) ScheduleRun(schedule, outcome string) {
	m.scheduleRuns.WithLabelValues(schedule, outcome).Inc()
}
