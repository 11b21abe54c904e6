/*
 * Copyright 2026 The Quince Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package prometheus provides a Prometheus metrics exporter.
package prometheus

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/quince-team/quince/internal/version"
)

const (
	namespace      = "quince"
	taskTypeLabel  = "task_type"
	resultLabel    = "result"
	frameTypeLabel = "frame_type"
	directionLabel = "direction"
	routeLabel     = "route"
	codeLabel      = "code"

	// ResultSuccess labels an operation that succeeded.
	ResultSuccess = "success"
	// ResultFailure labels an operation that failed.
	ResultFailure = "failure"
)

// Metrics manages the metric information that Quince is trying to measure.
type Metrics struct {
	registry *prometheus.Registry

	serverVersion        *prometheus.GaugeVec
	serverHandledCounter *prometheus.CounterVec

	residentDocuments    prometheus.Gauge
	documentLoadsTotal   *prometheus.CounterVec
	documentEvictsTotal  *prometheus.CounterVec
	updatesAppliedTotal  prometheus.Counter
	updateBytesTotal     prometheus.Counter
	checkpointsTotal     *prometheus.CounterVec
	checkpointSeconds    prometheus.Histogram
	checkpointBytesTotal prometheus.Counter

	sessionsActive    prometheus.Gauge
	framesTotal       *prometheus.CounterVec
	slowConsumerTotal prometheus.Counter

	backgroundGoroutinesTotal *prometheus.GaugeVec
}

// NewMetrics creates a new instance of Metrics.
func NewMetrics() (*Metrics, error) {
	reg := prometheus.NewRegistry()

	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("register process collector: %w", err)
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register go collector: %w", err)
	}

	metrics := &Metrics{
		registry: reg,
		serverVersion: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "version",
			Help:      "Which version is running. 1 for 'server_version' label with current version.",
		}, []string{"server_version"}),
		serverHandledCounter: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "server_handled_total",
			Help:      "Total number of HTTP requests completed on the server, regardless of success or failure.",
		}, []string{routeLabel, codeLabel}),
		residentDocuments: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "documents",
			Name:      "resident",
			Help:      "The number of documents currently held in memory.",
		}),
		documentLoadsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "documents",
			Name:      "loads_total",
			Help:      "The total count of documents read from the store.",
		}, []string{resultLabel}),
		documentEvictsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "documents",
			Name:      "evictions_total",
			Help:      "The total count of eviction attempts of idle documents.",
		}, []string{resultLabel}),
		updatesAppliedTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "documents",
			Name:      "updates_applied_total",
			Help:      "The total count of updates appended and merged.",
		}),
		updateBytesTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "documents",
			Name:      "update_bytes_total",
			Help:      "The total bytes of updates appended and merged.",
		}),
		checkpointsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkpoint",
			Name:      "total",
			Help:      "The total count of snapshot writes.",
		}, []string{resultLabel}),
		checkpointSeconds: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "checkpoint",
			Name:      "duration_seconds",
			Help:      "The time it takes to write a snapshot and compact the update log.",
		}),
		checkpointBytesTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkpoint",
			Name:      "bytes_total",
			Help:      "The total bytes of snapshots written.",
		}),
		sessionsActive: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "active",
			Help:      "The number of sessions attached to documents.",
		}),
		framesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "frames_total",
			Help:      "The total count of frames exchanged with sessions.",
		}, []string{frameTypeLabel, directionLabel}),
		slowConsumerTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "slow_consumer_closed_total",
			Help:      "The total count of sessions closed because their outbound queue was full.",
		}),
		backgroundGoroutinesTotal: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "background",
			Name:      "goroutines_total",
			Help:      "The total number of goroutines attached by a particular background task.",
		}, []string{taskTypeLabel}),
	}

	metrics.serverVersion.With(prometheus.Labels{
		"server_version": version.Version,
	}).Set(1)

	return metrics, nil
}

// AddServerHandledCounter adds the number of requests completed on the
// server.
func (m *Metrics) AddServerHandledCounter(route, code string) {
	m.serverHandledCounter.With(prometheus.Labels{
		routeLabel: route,
		codeLabel:  code,
	}).Inc()
}

// SetResidentDocuments sets the number of documents held in memory.
func (m *Metrics) SetResidentDocuments(count int) {
	m.residentDocuments.Set(float64(count))
}

// AddDocumentLoad counts a document read from the store.
func (m *Metrics) AddDocumentLoad(result string) {
	m.documentLoadsTotal.With(prometheus.Labels{resultLabel: result}).Inc()
}

// AddDocumentEviction counts an eviction attempt.
func (m *Metrics) AddDocumentEviction(result string) {
	m.documentEvictsTotal.With(prometheus.Labels{resultLabel: result}).Inc()
}

// AddUpdateApplied counts an update appended and merged.
func (m *Metrics) AddUpdateApplied(bytes int) {
	m.updatesAppliedTotal.Inc()
	m.updateBytesTotal.Add(float64(bytes))
}

// ObserveCheckpoint records a snapshot write.
func (m *Metrics) ObserveCheckpoint(result string, seconds float64, bytes int) {
	m.checkpointsTotal.With(prometheus.Labels{resultLabel: result}).Inc()
	m.checkpointSeconds.Observe(seconds)
	m.checkpointBytesTotal.Add(float64(bytes))
}

// AddActiveSessions adds delta to the number of attached sessions.
func (m *Metrics) AddActiveSessions(delta int) {
	m.sessionsActive.Add(float64(delta))
}

// AddFrame counts a frame. Direction is "in" or "out".
func (m *Metrics) AddFrame(frameType, direction string) {
	m.framesTotal.With(prometheus.Labels{
		frameTypeLabel: frameType,
		directionLabel: direction,
	}).Inc()
}

// AddSlowConsumerClosed counts a session closed for falling behind.
func (m *Metrics) AddSlowConsumerClosed() {
	m.slowConsumerTotal.Inc()
}

// AddBackgroundGoroutines adds the number of goroutines attached by a
// particular background task.
func (m *Metrics) AddBackgroundGoroutines(taskType string) {
	m.backgroundGoroutinesTotal.With(prometheus.Labels{
		taskTypeLabel: taskType,
	}).Inc()
}

// RemoveBackgroundGoroutines removes the number of goroutines attached by a
// particular background task.
func (m *Metrics) RemoveBackgroundGoroutines(taskType string) {
	m.backgroundGoroutinesTotal.With(prometheus.Labels{
		taskTypeLabel: taskType,
	}).Dec()
}

// Registry returns the registry of this metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
