/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PipelineMetrics holds Prometheus metrics for billing sync runs.
type PipelineMetrics struct {
	// RunsTotal counts finished runs by provider type and final status.
	RunsTotal *prometheus.CounterVec
	// RunDurationSeconds tracks the total duration of a sync run.
	RunDurationSeconds *prometheus.HistogramVec
	// StageDurationSeconds tracks per-stage durations.
	StageDurationSeconds *prometheus.HistogramVec
	// RecordsTotal counts records by provider type and disposition
	// (extracted, transformed, skipped, loaded, failed).
	RecordsTotal *prometheus.CounterVec
	// SourceFailuresTotal counts tolerated source failures by provider type.
	SourceFailuresTotal *prometheus.CounterVec
	// LoadConflictsTotal counts surrogate-id collisions seen during load.
	LoadConflictsTotal prometheus.Counter
	// RunsActive is the number of runs currently executing.
	RunsActive prometheus.Gauge
}

// NewPipelineMetrics creates and registers all Prometheus metrics for the
// sync pipeline.
func NewPipelineMetrics() *PipelineMetrics {
	return &PipelineMetrics{
		RunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "costflow_pipeline_runs_total",
			Help: "Total number of finished sync runs by provider type and status",
		}, []string{"provider_type", "status"}),
		RunDurationSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "costflow_pipeline_run_duration_seconds",
			Help:    "Duration of a sync run in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1h
		}, []string{"provider_type"}),
		StageDurationSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "costflow_pipeline_stage_duration_seconds",
			Help:    "Duration of one pipeline stage in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~13m
		}, []string{"stage"}),
		RecordsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "costflow_pipeline_records_total",
			Help: "Total number of records by provider type and disposition",
		}, []string{"provider_type", "disposition"}),
		SourceFailuresTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "costflow_pipeline_source_failures_total",
			Help: "Total number of tolerated source failures by provider type",
		}, []string{"provider_type"}),
		LoadConflictsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "costflow_pipeline_load_conflicts_total",
			Help: "Total number of surrogate-id collisions during load",
		}),
		RunsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "costflow_pipeline_runs_active",
			Help: "Number of sync runs currently executing",
		}),
	}
}

// RecordRun observes one finished run.
func (m *PipelineMetrics) RecordRun(providerType, status string, d time.Duration) {
	m.RunsTotal.WithLabelValues(providerType, status).Inc()
	m.RunDurationSeconds.WithLabelValues(providerType).Observe(d.Seconds())
}

// RecordStage observes one stage duration.
func (m *PipelineMetrics) RecordStage(stage string, d time.Duration) {
	m.StageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordRecords adds n to the record counter for a disposition.
func (m *PipelineMetrics) RecordRecords(providerType, disposition string, n int) {
	if n > 0 {
		m.RecordsTotal.WithLabelValues(providerType, disposition).Add(float64(n))
	}
}

// RecordSourceFailures adds n tolerated source failures.
func (m *PipelineMetrics) RecordSourceFailures(providerType string, n int) {
	if n > 0 {
		m.SourceFailuresTotal.WithLabelValues(providerType).Add(float64(n))
	}
}

// RecordLoadConflict increments the load conflict counter.
func (m *PipelineMetrics) RecordLoadConflict() {
	m.LoadConflictsTotal.Inc()
}

// NewPipelineMetricsWithRegistry creates pipeline metrics with a custom
// registry. Use this instead of NewPipelineMetrics when you need an isolated
// registry (e.g. for testing).
func NewPipelineMetricsWithRegistry(reg *prometheus.Registry) *PipelineMetrics {
	runsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "costflow_pipeline_runs_total",
		Help: "Total number of finished sync runs by provider type and status",
	}, []string{"provider_type", "status"})
	runDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "costflow_pipeline_run_duration_seconds",
		Help:    "Duration of a sync run in seconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"provider_type"})
	stageDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "costflow_pipeline_stage_duration_seconds",
		Help:    "Duration of one pipeline stage in seconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
	}, []string{"stage"})
	recordsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "costflow_pipeline_records_total",
		Help: "Total number of records by provider type and disposition",
	}, []string{"provider_type", "disposition"})
	sourceFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "costflow_pipeline_source_failures_total",
		Help: "Total number of tolerated source failures by provider type",
	}, []string{"provider_type"})
	loadConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "costflow_pipeline_load_conflicts_total",
		Help: "Total number of surrogate-id collisions during load",
	})
	runsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "costflow_pipeline_runs_active",
		Help: "Number of sync runs currently executing",
	})

	reg.MustRegister(runsTotal, runDuration, stageDuration, recordsTotal,
		sourceFailures, loadConflicts, runsActive)

	return &PipelineMetrics{
		RunsTotal:            runsTotal,
		RunDurationSeconds:   runDuration,
		StageDurationSeconds: stageDuration,
		RecordsTotal:         recordsTotal,
		SourceFailuresTotal:  sourceFailures,
		LoadConflictsTotal:   loadConflicts,
		RunsActive:           runsActive,
	}
}
