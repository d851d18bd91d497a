// Copyright (C) 2025 Aegis Labs (dev@aegis-sec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the gatekeeper.
//
// Metrics are exposed via the /metrics endpoint. All operations are
// thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "aegis"

const gatekeeperSubsystem = "gatekeeper"

// Metrics holds the gatekeeper's Prometheus metrics. Initialize once at
// startup via NewMetrics().
type Metrics struct {
	// ChecksTotal counts query checks by final verdict.
	// Labels: final_flag (ACCEPT, FLAG, BLOCK, ERROR)
	ChecksTotal *prometheus.CounterVec

	// CheckDurationSeconds measures end-to-end check latency.
	CheckDurationSeconds prometheus.Histogram

	// ClassifierVerdictsTotal counts per-classifier verdicts.
	// Labels: classifier (pii, legacy, adaptive), verdict
	ClassifierVerdictsTotal *prometheus.CounterVec

	// PIIEntitiesTotal counts detected entities by type.
	// Labels: entity_type (US_SSN, EMAIL_ADDRESS, ...)
	PIIEntitiesTotal *prometheus.CounterVec

	// RetrainSubmissionsTotal counts retrain submissions by outcome.
	// Labels: status (accepted, rejected, rate_limited, disabled, error)
	RetrainSubmissionsTotal *prometheus.CounterVec

	// AdapterReloadsTotal counts registry reloads by outcome.
	// Labels: status (success, error)
	AdapterReloadsTotal *prometheus.CounterVec
}

// NewMetrics registers the gatekeeper metrics on the given registerer. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh registry so
// repeated registration does not panic.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ChecksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: gatekeeperSubsystem,
			Name:      "checks_total",
			Help:      "Query checks by final verdict.",
		}, []string{"final_flag"}),
		CheckDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: gatekeeperSubsystem,
			Name:      "check_duration_seconds",
			Help:      "End-to-end query check latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		ClassifierVerdictsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: gatekeeperSubsystem,
			Name:      "classifier_verdicts_total",
			Help:      "Individual classifier verdicts before merging.",
		}, []string{"classifier", "verdict"}),
		PIIEntitiesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: gatekeeperSubsystem,
			Name:      "pii_entities_total",
			Help:      "Detected sensitive entities by type.",
		}, []string{"entity_type"}),
		RetrainSubmissionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: gatekeeperSubsystem,
			Name:      "retrain_submissions_total",
			Help:      "Retraining submissions by outcome.",
		}, []string{"status"}),
		AdapterReloadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: gatekeeperSubsystem,
			Name:      "adapter_reloads_total",
			Help:      "Adapter registry reloads by outcome.",
		}, []string{"status"}),
	}
}
