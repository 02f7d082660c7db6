// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package studio

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for document store operations.
var meter = otel.Meter("drafter.studio")

// Metrics for store operations.
var (
	transactionsTotal  metric.Int64Counter
	notificationsTotal metric.Int64Counter
	migrationsTotal    metric.Int64Counter
	cacheRecreateTotal metric.Int64Counter
	registryPushTotal  metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		transactionsTotal, err = meter.Int64Counter(
			"studio_transactions_total",
			metric.WithDescription("Total committed transactions by origin"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		notificationsTotal, err = meter.Int64Counter(
			"studio_notifications_total",
			metric.WithDescription("Total listener callbacks invoked"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		migrationsTotal, err = meter.Int64Counter(
			"studio_migrations_applied_total",
			metric.WithDescription("Total migration steps applied"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheRecreateTotal, err = meter.Int64Counter(
			"studio_cache_recreate_total",
			metric.WithDescription("Total corrupt cache delete-and-recreate recoveries"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		registryPushTotal, err = meter.Int64Counter(
			"studio_registry_push_total",
			metric.WithDescription("Total registry metadata pushes by outcome"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

func recordTransaction(origin string) {
	if initMetrics() != nil {
		return
	}
	transactionsTotal.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("origin", origin)))
}

func recordNotifications(n int) {
	if initMetrics() != nil || n == 0 {
		return
	}
	notificationsTotal.Add(context.Background(), int64(n))
}

func recordMigration(name string) {
	if initMetrics() != nil {
		return
	}
	migrationsTotal.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("step", name)))
}

func recordCacheRecreate() {
	if initMetrics() != nil {
		return
	}
	cacheRecreateTotal.Add(context.Background(), 1)
}

func recordRegistryPush(outcome string) {
	if initMetrics() != nil {
		return
	}
	registryPushTotal.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("outcome", outcome)))
}
