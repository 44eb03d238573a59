// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics holds the OpenTelemetry instruments of the subscription engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds OpenTelemetry metric instruments.
type Metrics struct {
	// Counters
	messagesRouted     metric.Int64Counter
	messagesDropped    metric.Int64Counter
	topicsDiscovered   metric.Int64Counter
	subscriptionMerges metric.Int64Counter
	subscriptionSplits metric.Int64Counter
	transportErrors    metric.Int64Counter

	// UpDownCounters (Gauges)
	subscriptionsActive metric.Int64UpDownCounter
	sessionsActive      metric.Int64UpDownCounter
}

// New creates a Metrics instance with all instruments registered on the meter.
func New(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error

	m.messagesRouted, err = meter.Int64Counter(
		"mqttscope.messages.routed",
		metric.WithDescription("Messages appended to a topic buffer"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messagesRouted counter: %w", err)
	}

	m.messagesDropped, err = meter.Int64Counter(
		"mqttscope.messages.dropped",
		metric.WithDescription("Messages dropped before reaching a topic buffer, by reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messagesDropped counter: %w", err)
	}

	m.topicsDiscovered, err = meter.Int64Counter(
		"mqttscope.topics.discovered",
		metric.WithDescription("Concrete topics seen for the first time"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create topicsDiscovered counter: %w", err)
	}

	m.subscriptionMerges, err = meter.Int64Counter(
		"mqttscope.subscriptions.merged",
		metric.WithDescription("Subscriptions consolidated into a wildcard subscription"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscriptionMerges counter: %w", err)
	}

	m.subscriptionSplits, err = meter.Int64Counter(
		"mqttscope.subscriptions.split",
		metric.WithDescription("Wildcard subscriptions decomposed into their siblings"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscriptionSplits counter: %w", err)
	}

	m.transportErrors, err = meter.Int64Counter(
		"mqttscope.transport.errors",
		metric.WithDescription("Failed broker operations, by operation"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create transportErrors counter: %w", err)
	}

	m.subscriptionsActive, err = meter.Int64UpDownCounter(
		"mqttscope.subscriptions.active",
		metric.WithDescription("Subscriptions currently registered with the broker"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscriptionsActive gauge: %w", err)
	}

	m.sessionsActive, err = meter.Int64UpDownCounter(
		"mqttscope.sessions.active",
		metric.WithDescription("Open broker sessions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessionsActive gauge: %w", err)
	}

	return m, nil
}

// RecordRouted records a message appended to a topic buffer.
func (m *Metrics) RecordRouted(retained bool) {
	if m == nil {
		return
	}
	m.messagesRouted.Add(context.Background(), 1, metric.WithAttributes(
		attribute.Bool("retained", retained),
	))
}

// RecordDropped records a message that was not routed.
func (m *Metrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.messagesDropped.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// RecordTopicDiscovered records a new concrete topic.
func (m *Metrics) RecordTopicDiscovered() {
	if m == nil {
		return
	}
	m.topicsDiscovered.Add(context.Background(), 1)
}

// RecordMerge records a consolidation of members subscriptions into one.
func (m *Metrics) RecordMerge(members int) {
	if m == nil {
		return
	}
	m.subscriptionMerges.Add(context.Background(), int64(members))
}

// RecordSplit records a wildcard subscription being split.
func (m *Metrics) RecordSplit() {
	if m == nil {
		return
	}
	m.subscriptionSplits.Add(context.Background(), 1)
}

// RecordTransportError records a failed broker operation.
func (m *Metrics) RecordTransportError(op string) {
	if m == nil {
		return
	}
	m.transportErrors.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("op", op),
	))
}

// AddSubscriptions adjusts the active subscription gauge.
func (m *Metrics) AddSubscriptions(delta int) {
	if m == nil || delta == 0 {
		return
	}
	m.subscriptionsActive.Add(context.Background(), int64(delta))
}

// AddSessions adjusts the open session gauge.
func (m *Metrics) AddSessions(delta int) {
	if m == nil || delta == 0 {
		return
	}
	m.sessionsActive.Add(context.Background(), int64(delta))
}
