// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds OpenTelemetry metric instruments for a tagfeed session.
type Metrics struct {
	meter metric.Meter

	// Counters
	connectsTotal       metric.Int64Counter
	connectFailures     metric.Int64Counter
	disconnectsTotal    metric.Int64Counter
	messagesDelivered   metric.Int64Counter
	messagesDropped     metric.Int64Counter
	messagesPublished   metric.Int64Counter
	replayDegradedTotal metric.Int64Counter

	// UpDownCounters (Gauges)
	subscriptionsActive metric.Int64UpDownCounter
}

// NewMetrics creates a new Metrics instance with all instruments initialized.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		meter: otel.Meter("tagfeed-session"),
	}

	var err error

	m.connectsTotal, err = m.meter.Int64Counter(
		"tagfeed.connects.total",
		metric.WithDescription("Total number of successful broker connections"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connectsTotal counter: %w", err)
	}

	m.connectFailures, err = m.meter.Int64Counter(
		"tagfeed.connect.failures.total",
		metric.WithDescription("Total number of failed connect attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connectFailures counter: %w", err)
	}

	m.disconnectsTotal, err = m.meter.Int64Counter(
		"tagfeed.disconnects.total",
		metric.WithDescription("Total number of unexpected disconnections"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create disconnectsTotal counter: %w", err)
	}

	m.messagesDelivered, err = m.meter.Int64Counter(
		"tagfeed.messages.delivered.total",
		metric.WithDescription("Total messages handed to the consumer"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messagesDelivered counter: %w", err)
	}

	m.messagesDropped, err = m.meter.Int64Counter(
		"tagfeed.messages.dropped.total",
		metric.WithDescription("Total messages dropped on delivery queue overflow"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messagesDropped counter: %w", err)
	}

	m.messagesPublished, err = m.meter.Int64Counter(
		"tagfeed.messages.published.total",
		metric.WithDescription("Total messages published by this session"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messagesPublished counter: %w", err)
	}

	m.replayDegradedTotal, err = m.meter.Int64Counter(
		"tagfeed.replay.degraded.total",
		metric.WithDescription("Total subscriptions marked degraded during replay"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create replayDegradedTotal counter: %w", err)
	}

	m.subscriptionsActive, err = m.meter.Int64UpDownCounter(
		"tagfeed.subscriptions.active",
		metric.WithDescription("Number of topics in the desired active set"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscriptionsActive gauge: %w", err)
	}

	return m, nil
}

// RecordConnect records a successful connection.
func (m *Metrics) RecordConnect(ctx context.Context) {
	if m == nil {
		return
	}
	m.connectsTotal.Add(ctx, 1)
}

// RecordConnectFailure records a failed connect attempt.
func (m *Metrics) RecordConnectFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.connectFailures.Add(ctx, 1)
}

// RecordDisconnect records an unexpected disconnection.
func (m *Metrics) RecordDisconnect(ctx context.Context) {
	if m == nil {
		return
	}
	m.disconnectsTotal.Add(ctx, 1)
}

// RecordDelivered records a message handed to the consumer.
func (m *Metrics) RecordDelivered(ctx context.Context, topic string) {
	if m == nil {
		return
	}
	m.messagesDelivered.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

// RecordDropped records messages dropped on queue overflow.
func (m *Metrics) RecordDropped(ctx context.Context, n int64) {
	if m == nil {
		return
	}
	m.messagesDropped.Add(ctx, n)
}

// RecordPublished records a published message.
func (m *Metrics) RecordPublished(ctx context.Context, topic string) {
	if m == nil {
		return
	}
	m.messagesPublished.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

// RecordReplayDegraded records a subscription that exhausted its replay retries.
func (m *Metrics) RecordReplayDegraded(ctx context.Context, topic string) {
	if m == nil {
		return
	}
	m.replayDegradedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

// SubscriptionAdded adjusts the active subscription gauge upward.
func (m *Metrics) SubscriptionAdded(ctx context.Context) {
	if m == nil {
		return
	}
	m.subscriptionsActive.Add(ctx, 1)
}

// SubscriptionRemoved adjusts the active subscription gauge downward.
func (m *Metrics) SubscriptionRemoved(ctx context.Context) {
	if m == nil {
		return
	}
	m.subscriptionsActive.Add(ctx, -1)
}
