// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package events defines the typed status events a session emits as its
// connection state changes. Consumers observe connectivity only through
// these events; connection-level failures are never raised as errors.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type constants.
const (
	TypeConnected            = "session.connected"
	TypeDisconnected         = "session.disconnected"
	TypeReconnecting         = "session.reconnecting"
	TypeSubscriptionDegraded = "session.subscription_degraded"
	TypeQueueOverflow        = "session.queue_overflow"
	TypeStopped              = "session.stopped"
)

// Event is the common interface for all session events.
type Event interface {
	// Type returns the event type identifier (e.g., "session.connected")
	Type() string

	// Wrap wraps the event in a common envelope with metadata
	Wrap(sessionID string) *Envelope
}

// Envelope is the common wrapper for all session events.
type Envelope struct {
	EventType string `json:"event_type"`
	EventID   string `json:"event_id"`
	Timestamp string `json:"timestamp"`
	SessionID string `json:"session_id"`
	Data      any    `json:"data"`
}

// MarshalJSON serializes the envelope to JSON.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(*e)
}

func wrap(e Event, sessionID string) *Envelope {
	return &Envelope{
		EventType: e.Type(),
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		SessionID: sessionID,
		Data:      e,
	}
}

// Connected is emitted when the session reaches the broker and finishes
// replaying its active subscriptions.
type Connected struct {
	Broker   string `json:"broker"`
	Replayed int    `json:"replayed"`
}

func (e Connected) Type() string { return TypeConnected }
func (e Connected) Wrap(sessionID string) *Envelope { return wrap(e, sessionID) }

// Disconnected is emitted when an established connection is lost.
type Disconnected struct {
	Reason string `json:"reason"`
}

func (e Disconnected) Type() string { return TypeDisconnected }
func (e Disconnected) Wrap(sessionID string) *Envelope { return wrap(e, sessionID) }

// Reconnecting is emitted when the session enters backoff before the next
// connect attempt.
type Reconnecting struct {
	Attempt int    `json:"attempt"`
	Delay   string `json:"delay"`
	Reason  string `json:"reason,omitempty"`
}

func (e Reconnecting) Type() string { return TypeReconnecting }
func (e Reconnecting) Wrap(sessionID string) *Envelope { return wrap(e, sessionID) }

// SubscriptionDegraded is emitted when replay of a topic keeps failing past
// its retry budget. The topic stays in the desired set and is retried on the
// next reconnect.
type SubscriptionDegraded struct {
	TopicFilter string `json:"topic_filter"`
	Attempts    int    `json:"attempts"`
	Error       string `json:"error"`
}

func (e SubscriptionDegraded) Type() string { return TypeSubscriptionDegraded }
func (e SubscriptionDegraded) Wrap(sessionID string) *Envelope { return wrap(e, sessionID) }

// QueueOverflow is emitted when the delivery queue drops its oldest message
// to make room for a new one.
type QueueOverflow struct {
	Dropped uint64 `json:"dropped"`
}

func (e QueueOverflow) Type() string { return TypeQueueOverflow }
func (e QueueOverflow) Wrap(sessionID string) *Envelope { return wrap(e, sessionID) }

// Stopped is emitted once when the session is closed; it is the final event.
type Stopped struct{}

func (e Stopped) Type() string { return TypeStopped }
func (e Stopped) Wrap(sessionID string) *Envelope { return wrap(e, sessionID) }
