// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package transport owns the logical connection to the broker and exposes
// connect, disconnect and raw publish/subscribe primitives. Inbound messages
// and unsolicited disconnects are reported through callbacks that run on the
// transport's own I/O goroutine, never the caller's.
package transport

import (
	"context"
	"errors"
	"time"
)

// Errors.
var (
	ErrConnectTimeout  = errors.New("connect timed out")
	ErrConnectRefused  = errors.New("connection refused")
	ErrUnreachable     = errors.New("broker unreachable")
	ErrNotConnected    = errors.New("not connected")
	ErrPayloadTooLarge = errors.New("payload too large")
)

// Message is a single inbound message as received from the broker.
// Immutable after creation.
type Message struct {
	Topic     string
	Payload   []byte
	Timestamp time.Time
	Seq       uint64
}

// MessageHandler is invoked once per inbound message, on the I/O goroutine.
// Implementations must not block on consumer-side locks.
type MessageHandler func(msg Message)

// LostHandler is invoked once when an established connection is lost
// unexpectedly, on the I/O goroutine.
type LostHandler func(err error)

// Connector is a single logical connection to a broker endpoint.
type Connector interface {
	// Connect establishes the connection, honoring the configured timeout.
	// It classifies failures as ErrConnectTimeout, ErrConnectRefused or
	// ErrUnreachable.
	Connect(ctx context.Context) error

	// Disconnect closes the connection. Safe to call when not connected.
	Disconnect()

	// Publish sends a payload to a topic, fire-and-forget. Fails with
	// ErrNotConnected or ErrPayloadTooLarge without touching the network.
	Publish(topic string, payload []byte) error

	// Subscribe registers interest in a topic on the live connection.
	Subscribe(topic string) error

	// Unsubscribe removes interest in a topic on the live connection.
	Unsubscribe(topic string) error

	// IsConnected reports whether the connection is currently up.
	IsConnected() bool
}
