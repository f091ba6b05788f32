// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides a scriptable in-memory transport connector for
// exercising session behavior without a broker.
package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/tagfeed/transport"
)

// PublishedMessage records one outbound publish seen by the fake.
type PublishedMessage struct {
	Topic   string
	Payload []byte
}

// FakeConnector is an in-memory transport.Connector. Connect outcomes and
// per-topic subscribe failures can be scripted ahead of time; inbound
// messages and connection loss are injected explicitly.
type FakeConnector struct {
	mu           sync.Mutex
	connected    bool
	connectErrs  []error
	connectCalls int
	subFailures  map[string]int
	subscribes   []string
	unsubscribes []string
	published    []PublishedMessage

	onMessage transport.MessageHandler
	onLost    transport.LostHandler

	seq atomic.Uint64

	// ConnectStarted receives one signal per connect attempt, if set.
	ConnectStarted chan struct{}
}

// NewFakeConnector creates a fake connector with no scripted failures.
func NewFakeConnector() *FakeConnector {
	return &FakeConnector{
		subFailures: make(map[string]int),
	}
}

// Bind attaches the session's callbacks. Intended to be called from a
// session.ConnectorFactory.
func (f *FakeConnector) Bind(onMessage transport.MessageHandler, onLost transport.LostHandler) *FakeConnector {
	f.onMessage = onMessage
	f.onLost = onLost
	return f
}

// ScriptConnectErrors queues errors returned by the next Connect calls, in
// order. A nil entry means that attempt succeeds.
func (f *FakeConnector) ScriptConnectErrors(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErrs = append(f.connectErrs, errs...)
}

// FailSubscribes makes the next n Subscribe calls for a topic fail.
func (f *FakeConnector) FailSubscribes(topic string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subFailures[topic] = n
}

// Connect consumes the next scripted outcome, defaulting to success.
func (f *FakeConnector) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connectCalls++
	var err error
	if len(f.connectErrs) > 0 {
		err = f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
	}
	if err == nil {
		f.connected = true
	}
	started := f.ConnectStarted
	f.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	return err
}

// Disconnect marks the connection closed.
func (f *FakeConnector) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

// IsConnected reports the fake's connection flag.
func (f *FakeConnector) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Publish records the outbound message.
func (f *FakeConnector) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return transport.ErrNotConnected
	}
	f.published = append(f.published, PublishedMessage{Topic: topic, Payload: payload})
	return nil
}

// Subscribe records the raw subscribe, honoring scripted failures.
func (f *FakeConnector) Subscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return transport.ErrNotConnected
	}
	if n := f.subFailures[topic]; n > 0 {
		f.subFailures[topic] = n - 1
		return transport.ErrUnreachable
	}
	f.subscribes = append(f.subscribes, topic)
	return nil
}

// Unsubscribe records the raw unsubscribe.
func (f *FakeConnector) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return transport.ErrNotConnected
	}
	f.unsubscribes = append(f.unsubscribes, topic)
	return nil
}

// Inject delivers an inbound message through the bound message handler, as
// the broker would on the I/O goroutine.
func (f *FakeConnector) Inject(topic string, payload []byte) {
	f.onMessage(transport.Message{
		Topic:     topic,
		Payload:   payload,
		Timestamp: time.Now(),
		Seq:       f.seq.Add(1),
	})
}

// DropConnection simulates an unsolicited disconnect.
func (f *FakeConnector) DropConnection(err error) {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()

	if f.onLost != nil {
		f.onLost(err)
	}
}

// ConnectCalls returns how many connect attempts reached the transport.
func (f *FakeConnector) ConnectCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

// Subscribes returns the raw subscribe calls seen, in order.
func (f *FakeConnector) Subscribes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.subscribes))
	copy(out, f.subscribes)
	return out
}

// Unsubscribes returns the raw unsubscribe calls seen, in order.
func (f *FakeConnector) Unsubscribes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.unsubscribes))
	copy(out, f.unsubscribes)
	return out
}

// Published returns the outbound messages seen, in order.
func (f *FakeConnector) Published() []PublishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]PublishedMessage, len(f.published))
	copy(out, f.published)
	return out
}
