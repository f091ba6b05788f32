// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/absmach/tagfeed/config"
)

// ackTimeout bounds how long subscribe/unsubscribe wait for the broker ack.
const ackTimeout = 5 * time.Second

// disconnectQuiesce is how long paho waits for in-flight work on disconnect.
const disconnectQuiesce = 250 * time.Millisecond

// Paho is a Connector backed by the Eclipse Paho MQTT client. The library's
// own auto-reconnect is disabled: reconnect supervision belongs to the
// session layer, which also replays subscriptions.
type Paho struct {
	client mqtt.Client
	cfg    config.BrokerConfig
	logger *slog.Logger
	seq    atomic.Uint64
}

// NewPaho creates a paho-backed connector. onMessage and onLost are invoked
// on paho's I/O goroutine; panics in onMessage are recovered and logged so
// the network loop keeps running.
func NewPaho(cfg config.BrokerConfig, onMessage MessageHandler, onLost LostHandler, logger *slog.Logger) *Paho {
	if logger == nil {
		logger = slog.Default()
	}

	p := &Paho{
		cfg:    cfg,
		logger: logger,
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.URL).
		SetClientID(fmt.Sprintf("%s-%s", cfg.ClientIDPrefix, uuid.NewString()[:8])).
		SetKeepAlive(cfg.KeepAlive).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetProtocolVersion(4)

	opts.SetDefaultPublishHandler(func(_ mqtt.Client, m mqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("message handler panic", "topic", m.Topic(), "panic", r)
			}
		}()

		onMessage(Message{
			Topic:     m.Topic(),
			Payload:   m.Payload(),
			Timestamp: time.Now(),
			Seq:       p.seq.Add(1),
		})
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("connection lost", "error", err)
		if onLost != nil {
			onLost(err)
		}
	})

	p.client = mqtt.NewClient(opts)
	return p
}

// Connect establishes the broker connection, classifying failures.
func (p *Paho) Connect(ctx context.Context) error {
	token := p.client.Connect()

	deadline := p.cfg.ConnectTimeout
	if d, ok := ctx.Deadline(); ok {
		if until := time.Until(d); until < deadline {
			deadline = until
		}
	}

	if !token.WaitTimeout(deadline) {
		return ErrConnectTimeout
	}
	if err := token.Error(); err != nil {
		return classifyConnectError(err)
	}
	return nil
}

// Disconnect closes the connection, waiting briefly for in-flight work.
func (p *Paho) Disconnect() {
	p.client.Disconnect(uint(disconnectQuiesce.Milliseconds()))
}

// IsConnected reports whether the underlying client has a live connection.
func (p *Paho) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Publish sends a payload at QoS 0, fire-and-forget.
func (p *Paho) Publish(topic string, payload []byte) error {
	if !p.IsConnected() {
		return ErrNotConnected
	}
	if len(payload) > p.cfg.MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), p.cfg.MaxPayloadSize)
	}

	token := p.client.Publish(topic, 0, false, payload)
	// QoS 0 tokens complete as soon as the packet is written.
	if token.WaitTimeout(ackTimeout) {
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
	}
	return nil
}

// Subscribe registers a QoS 0 subscription and waits for the broker ack.
func (p *Paho) Subscribe(topic string) error {
	if !p.IsConnected() {
		return ErrNotConnected
	}

	token := p.client.Subscribe(topic, 0, nil)
	if !token.WaitTimeout(ackTimeout) {
		return fmt.Errorf("subscribe %s: %w", topic, ErrConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

// Unsubscribe removes a subscription and waits for the broker ack.
func (p *Paho) Unsubscribe(topic string) error {
	if !p.IsConnected() {
		return ErrNotConnected
	}

	token := p.client.Unsubscribe(topic)
	if !token.WaitTimeout(ackTimeout) {
		return fmt.Errorf("unsubscribe %s: %w", topic, ErrConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", topic, err)
	}
	return nil
}

// classifyConnectError maps dial failures onto the transport error taxonomy.
func classifyConnectError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrConnectTimeout, err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("%w: %v", ErrConnectRefused, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}
