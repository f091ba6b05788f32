// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package session implements a reconnecting topic-subscription session on
// top of a broker transport: connection supervision with automatic
// reconnect and subscription replay, an ordered bounded hand-off queue
// between the transport's I/O goroutine and the consumer, and a typed
// publish/subscribe facade.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/absmach/tagfeed/config"
	"github.com/absmach/tagfeed/events"
	"github.com/absmach/tagfeed/otel"
	"github.com/absmach/tagfeed/ratelimit"
	"github.com/absmach/tagfeed/topics"
	"github.com/absmach/tagfeed/transport"
)

// Errors surfaced by the facade.
var (
	// ErrNotConnected is returned by Publish while the session is not in
	// the Connected state. Publishes are never buffered or retried.
	ErrNotConnected = transport.ErrNotConnected

	// ErrRateLimited is returned by Publish when the configured publish
	// rate is exceeded.
	ErrRateLimited = errors.New("publish rate limited")
)

// eventBufferSize bounds the session event stream. Events beyond it are
// dropped rather than stalling the supervisor.
const eventBufferSize = 64

// ConnectorFactory builds the transport connector for a session. Tests
// substitute a fake; the default builds a paho-backed connector.
type ConnectorFactory func(cfg config.BrokerConfig, onMessage transport.MessageHandler, onLost transport.LostHandler, logger *slog.Logger) transport.Connector

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithMetrics sets the metric instruments to record into.
func WithMetrics(m *otel.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithConnectorFactory overrides how the transport connector is built.
func WithConnectorFactory(f ConnectorFactory) Option {
	return func(s *Session) { s.factory = f }
}

// Session is the public facade composing the transport connector,
// subscription registry, reconnect supervisor and delivery queue.
type Session struct {
	id      string
	cfg     *config.Config
	logger  *slog.Logger
	metrics *otel.Metrics
	factory ConnectorFactory

	registry  *Registry
	queue     *DeliveryQueue
	connector transport.Connector
	sup       *supervisor
	limiter   *ratelimit.PublishLimiter

	eventsCh     chan *events.Envelope
	eventsMu     sync.Mutex
	eventsClosed bool

	cancel  context.CancelFunc
	started atomic.Bool
	closed  atomic.Bool
}

// Stats is a point-in-time snapshot of session counters.
type Stats struct {
	State        State
	Queued       int
	Dropped      uint64
	ActiveTopics int
}

// New creates a session for the configured broker. The session does not
// touch the network until Start is called.
func New(cfg *config.Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("session config: %w", err)
	}

	s := &Session{
		id:       uuid.NewString(),
		cfg:      cfg,
		registry: NewRegistry(),
		limiter:  ratelimit.NewPublishLimiter(cfg.Publish.Rate, cfg.Publish.Burst),
		eventsCh: make(chan *events.Envelope, eventBufferSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.factory == nil {
		s.factory = func(bc config.BrokerConfig, onMessage transport.MessageHandler, onLost transport.LostHandler, logger *slog.Logger) transport.Connector {
			return transport.NewPaho(bc, onMessage, onLost, logger)
		}
	}

	s.queue = NewDeliveryQueue(cfg.Queue.Capacity, func(total uint64) {
		s.metrics.RecordDropped(context.Background(), 1)
		s.emit(events.QueueOverflow{Dropped: total})
	})

	// The I/O goroutine only ever pushes into the queue and pokes the
	// supervisor's loss channel; it never takes consumer-side locks.
	s.connector = s.factory(cfg.Broker,
		func(msg transport.Message) { s.queue.Push(msg) },
		func(err error) { s.sup.connectionLost(err) },
		s.logger,
	)

	s.sup = newSupervisor(cfg.Reconnect, cfg.Broker.URL, s.connector, s.registry, s.metrics, s.emit, s.logger)

	return s, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// Start launches the reconnect supervisor. It returns immediately;
// connectivity is observed through State and Events.
func (s *Session) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.sup.run(ctx)
}

// State returns the current connection state.
func (s *Session) State() State {
	return s.sup.State()
}

// Events returns the session event stream. The channel is closed by Close
// after the final Stopped event.
func (s *Session) Events() <-chan *events.Envelope {
	return s.eventsCh
}

// Publish sends a payload to a topic, fire-and-forget. It fails fast with
// ErrNotConnected while the session is not connected; publishes are never
// buffered for later.
func (s *Session) Publish(topic string, payload []byte) error {
	if err := topics.ValidateTopicName(topic); err != nil {
		return err
	}
	if s.State() != StateConnected {
		return ErrNotConnected
	}
	if !s.limiter.Allow() {
		return ErrRateLimited
	}

	if err := s.connector.Publish(topic, payload); err != nil {
		return err
	}
	s.metrics.RecordPublished(context.Background(), topic)
	return nil
}

// Subscribe adds a topic to the desired set. The registry is updated first
// so the subscription survives disconnects; if currently connected the raw
// subscribe is issued immediately, otherwise the next replay picks it up.
func (s *Session) Subscribe(topic string) error {
	if err := topics.ValidateTopicName(topic); err != nil {
		return err
	}

	if s.registry.SetActive(topic) {
		s.metrics.SubscriptionAdded(context.Background())
	}

	if s.State() != StateConnected {
		return nil
	}
	return s.connector.Subscribe(topic)
}

// Unsubscribe removes a topic from the desired set and, if connected,
// issues the raw unsubscribe immediately.
func (s *Session) Unsubscribe(topic string) error {
	if err := topics.ValidateTopicName(topic); err != nil {
		return err
	}

	if s.registry.SetInactive(topic) {
		s.metrics.SubscriptionRemoved(context.Background())
	}

	if s.State() != StateConnected {
		return nil
	}
	return s.connector.Unsubscribe(topic)
}

// Pop blocks until the next inbound message arrives, the context is
// cancelled, or the session is closed (ErrClosed).
func (s *Session) Pop(ctx context.Context) (transport.Message, error) {
	msg, err := s.queue.Pop(ctx)
	if err != nil {
		return transport.Message{}, err
	}
	s.metrics.RecordDelivered(ctx, msg.Topic)
	return msg, nil
}

// Stats returns a snapshot of session counters.
func (s *Session) Stats() Stats {
	return Stats{
		State:        s.State(),
		Queued:       s.queue.Len(),
		Dropped:      s.queue.Dropped(),
		ActiveTopics: s.registry.ActiveCount(),
	}
}

// Close stops the session: the supervisor is cancelled, the connection
// closed, any blocked Pop woken with ErrClosed, and the event stream ended
// with a final Stopped event. Terminal; a closed session cannot restart.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	if s.started.Load() {
		s.cancel()
		<-s.sup.doneCh
	}
	s.connector.Disconnect()
	s.queue.Close()

	s.emit(events.Stopped{})

	// A producer may still be inside a queue push taken before Close; the
	// mutex keeps its overflow emit from racing the channel close.
	s.eventsMu.Lock()
	s.eventsClosed = true
	close(s.eventsCh)
	s.eventsMu.Unlock()

	s.logger.Info("session closed", slog.String("session_id", s.id))
	return nil
}

// emit publishes an event to the stream without ever blocking the caller.
// Safe to call from any goroutine, including after Close.
func (s *Session) emit(e events.Event) {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()

	if s.eventsClosed {
		return
	}

	select {
	case s.eventsCh <- e.Wrap(s.id):
	default:
		s.logger.Debug("event stream full, dropping event", slog.String("type", e.Type()))
	}
}
