// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/absmach/tagfeed/config"
	"github.com/absmach/tagfeed/events"
	"github.com/absmach/tagfeed/otel"
	"github.com/absmach/tagfeed/transport"
)

// supervisor drives the connection state machine: connect, replay the
// desired subscriptions, watch for loss, back off, repeat. It owns the
// session's State; all transitions happen on its single goroutine.
type supervisor struct {
	cfg       config.ReconnectConfig
	broker    string
	connector transport.Connector
	registry  *Registry
	breaker   *gobreaker.CircuitBreaker
	metrics   *otel.Metrics
	logger    *slog.Logger

	state  atomic.Uint32
	lostCh chan error
	emit   func(events.Event)

	doneCh chan struct{}
}

func newSupervisor(cfg config.ReconnectConfig, broker string, connector transport.Connector, registry *Registry, metrics *otel.Metrics, emit func(events.Event), logger *slog.Logger) *supervisor {
	s := &supervisor{
		cfg:       cfg,
		broker:    broker,
		connector: connector,
		registry:  registry,
		metrics:   metrics,
		logger:    logger,
		lostCh:    make(chan error, 1),
		emit:      emit,
		doneCh:    make(chan struct{}),
	}

	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "broker-connect",
		MaxRequests: 1,
		Timeout:     cfg.BreakerResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("connect circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	return s
}

// State returns the current connection state.
func (s *supervisor) State() State {
	return State(s.state.Load())
}

func (s *supervisor) setState(st State) {
	s.state.Store(uint32(st))
}

// connectionLost is the transport's loss callback. Non-blocking: only the
// first pending loss matters, the run loop reconciles the rest.
func (s *supervisor) connectionLost(err error) {
	select {
	case s.lostCh <- err:
	default:
	}
}

// run is the supervision loop. It exits only when ctx is cancelled, leaving
// the state at Disconnected.
func (s *supervisor) run(ctx context.Context) {
	defer close(s.doneCh)
	defer s.setState(StateDisconnected)

	delay := s.cfg.BackoffFloor
	attempt := 0

	for {
		if ctx.Err() != nil {
			return
		}

		s.setState(StateConnecting)
		err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			attempt++
			s.metrics.RecordConnectFailure(ctx)

			wait := delay
			if errors.Is(err, gobreaker.ErrOpenState) {
				// Breaker open: hold at the ceiling until it half-opens.
				wait = s.cfg.BackoffCeiling
			}

			s.logger.Warn("connect failed",
				slog.String("broker", s.broker),
				slog.Int("attempt", attempt),
				slog.Duration("retry_in", wait),
				slog.Any("error", err))

			s.setState(StateBackoff)
			s.emit(events.Reconnecting{Attempt: attempt, Delay: wait.String(), Reason: err.Error()})

			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
			delay = s.nextDelay(delay)
			continue
		}

		// Drain any loss recorded by a previous connection.
		select {
		case <-s.lostCh:
		default:
		}

		replayed := s.replay(ctx)
		s.setState(StateConnected)
		s.metrics.RecordConnect(ctx)
		s.emit(events.Connected{Broker: s.broker, Replayed: replayed})
		s.logger.Info("connected", slog.String("broker", s.broker), slog.Int("replayed", replayed))

		// Reached Connected: reset backoff to the floor.
		delay = s.cfg.BackoffFloor
		attempt = 0

		select {
		case err := <-s.lostCh:
			s.metrics.RecordDisconnect(ctx)
			reason := "connection lost"
			if err != nil {
				reason = err.Error()
			}
			s.emit(events.Disconnected{Reason: reason})

			s.setState(StateBackoff)
			attempt++
			s.emit(events.Reconnecting{Attempt: attempt, Delay: delay.String(), Reason: reason})

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			delay = s.nextDelay(delay)
		case <-ctx.Done():
			return
		}
	}
}

// connect runs one connect attempt through the circuit breaker.
func (s *supervisor) connect(ctx context.Context) error {
	_, err := s.breaker.Execute(func() (any, error) {
		return nil, s.connector.Connect(ctx)
	})
	return err
}

// replay re-issues subscriptions for every desired topic. Partial failure
// on one topic does not abort the rest: each is retried independently up to
// the configured attempt count, then reported as degraded. The topic stays
// in the registry and is tried again on the next reconnect.
func (s *supervisor) replay(ctx context.Context) int {
	replayed := 0
	for _, topic := range s.registry.ActiveTopics() {
		if ctx.Err() != nil {
			return replayed
		}

		var err error
		for i := 0; i < s.cfg.ReplayAttempts; i++ {
			if err = s.connector.Subscribe(topic); err == nil {
				break
			}
		}
		if err != nil {
			s.metrics.RecordReplayDegraded(ctx, topic)
			s.emit(events.SubscriptionDegraded{
				TopicFilter: topic,
				Attempts:    s.cfg.ReplayAttempts,
				Error:       err.Error(),
			})
			s.logger.Error("subscription replay degraded",
				slog.String("topic", topic),
				slog.Int("attempts", s.cfg.ReplayAttempts),
				slog.Any("error", err))
			continue
		}
		replayed++
	}
	return replayed
}

// nextDelay grows the backoff delay geometrically up to the ceiling.
func (s *supervisor) nextDelay(d time.Duration) time.Duration {
	next := time.Duration(float64(d) * s.cfg.BackoffMultiplier)
	if next > s.cfg.BackoffCeiling {
		next = s.cfg.BackoffCeiling
	}
	return next
}
