// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absmach/tagfeed/config"
	"github.com/absmach/tagfeed/events"
	"github.com/absmach/tagfeed/testutil"
	"github.com/absmach/tagfeed/transport"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Reconnect.BackoffFloor = 5 * time.Millisecond
	cfg.Reconnect.BackoffCeiling = 40 * time.Millisecond
	cfg.Reconnect.BreakerThreshold = 100
	cfg.Reconnect.BreakerResetTimeout = time.Minute
	cfg.Queue.Capacity = 16
	return cfg
}

func newTestSession(t *testing.T, cfg *config.Config) (*Session, *testutil.FakeConnector) {
	t.Helper()

	fake := testutil.NewFakeConnector()
	s, err := New(cfg,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithConnectorFactory(func(_ config.BrokerConfig, onMessage transport.MessageHandler, onLost transport.LostHandler, _ *slog.Logger) transport.Connector {
			return fake.Bind(onMessage, onLost)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, fake
}

func waitForState(t *testing.T, s *Session, want State) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("session did not reach state %v (current %v)", want, s.State())
}

// waitForReconnect waits until the session is Connected after at least
// attempts connect calls reached the transport.
func waitForReconnect(t *testing.T, s *Session, fake *testutil.FakeConnector, attempts int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fake.ConnectCalls() >= attempts && s.State() == StateConnected {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("session did not reconnect (%d connects, state %v)", fake.ConnectCalls(), s.State())
}

func countTopic(subs []string, topic string) int {
	n := 0
	for _, s := range subs {
		if s == topic {
			n++
		}
	}
	return n
}

func TestPublishWhileDisconnected(t *testing.T) {
	s, fake := newTestSession(t, testConfig())

	err := s.Publish("twitter/test", []byte("user: hi"))
	assert.True(t, errors.Is(err, ErrNotConnected))

	// No I/O happened.
	assert.Empty(t, fake.Published())
	assert.Zero(t, fake.ConnectCalls())
}

func TestPublishInvalidTopic(t *testing.T) {
	s, _ := newTestSession(t, testConfig())
	s.Start()
	waitForState(t, s, StateConnected)

	assert.Error(t, s.Publish("twitter/bad#", []byte("x")))
	assert.Error(t, s.Publish("", []byte("x")))
}

func TestPublishConnected(t *testing.T) {
	s, fake := newTestSession(t, testConfig())
	s.Start()
	waitForState(t, s, StateConnected)

	require.NoError(t, s.Publish("twitter/test", []byte("user: hi")))

	pubs := fake.Published()
	require.Len(t, pubs, 1)
	assert.Equal(t, "twitter/test", pubs[0].Topic)
	assert.Equal(t, "user: hi", string(pubs[0].Payload))
}

func TestPublishRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.Publish.Rate = 1
	cfg.Publish.Burst = 1

	s, fake := newTestSession(t, cfg)
	s.Start()
	waitForState(t, s, StateConnected)

	require.NoError(t, s.Publish("twitter/test", []byte("first")))
	err := s.Publish("twitter/test", []byte("second"))
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.Len(t, fake.Published(), 1, "limited publish must not reach the transport")
}

func TestPublishDisconnectedKeepsRateToken(t *testing.T) {
	cfg := testConfig()
	cfg.Publish.Rate = 1
	cfg.Publish.Burst = 1

	s, fake := newTestSession(t, cfg)

	// Publishes rejected for lack of a connection must not consume the
	// single burst token.
	err := s.Publish("twitter/test", []byte("user: hi"))
	assert.True(t, errors.Is(err, ErrNotConnected))
	err = s.Publish("twitter/test", []byte("user: hi"))
	assert.True(t, errors.Is(err, ErrNotConnected))

	s.Start()
	waitForState(t, s, StateConnected)

	require.NoError(t, s.Publish("twitter/test", []byte("user: hi")))
	assert.Len(t, fake.Published(), 1)
}

func TestSubscribeBeforeStartIsReplayed(t *testing.T) {
	s, fake := newTestSession(t, testConfig())

	// Desired state is recorded while disconnected, without I/O.
	require.NoError(t, s.Subscribe("twitter/a"))
	require.NoError(t, s.Subscribe("twitter/b"))
	require.NoError(t, s.Subscribe("twitter/a")) // idempotent
	assert.Empty(t, fake.Subscribes())

	s.Start()
	waitForState(t, s, StateConnected)

	subs := fake.Subscribes()
	assert.Equal(t, 1, countTopic(subs, "twitter/a"))
	assert.Equal(t, 1, countTopic(subs, "twitter/b"))
	assert.Len(t, subs, 2)
}

func TestReconnectReplay(t *testing.T) {
	s, fake := newTestSession(t, testConfig())
	require.NoError(t, s.Subscribe("twitter/a"))
	require.NoError(t, s.Subscribe("twitter/b"))

	s.Start()
	waitForState(t, s, StateConnected)

	fake.DropConnection(errors.New("broken pipe"))
	waitForReconnect(t, s, fake, 2)

	subs := fake.Subscribes()
	assert.Equal(t, 2, countTopic(subs, "twitter/a"), "one replay per connection")
	assert.Equal(t, 2, countTopic(subs, "twitter/b"))
	assert.Equal(t, 2, fake.ConnectCalls())
}

func TestUnsubscribedTopicNotReplayed(t *testing.T) {
	s, fake := newTestSession(t, testConfig())
	require.NoError(t, s.Subscribe("twitter/a"))
	require.NoError(t, s.Subscribe("twitter/b"))

	s.Start()
	waitForState(t, s, StateConnected)
	require.NoError(t, s.Unsubscribe("twitter/b"))

	fake.DropConnection(errors.New("broken pipe"))
	waitForReconnect(t, s, fake, 2)

	subs := fake.Subscribes()
	assert.Equal(t, 2, countTopic(subs, "twitter/a"))
	assert.Equal(t, 1, countTopic(subs, "twitter/b"), "inactive topic must not replay")
	require.Len(t, fake.Unsubscribes(), 1)
}

func TestConnectFailureBackoff(t *testing.T) {
	s, fake := newTestSession(t, testConfig())
	fake.ScriptConnectErrors(
		transport.ErrConnectRefused,
		transport.ErrConnectRefused,
		transport.ErrConnectRefused,
	)

	s.Start()
	waitForState(t, s, StateConnected)
	assert.Equal(t, 4, fake.ConnectCalls())

	// The emitted reconnecting events carry non-decreasing delays.
	var delays []time.Duration
	timeout := time.After(time.Second)
	for len(delays) < 3 {
		select {
		case env := <-s.Events():
			if env.EventType != events.TypeReconnecting {
				continue
			}
			data := env.Data.(events.Reconnecting)
			d, err := time.ParseDuration(data.Delay)
			require.NoError(t, err)
			delays = append(delays, d)
		case <-timeout:
			t.Fatalf("saw only %d reconnecting events", len(delays))
		}
	}
	for i := 1; i < len(delays); i++ {
		assert.GreaterOrEqual(t, delays[i], delays[i-1])
		assert.Greater(t, delays[i], time.Duration(0))
	}
	assert.Greater(t, delays[2], delays[0], "delay must grow before reaching the ceiling")
}

func TestBackoffDelayGrowth(t *testing.T) {
	cfg := testConfig()
	sup := newSupervisor(cfg.Reconnect, "tcp://test", testutil.NewFakeConnector(), NewRegistry(), nil, func(events.Event) {}, slog.Default())

	d := cfg.Reconnect.BackoffFloor
	var seen []time.Duration
	for i := 0; i < 5; i++ {
		seen = append(seen, d)
		d = sup.nextDelay(d)
	}

	assert.Equal(t, []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		40 * time.Millisecond, // capped at ceiling
	}, seen)
}

func TestConnectBreakerOpens(t *testing.T) {
	cfg := testConfig()
	cfg.Reconnect.BreakerThreshold = 2

	s, fake := newTestSession(t, cfg)
	fake.ScriptConnectErrors(
		transport.ErrUnreachable,
		transport.ErrUnreachable,
		transport.ErrUnreachable,
		transport.ErrUnreachable,
	)

	s.Start()
	time.Sleep(150 * time.Millisecond)

	// After two consecutive failures the breaker is open and further
	// attempts never reach the transport.
	assert.Equal(t, 2, fake.ConnectCalls())
	assert.NotEqual(t, StateConnected, s.State())
}

func TestSubscriptionDegraded(t *testing.T) {
	cfg := testConfig()
	s, fake := newTestSession(t, cfg)
	require.NoError(t, s.Subscribe("twitter/good"))
	require.NoError(t, s.Subscribe("twitter/flaky"))
	fake.FailSubscribes("twitter/flaky", cfg.Reconnect.ReplayAttempts)

	s.Start()
	waitForState(t, s, StateConnected)

	// The healthy topic still got subscribed.
	assert.Equal(t, 1, countTopic(fake.Subscribes(), "twitter/good"))

	timeout := time.After(time.Second)
	for {
		select {
		case env := <-s.Events():
			if env.EventType != events.TypeSubscriptionDegraded {
				continue
			}
			data := env.Data.(events.SubscriptionDegraded)
			assert.Equal(t, "twitter/flaky", data.TopicFilter)
			assert.Equal(t, cfg.Reconnect.ReplayAttempts, data.Attempts)
			return
		case <-timeout:
			t.Fatal("degraded event not emitted")
		}
	}
}

func TestDeliveryEndToEnd(t *testing.T) {
	s, fake := newTestSession(t, testConfig())
	require.NoError(t, s.Subscribe("twitter/a"))
	s.Start()
	waitForState(t, s, StateConnected)

	fake.Inject("twitter/a", []byte("u1: m1"))
	fake.Inject("twitter/b", []byte("u2: m2"))
	fake.Inject("twitter/a", []byte("u1: m3"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var got []string
	var lastSeq uint64
	for i := 0; i < 3; i++ {
		m, err := s.Pop(ctx)
		require.NoError(t, err)
		got = append(got, string(m.Payload))
		assert.Greater(t, m.Seq, lastSeq, "sequence numbers must increase")
		assert.False(t, m.Timestamp.IsZero())
		lastSeq = m.Seq
	}
	assert.Equal(t, []string{"u1: m1", "u2: m2", "u1: m3"}, got)
}

func TestCloseWakesPopAndEndsEvents(t *testing.T) {
	s, _ := newTestSession(t, testConfig())
	s.Start()
	waitForState(t, s, StateConnected)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Pop(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, ErrClosed))
	case <-time.After(time.Second):
		t.Fatal("Pop not woken by Close")
	}

	assert.Equal(t, StateDisconnected, s.State())

	// The stream ends with a Stopped event followed by channel close.
	var last string
	for env := range s.Events() {
		last = env.EventType
	}
	assert.Equal(t, events.TypeStopped, last)

	// Close is idempotent.
	require.NoError(t, s.Close())
}

// Overflow events raised by inbound pushes must not race the event stream
// shutdown in Close.
func TestCloseDuringInboundBurst(t *testing.T) {
	for i := 0; i < 100; i++ {
		cfg := testConfig()
		cfg.Queue.Capacity = 1

		s, fake := newTestSession(t, cfg)
		s.Start()
		waitForState(t, s, StateConnected)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for j := 0; j < 50; j++ {
				fake.Inject("twitter/test", []byte("user: hi"))
			}
		}()

		require.NoError(t, s.Close())
		<-done
	}
}

func TestStatsSnapshot(t *testing.T) {
	s, fake := newTestSession(t, testConfig())
	require.NoError(t, s.Subscribe("twitter/a"))
	s.Start()
	waitForState(t, s, StateConnected)

	fake.Inject("twitter/a", []byte("u: m"))

	deadline := time.Now().Add(time.Second)
	for s.Stats().Queued == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	st := s.Stats()
	assert.Equal(t, StateConnected, st.State)
	assert.Equal(t, 1, st.Queued)
	assert.Equal(t, 1, st.ActiveTopics)
	assert.Zero(t, st.Dropped)
}
