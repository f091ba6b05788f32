// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Command tagsub follows hashtag feeds: it subscribes to one or more
// hashtags and prints arriving messages in chronological order. Topics can
// be added and removed at runtime via stdin:
//
//	sub #golang
//	unsub #golang
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/absmach/tagfeed/config"
	"github.com/absmach/tagfeed/events"
	"github.com/absmach/tagfeed/otel"
	"github.com/absmach/tagfeed/session"
	"github.com/absmach/tagfeed/topics"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	hashtags := flag.String("hashtags", "#test", "Comma-separated hashtags to follow")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	sess, err := session.New(cfg, session.WithLogger(logger), session.WithMetrics(setupMetrics(cfg, logger)))
	if err != nil {
		logger.Error("Failed to create session", "error", err)
		os.Exit(1)
	}

	shutdownMetrics, err := otel.InitProvider(cfg.Metrics, sess.ID())
	if err != nil {
		logger.Error("Failed to initialize metrics", "error", err)
		os.Exit(1)
	}
	defer shutdownMetrics(context.Background())

	for _, raw := range strings.Split(*hashtags, ",") {
		topic, err := topics.Normalize(raw)
		if err != nil {
			logger.Error("Invalid hashtag", "hashtag", raw, "error", err)
			os.Exit(1)
		}
		if err := sess.Subscribe(topic); err != nil {
			logger.Error("Subscribe failed", "topic", topic, "error", err)
		}
	}

	sess.Start()
	defer sess.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Shutdown signal received")
		cancel()
	}()

	go logEvents(sess, logger)
	go handleCommands(sess, logger)

	for {
		msg, err := sess.Pop(ctx)
		if err != nil {
			return
		}
		ts := msg.Timestamp.Format(time.DateTime)
		fmt.Printf("[%s] %s %s\n", ts, topics.Hashtag(msg.Topic), msg.Payload)
	}
}

// handleCommands reads sub/unsub commands from stdin.
func handleCommands(sess *session.Session, logger *slog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}

		topic, err := topics.Normalize(fields[1])
		if err != nil {
			logger.Error("Invalid hashtag", "hashtag", fields[1], "error", err)
			continue
		}

		switch fields[0] {
		case "sub":
			if err := sess.Subscribe(topic); err != nil {
				logger.Error("Subscribe failed", "topic", topic, "error", err)
				continue
			}
			fmt.Printf("[System] Subscribed to %s\n", topic)
		case "unsub":
			if err := sess.Unsubscribe(topic); err != nil {
				logger.Error("Unsubscribe failed", "topic", topic, "error", err)
				continue
			}
			fmt.Printf("[System] Unsubscribed from %s\n", topic)
		}
	}
}

// logEvents surfaces session state changes on the log.
func logEvents(sess *session.Session, logger *slog.Logger) {
	for env := range sess.Events() {
		switch env.EventType {
		case events.TypeConnected:
			logger.Info("Connected", "event", env.EventType)
		case events.TypeSubscriptionDegraded, events.TypeQueueOverflow:
			logger.Warn("Session degraded", "event", env.EventType, "data", env.Data)
		default:
			logger.Info("Session state changed", "event", env.EventType)
		}
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func setupMetrics(cfg *config.Config, logger *slog.Logger) *otel.Metrics {
	if !cfg.Metrics.Enabled {
		return nil
	}
	m, err := otel.NewMetrics()
	if err != nil {
		logger.Error("Failed to create metric instruments", "error", err)
		os.Exit(1)
	}
	return m
}
