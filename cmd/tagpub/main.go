// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Command tagpub publishes messages to a hashtag feed. Each line read from
// stdin is published as "<username>: <line>" to the hashtag's topic.
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

	"github.com/absmach/tagfeed/config"
	"github.com/absmach/tagfeed/otel"
	"github.com/absmach/tagfeed/session"
	"github.com/absmach/tagfeed/topics"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	username := flag.String("user", "anon_user", "Username messages are attributed to")
	hashtag := flag.String("hashtag", "#test", "Hashtag to publish to")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	user := strings.TrimSpace(*username)
	if user == "" {
		logger.Error("Username must not be empty")
		os.Exit(1)
	}

	topic, err := topics.Normalize(*hashtag)
	if err != nil {
		logger.Error("Invalid hashtag", "hashtag", *hashtag, "error", err)
		os.Exit(1)
	}

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

	sess.Start()
	defer sess.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Shutdown signal received")
		sess.Close()
		os.Exit(0)
	}()

	go func() {
		for env := range sess.Events() {
			logger.Info("Session state changed", "event", env.EventType)
		}
	}()

	fmt.Printf("Publishing to %s as %s. Type a message and press enter.\n", topic, user)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		message := strings.TrimSpace(scanner.Text())
		if message == "" {
			continue
		}

		payload := topics.FormatPayload(user, message)
		if err := sess.Publish(topic, []byte(payload)); err != nil {
			logger.Error("Publish failed", "topic", topic, "error", err)
			continue
		}
		fmt.Printf("[System] Published to %s\n", topic)
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
