// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit bounds the publish rate of a session so a chatty caller
// cannot flood the broker.
package ratelimit

import (
	"golang.org/x/time/rate"
)

// PublishLimiter limits publishes per session using a token bucket.
// A nil limiter allows everything.
type PublishLimiter struct {
	limiter *rate.Limiter
}

// NewPublishLimiter creates a publish limiter allowing r publishes per
// second with the given burst allowance. A rate of 0 disables limiting.
func NewPublishLimiter(r float64, burst int) *PublishLimiter {
	if r <= 0 {
		return nil
	}
	return &PublishLimiter{
		limiter: rate.NewLimiter(rate.Limit(r), burst),
	}
}

// Allow reports whether one more publish may proceed now.
func (l *PublishLimiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}
