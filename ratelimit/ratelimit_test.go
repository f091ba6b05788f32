// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import "testing"

func TestPublishLimiter(t *testing.T) {
	l := NewPublishLimiter(1, 2)

	// Burst of 2 is available immediately.
	if !l.Allow() {
		t.Error("first publish should be allowed")
	}
	if !l.Allow() {
		t.Error("second publish should be allowed within burst")
	}
	if l.Allow() {
		t.Error("third immediate publish should be limited")
	}
}

func TestPublishLimiterDisabled(t *testing.T) {
	l := NewPublishLimiter(0, 0)
	for i := 0; i < 100; i++ {
		if !l.Allow() {
			t.Fatal("disabled limiter should always allow")
		}
	}
}
