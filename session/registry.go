// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import "sync"

// Registry tracks the desired set of subscribed topics independent of
// connection state. Entries are flipped inactive rather than deleted while
// the session lives, so a subscribe racing an unsubscribe never observes a
// duplicate add. Pure in-memory state; the mutex is held only for the
// duration of a map mutation or read, never across I/O.
type Registry struct {
	mu     sync.Mutex
	topics map[string]bool // topic -> active
}

// NewRegistry creates an empty subscription registry.
func NewRegistry() *Registry {
	return &Registry{
		topics: make(map[string]bool),
	}
}

// SetActive marks a topic as desired. Idempotent: reports whether the
// desired state actually changed.
func (r *Registry) SetActive(topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.topics[topic] {
		return false
	}
	r.topics[topic] = true
	return true
}

// SetInactive marks a topic as no longer desired. A no-op on topics that
// are absent or already inactive.
func (r *Registry) SetInactive(topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.topics[topic] {
		return false
	}
	r.topics[topic] = false
	return true
}

// IsActive reports whether a topic is currently desired.
func (r *Registry) IsActive(topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.topics[topic]
}

// ActiveTopics returns a snapshot of the desired topic set, consistent at
// call time.
func (r *Registry) ActiveTopics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	active := make([]string, 0, len(r.topics))
	for topic, ok := range r.topics {
		if ok {
			active = append(active, topic)
		}
	}
	return active
}

// ActiveCount returns the number of desired topics.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, ok := range r.topics {
		if ok {
			n++
		}
	}
	return n
}
