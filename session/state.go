// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

// State is the connection state of a session.
type State uint32

// Connection states. A session starts Disconnected, cycles through
// Connecting/Connected/Backoff while running, and returns to Disconnected
// permanently once stopped.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}
