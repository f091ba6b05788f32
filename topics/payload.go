// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package topics

import "strings"

// FormatPayload builds the wire payload for a feed message.
// The format is "<username>: <message>", UTF-8, no further framing.
func FormatPayload(username, message string) string {
	return username + ": " + message
}

// SplitPayload splits a feed payload back into username and message.
// Payloads without a separator are attributed to an empty username.
func SplitPayload(payload string) (username, message string) {
	user, msg, ok := strings.Cut(payload, ": ")
	if !ok {
		return "", payload
	}
	return user, msg
}
