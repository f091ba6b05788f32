// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package topics

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// Common validation errors.
var ErrInvalidTopicName = errors.New("invalid topic name: contains wildcards or illegal characters")

// ValidateTopicName checks if the topic name is valid for publishing (no wildcards).
func ValidateTopicName(topic string) error {
	if topic == "" {
		return ErrInvalidTopicName
	}
	// Leading separator would produce an empty root level.
	if strings.HasPrefix(topic, "/") {
		return ErrInvalidTopicName
	}
	// "The Topic Name ... MUST NOT contain wildcard characters"
	if strings.Contains(topic, "+") || strings.Contains(topic, "#") {
		return ErrInvalidTopicName
	}
	// Must be valid UTF-8
	if !utf8.ValidString(topic) {
		return ErrInvalidTopicName
	}
	// Check for null character
	if strings.Contains(topic, "\u0000") {
		return ErrInvalidTopicName
	}
	return nil
}
