// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package topics derives and validates broker topic names for hashtag feeds.
package topics

import (
	"errors"
	"strings"
)

// Namespace is the fixed topic prefix all hashtag feeds live under.
const Namespace = "twitter/"

// ErrEmptyHashtag is returned when a raw hashtag is empty after stripping.
var ErrEmptyHashtag = errors.New("empty hashtag")

// Normalize maps a raw user-entered hashtag to its feed topic.
//
//	"  #Test  " -> "twitter/Test"
//
// Exactly one leading '#' is stripped, along with surrounding whitespace
// on either side of it. An input that is empty after stripping is rejected.
func Normalize(rawHashtag string) (string, error) {
	tag := strings.TrimSpace(rawHashtag)
	if after, ok := strings.CutPrefix(tag, "#"); ok {
		tag = strings.TrimSpace(after)
	}
	if tag == "" {
		return "", ErrEmptyHashtag
	}
	topic := Namespace + tag
	if err := ValidateTopicName(topic); err != nil {
		return "", err
	}
	return topic, nil
}

// Hashtag is the inverse of Normalize for display purposes: it strips the
// namespace prefix and restores the leading '#'.
func Hashtag(topic string) string {
	return "#" + strings.TrimPrefix(topic, Namespace)
}
