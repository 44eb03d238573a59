// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package topics

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// Common validation errors.
var (
	ErrInvalidTopicName = errors.New("invalid topic name: contains wildcards or illegal characters")
	ErrInvalidPattern   = errors.New("invalid topic pattern")
)

// ValidateTopicName checks if the topic name is a concrete topic (no wildcards).
func ValidateTopicName(topic string) error {
	if topic == "" {
		return ErrInvalidTopicName
	}
	if strings.Contains(topic, SingleLevel) || strings.Contains(topic, MultiLevel) {
		return ErrInvalidTopicName
	}
	if !utf8.ValidString(topic) {
		return ErrInvalidTopicName
	}
	if strings.Contains(topic, "\u0000") {
		return ErrInvalidTopicName
	}
	return nil
}

// ValidatePattern checks a subscription pattern.
//
// A level is a non-empty literal, '+' or '#'; wildcard characters may not be mixed
// with other characters inside a level and '#' is legal only as the last level.
// Shared subscription filters are rejected: they name a consumer group, not a
// region of the topic tree.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return ErrInvalidPattern
	}
	if !utf8.ValidString(pattern) || strings.Contains(pattern, "\u0000") {
		return ErrInvalidPattern
	}
	if IsShared(pattern) {
		return ErrInvalidPattern
	}

	levels := Levels(pattern)
	for i, level := range levels {
		switch {
		case level == "":
			return ErrInvalidPattern
		case level == MultiLevel:
			if i != len(levels)-1 {
				return ErrInvalidPattern
			}
		case level == SingleLevel:
		case strings.ContainsAny(level, SingleLevel+MultiLevel):
			return ErrInvalidPattern
		}
	}
	return nil
}
