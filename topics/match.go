// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package topics

import "strings"

// Wildcard and separator tokens of the MQTT topic grammar.
const (
	Separator    = "/"
	SingleLevel  = "+"
	MultiLevel   = "#"
	systemPrefix = "$"
)

// TopicMatch checks if the topic matches the given filter according to MQTT wildcard rules,
// the way a broker decides delivery.
// Rules:
// - filter can contain '+' (single level wildcard) and '#' (multi-level wildcard at end).
// - topic must not contain wildcards.
// - '#' also matches the parent level ("a/#" matches "a").
// - '$' prefix topics are only matched by filters that spell the first level out.
func TopicMatch(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}
	if filter == topic {
		return true
	}

	filterLevels := strings.Split(filter, Separator)
	topicLevels := strings.Split(topic, Separator)

	if strings.HasPrefix(topic, systemPrefix) {
		if filterLevels[0] == SingleLevel || filterLevels[0] == MultiLevel {
			return false
		}
	}

	for i, fLevel := range filterLevels {
		if fLevel == MultiLevel {
			return true
		}
		if i >= len(topicLevels) {
			return false
		}
		if fLevel == SingleLevel {
			continue
		}
		if fLevel != topicLevels[i] {
			return false
		}
	}

	return len(filterLevels) == len(topicLevels)
}

// Contains reports whether every topic covered by the inferior pattern is also
// covered by the superior pattern. Both arguments may carry wildcards.
//
// Unlike TopicMatch, a trailing '#' covers only deeper levels, so "a/#" does not
// contain "a": a longer pattern never covers a shorter one.
func Contains(superior, inferior string) bool {
	if superior == inferior {
		return true
	}
	if superior == "" || inferior == "" {
		return false
	}

	sup := strings.Split(superior, Separator)
	inf := strings.Split(inferior, Separator)
	if len(sup) > len(inf) {
		return false
	}

	last := len(sup) - 1
	for i := range inf {
		if i > last {
			return false
		}
		if sup[i] == inf[i] {
			continue
		}
		switch {
		case sup[i] == MultiLevel && i == last:
			return true
		case sup[i] == SingleLevel && inf[i] != MultiLevel:
			continue
		default:
			return false
		}
	}

	return len(sup) == len(inf)
}

// HasWildcard reports whether the pattern contains '+' or '#' at any level.
func HasWildcard(pattern string) bool {
	for _, level := range strings.Split(pattern, Separator) {
		if level == SingleLevel || level == MultiLevel {
			return true
		}
	}
	return false
}

// FirstWildcard returns the index of the first wildcard level, or -1.
func FirstWildcard(pattern string) int {
	for i, level := range strings.Split(pattern, Separator) {
		if level == SingleLevel || level == MultiLevel {
			return i
		}
	}
	return -1
}

// Levels splits a pattern into its levels.
func Levels(pattern string) []string {
	return strings.Split(pattern, Separator)
}

// Join builds a pattern from levels.
func Join(levels []string) string {
	return strings.Join(levels, Separator)
}
