// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package topics

// CommonLevelIndex returns the index of the single level at which two patterns
// differ, if they can be merged into one pattern by replacing that level with '+'.
//
// Both patterns must have the same number of levels, carry no '#', and differ in
// exactly one level where both sides are literals. Levels holding '+' must be
// identical in both. The differing level may be level 0 only when it is the only
// level, so a merged pattern stays anchored at its root.
func CommonLevelIndex(first, second string) (int, bool) {
	if first == second || first == "" || second == "" {
		return 0, false
	}

	a := Levels(first)
	b := Levels(second)
	if len(a) != len(b) {
		return 0, false
	}

	idx := -1
	for i := range a {
		if a[i] == MultiLevel || b[i] == MultiLevel {
			return 0, false
		}
		if a[i] == b[i] {
			continue
		}
		if a[i] == SingleLevel || b[i] == SingleLevel {
			return 0, false
		}
		if idx >= 0 {
			return 0, false
		}
		idx = i
	}

	if idx < 0 || (idx == 0 && len(a) > 1) {
		return 0, false
	}
	return idx, true
}

// CommonLevel returns the merged pattern of two patterns that differ in exactly one
// level, together with the index of that level. See CommonLevelIndex for the rules.
//
// Examples:
//   - ("a/b/c", "a/d/c") -> ("a/+/c", 1, true)
//   - ("a/b", "c/d")     -> ("", 0, false)
//   - ("a/b/c", "a/d/e") -> ("", 0, false)
func CommonLevel(first, second string) (string, int, bool) {
	idx, ok := CommonLevelIndex(first, second)
	if !ok {
		return "", 0, false
	}

	levels := Levels(first)
	levels[idx] = SingleLevel
	return Join(levels), idx, true
}
