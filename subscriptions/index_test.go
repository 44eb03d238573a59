// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package subscriptions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIndexMatch(t *testing.T) {
	x := newIndex()
	for _, p := range []string{"a/b", "a/+", "a/#", "+/c/d", "#", "x/y/#"} {
		x.insert(p)
	}

	cases := []struct {
		topic string
		want  []string
	}{
		{"a/b", []string{"a/b", "a/+", "a/#", "#"}},
		{"a", []string{"a/#", "#"}},
		{"a/c/d", []string{"a/#", "+/c/d", "#"}},
		{"x/y", []string{"x/y/#", "#"}},
		{"z", []string{"#"}},
		{"$SYS/c/d", nil},
	}

	for _, tc := range cases {
		t.Run(tc.topic, func(t *testing.T) {
			assert.ElementsMatch(t, tc.want, x.match(tc.topic))
		})
	}
}

func TestIndexRemove(t *testing.T) {
	x := newIndex()
	x.insert("a/b/c")
	x.insert("a/b")

	x.remove("a/b/c")
	assert.Empty(t, x.match("a/b/c"))
	assert.Equal(t, []string{"a/b"}, x.match("a/b"))

	x.remove("a/b")
	assert.Empty(t, x.root.children)

	x.remove("missing/pattern")
}

func TestKnownSiblings(t *testing.T) {
	known := newKnownTree([]string{
		"home/kitchen/temp",
		"home/kitchen/humidity",
		"home/kitchen/light/state",
		"home/hall/temp",
		"home/hall/humidity",
		"$SYS/uptime",
	})

	values, ok := known.siblings("home/kitchen/+", 2)
	assert.True(t, ok)
	assert.Equal(t, map[string]struct{}{"temp": {}, "humidity": {}}, values)

	values, ok = known.siblings("home/+/temp", 1)
	assert.True(t, ok)
	assert.Equal(t, map[string]struct{}{"kitchen": {}, "hall": {}}, values)

	values, ok = known.siblings("home/+/+", 2)
	assert.True(t, ok)
	assert.Equal(t, map[string]struct{}{"temp": {}, "humidity": {}}, values)

	values, ok = known.siblings("+/kitchen/temp", 0)
	assert.True(t, ok)
	assert.Equal(t, map[string]struct{}{"home": {}}, values)

	known.add("home/garage/temp")
	_, ok = known.siblings("home/+/+", 2)
	assert.False(t, ok)
}

func TestKnownChildren(t *testing.T) {
	known := newKnownTree([]string{"a", "a/b", "a/c/d", "a/c", "a/e/f"})

	exact, deeper, parent := known.children([]string{"a", "#"}, 1)
	assert.Equal(t, []string{"b", "c"}, exact)
	assert.Equal(t, []string{"c", "e"}, deeper)
	assert.True(t, parent)

	exact, deeper, parent = known.children([]string{"a", "+", "d"}, 1)
	assert.Equal(t, []string{"c"}, exact)
	assert.Empty(t, deeper)
	assert.False(t, parent)

	exact, _, _ = known.children([]string{"z", "+"}, 1)
	assert.Empty(t, exact)
}
