// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package topics

import "strings"

const sharePrefix = "$share/"

// IsShared returns true if the filter is a shared subscription
// ($share/{ShareName}/{TopicFilter}).
func IsShared(filter string) bool {
	return strings.HasPrefix(filter, sharePrefix)
}
