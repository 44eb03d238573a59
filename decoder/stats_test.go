// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package decoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	rows := []Row{{1, 10}, {2, 20}, {3}, {6, 60}}

	got, err := Summarize(rows, 0, []Statistic{StatCount, StatMin, StatMax, StatSum, StatMean, StatMedian})
	require.NoError(t, err)
	assert.Equal(t, "count=4; min=1; max=6; sum=12; mean=3; median=2", got)

	got, err = Summarize(rows, 1, []Statistic{StatCount, StatMean})
	require.NoError(t, err)
	assert.Equal(t, "count=3; mean=30", got)
}

func TestSummarizeSpread(t *testing.T) {
	rows := []Row{{2}, {4}, {4}, {4}, {5}, {5}, {7}, {9}}

	got, err := Summarize(rows, 0, []Statistic{StatVariance})
	require.NoError(t, err)
	assert.Equal(t, "variance=4.571428571428571", got)

	single, err := Summarize([]Row{{3}}, 0, []Statistic{StatStdDev})
	require.NoError(t, err)
	assert.Equal(t, "stddev=0", single)
}

func TestSummarizeNoData(t *testing.T) {
	_, err := Summarize(nil, 0, []Statistic{StatMean})
	assert.ErrorIs(t, err, ErrNoData)

	_, err = Summarize([]Row{{1}}, 3, []Statistic{StatMean})
	assert.ErrorIs(t, err, ErrNoData)
}

func TestParseStatistic(t *testing.T) {
	for s, name := range statisticNames {
		got, err := ParseStatistic(name)
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	got, err := ParseStatistic(" Mean ")
	require.NoError(t, err)
	assert.Equal(t, StatMean, got)

	_, err = ParseStatistic("mode")
	assert.Error(t, err)
	assert.Equal(t, "unknown", Statistic(99).String())
}
