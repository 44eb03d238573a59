// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package decoder

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrNoData is returned when a column has no values to summarize.
var ErrNoData = errors.New("no data to summarize")

// Statistic selects one figure of a column summary.
type Statistic uint8

// Supported statistics.
const (
	StatCount Statistic = iota
	StatMin
	StatMax
	StatSum
	StatMean
	StatMedian
	StatVariance
	StatStdDev
)

var statisticNames = map[Statistic]string{
	StatCount:    "count",
	StatMin:      "min",
	StatMax:      "max",
	StatSum:      "sum",
	StatMean:     "mean",
	StatMedian:   "median",
	StatVariance: "variance",
	StatStdDev:   "stddev",
}

// String returns the statistic name.
func (s Statistic) String() string {
	if name, ok := statisticNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseStatistic maps a name ("mean", "stddev", ...) to a Statistic.
func ParseStatistic(name string) (Statistic, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for s, n := range statisticNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown statistic %q", name)
}

// Column extracts the values of one column; rows too short are skipped.
func Column(rows []Row, col int) []float64 {
	values := make([]float64, 0, len(rows))
	for _, row := range rows {
		if col >= 0 && col < len(row) {
			values = append(values, row[col])
		}
	}
	return values
}

// Summarize renders the requested statistics over one column as
// "name=value" pairs separated by "; ", in the order requested.
func Summarize(rows []Row, col int, stats []Statistic) (string, error) {
	values := Column(rows, col)
	if len(values) == 0 {
		return "", ErrNoData
	}

	parts := make([]string, 0, len(stats))
	for _, s := range stats {
		v, err := compute(s, values)
		if err != nil {
			return "", err
		}
		parts = append(parts, s.String()+"="+strconv.FormatFloat(v, 'g', -1, 64))
	}
	return strings.Join(parts, "; "), nil
}

func compute(s Statistic, values []float64) (float64, error) {
	switch s {
	case StatCount:
		return float64(len(values)), nil
	case StatMin:
		return floats.Min(values), nil
	case StatMax:
		return floats.Max(values), nil
	case StatSum:
		return floats.Sum(values), nil
	case StatMean:
		return stat.Mean(values, nil), nil
	case StatMedian:
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)
		return stat.Quantile(0.5, stat.Empirical, sorted, nil), nil
	case StatVariance:
		if len(values) < 2 {
			return 0, nil
		}
		return stat.Variance(values, nil), nil
	case StatStdDev:
		if len(values) < 2 {
			return 0, nil
		}
		return stat.StdDev(values, nil), nil
	default:
		return 0, fmt.Errorf("unknown statistic %d", s)
	}
}
