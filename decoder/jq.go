// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package decoder

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/itchyny/gojq"
)

// DefaultExpression emits the payload itself: a JSON number, or an array of numbers.
const DefaultExpression = "."

var _ Decoder = (*JQ)(nil)

// JQ decodes JSON payloads with a jq expression. Every value the expression emits
// becomes one row: a number is a single-column row, an array of numbers a
// multi-column row. Payloads that are not JSON are parsed as a bare number.
type JQ struct {
	expr string
	code *gojq.Code
}

// NewJQ compiles the expression. An empty expression means DefaultExpression.
func NewJQ(expr string) (*JQ, error) {
	if strings.TrimSpace(expr) == "" {
		expr = DefaultExpression
	}

	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq expression %q: %w", expr, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq expression %q: %w", expr, err)
	}

	return &JQ{expr: expr, code: code}, nil
}

// Expression returns the jq source the decoder was built from.
func (d *JQ) Expression() string {
	return d.expr
}

// Decode implements Decoder.
func (d *JQ) Decode(topic string, payload []byte) ([]Row, error) {
	var input any
	if err := json.Unmarshal(payload, &input); err != nil {
		v, perr := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
		if perr != nil {
			return nil, &DecodeError{Topic: topic, Err: err}
		}
		return []Row{{v}}, nil
	}

	var rows []Row
	iter := d.code.Run(input)
	for {
		out, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := out.(error); ok {
			return nil, &DecodeError{Topic: topic, Err: err}
		}
		if out == nil {
			continue
		}
		row, err := toRow(out)
		if err != nil {
			return nil, &DecodeError{Topic: topic, Err: err}
		}
		rows = append(rows, row)
	}

	return rows, nil
}

func toRow(v any) (Row, error) {
	if arr, ok := v.([]any); ok {
		row := make(Row, 0, len(arr))
		for _, item := range arr {
			f, err := toFloat(item)
			if err != nil {
				return nil, err
			}
			row = append(row, f)
		}
		return row, nil
	}

	f, err := toFloat(v)
	if err != nil {
		return nil, err
	}
	return Row{f}, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case *big.Int:
		f, _ := new(big.Float).SetInt(n).Float64()
		return f, nil
	case string:
		return strconv.ParseFloat(n, 64)
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("value of type %T is not numeric", v)
	}
}
