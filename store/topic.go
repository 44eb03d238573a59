// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"time"

	"github.com/absmach/mqttscope/decoder"
	"github.com/emirpasic/gods/queues"
	"github.com/emirpasic/gods/queues/arrayqueue"
	"github.com/emirpasic/gods/queues/circularbuffer"
)

// Record is one payload received on a topic.
type Record struct {
	// Seq is the store-wide arrival order.
	Seq      uint64
	Payload  []byte
	Retained bool
	Received time.Time

	// Rows holds what the decoder produced; nil when decoding failed or no decoder is set.
	Rows []decoder.Row
}

// Topic is a concrete topic that has produced data, with its retained records.
type Topic struct {
	name    string
	owner   string
	keepN   int
	evicted uint64
	buffer  queues.Queue
}

func newTopic(name string, keepN int) *Topic {
	var buf queues.Queue
	if keepN > 0 {
		buf = circularbuffer.New(keepN)
	} else {
		buf = arrayqueue.New()
	}
	return &Topic{
		name:   name,
		keepN:  keepN,
		buffer: buf,
	}
}

// Name returns the topic name.
func (t *Topic) Name() string {
	return t.name
}

// Owner returns the pattern of the subscription owning the topic, or "" when detached.
func (t *Topic) Owner() string {
	return t.owner
}

// Len returns the number of buffered records.
func (t *Topic) Len() int {
	return t.buffer.Size()
}

// Evicted returns how many records were dropped to honour the retention limit.
func (t *Topic) Evicted() uint64 {
	return t.evicted
}

// Records returns the buffered records, oldest first.
func (t *Topic) Records() []Record {
	values := t.buffer.Values()
	records := make([]Record, 0, len(values))
	for _, v := range values {
		records = append(records, v.(Record))
	}
	return records
}

// Last returns the newest record.
func (t *Topic) Last() (Record, bool) {
	values := t.buffer.Values()
	if len(values) == 0 {
		return Record{}, false
	}
	return values[len(values)-1].(Record), true
}

// Rows returns the decoded rows of every buffered record, oldest first.
func (t *Topic) Rows() []decoder.Row {
	var rows []decoder.Row
	for _, v := range t.buffer.Values() {
		rows = append(rows, v.(Record).Rows...)
	}
	return rows
}

func (t *Topic) push(rec Record) {
	if t.keepN > 0 && t.buffer.Size() >= t.keepN {
		t.evicted++
	}
	t.buffer.Enqueue(rec)
}
