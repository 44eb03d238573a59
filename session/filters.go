// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"sort"

	"github.com/absmach/mqttscope/topics"
)

// filterRecord is one broker filter and the subscribers holding it, with the
// QoS each of them asked for.
type filterRecord struct {
	filter string
	qos    byte // QoS registered with the broker
	owners map[uint64]byte
}

func (r *filterRecord) maxQoS() byte {
	var q byte
	for _, qos := range r.owners {
		q = max(q, qos)
	}
	return q
}

// filterRegistry reference-counts broker filters across subscribers. It is
// owned by the session goroutine.
type filterRegistry struct {
	filters map[string]*filterRecord
}

func newFilterRegistry() *filterRegistry {
	return &filterRegistry{filters: make(map[string]*filterRecord)}
}

func (r *filterRegistry) get(filter string) (*filterRecord, bool) {
	rec, ok := r.filters[filter]
	return rec, ok
}

// add records that owner holds filter. It returns the QoS the broker must be
// (re)subscribed with, and false when the broker already has what is needed.
func (r *filterRegistry) add(owner uint64, filter string, qos byte) (byte, bool) {
	rec, ok := r.filters[filter]
	if !ok {
		rec = &filterRecord{filter: filter, owners: make(map[uint64]byte)}
		r.filters[filter] = rec
	}
	rec.owners[owner] = qos
	want := rec.maxQoS()
	if ok && want <= rec.qos {
		return rec.qos, false
	}
	return want, true
}

// remove drops owner from filter. It returns true when no owner is left and
// the broker subscription should go.
func (r *filterRegistry) remove(owner uint64, filter string) bool {
	rec, ok := r.filters[filter]
	if !ok {
		return false
	}
	if _, held := rec.owners[owner]; !held {
		return false
	}
	delete(rec.owners, owner)
	if len(rec.owners) > 0 {
		return false
	}
	delete(r.filters, filter)
	return true
}

// owned lists the filters held by owner, sorted.
func (r *filterRegistry) owned(owner uint64) []string {
	var out []string
	for filter, rec := range r.filters {
		if _, ok := rec.owners[owner]; ok {
			out = append(out, filter)
		}
	}
	sort.Strings(out)
	return out
}

// snapshot lists every filter, sorted.
func (r *filterRegistry) snapshot() []*filterRecord {
	records := make([]*filterRecord, 0, len(r.filters))
	for _, rec := range r.filters {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].filter < records[j].filter })
	return records
}

// matching returns the subscribers holding a filter that matches topic.
func (r *filterRegistry) matching(topic string) map[uint64]struct{} {
	var out map[uint64]struct{}
	for filter, rec := range r.filters {
		if !topics.TopicMatch(filter, topic) {
			continue
		}
		if out == nil {
			out = make(map[uint64]struct{})
		}
		for id := range rec.owners {
			out[id] = struct{}{}
		}
	}
	return out
}
