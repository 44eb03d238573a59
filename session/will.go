// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import "log/slog"

// willPhase is the state of a will refresh. The broker only learns a new will
// on CONNECT, so a refresh is disconnect, apply, reconnect.
type willPhase uint8

const (
	willIdle willPhase = iota
	willAwaiting
	willReconnecting
)

func (p willPhase) String() string {
	switch p {
	case willIdle:
		return "idle"
	case willAwaiting:
		return "awaiting_update"
	case willReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// willMachine is owned by the session goroutine.
type willMachine struct {
	phase      willPhase
	current    *Will
	pending    *Will
	hasPending bool
}

// request queues w. It returns true when a refresh cycle must start now.
func (m *willMachine) request(w *Will, connected bool) bool {
	if m.phase != willIdle {
		m.pending, m.hasPending = w, true
		return false
	}
	if !connected {
		m.current = w
		return false
	}
	m.pending, m.hasPending = w, true
	return true
}

// disable drops the will and any refresh that has not been applied yet.
func (m *willMachine) disable() {
	m.current = nil
	m.pending, m.hasPending = nil, false
}

// apply moves the latest pending will into place. It returns false when the
// cycle was abandoned in the meantime.
func (m *willMachine) apply() bool {
	if m.phase != willAwaiting {
		return false
	}
	if m.hasPending {
		m.current = m.pending
		m.pending, m.hasPending = nil, false
	}
	m.phase = willReconnecting
	return true
}

// connected ends a refresh cycle. It returns true when updates arrived during
// the cycle and another one must start.
func (m *willMachine) connected() bool {
	if m.phase == willReconnecting {
		m.phase = willIdle
	}
	return m.phase == willIdle && m.hasPending
}

func (m *willMachine) connectFailed() {
	if m.phase == willReconnecting {
		m.reset()
	}
}

// reset abandons a cycle; the latest will is used on the next connect.
func (m *willMachine) reset() {
	m.phase = willIdle
	if m.hasPending {
		m.current = m.pending
		m.pending, m.hasPending = nil, false
	}
}

// UpdateWill replaces the will message. While connected this disconnects,
// applies the will and reconnects; updates requested during that cycle are
// coalesced so only the latest one is applied. A nil will disables the will and
// cancels pending updates.
func (s *Session) UpdateWill(w *Will) error {
	ok := s.mb.push(func() {
		if w == nil {
			s.will.disable()
			s.logger.Debug("will disabled")
			return
		}
		if s.will.request(w, s.state.isConnected()) {
			s.beginWillCycle()
		}
	})
	if !ok {
		return ErrSessionClosed
	}
	return nil
}

func (s *Session) beginWillCycle() {
	s.will.phase = willAwaiting
	s.logger.Debug("refreshing will", slog.String("phase", s.will.phase.String()))
	s.disconnect("will_update")
	s.mb.push(s.applyWill)
}

func (s *Session) applyWill() {
	if !s.will.apply() {
		return
	}
	s.connect()
}
