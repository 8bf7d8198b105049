// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"encoding/json"
	"sync"
	"time"
)

// Reliability defaults; all overridable through the server config.
const (
	DefaultRingSize         = 800
	DefaultCommandRetention = 5 * time.Minute
	DefaultOrphanGrace      = 60 * time.Second
	DefaultOrphanAbortDelay = 5 * time.Second
)

// Dedupe is the result of registering a command id.
type Dedupe struct {
	Duplicate   bool
	Response    json.RawMessage
	ResponseSeq uint64
}

// Replay is the set of buffered events newer than a client cursor. Gap is
// set when the ring no longer holds everything the client missed.
type Replay struct {
	Events    []SequencedEvent
	Gap       bool
	OldestSeq uint64
	LatestSeq uint64
}

// OrphanHooks are invoked from timer goroutines when a session sits without
// subscribers past the grace period. They must not be called with any
// reliability lock held.
type OrphanHooks struct {
	HasSubscribers func(sessionID string) bool
	Abort          func(sessionID string)
	Stop           func(sessionID string)
}

type commandEntry struct {
	firstSeen   time.Time
	response    json.RawMessage
	responseSeq uint64
}

type relState struct {
	seq      uint64
	ring     *eventRing
	commands map[string]*commandEntry
	grace    *time.Timer
	abort    *time.Timer
}

// Reliability tracks per-session sequence numbers, the replay ring, the
// command dedupe cache, and the orphan timers. Exactly one recorder per
// session (the child's stdout reader) calls RecordEvent.
type Reliability struct {
	mu         sync.Mutex
	sessions   map[string]*relState
	ringSize   int
	retention  time.Duration
	grace      time.Duration
	abortDelay time.Duration
	hooks      OrphanHooks
}

// NewReliability builds the layer; zero values select the defaults.
func NewReliability(ringSize int, retention, grace, abortDelay time.Duration) *Reliability {
	if ringSize <= 0 {
		ringSize = DefaultRingSize
	}
	if retention <= 0 {
		retention = DefaultCommandRetention
	}
	if grace <= 0 {
		grace = DefaultOrphanGrace
	}
	if abortDelay <= 0 {
		abortDelay = DefaultOrphanAbortDelay
	}
	return &Reliability{
		sessions:   make(map[string]*relState),
		ringSize:   ringSize,
		retention:  retention,
		grace:      grace,
		abortDelay: abortDelay,
	}
}

// SetOrphanHooks wires the abort/stop callbacks. Must be called before any
// session goes orphan.
func (r *Reliability) SetOrphanHooks(h OrphanHooks) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = h
}

// stateLocked returns the per-session record, creating it on first use.
func (r *Reliability) stateLocked(sessionID string) *relState {
	st, ok := r.sessions[sessionID]
	if !ok {
		st = &relState{
			ring:     newEventRing(r.ringSize),
			commands: make(map[string]*commandEntry),
		}
		r.sessions[sessionID] = st
	}
	return st
}

// RecordEvent assigns the next seq, pushes the event to the ring, and caches
// response events against their command id for duplicate redelivery.
func (r *Reliability) RecordEvent(sessionID, eventType, responseID string, event json.RawMessage) SequencedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.stateLocked(sessionID)
	st.seq++
	se := SequencedEvent{Seq: st.seq, Type: eventType, Event: event}
	st.ring.push(se)
	if eventType == EventResponse && responseID != "" {
		if entry, ok := st.commands[responseID]; ok {
			entry.response = event
			entry.responseSeq = st.seq
		}
	}
	return se
}

// RegisterCommand records a command id the first time it is seen. A repeat
// within the retention window reports Duplicate along with any cached
// response. Commands without an id are never deduped.
func (r *Reliability) RegisterCommand(sessionID, commandID string) Dedupe {
	if commandID == "" {
		return Dedupe{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.stateLocked(sessionID)
	now := time.Now()
	for id, e := range st.commands {
		if now.Sub(e.firstSeen) > r.retention {
			delete(st.commands, id)
		}
	}
	if entry, ok := st.commands[commandID]; ok {
		return Dedupe{Duplicate: true, Response: entry.response, ResponseSeq: entry.responseSeq}
	}
	st.commands[commandID] = &commandEntry{firstSeen: now}
	return Dedupe{}
}

// GetReplay returns buffered events with seq > lastSeq. Gap is set when the
// ring floor has moved past lastSeq+1; the remaining resident events are
// still delivered.
func (r *Reliability) GetReplay(sessionID string, lastSeq uint64) Replay {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.sessions[sessionID]
	if !ok {
		return Replay{}
	}
	oldest, has := st.ring.oldest()
	if !has {
		return Replay{LatestSeq: st.seq}
	}
	latest, _ := st.ring.latest()
	return Replay{
		Events:    st.ring.after(lastSeq),
		Gap:       lastSeq+1 < oldest,
		OldestSeq: oldest,
		LatestSeq: latest,
	}
}

// ScheduleOrphan arms the grace timer for a session that lost its last
// subscriber. When the grace fires with still no subscribers, the abort hook
// runs, followed by the stop hook after the abort delay.
func (r *Reliability) ScheduleOrphan(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.stateLocked(sessionID)
	stopTimersLocked(st)
	st.grace = time.AfterFunc(r.grace, func() { r.onGrace(sessionID) })
}

func (r *Reliability) onGrace(sessionID string) {
	r.mu.Lock()
	st, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	st.grace = nil
	hooks := r.hooks
	r.mu.Unlock()

	if hooks.HasSubscribers != nil && hooks.HasSubscribers(sessionID) {
		return
	}
	if hooks.Abort != nil {
		hooks.Abort(sessionID)
	}

	r.mu.Lock()
	if st, ok := r.sessions[sessionID]; ok {
		st.abort = time.AfterFunc(r.abortDelay, func() {
			if hooks.Stop != nil {
				hooks.Stop(sessionID)
			}
		})
	}
	r.mu.Unlock()
}

// CancelOrphan clears both orphan timers. Called whenever a subscriber
// attaches.
func (r *Reliability) CancelOrphan(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.sessions[sessionID]; ok {
		stopTimersLocked(st)
	}
}

// ClearSession drops all reliability state for a session.
func (r *Reliability) ClearSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.sessions[sessionID]; ok {
		stopTimersLocked(st)
		delete(r.sessions, sessionID)
	}
}

// Dispose clears every session.
func (r *Reliability) Dispose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, st := range r.sessions {
		stopTimersLocked(st)
		delete(r.sessions, id)
	}
}

func stopTimersLocked(st *relState) {
	if st.grace != nil {
		st.grace.Stop()
		st.grace = nil
	}
	if st.abort != nil {
		st.abort.Stop()
		st.abort = nil
	}
}
