// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package rpc

// eventRing is a fixed-capacity buffer of sequenced events. Once full, each
// push evicts the oldest entry.
type eventRing struct {
	buf   []SequencedEvent
	start int
	count int
}

func newEventRing(capacity int) *eventRing {
	if capacity < 1 {
		capacity = 1
	}
	return &eventRing{buf: make([]SequencedEvent, capacity)}
}

func (r *eventRing) push(e SequencedEvent) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

// oldest returns the lowest resident seq.
func (r *eventRing) oldest() (uint64, bool) {
	if r.count == 0 {
		return 0, false
	}
	return r.buf[r.start].Seq, true
}

// latest returns the highest resident seq.
func (r *eventRing) latest() (uint64, bool) {
	if r.count == 0 {
		return 0, false
	}
	return r.buf[(r.start+r.count-1)%len(r.buf)].Seq, true
}

// after returns resident events with Seq > seq in FIFO order.
func (r *eventRing) after(seq uint64) []SequencedEvent {
	out := make([]SequencedEvent, 0, r.count)
	for i := 0; i < r.count; i++ {
		e := r.buf[(r.start+i)%len(r.buf)]
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}
