// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package events fans server-local state changes out to UI sockets.
package events

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Event names observed by browser clients.
const (
	SessionsChanged          = "sessions_changed"
	ReviewSessionsChanged    = "review_sessions_changed"
	ReviewSubmissionsChanged = "review_submissions_changed"
	GitContextChanged        = "git_context_changed"
)

// ErrBusClosed is returned when operating on a closed bus.
var ErrBusClosed = errors.New("event bus is closed")

// ErrSubscriptionNotFound is returned when unsubscribing with an invalid ID.
var ErrSubscriptionNotFound = errors.New("subscription not found")

const defaultBufferSize = 16

// UIEvent is one broadcast notification.
type UIEvent struct {
	Name string    `json:"name"`
	At   time.Time `json:"at"`
	Data any       `json:"data,omitempty"`
}

// Frame returns the wire form written to UI sockets.
func (e UIEvent) Frame() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		UIEvent
	}{"ui_event", e})
}

// SubscriptionID uniquely identifies a subscription.
type SubscriptionID string

type subscription struct {
	id SubscriptionID
	ch chan UIEvent
}

// Bus delivers UI events to every registered subscriber. Delivery is
// non-blocking; a subscriber whose buffer is full misses that event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[SubscriptionID]*subscription
	nextID uint64
	closed atomic.Bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[SubscriptionID]*subscription)}
}

// Subscribe registers a delivery channel. The channel is never closed by the
// bus; callers stop reading when their socket goes away and Unsubscribe.
func (b *Bus) Subscribe(bufferSize int) (SubscriptionID, <-chan UIEvent, error) {
	if b.closed.Load() {
		return "", nil, ErrBusClosed
	}
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	sub := &subscription{
		id: SubscriptionID(b.generateID()),
		ch: make(chan UIEvent, bufferSize),
	}
	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub.id, sub.ch, nil
}

// Unsubscribe removes a subscription.
func (b *Bus) Unsubscribe(id SubscriptionID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[id]; !ok {
		return ErrSubscriptionNotFound
	}
	delete(b.subs, id)
	return nil
}

// Broadcast sends a named event to every subscriber.
func (b *Bus) Broadcast(name string, data any) {
	if b.closed.Load() {
		return
	}
	event := UIEvent{Name: name, At: time.Now(), Data: data}

	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- event:
		default:
			log.Printf("events: dropped %s - subscriber buffer full", name)
		}
	}
}

// Count returns the number of active subscriptions.
func (b *Bus) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close shuts the bus down; further broadcasts are no-ops.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.mu.Lock()
	b.subs = make(map[SubscriptionID]*subscription)
	b.mu.Unlock()
}

func (b *Bus) generateID() string {
	n := atomic.AddUint64(&b.nextID, 1)
	buf := make([]byte, 8)
	rand.Read(buf)
	return hex.EncodeToString(buf) + "-" + strconv.FormatUint(n, 10)
}
