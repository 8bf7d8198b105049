// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package review

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wingedpig/rho/internal/events"
)

// Timer defaults. An open session auto-cancels after OpenTTL; a completed
// session leaves memory EvictAfter later.
const (
	DefaultOpenTTL    = 24 * time.Hour
	DefaultEvictAfter = 30 * time.Minute
)

// ErrBadToken is returned when a socket presents the wrong token.
var ErrBadToken = errors.New("review: bad token")

// Socket roles.
const (
	RoleTool = "tool"
	RoleUI   = "ui"
)

// Socket is the write side of a review WebSocket. Implementations must be
// safe for concurrent WriteJSON calls.
type Socket interface {
	WriteJSON(v any) error
	Close() error
}

// Session is one in-memory review exchange. The immutable fields are set at
// creation; everything behind mu transitions exactly once to done.
type Session struct {
	ID        string
	Token     string
	URL       string
	Message   string
	Files     []FileSnapshot
	Warnings  []string
	CreatedAt time.Time

	mu          sync.Mutex
	done        bool
	result      *Result
	toolSockets map[Socket]struct{}
	uiSockets   map[Socket]struct{}
	openTimer   *time.Timer
	evictTimer  *time.Timer
}

// Created is the response minted for the creating client.
type Created struct {
	ID       string   `json:"id"`
	Token    string   `json:"token"`
	URL      string   `json:"url"`
	Warnings []string `json:"warnings,omitempty"`
}

// Created returns the {id, token, url} triple plus any snapshot warnings.
func (s *Session) Created() Created {
	return Created{ID: s.ID, Token: s.Token, URL: s.URL, Warnings: s.Warnings}
}

// Done reports whether the session has reached its terminal state.
func (s *Session) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Status is a point-in-time view of one session, for the status endpoint.
type Status struct {
	ID          string    `json:"id"`
	Message     string    `json:"message,omitempty"`
	FileCount   int       `json:"fileCount"`
	Done        bool      `json:"done"`
	Cancelled   bool      `json:"cancelled,omitempty"`
	ToolSockets int       `json:"toolSockets"`
	UISockets   int       `json:"uiSockets"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Options configures a Bus. Zero values fall back to the defaults above.
type Options struct {
	OpenTTL    time.Duration
	EvictAfter time.Duration
	// BaseURL prefixes minted review URLs, e.g. "http://127.0.0.1:8420".
	BaseURL string
}

// Bus owns the in-memory review sessions. Terminal results persist through
// the store; the sessions themselves do not survive a restart.
type Bus struct {
	mu       sync.Mutex
	sessions map[string]*Session

	store      Store
	events     *events.Bus
	openTTL    time.Duration
	evictAfter time.Duration
	baseURL    string
}

// NewBus creates a review bus persisting terminal states into store and
// announcing lifecycle changes on the event bus.
func NewBus(store Store, bus *events.Bus, opts Options) *Bus {
	if opts.OpenTTL <= 0 {
		opts.OpenTTL = DefaultOpenTTL
	}
	if opts.EvictAfter <= 0 {
		opts.EvictAfter = DefaultEvictAfter
	}
	return &Bus{
		sessions:   make(map[string]*Session),
		store:      store,
		events:     bus,
		openTTL:    opts.OpenTTL,
		evictAfter: opts.EvictAfter,
		baseURL:    opts.BaseURL,
	}
}

// Create mints a review session over the given snapshots. At least one
// reviewable file must have survived the guards.
func (b *Bus) Create(files []FileSnapshot, warnings []string, message string) (*Session, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no reviewable files", ErrInvalidInput)
	}

	now := time.Now()
	sess := &Session{
		ID:          uuid.New().String(),
		Token:       newToken(),
		Message:     message,
		Files:       files,
		Warnings:    warnings,
		CreatedAt:   now,
		toolSockets: make(map[Socket]struct{}),
		uiSockets:   make(map[Socket]struct{}),
	}
	sess.URL = fmt.Sprintf("%s/review/%s?token=%s", b.baseURL, sess.ID, sess.Token)

	if err := b.store.Create(&Record{
		ID:        sess.ID,
		Message:   message,
		Files:     files,
		Warnings:  warnings,
		Status:    StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.sessions[sess.ID] = sess
	b.mu.Unlock()

	sess.mu.Lock()
	sess.openTimer = time.AfterFunc(b.openTTL, func() {
		if err := b.Cancel(sess.ID); err != nil && !errors.Is(err, ErrNotFound) {
			log.Printf("review [%s]: open ttl cancel: %v", sess.ID, err)
		}
	})
	sess.mu.Unlock()

	b.events.Broadcast(events.ReviewSessionsChanged, nil)
	return sess, nil
}

// Get returns a live session by id.
func (b *Bus) Get(id string) (*Session, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sess, ok := b.sessions[id]
	return sess, ok
}

// Attach authenticates and registers a socket. Tool sockets on a completed
// session receive the terminal result immediately instead of init; UI
// sockets arriving after completion get the result and are closed.
func (b *Bus) Attach(id, token, role string, sock Socket) error {
	if role != RoleTool && role != RoleUI {
		return fmt.Errorf("%w: role %q", ErrInvalidInput, role)
	}

	sess, ok := b.Get(id)
	if !ok {
		return ErrNotFound
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(sess.Token)) != 1 {
		return ErrBadToken
	}

	sess.mu.Lock()
	done, result := sess.done, sess.result
	if !done {
		if role == RoleTool {
			sess.toolSockets[sock] = struct{}{}
		} else {
			sess.uiSockets[sock] = struct{}{}
		}
	}
	sess.mu.Unlock()

	if done {
		err := sock.WriteJSON(resultFrame(result))
		if role == RoleUI {
			_ = sock.Close()
		}
		return err
	}
	return sock.WriteJSON(initFrame{
		Type:     "init",
		ID:       sess.ID,
		Message:  sess.Message,
		Files:    sess.Files,
		Warnings: sess.Warnings,
	})
}

// Detach removes a socket. Disconnects never cancel a review; only an
// explicit cancel or the open TTL do.
func (b *Bus) Detach(id string, sock Socket) {
	sess, ok := b.Get(id)
	if !ok {
		return
	}
	sess.mu.Lock()
	delete(sess.toolSockets, sock)
	delete(sess.uiSockets, sock)
	sess.mu.Unlock()
}

// Submit completes the session with comments. Invalid comments are rejected
// before any state changes; a session already done ignores the call.
func (b *Bus) Submit(id string, comments []Comment) error {
	if err := ValidateComments(comments); err != nil {
		return err
	}
	if comments == nil {
		comments = []Comment{}
	}
	return b.complete(id, Result{Cancelled: false, Comments: comments}, func() error {
		return b.store.Submit(id, comments)
	})
}

// Cancel completes the session as cancelled.
func (b *Bus) Cancel(id string) error {
	return b.complete(id, Result{Cancelled: true, Comments: []Comment{}}, func() error {
		return b.store.Cancel(id)
	})
}

// complete performs the single-shot terminal transition: record the result,
// persist it, notify tool sockets, close UI sockets, and schedule eviction.
func (b *Bus) complete(id string, res Result, persist func() error) error {
	sess, ok := b.Get(id)
	if !ok {
		return ErrNotFound
	}

	sess.mu.Lock()
	if sess.done {
		sess.mu.Unlock()
		return nil
	}
	sess.done = true
	sess.result = &res
	if sess.openTimer != nil {
		sess.openTimer.Stop()
		sess.openTimer = nil
	}
	tools := socketList(sess.toolSockets)
	uis := socketList(sess.uiSockets)
	sess.toolSockets = make(map[Socket]struct{})
	sess.uiSockets = make(map[Socket]struct{})
	sess.evictTimer = time.AfterFunc(b.evictAfter, func() { b.evict(id) })
	sess.mu.Unlock()

	if err := persist(); err != nil {
		// The in-memory transition already happened and the tool is still
		// owed its result; surface the store failure in the log.
		log.Printf("review [%s]: persist terminal state: %v", id, err)
	}

	frame := resultFrame(&res)
	for _, sock := range tools {
		if err := sock.WriteJSON(frame); err != nil {
			log.Printf("review [%s]: notify tool socket: %v", id, err)
		}
	}
	for _, sock := range uis {
		_ = sock.Close()
	}

	b.events.Broadcast(events.ReviewSessionsChanged, nil)
	b.events.Broadcast(events.ReviewSubmissionsChanged, nil)
	return nil
}

// evict drops a completed session from memory.
func (b *Bus) evict(id string) {
	b.mu.Lock()
	delete(b.sessions, id)
	b.mu.Unlock()
}

// Snapshot lists the live sessions for the status endpoint.
func (b *Bus) Snapshot() []Status {
	b.mu.Lock()
	sessions := make([]*Session, 0, len(b.sessions))
	for _, sess := range b.sessions {
		sessions = append(sessions, sess)
	}
	b.mu.Unlock()

	out := make([]Status, 0, len(sessions))
	for _, sess := range sessions {
		sess.mu.Lock()
		st := Status{
			ID:          sess.ID,
			Message:     sess.Message,
			FileCount:   len(sess.Files),
			Done:        sess.done,
			ToolSockets: len(sess.toolSockets),
			UISockets:   len(sess.uiSockets),
			CreatedAt:   sess.CreatedAt,
		}
		if sess.result != nil {
			st.Cancelled = sess.result.Cancelled
		}
		sess.mu.Unlock()
		out = append(out, st)
	}
	return out
}

// Close stops all timers and drops every session. Terminal states already
// persisted stay in the store; open sessions are simply lost, as on any
// restart.
func (b *Bus) Close() {
	b.mu.Lock()
	sessions := b.sessions
	b.sessions = make(map[string]*Session)
	b.mu.Unlock()

	for _, sess := range sessions {
		sess.mu.Lock()
		if sess.openTimer != nil {
			sess.openTimer.Stop()
		}
		if sess.evictTimer != nil {
			sess.evictTimer.Stop()
		}
		for sock := range sess.toolSockets {
			_ = sock.Close()
		}
		for sock := range sess.uiSockets {
			_ = sock.Close()
		}
		sess.toolSockets = make(map[Socket]struct{})
		sess.uiSockets = make(map[Socket]struct{})
		sess.mu.Unlock()
	}
}

type initFrame struct {
	Type     string         `json:"type"`
	ID       string         `json:"id"`
	Message  string         `json:"message,omitempty"`
	Files    []FileSnapshot `json:"files"`
	Warnings []string       `json:"warnings,omitempty"`
}

type reviewResultFrame struct {
	Type      string    `json:"type"`
	Cancelled bool      `json:"cancelled"`
	Comments  []Comment `json:"comments"`
}

func resultFrame(res *Result) reviewResultFrame {
	comments := res.Comments
	if comments == nil {
		comments = []Comment{}
	}
	return reviewResultFrame{Type: "review_result", Cancelled: res.Cancelled, Comments: comments}
}

func socketList(set map[Socket]struct{}) []Socket {
	out := make([]Socket, 0, len(set))
	for sock := range set {
		out = append(out, sock)
	}
	return out
}

// newToken mints a url-safe bearer token.
func newToken() string {
	buf := make([]byte, 32)
	rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}
