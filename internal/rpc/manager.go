// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	ps "github.com/mitchellh/go-ps"
	"github.com/tidwall/gjson"
	"github.com/valyala/bytebufferpool"
)

// ErrUnknownSession is returned for commands addressed to a session id that
// is not live.
var ErrUnknownSession = errors.New("unknown rpc session")

// ErrNoCommand is returned when no agent command is configured.
var ErrNoCommand = errors.New("agent command not configured")

const (
	defaultStopTimeout = 3 * time.Second
	stderrTailLines    = 64
	subscriberBuffer   = 256
)

// CrashInfo describes an unexpected child exit, handed to the OnCrash hook.
type CrashInfo struct {
	SessionID   string    `json:"sessionId"`
	SessionFile string    `json:"sessionFile"`
	PID         int       `json:"pid"`
	Reason      string    `json:"reason"`
	StderrTail  []string  `json:"stderrTail,omitempty"`
	At          time.Time `json:"at"`
}

// Options configures the manager.
type Options struct {
	// Command is the agent argv template; "{file}" expands to the session
	// file path.
	Command []string

	// WorkDirFor resolves the working directory for a session file's child,
	// typically from the file's header cwd. Optional.
	WorkDirFor func(sessionFile string) string

	// OnCrash is invoked after an unexpected child exit, once the terminal
	// events have been broadcast. Optional.
	OnCrash func(info CrashInfo)

	// StopTimeout bounds the SIGTERM-to-SIGKILL escalation.
	StopTimeout time.Duration

	RingSize         int
	CommandRetention time.Duration
	OrphanGrace      time.Duration
	OrphanAbortDelay time.Duration
}

// Session is the process-resident record of one live child agent.
type Session struct {
	id   string
	file string

	mu          sync.Mutex
	stdinMu     sync.Mutex // serializes stdin writes
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	cancel      context.CancelFunc
	started     bool
	stopping    bool
	startedAt   time.Time
	subscribers map[chan SequencedEvent]struct{}
	stderrTail  *tailBuffer
	waitDone    chan struct{}
}

// ID returns the session id allocated at spawn.
func (s *Session) ID() string { return s.id }

// File returns the session file this child owns.
func (s *Session) File() string { return s.file }

// Status is an exported summary for the status endpoint.
type Status struct {
	SessionID   string    `json:"sessionId"`
	SessionFile string    `json:"sessionFile"`
	PID         int       `json:"pid"`
	Subscribers int       `json:"subscribers"`
	StartedAt   time.Time `json:"startedAt"`
}

// Manager owns the session map. At most one child runs per session file.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session // session id -> session
	byFile   map[string]string   // session file -> session id
	rel      *Reliability
	opts     Options

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// NewManager builds a manager and wires the orphan lifecycle back into it.
func NewManager(opts Options) *Manager {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaultStopTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		sessions:   make(map[string]*Session),
		byFile:     make(map[string]string),
		rel:        NewReliability(opts.RingSize, opts.CommandRetention, opts.OrphanGrace, opts.OrphanAbortDelay),
		opts:       opts,
		baseCtx:    ctx,
		baseCancel: cancel,
	}
	m.rel.SetOrphanHooks(OrphanHooks{
		HasSubscribers: m.HasSubscribers,
		Abort:          m.injectAbort,
		Stop: func(id string) {
			if err := m.StopSession(id); err != nil && !errors.Is(err, ErrUnknownSession) {
				log.Printf("rpc [%s]: orphan stop failed: %v", id, err)
			}
		},
	})
	return m
}

// Ensure returns the live session for a file, starting a child when none
// exists. reused reports whether an existing session was found.
func (m *Manager) Ensure(sessionFile string) (s *Session, reused bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byFile[sessionFile]; ok {
		if s, ok := m.sessions[id]; ok {
			return s, true, nil
		}
	}
	s, err = m.startLocked(sessionFile)
	return s, false, err
}

// StartSession spawns a child for the session file. If one is already live
// it is returned unchanged.
func (m *Manager) StartSession(sessionFile string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byFile[sessionFile]; ok {
		if s, ok := m.sessions[id]; ok {
			return s, nil
		}
	}
	return m.startLocked(sessionFile)
}

func (m *Manager) startLocked(sessionFile string) (*Session, error) {
	if len(m.opts.Command) == 0 {
		return nil, ErrNoCommand
	}

	argv := make([]string, len(m.opts.Command))
	for i, a := range m.opts.Command {
		argv[i] = strings.ReplaceAll(a, "{file}", sessionFile)
	}

	cmdCtx, cancel := context.WithCancel(m.baseCtx)
	cmd := exec.CommandContext(cmdCtx, argv[0], argv[1:]...)
	if m.opts.WorkDirFor != nil {
		cmd.Dir = m.opts.WorkDirFor(sessionFile)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start agent: %w", err)
	}

	s := &Session{
		id:          uuid.New().String(),
		file:        sessionFile,
		cmd:         cmd,
		stdin:       stdin,
		cancel:      cancel,
		started:     true,
		startedAt:   time.Now(),
		subscribers: make(map[chan SequencedEvent]struct{}),
		stderrTail:  newTailBuffer(stderrTailLines),
		waitDone:    make(chan struct{}),
	}
	m.sessions[s.id] = s
	m.byFile[sessionFile] = s.id

	go m.readLoop(s, stdout)
	go s.drainStderr(stderr)

	log.Printf("rpc [%s]: started agent for %s (pid %d)", s.id, sessionFile, cmd.Process.Pid)
	return s, nil
}

// Get returns the session for an id.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// FindByFile returns the unique live session for a file, or false.
func (m *Manager) FindByFile(sessionFile string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byFile[sessionFile]
	if !ok {
		return nil, false
	}
	s, ok := m.sessions[id]
	return s, ok
}

// SendCommand serializes a command as one NDJSON line on the child's stdin.
func (m *Manager) SendCommand(sessionID string, raw json.RawMessage) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}
	return s.writeLine(raw)
}

func (s *Session) writeLine(raw json.RawMessage) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	buf.Write(raw)
	buf.WriteByte('\n')

	s.stdinMu.Lock()
	defer s.stdinMu.Unlock()

	s.mu.Lock()
	stdin := s.stdin
	live := s.started && !s.stopping
	s.mu.Unlock()
	if stdin == nil || !live {
		return ErrUnknownSession
	}
	if _, err := stdin.Write(buf.B); err != nil {
		return fmt.Errorf("write to agent: %w", err)
	}
	return nil
}

// Subscribe attaches a delivery channel to a session and cancels any pending
// orphan timers. Unsubscribe with the returned channel.
func (m *Manager) Subscribe(sessionID string) (chan SequencedEvent, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrUnknownSession
	}

	s.mu.Lock()
	ch := make(chan SequencedEvent, subscriberBuffer)
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	m.rel.CancelOrphan(sessionID)
	return ch, nil
}

// Unsubscribe detaches a channel. When the last subscriber leaves, the
// orphan grace timer starts.
func (m *Manager) Unsubscribe(sessionID string, ch chan SequencedEvent) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	if _, exists := s.subscribers[ch]; exists {
		delete(s.subscribers, ch)
		close(ch)
	}
	remaining := len(s.subscribers)
	stopping := s.stopping
	s.mu.Unlock()

	if remaining == 0 && !stopping {
		m.rel.ScheduleOrphan(sessionID)
	}
}

// HasSubscribers reports whether any delivery channel is attached.
func (m *Manager) HasSubscribers(sessionID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers) > 0
}

// RegisterCommand dedupes a command id through the reliability layer.
func (m *Manager) RegisterCommand(sessionID, commandID string) Dedupe {
	return m.rel.RegisterCommand(sessionID, commandID)
}

// GetReplay returns buffered events newer than the client cursor.
func (m *Manager) GetReplay(sessionID string, lastSeq uint64) Replay {
	return m.rel.GetReplay(sessionID, lastSeq)
}

// Sessions returns a status snapshot of all live sessions.
func (m *Manager) Sessions() []Status {
	m.mu.Lock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.Unlock()

	out := make([]Status, 0, len(list))
	for _, s := range list {
		s.mu.Lock()
		st := Status{
			SessionID:   s.id,
			SessionFile: s.file,
			Subscribers: len(s.subscribers),
			StartedAt:   s.startedAt,
		}
		if s.cmd != nil && s.cmd.Process != nil {
			st.PID = s.cmd.Process.Pid
		}
		s.mu.Unlock()
		out = append(out, st)
	}
	return out
}

// StopSession signals the child, escalates to kill after the stop timeout,
// emits the terminal rpc_session_stopped event, and removes the entry.
func (m *Manager) StopSession(sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	proc := s.cmd.Process
	s.mu.Unlock()

	// The terminal event goes out while subscribers are still attached.
	se := m.rel.RecordEvent(s.id, EventSessionStopped, "", stoppedEvent())
	s.fanOut(se)

	if proc != nil {
		if err := proc.Signal(syscall.SIGTERM); err != nil {
			s.cancel()
		}
		select {
		case <-s.waitDone:
		case <-time.After(m.opts.StopTimeout):
			log.Printf("rpc [%s]: agent ignored SIGTERM, killing", s.id)
			s.cancel()
			<-s.waitDone
		}
	}

	m.remove(s)
	log.Printf("rpc [%s]: stopped", s.id)
	return nil
}

// Dispose stops every session and cancels the spawn context.
func (m *Manager) Dispose() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.StopSession(id); err != nil && !errors.Is(err, ErrUnknownSession) {
			log.Printf("rpc [%s]: dispose stop failed: %v", id, err)
		}
	}
	m.rel.Dispose()
	m.baseCancel()
}

func (m *Manager) injectAbort(sessionID string) {
	log.Printf("rpc [%s]: orphan grace expired, aborting", sessionID)
	if err := m.SendCommand(sessionID, abortCommand()); err != nil {
		log.Printf("rpc [%s]: abort inject failed: %v", sessionID, err)
	}
}

// readLoop parses NDJSON events from the child's stdout, stamps each with
// its seq, and fans out. Events are never reordered, dropped, or coalesced.
func (m *Manager) readLoop(s *Session, stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		raw := append(json.RawMessage(nil), line...)
		if !gjson.ValidBytes(raw) {
			log.Printf("rpc [%s]: skipping malformed event line", s.id)
			continue
		}
		etype := gjson.GetBytes(raw, "type").String()
		respID := ""
		if etype == EventResponse {
			respID = gjson.GetBytes(raw, "id").String()
		}
		se := m.rel.RecordEvent(s.id, etype, respID, raw)
		s.fanOut(se)
	}

	err := s.cmd.Wait()
	close(s.waitDone)
	m.handleExit(s, err)
}

// handleExit synthesizes the crash events for unexpected exits. Explicit
// stops are torn down by StopSession instead.
func (m *Manager) handleExit(s *Session, exitErr error) {
	s.mu.Lock()
	stopping := s.stopping
	s.started = false
	s.stdin = nil
	pid := 0
	if s.cmd != nil && s.cmd.Process != nil {
		pid = s.cmd.Process.Pid
	}
	s.mu.Unlock()

	if stopping {
		return
	}

	msg := "process exited"
	if state := s.cmd.ProcessState; state != nil {
		msg = state.String()
	} else if exitErr != nil {
		msg = exitErr.Error()
	}
	log.Printf("rpc [%s]: agent died unexpectedly: %s", s.id, msg)

	se := m.rel.RecordEvent(s.id, EventProcessCrashed, "", crashedEvent(msg))
	s.fanOut(se)
	se = m.rel.RecordEvent(s.id, EventSessionStopped, "", stoppedEvent())
	s.fanOut(se)

	if m.opts.OnCrash != nil {
		m.opts.OnCrash(CrashInfo{
			SessionID:   s.id,
			SessionFile: s.file,
			PID:         pid,
			Reason:      msg,
			StderrTail:  s.stderrTail.snapshot(),
			At:          time.Now(),
		})
	}

	m.remove(s)
}

// remove drops the map entries, clears reliability state, and closes all
// subscriber channels.
func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.id)
	if cur, ok := m.byFile[s.file]; ok && cur == s.id {
		delete(m.byFile, s.file)
	}
	m.mu.Unlock()

	m.rel.ClearSession(s.id)

	s.mu.Lock()
	for ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = make(map[chan SequencedEvent]struct{})
	s.mu.Unlock()
}

// fanOut delivers an event to every subscriber. A full subscriber buffer
// drops that event for that subscriber; the client detects the seq jump and
// requests a replay.
func (s *Session) fanOut(se SequencedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- se:
		default:
		}
	}
}

func (s *Session) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		s.stderrTail.add(line)
		log.Printf("rpc [%s]: stderr: %s", s.id, line)
	}
}

// SweepStale scans for agent processes orphaned by a previous daemon run
// (same executable, reparented to init). With kill set they get SIGTERM;
// otherwise they are only logged.
func (m *Manager) SweepStale(kill bool) {
	if len(m.opts.Command) == 0 {
		return
	}
	exe := filepath.Base(m.opts.Command[0])
	procs, err := ps.Processes()
	if err != nil {
		log.Printf("rpc: process scan failed: %v", err)
		return
	}
	for _, p := range procs {
		if p.Executable() != exe || p.PPid() != 1 {
			continue
		}
		if !kill {
			log.Printf("rpc: found stale agent process pid %d", p.Pid())
			continue
		}
		if err := syscall.Kill(p.Pid(), syscall.SIGTERM); err != nil {
			log.Printf("rpc: failed to kill stale agent pid %d: %v", p.Pid(), err)
		} else {
			log.Printf("rpc: killed stale agent pid %d", p.Pid())
		}
	}
}

// tailBuffer keeps the last few stderr lines for crash reports.
type tailBuffer struct {
	mu    sync.Mutex
	lines []string
	max   int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *tailBuffer) snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.lines))
	copy(out, t.lines)
	return out
}
