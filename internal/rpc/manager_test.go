// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"encoding/json"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// echoManager builds a manager whose "agent" is cat, which echoes every
// command line back as an event line.
func echoManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}
	if len(opts.Command) == 0 {
		opts.Command = []string{"cat"}
	}
	m := NewManager(opts)
	t.Cleanup(m.Dispose)
	return m
}

func waitEvent(t *testing.T, ch chan SequencedEvent) SequencedEvent {
	t.Helper()
	select {
	case se, ok := <-ch:
		require.True(t, ok, "subscriber channel closed while waiting for event")
		return se
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return SequencedEvent{}
	}
}

func waitClosed(t *testing.T, ch chan SequencedEvent) []SequencedEvent {
	t.Helper()
	var drained []SequencedEvent
	deadline := time.After(5 * time.Second)
	for {
		select {
		case se, ok := <-ch:
			if !ok {
				return drained
			}
			drained = append(drained, se)
		case <-deadline:
			t.Fatal("timed out waiting for channel close")
		}
	}
}

func TestEnsureStartsAndReuses(t *testing.T) {
	m := echoManager(t, Options{})

	s1, reused, err := m.Ensure("/tmp/rho-test-a.jsonl")
	require.NoError(t, err)
	assert.False(t, reused)
	assert.Equal(t, "/tmp/rho-test-a.jsonl", s1.File())

	s2, reused, err := m.Ensure("/tmp/rho-test-a.jsonl")
	require.NoError(t, err)
	assert.True(t, reused)
	assert.Equal(t, s1.ID(), s2.ID())

	s3, reused, err := m.Ensure("/tmp/rho-test-b.jsonl")
	require.NoError(t, err)
	assert.False(t, reused)
	assert.NotEqual(t, s1.ID(), s3.ID())

	found, ok := m.FindByFile("/tmp/rho-test-a.jsonl")
	require.True(t, ok)
	assert.Equal(t, s1.ID(), found.ID())
}

func TestCommandRoundTrip(t *testing.T) {
	m := echoManager(t, Options{})
	s, _, err := m.Ensure("/tmp/rho-test-rt.jsonl")
	require.NoError(t, err)

	ch, err := m.Subscribe(s.ID())
	require.NoError(t, err)
	defer m.Unsubscribe(s.ID(), ch)

	require.NoError(t, m.SendCommand(s.ID(), json.RawMessage(`{"type":"get_state","id":"c1"}`)))

	se := waitEvent(t, ch)
	assert.Equal(t, uint64(1), se.Seq)
	assert.Equal(t, "get_state", se.Type)
	assert.Equal(t, "c1", gjson.GetBytes(se.Event, "id").String())
}

func TestEventOrderAndFanOut(t *testing.T) {
	m := echoManager(t, Options{})
	s, _, err := m.Ensure("/tmp/rho-test-order.jsonl")
	require.NoError(t, err)

	chA, err := m.Subscribe(s.ID())
	require.NoError(t, err)
	defer m.Unsubscribe(s.ID(), chA)
	chB, err := m.Subscribe(s.ID())
	require.NoError(t, err)
	defer m.Unsubscribe(s.ID(), chB)

	for _, id := range []string{"c1", "c2", "c3"} {
		require.NoError(t, m.SendCommand(s.ID(), json.RawMessage(`{"type":"prompt","id":"`+id+`"}`)))
	}

	for i := uint64(1); i <= 3; i++ {
		a := waitEvent(t, chA)
		b := waitEvent(t, chB)
		// Both subscribers observe the same event at the same seq.
		assert.Equal(t, i, a.Seq)
		assert.Equal(t, i, b.Seq)
		assert.Equal(t, string(a.Event), string(b.Event))
	}
}

func TestReplayAfterEvents(t *testing.T) {
	m := echoManager(t, Options{})
	s, _, err := m.Ensure("/tmp/rho-test-replay.jsonl")
	require.NoError(t, err)

	ch, err := m.Subscribe(s.ID())
	require.NoError(t, err)
	defer m.Unsubscribe(s.ID(), ch)

	for _, id := range []string{"c1", "c2", "c3"} {
		require.NoError(t, m.SendCommand(s.ID(), json.RawMessage(`{"type":"prompt","id":"`+id+`"}`)))
	}
	for i := 0; i < 3; i++ {
		waitEvent(t, ch)
	}

	rep := m.GetReplay(s.ID(), 1)
	require.Len(t, rep.Events, 2)
	assert.Equal(t, uint64(2), rep.Events[0].Seq)
	assert.Equal(t, uint64(3), rep.Events[1].Seq)
	assert.False(t, rep.Gap)
}

func TestResponseCaching(t *testing.T) {
	m := echoManager(t, Options{})
	s, _, err := m.Ensure("/tmp/rho-test-cache.jsonl")
	require.NoError(t, err)

	ch, err := m.Subscribe(s.ID())
	require.NoError(t, err)
	defer m.Unsubscribe(s.ID(), ch)

	// First registration wins; the echoed response event fills the cache.
	d := m.RegisterCommand(s.ID(), "c1")
	require.False(t, d.Duplicate)

	resp := `{"type":"response","id":"c1","success":true,"command":"prompt"}`
	require.NoError(t, m.SendCommand(s.ID(), json.RawMessage(resp)))
	se := waitEvent(t, ch)
	assert.Equal(t, EventResponse, se.Type)

	d = m.RegisterCommand(s.ID(), "c1")
	assert.True(t, d.Duplicate)
	assert.JSONEq(t, resp, string(d.Response))
	assert.Equal(t, se.Seq, d.ResponseSeq)
}

func TestSendCommandUnknownSession(t *testing.T) {
	m := echoManager(t, Options{})
	err := m.SendCommand("no-such-id", json.RawMessage(`{"type":"prompt"}`))
	assert.ErrorIs(t, err, ErrUnknownSession)

	_, err = m.Subscribe("no-such-id")
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestStopSessionEmitsTerminalEvent(t *testing.T) {
	m := echoManager(t, Options{})
	s, _, err := m.Ensure("/tmp/rho-test-stop.jsonl")
	require.NoError(t, err)

	ch, err := m.Subscribe(s.ID())
	require.NoError(t, err)

	require.NoError(t, m.StopSession(s.ID()))

	drained := waitClosed(t, ch)
	require.NotEmpty(t, drained)
	assert.Equal(t, EventSessionStopped, drained[len(drained)-1].Type)

	_, ok := m.Get(s.ID())
	assert.False(t, ok)
	_, ok = m.FindByFile("/tmp/rho-test-stop.jsonl")
	assert.False(t, ok)
}

func TestCrashEmitsCrashedThenStopped(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	var mu sync.Mutex
	var crash *CrashInfo
	m := NewManager(Options{
		// Reads one command line, then dies with a nonzero status.
		Command: []string{"sh", "-c", "read x; exit 3"},
		OnCrash: func(info CrashInfo) {
			mu.Lock()
			crash = &info
			mu.Unlock()
		},
	})
	t.Cleanup(m.Dispose)

	s, _, err := m.Ensure("/tmp/rho-test-crash.jsonl")
	require.NoError(t, err)
	ch, err := m.Subscribe(s.ID())
	require.NoError(t, err)

	require.NoError(t, m.SendCommand(s.ID(), json.RawMessage(`{"type":"prompt","id":"c1"}`)))

	drained := waitClosed(t, ch)
	require.Len(t, drained, 2)
	assert.Equal(t, EventProcessCrashed, drained[0].Type)
	assert.Contains(t, gjson.GetBytes(drained[0].Event, "message").String(), "exit status 3")
	assert.Equal(t, EventSessionStopped, drained[1].Type)

	// No auto-restart: the entry is gone until the next command arrives.
	_, ok := m.FindByFile("/tmp/rho-test-crash.jsonl")
	assert.False(t, ok)

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, crash)
	assert.Equal(t, s.ID(), crash.SessionID)
	assert.Contains(t, crash.Reason, "exit status 3")
}

func TestOrphanLifecycleStopsChild(t *testing.T) {
	m := echoManager(t, Options{
		OrphanGrace:      50 * time.Millisecond,
		OrphanAbortDelay: 50 * time.Millisecond,
	})
	s, _, err := m.Ensure("/tmp/rho-test-orphan.jsonl")
	require.NoError(t, err)

	ch, err := m.Subscribe(s.ID())
	require.NoError(t, err)
	m.Unsubscribe(s.ID(), ch)

	require.Eventually(t, func() bool {
		_, ok := m.Get(s.ID())
		return !ok
	}, 5*time.Second, 20*time.Millisecond)
}

func TestResubscribeCancelsOrphan(t *testing.T) {
	m := echoManager(t, Options{
		OrphanGrace:      200 * time.Millisecond,
		OrphanAbortDelay: 50 * time.Millisecond,
	})
	s, _, err := m.Ensure("/tmp/rho-test-orphan2.jsonl")
	require.NoError(t, err)

	ch, err := m.Subscribe(s.ID())
	require.NoError(t, err)
	m.Unsubscribe(s.ID(), ch)

	// Reconnect inside the grace window.
	ch2, err := m.Subscribe(s.ID())
	require.NoError(t, err)
	defer m.Unsubscribe(s.ID(), ch2)

	time.Sleep(400 * time.Millisecond)
	_, ok := m.Get(s.ID())
	assert.True(t, ok)
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand(json.RawMessage(`{"type":"prompt","id":"c9","message":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, "prompt", cmd.Type)
	assert.Equal(t, "c9", cmd.ID)

	_, err = ParseCommand(json.RawMessage(`{"id":"c9"}`))
	assert.Error(t, err)

	_, err = ParseCommand(json.RawMessage(`{"type":42}`))
	assert.Error(t, err)

	_, err = ParseCommand(json.RawMessage(`not json`))
	assert.Error(t, err)
}

func TestSessionFileHint(t *testing.T) {
	assert.Equal(t, "/a/b.jsonl", SessionFileHint(json.RawMessage(`{"type":"switch_session","sessionFile":"/a/b.jsonl"}`)))
	assert.Equal(t, "/a/c.jsonl", SessionFileHint(json.RawMessage(`{"type":"switch_session","sessionPath":"/a/c.jsonl"}`)))
	assert.Equal(t, "/a/d.jsonl", SessionFileHint(json.RawMessage(`{"type":"switch_session","path":"/a/d.jsonl"}`)))
	assert.Equal(t, "", SessionFileHint(json.RawMessage(`{"type":"switch_session"}`)))
}

func TestStatusSnapshot(t *testing.T) {
	m := echoManager(t, Options{})
	s, _, err := m.Ensure("/tmp/rho-test-status.jsonl")
	require.NoError(t, err)
	ch, err := m.Subscribe(s.ID())
	require.NoError(t, err)
	defer m.Unsubscribe(s.ID(), ch)

	statuses := m.Sessions()
	require.Len(t, statuses, 1)
	assert.Equal(t, s.ID(), statuses[0].SessionID)
	assert.Equal(t, "/tmp/rho-test-status.jsonl", statuses[0].SessionFile)
	assert.Equal(t, 1, statuses[0].Subscribers)
	assert.NotZero(t, statuses[0].PID)
}
