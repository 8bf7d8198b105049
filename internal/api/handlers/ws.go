// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wingedpig/rho/internal/events"
	"github.com/wingedpig/rho/internal/rpc"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// GatewayHandler serves the browser gateway WebSocket at /ws: one socket,
// many RPC session subscriptions, plus the ui_event broadcast feed.
type GatewayHandler struct {
	manager *rpc.Manager
	events  *events.Bus
}

// NewGatewayHandler creates a new gateway WebSocket handler.
func NewGatewayHandler(manager *rpc.Manager, bus *events.Bus) *GatewayHandler {
	return &GatewayHandler{
		manager: manager,
		events:  bus,
	}
}

// clientFrame is a frame from the browser.
type clientFrame struct {
	Type         string          `json:"type"`
	SessionID    string          `json:"sessionId,omitempty"`
	SessionFile  string          `json:"sessionFile,omitempty"`
	LastEventSeq *uint64         `json:"lastEventSeq,omitempty"`
	Command      json.RawMessage `json:"command,omitempty"`
	TS           json.RawMessage `json:"ts,omitempty"`
	ID           string          `json:"id,omitempty"`
	Value        json.RawMessage `json:"value,omitempty"`
}

// serverFrame is a frame to the browser.
type serverFrame struct {
	Type        string          `json:"type"`
	SessionID   string          `json:"sessionId,omitempty"`
	SessionFile string          `json:"sessionFile,omitempty"`
	Seq         uint64          `json:"seq,omitempty"`
	Event       json.RawMessage `json:"event,omitempty"`
	Replay      bool            `json:"replay,omitempty"`
	OldestSeq   uint64          `json:"oldestSeq,omitempty"`
	LatestSeq   uint64          `json:"latestSeq,omitempty"`
	TS          json.RawMessage `json:"ts,omitempty"`
	Message     string          `json:"message,omitempty"`
}

// socketSub is one session subscription held by a socket. The delivery
// channel starts buffering at subscribe time; the pump that drains it is
// started separately so replay frames can be written first.
type socketSub struct {
	ch      chan rpc.SequencedEvent
	pumping bool
}

// WebSocket upgrades the connection and runs the multiplexer loop.
func (h *GatewayHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Write mutex for thread-safe WebSocket writes
	var writeMu sync.Mutex
	writeJSON := func(msg any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(msg)
	}
	writeRaw := func(data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	// Session subscriptions owned by this socket. Touched only from this
	// goroutine, so no lock.
	subs := make(map[string]*socketSub)
	var pumps sync.WaitGroup
	defer func() {
		for id, sub := range subs {
			h.manager.Unsubscribe(id, sub.ch)
		}
		pumps.Wait()
	}()

	// subscribe registers a delivery channel for the session; events buffer
	// until the pump starts. Returns the existing subscription unchanged if
	// the socket is already attached.
	subscribe := func(sessionID string) (*socketSub, error) {
		if sub, ok := subs[sessionID]; ok {
			return sub, nil
		}
		ch, err := h.manager.Subscribe(sessionID)
		if err != nil {
			return nil, err
		}
		sub := &socketSub{ch: ch}
		subs[sessionID] = sub
		return sub, nil
	}

	// startPump begins draining the subscription into the socket. The
	// channel is closed by the manager on unsubscribe or session stop.
	startPump := func(sessionID string, sub *socketSub) {
		if sub.pumping {
			return
		}
		sub.pumping = true
		pumps.Add(1)
		go func() {
			defer pumps.Done()
			for se := range sub.ch {
				writeJSON(serverFrame{
					Type:      "rpc_event",
					SessionID: sessionID,
					Seq:       se.Seq,
					Event:     se.Event,
				})
			}
		}()
	}

	wsClosed := make(chan struct{})

	// Forward ui_event broadcasts for as long as the socket lives.
	uiID, uiCh, err := h.events.Subscribe(0)
	if err == nil {
		defer h.events.Unsubscribe(uiID)
		pumps.Add(1)
		go func() {
			defer pumps.Done()
			for {
				select {
				case ev := <-uiCh:
					frame, err := ev.Frame()
					if err != nil {
						continue
					}
					writeRaw(frame)
				case <-wsClosed:
					return
				}
			}
		}()
	}

	// Set up ping/pong
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(54 * time.Second)
	defer pingTicker.Stop()

	go func() {
		for range pingTicker.C {
			writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}()

	// Read client frames into a channel so the main loop is non-blocking.
	// A malformed frame answers with an error; the socket stays open.
	readCh := make(chan clientFrame, 10)
	go func() {
		defer close(wsClosed)
		for {
			_, msgBytes, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame clientFrame
			if err := json.Unmarshal(msgBytes, &frame); err != nil {
				writeJSON(serverFrame{Type: "error", Message: "invalid JSON frame"})
				continue
			}
			readCh <- frame
		}
	}()

	// Main event loop
	for {
		select {
		case frame := <-readCh:
			switch frame.Type {
			case "rpc_ping":
				writeJSON(serverFrame{Type: "rpc_pong", TS: frame.TS})

			case "rpc_command":
				h.handleCommand(frame, writeJSON, subscribe, startPump)

			case "extension_ui_response":
				h.handleUIResponse(frame, writeJSON)

			default:
				writeJSON(serverFrame{Type: "error", Message: "unknown frame type: " + frame.Type})
			}

		case <-wsClosed:
			return
		}
	}
}

// handleCommand routes one rpc_command frame: resolve the target session,
// attach the socket, replay missed events, dedupe, forward.
func (h *GatewayHandler) handleCommand(
	frame clientFrame,
	writeJSON func(any) error,
	subscribe func(string) (*socketSub, error),
	startPump func(string, *socketSub),
) {
	cmd, err := rpc.ParseCommand(frame.Command)
	if err != nil {
		writeJSON(serverFrame{Type: "error", Message: err.Error()})
		return
	}

	sessionID := frame.SessionID
	if sessionID == "" {
		// Derive the session file and start or reuse its child.
		file := frame.SessionFile
		if file == "" && cmd.Type == rpc.CommandSwitchSession {
			file = rpc.SessionFileHint(cmd.Raw)
		}
		if file == "" {
			writeJSON(serverFrame{Type: "error", Message: "rpc_command requires a sessionId or sessionFile"})
			return
		}

		sess, reused, err := h.manager.Ensure(file)
		if err != nil {
			log.Printf("api: start session for %s: %v", file, err)
			writeJSON(serverFrame{Type: "error", Message: "failed to start session: " + err.Error()})
			return
		}
		sessionID = sess.ID()

		sub, err := subscribe(sessionID)
		if err != nil {
			writeJSON(serverFrame{Type: "rpc_session_not_found", SessionID: sessionID})
			return
		}

		writeJSON(serverFrame{
			Type:        "session_started",
			SessionID:   sessionID,
			SessionFile: sess.File(),
		})

		// A rejoining client needs the child's current state.
		if reused {
			if err := h.manager.SendCommand(sessionID, rpc.GetStateCommand()); err != nil {
				log.Printf("api: get_state inject for %s: %v", sessionID, err)
			}
		}

		h.replay(frame, sessionID, writeJSON)
		startPump(sessionID, sub)

		// The gateway owns session switching; the child never sees it.
		if cmd.Type == rpc.CommandSwitchSession {
			return
		}

		h.forward(cmd, sessionID, writeJSON)
		return
	}

	// Explicit session id: attach if this socket isn't already.
	if _, ok := h.manager.Get(sessionID); !ok {
		writeJSON(serverFrame{Type: "rpc_session_not_found", SessionID: sessionID})
		return
	}
	sub, err := subscribe(sessionID)
	if err != nil {
		writeJSON(serverFrame{Type: "rpc_session_not_found", SessionID: sessionID})
		return
	}

	h.replay(frame, sessionID, writeJSON)
	startPump(sessionID, sub)

	if cmd.Type == rpc.CommandSwitchSession {
		return
	}

	h.forward(cmd, sessionID, writeJSON)
}

// replay writes buffered events newer than the client cursor, preceded by a
// gap marker when the ring no longer holds everything missed.
func (h *GatewayHandler) replay(frame clientFrame, sessionID string, writeJSON func(any) error) {
	if frame.LastEventSeq == nil {
		return
	}
	rep := h.manager.GetReplay(sessionID, *frame.LastEventSeq)
	if rep.Gap {
		writeJSON(serverFrame{
			Type:      "rpc_replay_gap",
			SessionID: sessionID,
			OldestSeq: rep.OldestSeq,
			LatestSeq: rep.LatestSeq,
		})
	}
	for _, se := range rep.Events {
		writeJSON(serverFrame{
			Type:      "rpc_event",
			SessionID: sessionID,
			Seq:       se.Seq,
			Event:     se.Event,
			Replay:    true,
		})
	}
}

// forward dedupes by command id and writes the command to the child. A
// duplicate inside the retention window is never re-executed; if its
// response is already cached, that response is re-delivered.
func (h *GatewayHandler) forward(cmd rpc.Command, sessionID string, writeJSON func(any) error) {
	if cmd.ID != "" {
		d := h.manager.RegisterCommand(sessionID, cmd.ID)
		if d.Duplicate {
			if d.Response != nil {
				writeJSON(serverFrame{
					Type:      "rpc_event",
					SessionID: sessionID,
					Seq:       d.ResponseSeq,
					Event:     d.Response,
					Replay:    true,
				})
			}
			return
		}
	}

	if err := h.manager.SendCommand(sessionID, cmd.Raw); err != nil {
		if errors.Is(err, rpc.ErrUnknownSession) {
			writeJSON(serverFrame{Type: "rpc_session_not_found", SessionID: sessionID})
			return
		}
		log.Printf("api: send command to %s: %v", sessionID, err)
		writeJSON(serverFrame{Type: "error", Message: "failed to send command: " + err.Error()})
	}
}

// handleUIResponse wraps a client's extension_ui_response and forwards it to
// the owning child.
func (h *GatewayHandler) handleUIResponse(frame clientFrame, writeJSON func(any) error) {
	if frame.SessionID == "" {
		writeJSON(serverFrame{Type: "error", Message: "extension_ui_response requires a sessionId"})
		return
	}
	payload, err := rpc.ExtensionUIResponse(frame.ID, frame.Value)
	if err != nil {
		writeJSON(serverFrame{Type: "error", Message: err.Error()})
		return
	}
	if err := h.manager.SendCommand(frame.SessionID, payload); err != nil {
		if errors.Is(err, rpc.ErrUnknownSession) {
			writeJSON(serverFrame{Type: "rpc_session_not_found", SessionID: frame.SessionID})
			return
		}
		writeJSON(serverFrame{Type: "error", Message: "failed to send response: " + err.Error()})
	}
}
