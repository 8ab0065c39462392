package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// State WebSocket: hub + per-client pumps + broadcaster
// ============================================================================
//
//   - Hub tracks connected clients; each client has its own write pump so one
//     slow client cannot stall the others (it is disconnected instead).
//   - Messages are JSON text frames with an envelope: {type, ts, data}.
//   - The first message on connect is "state_init" carrying StatusSnapshot.
//   - RunBroadcaster turns StatusBoard broadcasts into frames. audio_stats is
//     coalesced (latest wins) because the bridge reports every frame.
//
// ============================================================================

type wsDispatcherStateData struct {
	State DispatcherState `json:"state"`
}

type wsCommandDispatchedData struct {
	Label   uint8  `json:"label"`
	Command string `json:"command"`
}

type wsStreamEventData struct {
	Kind       string `json:"kind"`
	Connected  *bool  `json:"connected,omitempty"`
	Playing    *bool  `json:"playing,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

type wsAudioStatsData struct {
	Frames   uint64 `json:"frames"`
	Bytes    uint64 `json:"bytes"`
	Failures uint64 `json:"failures"`
}

// wsOutboundEvent is a pre-typed, externally-consumable state event.
type wsOutboundEvent struct {
	Type string
	Data any
	At   time.Time // zero means use now
}

// envelope is the wire format envelope for WS messages.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

// ============================================================================
// Hub
// ============================================================================

type Hub struct {
	logger *slog.Logger

	// Buffered broadcast channel for already-serialized JSON frames.
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	// Configuration
	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size.
	// If zero, a conservative default is used.
	SendBuf int

	// BroadcastBuf is the hub inbound broadcast queue size.
	// If zero, a conservative default is used.
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = 32
	}
	bcastBuf := cfg.BroadcastBuf
	if bcastBuf <= 0 {
		bcastBuf = 128
	}

	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, bcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		sendBuf:    sendBuf,
	}
}

// Run processes hub events until ctx is canceled.
// It disconnects all clients on shutdown.
func (h *Hub) Run(ctx context.Context) error {
	h.logger.Info("ws hub starting")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("ws hub stopping (context canceled)")
			h.closeAllClients()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client registered", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			// Avoid mutating the clients map while ranging over it.
			// Collect slow clients first, then remove them after we unlock.
			var slow []*Client

			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		// Closing send signals writePump to exit.
		// Guard against double-close by recovering (best-effort).
		safeCloseChan(c.send)

		h.logger.Info("ws client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

func safeCloseChan(ch chan []byte) {
	defer func() {
		_ = recover() // ignore "close of closed channel"
	}()
	close(ch)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// BroadcastBytes enqueues a pre-serialized JSON WS frame for broadcast.
// It never blocks; if the hub queue is full it drops the message.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws hub broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub *Hub

	conn *websocket.Conn
	send chan []byte

	remoteAddr string
	logger     *slog.Logger
}

// NewClient creates a client with a buffered send channel.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := 32
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

const (
	writeWait = 5 * time.Second

	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// wsAudioStatsCoalesceWindow bounds how often audio_stats frames go out.
const wsAudioStatsCoalesceWindow = time.Second

// closeStatus extracts a human-readable websocket close code / text when possible.
func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

// writePump writes messages from the send queue to the websocket.
// It exits on write error or when send is closed.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed: hub is disconnecting us.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					if code, text, ok := closeStatus(err); ok {
						c.logger.Info("ws writePump exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
					} else {
						c.logger.Info("ws writePump exiting (write error)", "remote_addr", c.remoteAddr, "error", err)
					}
				}
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					if code, text, ok := closeStatus(err); ok {
						c.logger.Info("ws writePump exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
					} else {
						c.logger.Info("ws writePump exiting (ping error)", "remote_addr", c.remoteAddr, "error", err)
					}
				}
				return
			}
		}
	}
}

// readPump reads and discards incoming messages to detect disconnects and handle control frames.
// It exits on read error, then unregisters the client.
func (c *Client) readPump(ctx context.Context) {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			// Continue to read.
		}

		_, _, err := c.conn.ReadMessage()
		if err != nil {
			// Normal close is expected on client disconnect.
			if !errors.Is(err, websocket.ErrCloseSent) {
				if code, text, ok := closeStatus(err); ok {
					c.logger.Info("ws readPump exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
				} else {
					c.logger.Info("ws readPump exiting (read error)", "remote_addr", c.remoteAddr, "error", err)
				}
			}

			if c.hub != nil {
				c.hub.unregister <- c
			}
			return
		}
	}
}

// ============================================================================
// HTTP Handler + server wiring helpers
// ============================================================================

// SnapshotSource provides the state_init payload.
type SnapshotSource interface {
	Snapshot() StatusSnapshot
}

type Server struct {
	logger *slog.Logger

	hub    *Hub
	status SnapshotSource
}

type ServerConfig struct {
	Hub HubConfig
}

// NewServer constructs the WS state server components. Call Register on a mux,
// start hub.Run(ctx), and start the broadcaster loop.
func NewServer(logger *slog.Logger, status SnapshotSource, cfg ServerConfig) *Server {
	logger = componentLogger(logger, "ws")
	return &Server{
		logger: logger,
		hub:    NewHub(logger, cfg.Hub),
		status: status,
	}
}

func (s *Server) Hub() *Hub { return s.hub }

// Register registers the WS handler on the provided mux.
func (s *Server) Register(mux *http.ServeMux, path string) {
	if mux == nil {
		return
	}
	mux.HandleFunc(path, s.handleStateWS)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStateWS upgrades and registers a client, then sends state_init.
func (s *Server) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)

	// Register first so broadcasts can reach it.
	s.hub.register <- client

	// The pumps must outlive the handler: net/http cancels r.Context() when
	// the handler returns.
	go client.writePump(context.Background())
	go client.readPump(context.Background())

	if s.status == nil {
		return
	}
	now := time.Now().UTC()
	initMsg, err := json.Marshal(envelope{
		Type: "state_init",
		Ts:   &now,
		Data: s.status.Snapshot(),
	})
	if err != nil {
		s.logger.Warn("ws state_init marshal failed", "error", err)
		return
	}
	// Enqueue init message; if the client is already slow, disconnect.
	select {
	case client.send <- initMsg:
	default:
		s.hub.unregister <- client
	}
}

// ============================================================================
// Broadcaster
// ============================================================================

// RunBroadcaster reads StatusBoard broadcasts, marshals them, and broadcasts
// them to all hub clients. Intended to run as a single goroutine.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan StateBroadcast, logger *slog.Logger) error {
	if hub == nil || src == nil {
		return nil
	}

	// Flush the latest pending audio_stats at most once per window, even if
	// updates keep arriving (no debounce-on-silence).
	var pendingStats *wsOutboundEvent
	var statsTimer *time.Timer
	var statsTimerCh <-chan time.Time

	flushPendingStats := func() {
		if pendingStats == nil {
			return
		}

		msg, err := marshalOutbound(*pendingStats)
		if err != nil {
			logger.Warn("ws broadcaster marshal failed", "error", err, "type", pendingStats.Type)
			// Drop the pending item so we don't retry-marshal forever.
			pendingStats = nil
			return
		}

		hub.BroadcastBytes(msg)
		pendingStats = nil
	}

	stopStatsTimer := func() {
		if statsTimer == nil {
			statsTimerCh = nil
			return
		}
		if !statsTimer.Stop() {
			// Drain if needed.
			select {
			case <-statsTimer.C:
			default:
			}
		}
		statsTimerCh = nil
		statsTimer = nil
	}

	startStatsTimerIfNeeded := func() {
		if statsTimer != nil {
			return
		}
		statsTimer = time.NewTimer(wsAudioStatsCoalesceWindow)
		statsTimerCh = statsTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			flushPendingStats()
			stopStatsTimer()
			return nil

		case <-statsTimerCh:
			flushPendingStats()
			stopStatsTimer()

		case b, ok := <-src:
			if !ok {
				flushPendingStats()
				stopStatsTimer()
				logger.Info("ws broadcaster stopping (source ended)")
				return nil
			}

			ev, ok := convertBroadcast(b)
			if !ok {
				// Unknown broadcasts are dropped.
				continue
			}

			// Latest wins; the timer is not reset on each update.
			if ev.Type == "audio_stats" {
				copyEv := ev
				pendingStats = &copyEv
				startStatsTimerIfNeeded()
				continue
			}

			// Keep ordering: pending stats go out before any other event.
			flushPendingStats()
			stopStatsTimer()

			msg, err := marshalOutbound(ev)
			if err != nil {
				logger.Warn("ws broadcaster marshal failed", "error", err, "type", ev.Type)
				continue
			}

			hub.BroadcastBytes(msg)
		}
	}
}

func marshalOutbound(ev wsOutboundEvent) ([]byte, error) {
	ts := ev.At
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return json.Marshal(envelope{Type: ev.Type, Ts: &ts, Data: ev.Data})
}

func convertBroadcast(b StateBroadcast) (wsOutboundEvent, bool) {
	switch ev := b.(type) {
	case BroadcastDispatcherState:
		return wsOutboundEvent{
			Type: "dispatcher_state",
			Data: wsDispatcherStateData{State: ev.State},
			At:   ev.At,
		}, true

	case BroadcastCommandDispatched:
		return wsOutboundEvent{
			Type: "command_dispatched",
			Data: wsCommandDispatchedData{Label: uint8(ev.Label), Command: ev.Command.String()},
			At:   ev.At,
		}, true

	case BroadcastPairingRequest:
		return wsOutboundEvent{
			Type: "pairing_request",
			Data: ev.Pairing,
			At:   ev.Pairing.At,
		}, true

	case BroadcastStreamEvent:
		return wsOutboundEvent{
			Type: "stream_event",
			Data: wsStreamEventData{
				Kind:       ev.Kind,
				Connected:  ev.Connected,
				Playing:    ev.Playing,
				SampleRate: ev.SampleRate,
				Channels:   ev.Channels,
			},
			At: ev.At,
		}, true

	case BroadcastAudioStats:
		return wsOutboundEvent{
			Type: "audio_stats",
			Data: wsAudioStatsData{Frames: ev.Frames, Bytes: ev.Bytes, Failures: ev.Failures},
			At:   ev.At,
		}, true

	default:
		return wsOutboundEvent{}, false
	}
}
