// Package bridge connects a host application to a Tracker over WebSocket.
//
// Each text frame from the host is either a message envelope, passed to
// Tracker.HandleMessage, or a command frame:
//
//	{"command": "startDeviceFlow", "id": "1"}
//	{"command": "endModuleSession", "score": 80, "completed": true}
//
// Every notification is broadcast to all connected clients as
//
//	{"notification": "<name>", "data": {...}}
//
// and every frame is answered with a reply to its sender.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/roach88/gamelink/internal/notify"
	"github.com/roach88/gamelink/internal/tracker"
)

// Command names accepted in command frames.
const (
	CommandStartDeviceFlow  = "startDeviceFlow"
	CommandStopDeviceFlow   = "stopDeviceFlow"
	CommandSyncServerTime   = "syncServerTime"
	CommandEndModuleSession = "endModuleSession"
)

// NameDeviceFlowStarted is sent to the client that started a device flow
// once the announce completed.
const NameDeviceFlowStarted = "deviceFlowStarted"

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
	callTimeout  = 15 * time.Second
)

// Tracker is the facade the bridge drives. Implemented by tracker.Tracker.
type Tracker interface {
	HandleMessage(ctx context.Context, raw []byte) error
	StartDeviceFlow(ctx context.Context, onStart func(loginURL string)) error
	StopDeviceFlow(ctx context.Context) error
	SyncServerTime(ctx context.Context) error
	EndModuleSession(ctx context.Context, score int64, completed bool, done func(error)) error
	State(ctx context.Context) (tracker.State, error)
	Subscribe(fn notify.Observer) (unsubscribe func())
}

// Outbound is a notification frame.
type Outbound struct {
	Notification string `json:"notification"`
	Data         any    `json:"data"`
}

// Reply answers one inbound frame.
type Reply struct {
	Reply string `json:"reply"`
	ID    string `json:"id,omitempty"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type commandFrame struct {
	Command   *string `json:"command"`
	ID        string  `json:"id"`
	Score     int64   `json:"score"`
	Completed bool    `json:"completed"`
}

type client struct {
	id   uuid.UUID
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Option configures a Server.
type Option func(*Server)

// WithAllowedOrigins accepts WebSocket handshakes from the given origins,
// e.g. "https://host.example.com", in addition to same-origin requests.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		for _, o := range origins {
			if o = normalizeOrigin(o); o != "" {
				s.origins[o] = struct{}{}
			}
		}
	}
}

// Server is the WebSocket bridge.
type Server struct {
	tracker  Tracker
	upgrader websocket.Upgrader
	origins  map[string]struct{}

	mu      sync.Mutex
	clients map[uuid.UUID]*client
	closed  bool

	unsubscribe func()
}

// New creates a bridge and subscribes it to t's notifications. Browser
// handshakes are accepted from the bridge's own origin and from origins
// added with WithAllowedOrigins.
func New(t Tracker, opts ...Option) *Server {
	s := &Server{
		tracker: t,
		origins: make(map[string]struct{}),
		clients: make(map[uuid.UUID]*client),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.unsubscribe = t.Subscribe(s.broadcast)
	return s
}

// checkOrigin accepts requests without an Origin header (non-browser
// clients), same-origin requests and allowlisted origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	if _, ok := s.origins[normalizeOrigin(origin)]; ok {
		return true
	}
	slog.Warn("websocket origin rejected", "origin", origin, "host", r.Host)
	return false
}

// normalizeOrigin reduces origin to lower-case scheme://host, or "" when it
// is not an absolute URL.
func normalizeOrigin(origin string) string {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

// Handler returns the HTTP routes of the bridge.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/state", s.handleState)
	r.Get("/ws", s.handleWebSocket)
	return r
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close unsubscribes from the tracker and disconnects every client.
func (s *Server) Close() {
	s.unsubscribe()

	s.mu.Lock()
	s.closed = true
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.conn.Close()
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	st, err := s.tracker.State(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(st); err != nil {
		slog.Warn("state encode failed", "error", err)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{id: uuid.New(), conn: conn, send: make(chan []byte, sendBuffer)}
	if !s.register(c) {
		conn.Close()
		return
	}
	defer s.unregister(c)

	go s.writePump(c)
	s.readPump(r.Context(), c)
}

func (s *Server) register(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[c.id] = c
	slog.Info("bridge client connected", "client_id", c.id, "clients", len(s.clients))
	return true
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	n := len(s.clients)
	s.mu.Unlock()

	c.close()
	c.conn.Close()
	slog.Info("bridge client disconnected", "client_id", c.id, "clients", n)
}

func (s *Server) readPump(ctx context.Context, c *client) {
	for {
		msgType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("bridge read failed", "client_id", c.id, "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.handleFrame(ctx, c, raw)
	}
}

func (s *Server) writePump(c *client) {
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			slog.Warn("bridge write failed", "client_id", c.id, "error", err)
			c.conn.Close()
			// Keep draining so senders never block on a dead client.
			for range c.send {
			}
			return
		}
	}
}

func (s *Server) handleFrame(ctx context.Context, c *client, raw []byte) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	var frame commandFrame
	if err := json.Unmarshal(raw, &frame); err == nil && frame.Command != nil {
		s.handleCommand(ctx, c, frame)
		return
	}

	err := s.tracker.HandleMessage(ctx, raw)
	s.reply(c, Reply{Reply: "message", OK: err == nil, Error: errorString(err)})
}

func (s *Server) handleCommand(ctx context.Context, c *client, frame commandFrame) {
	name := *frame.Command
	var err error

	switch name {
	case CommandStartDeviceFlow:
		err = s.tracker.StartDeviceFlow(ctx, func(loginURL string) {
			s.sendTo(c, Outbound{
				Notification: NameDeviceFlowStarted,
				Data:         map[string]any{"login_url": loginURL, "ok": loginURL != ""},
			})
		})
	case CommandStopDeviceFlow:
		err = s.tracker.StopDeviceFlow(ctx)
	case CommandSyncServerTime:
		err = s.tracker.SyncServerTime(ctx)
	case CommandEndModuleSession:
		// Answered once the backend responded.
		err = s.tracker.EndModuleSession(ctx, frame.Score, frame.Completed, func(doneErr error) {
			s.reply(c, Reply{Reply: name, ID: frame.ID, OK: doneErr == nil, Error: errorString(doneErr)})
		})
		if err == nil {
			return
		}
	default:
		err = errors.New("unknown command")
	}

	s.reply(c, Reply{Reply: name, ID: frame.ID, OK: err == nil, Error: errorString(err)})
}

// broadcast is the tracker observer. It runs on the tracker's loop
// goroutine and never blocks: full client buffers drop the frame.
func (s *Server) broadcast(n notify.Notification) {
	msg, err := json.Marshal(Outbound{Notification: n.Name(), Data: n})
	if err != nil {
		slog.Warn("notification encode failed", "name", n.Name(), "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		s.enqueue(c, msg)
	}
}

func (s *Server) sendTo(c *client, v any) {
	msg, err := json.Marshal(v)
	if err != nil {
		slog.Warn("frame encode failed", "error", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c.id]; ok {
		s.enqueue(c, msg)
	}
}

func (s *Server) reply(c *client, r Reply) {
	s.sendTo(c, r)
}

// enqueue must be called with s.mu held; unregister removes the client
// under the same lock before closing its channel.
func (s *Server) enqueue(c *client, msg []byte) {
	select {
	case c.send <- msg:
	default:
		slog.Warn("bridge client too slow, dropping frame", "client_id", c.id)
	}
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
