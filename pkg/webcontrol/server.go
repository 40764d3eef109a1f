// Package webcontrol provides the operator web interface: REST
// endpoints for status and command, and a websocket stream publishing
// the robot status at a fixed rate.
package webcontrol

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"mjmech-go-migration/pkg/log"
	"mjmech-go-migration/pkg/quad"
)

// RobotInterface is what the server needs from the engine.
type RobotInterface interface {
	// LatestStatus returns a copy of the most recent status.
	LatestStatus() quad.Status

	// Command forwards an operator command to the engine.
	Command(cmd quad.Command)
}

// Config holds server configuration.
type Config struct {
	// Addr is the HTTP listen address (e.g. ":4910").
	Addr string

	// Robot receives commands and serves status.
	Robot RobotInterface

	// StreamInterval is the websocket status period. Default 100ms.
	StreamInterval time.Duration
}

// Server is the operator web interface.
type Server struct {
	robot          RobotInterface
	addr           string
	streamInterval time.Duration

	httpServer *http.Server
	logger     *log.Logger

	wsUpgrader websocket.Upgrader
	wsClients  map[int64]*wsClient
	wsClientMu sync.RWMutex
	nextWSID   int64

	running   atomic.Bool
	startTime time.Time
}

// New creates a server.
func New(cfg Config) *Server {
	interval := cfg.StreamInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	s := &Server{
		robot:          cfg.Robot,
		addr:           cfg.Addr,
		streamInterval: interval,
		logger:         log.GetLogger("web"),
		wsClients:      make(map[int64]*wsClient),
		startTime:      time.Now(),
	}
	s.wsUpgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // Local operator UI; no origin policy.
		},
	}
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/robot/info", s.handleInfo)
	mux.HandleFunc("/robot/status", s.handleStatus)
	mux.HandleFunc("/robot/command", s.handleCommand)
	mux.HandleFunc("/websocket", s.handleWebSocket)
	return s.corsMiddleware(mux)
}

// Start starts the server. It blocks; run it on its own goroutine.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	s.running.Store(true)
	s.logger.Info("web control listening on %s", s.addr)

	go s.statusBroadcastLoop()

	return s.httpServer.ListenAndServe()
}

// Stop stops the server and closes every websocket client.
func (s *Server) Stop() error {
	s.running.Store(false)

	s.wsClientMu.Lock()
	for _, client := range s.wsClients {
		client.close()
	}
	s.wsClients = make(map[int64]*wsClient)
	s.wsClientMu.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	status := s.robot.LatestStatus()
	s.writeJSON(w, map[string]any{
		"mode":      status.Mode.String(),
		"fault":     status.Fault,
		"uptime_s":  time.Since(s.startTime).Seconds(),
		"clients":   s.clientCount(),
		"cycle_s":   status.TimeCycleS,
		"timestamp": status.Timestamp,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.robot.LatestStatus()
	s.writeJSON(w, &status)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var cmd quad.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		s.writeJSONError(w, err.Error())
		return
	}

	s.robot.Command(cmd)
	s.writeJSON(w, map[string]any{"ok": true})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeJSONError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]any{"error": msg})
}

func (s *Server) clientCount() int {
	s.wsClientMu.RLock()
	defer s.wsClientMu.RUnlock()
	return len(s.wsClients)
}

// wsMessage is the websocket envelope in both directions.
type wsMessage struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type wsClient struct {
	id     int64
	conn   *websocket.Conn
	server *Server
	sendCh chan any
	done   chan struct{}
	mu     sync.Mutex

	subscribed atomic.Bool
}

func (s *Server) newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		id:     atomic.AddInt64(&s.nextWSID, 1),
		conn:   conn,
		server: s,
		sendCh: make(chan any, 16),
		done:   make(chan struct{}),
	}
}

func (c *wsClient) send(msg any) {
	select {
	case c.sendCh <- msg:
	case <-c.done:
	default:
		// Slow consumer; a stale status is worthless, drop it.
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return
	default:
		close(c.done)
	}
	c.conn.Close()
}

func (c *wsClient) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.close()
	}()

	c.conn.SetReadLimit(256 * 1024)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.send(map[string]any{"error": "parse error"})
			continue
		}
		c.handleMessage(&msg)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsClient) handleMessage(msg *wsMessage) {
	switch msg.Method {
	case "robot.subscribe":
		c.subscribed.Store(true)
		status := c.server.robot.LatestStatus()
		c.send(map[string]any{"method": "notify_status", "params": &status})

	case "robot.command":
		var cmd quad.Command
		if err := json.Unmarshal(msg.Params, &cmd); err != nil {
			c.send(map[string]any{"error": err.Error()})
			return
		}
		c.server.robot.Command(cmd)
		c.send(map[string]any{"ok": true})

	default:
		c.send(map[string]any{"error": "method not found: " + msg.Method})
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade: %v", err)
		return
	}

	client := s.newWSClient(conn)

	s.wsClientMu.Lock()
	s.wsClients[client.id] = client
	s.wsClientMu.Unlock()

	s.logger.Debug("websocket client %d connected", client.id)

	go client.writePump()
	client.readPump()
}

func (s *Server) removeClient(client *wsClient) {
	s.wsClientMu.Lock()
	delete(s.wsClients, client.id)
	s.wsClientMu.Unlock()
	s.logger.Debug("websocket client %d disconnected", client.id)
}

// statusBroadcastLoop pushes status to subscribed clients at the
// stream rate.
func (s *Server) statusBroadcastLoop() {
	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	for s.running.Load() {
		<-ticker.C

		s.wsClientMu.RLock()
		clients := make([]*wsClient, 0, len(s.wsClients))
		for _, c := range s.wsClients {
			if c.subscribed.Load() {
				clients = append(clients, c)
			}
		}
		s.wsClientMu.RUnlock()

		if len(clients) == 0 {
			continue
		}

		status := s.robot.LatestStatus()
		msg := map[string]any{"method": "notify_status", "params": &status}
		for _, c := range clients {
			c.send(msg)
		}
	}
}
