// Package server exposes the worker's message protocol over a WebSocket.
//
// Every connected client may send requests; every notification the worker
// emits is broadcast to all connected clients. A client that connects after
// startup receives the workerInitialized notification on connect.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/pcbview/boardworker/internal/board"
	"github.com/pcbview/boardworker/internal/worker"
)

// Worker is the dispatcher the server fronts.
type Worker interface {
	Submit(ctx context.Context, req worker.Request) error
	Notifications() <-chan worker.Notification
	Ready() <-chan struct{}
	InitError() error
}

// Config holds server configuration.
type Config struct {
	// Addr to listen on (default: 127.0.0.1:8080)
	Addr string

	// BroadcastBuffer is the capacity of the outbound queue.
	BroadcastBuffer int

	// WriteTimeout bounds a single write to one client.
	WriteTimeout time.Duration

	// MaxMessageBytes bounds an inbound message. File uploads travel inline,
	// so this is much larger than a typical control message.
	MaxMessageBytes int64

	// OriginPatterns are the allowed browser origins for /ws.
	OriginPatterns []string

	Logger zerolog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            "127.0.0.1:8080",
		BroadcastBuffer: 256,
		WriteTimeout:    10 * time.Second,
		MaxMessageBytes: 256 << 20,
		OriginPatterns:  []string{"localhost:*", "127.0.0.1:*"},
		Logger:          zerolog.Nop(),
	}
}

// Server manages WebSocket connections and relays worker traffic.
type Server struct {
	config   Config
	worker   Worker
	router   chi.Router
	listener net.Listener
	server   *http.Server

	// WebSocket client management. clientsMu also guards welcome, so a
	// client is either replayed the welcome or included in its broadcast.
	clients   map[*websocket.Conn]bool
	welcome   []byte
	clientsMu sync.RWMutex

	broadcast chan outbound

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger zerolog.Logger
}

// New creates a server in front of w.
func New(w Worker, cfg Config) (*Server, error) {
	if w == nil {
		return nil, fmt.Errorf("worker cannot be nil")
	}

	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.BroadcastBuffer <= 0 {
		cfg.BroadcastBuffer = def.BroadcastBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = def.MaxMessageBytes
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:    cfg,
		worker:    w,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan outbound, cfg.BroadcastBuffer),
		ctx:       ctx,
		cancel:    cancel,
		logger:    cfg.Logger.With().Str("component", "server").Logger(),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(Metrics)
	r.Use(RequestLogger(s.logger))

	r.Get("/ws", s.handleWebSocket)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/", s.handleRoot)
	return r
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins relaying notifications and serving HTTP.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(2)
	go s.forwardLoop()
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("server listening")
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("server error")
		}
	}()

	return nil
}

// Stop closes every client and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("stopping server")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	var err error
	if s.server != nil {
		if serr := s.server.Shutdown(ctx); serr != nil {
			err = fmt.Errorf("server shutdown error: %w", serr)
		}
	}

	s.wg.Wait()
	s.logger.Info().Msg("server stopped")
	return err
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Addr
}

// ClientCount returns the current number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// outbound is one marshaled notification on its way to the clients.
type outbound struct {
	data    []byte
	welcome bool
}

// forwardLoop moves worker notifications onto the broadcast queue. It
// blocks rather than drop, so a slow client slows the worker down.
func (s *Server) forwardLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case n := <-s.worker.Notifications():
			data, err := json.Marshal(n)
			if err != nil {
				s.logger.Error().Err(err).Str("type", string(n.Type)).Msg("failed to marshal notification")
				continue
			}
			select {
			case s.broadcast <- outbound{data: data, welcome: n.Type == worker.WorkerInitialized}:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case out := <-s.broadcast:
			s.clientsMu.Lock()
			if out.welcome {
				s.welcome = out.data
			}
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.Unlock()

			for _, conn := range clients {
				if err := s.write(conn, out.data); err != nil {
					s.logger.Debug().Err(err).Msg("failed to send to client")
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) write(conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.config.WriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.config.OriginPatterns,
	})
	if err != nil {
		s.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(s.config.MaxMessageBytes)

	s.clientsMu.Lock()
	if s.welcome != nil {
		if err := s.write(conn, s.welcome); err != nil {
			s.clientsMu.Unlock()
			_ = conn.Close(websocket.StatusInternalError, "")
			return
		}
	}
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Info().Int("clients", clientCount).Msg("client connected")

	// The read loop owns the connection until it drops.
	s.readLoop(conn)
}

// readLoop submits every inbound request. Malformed messages are answered
// to the sender only.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, data, err := conn.Read(s.ctx)
		if err != nil {
			return
		}

		var req worker.Request
		if err := json.Unmarshal(data, &req); err != nil || req.Type == "" {
			s.reject(conn, req, board.Errorf(board.KindInvalid, "server.readLoop", "malformed request"))
			continue
		}

		if err := s.worker.Submit(s.ctx, req); err != nil {
			s.reject(conn, req, board.E(board.KindInternal, "server.readLoop", err))
			return
		}
	}
}

func (s *Server) reject(conn *websocket.Conn, req worker.Request, err *board.Error) {
	data, merr := json.Marshal(worker.Notification{
		Type: worker.WorkerErrored,
		Payload: worker.ErroredPayload{
			Request: req,
			Error:   worker.ErrorInfo{Kind: err.Kind, Message: err.Error()},
		},
	})
	if merr != nil {
		return
	}
	_ = s.write(conn, data)
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Info().Int("clients", clientCount).Msg("client disconnected")
	} else {
		s.clientsMu.Unlock()
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
	Error   string `json:"error,omitempty"`
}

// handleHealth reports readiness. It answers 503 until the store is open.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Clients: s.ClientCount()}
	code := http.StatusOK

	select {
	case <-s.worker.Ready():
		if err := s.worker.InitError(); err != nil {
			resp.Status = "unavailable"
			resp.Error = err.Error()
			code = http.StatusServiceUnavailable
		}
	default:
		resp.Status = "starting"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprintf(w, "boardworker\n\nwebsocket: ws://%s/ws\nhealth:    /health\nmetrics:   /metrics\n\nrequests:\n", r.Host)
	for _, t := range worker.RequestTypes {
		_, _ = fmt.Fprintf(w, "  %s\n", t)
	}
}
