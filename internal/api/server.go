// Package api provides a read-only HTTP and WebSocket status surface
// over a running engine.Engine: current regime, open/recently-closed
// positions, rule history, market snapshot, recent events, and
// Prometheus metrics. Grounded on the teacher's api/server.go (Server
// struct + mux.Router + rs/cors + WebSocket client pool), with every
// mutating/backtest-specific route dropped — this surface never
// accepts a command that changes engine state.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/atlas-desktop/fxengine/internal/engine"
	"github.com/atlas-desktop/fxengine/internal/metrics"
	"github.com/atlas-desktop/fxengine/internal/sink"
	"github.com/atlas-desktop/fxengine/pkg/fxtypes"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Server is the read-only HTTP/WebSocket status surface.
type Server struct {
	logger     *zap.Logger
	cfg        ServerConfig
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader

	eng     *engine.Engine
	ring    *sink.RingWriter
	metrics *metrics.Metrics

	hub     *Hub
	hubStop chan struct{}
}

// NewServer wires a read-only surface over eng. eng may be nil at
// construction time — see Attach — since the server must exist before
// the engine when it is registered as one of the engine's own sink
// writers. ring must be the same RingWriter the engine's sink was
// constructed with. The returned Server also satisfies sink.Writer:
// register it alongside ring when constructing the engine's EventSink
// to have every event broadcast to connected WebSocket clients as it
// is emitted.
func NewServer(logger *zap.Logger, cfg ServerConfig, eng *engine.Engine, ring *sink.RingWriter, m *metrics.Metrics) *Server {
	logger = logger.Named("api")
	s := &Server{
		logger:  logger,
		cfg:     cfg,
		router:  mux.NewRouter(),
		eng:     eng,
		ring:    ring,
		metrics: m,
		hub:     newHub(logger),
		hubStop: make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

// Router exposes the underlying mux.Router, primarily so tests can
// drive it with httptest.NewServer without a real listener.
func (s *Server) Router() *mux.Router { return s.router }

// Attach binds the running engine once it has been constructed with
// this Server already registered as one of its sink writers, breaking
// the construction-order cycle between Server and Engine. Must be
// called before Start.
func (s *Server) Attach(eng *engine.Engine) { s.eng = eng }

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/api/v1/positions", s.handlePositions).Methods("GET")
	s.router.HandleFunc("/api/v1/rules", s.handleRules).Methods("GET")
	s.router.HandleFunc("/api/v1/rules/current", s.handleCurrentRule).Methods("GET")
	s.router.HandleFunc("/api/v1/market", s.handleMarket).Methods("GET")
	s.router.HandleFunc("/api/v1/events", s.handleEvents).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})).Methods("GET")
	s.router.HandleFunc(s.cfg.WebSocketPath, s.handleWebSocket)
}

// Start runs the hub and serves HTTP until Stop is called or
// ListenAndServe itself fails.
func (s *Server) Start() error {
	go s.hub.run(s.hubStop)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
		AllowedHeaders: []string{"*"},
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.logger.Info("starting status api", zap.String("addr", addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop closes every WebSocket client and gracefully shuts down the
// HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	close(s.hubStop)
	s.hub.mu.Lock()
	for client := range s.hub.clients {
		client.conn.Close()
	}
	s.hub.mu.Unlock()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Name satisfies sink.Writer.
func (s *Server) Name() string { return "api-ws" }

// Write satisfies sink.Writer: every sink-emitted record is broadcast
// to clients subscribed to its event kind (or to "*").
func (s *Server) Write(rec fxtypes.EventRecord) error {
	s.hub.publish(string(rec.Kind), MsgTypeEvent, rec)
	return nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().UTC(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.eng.Status())
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	symbol := s.eng.Status().Symbol
	open := s.eng.Book().Snapshot(symbol)
	closed := s.eng.Book().RecentClosed(s.cfg.RecentEventsLimit)
	writeJSON(w, map[string]interface{}{
		"open":   open,
		"closed": closed,
	})
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"history": s.eng.RuleStore().History(),
	})
}

func (s *Server) handleCurrentRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := s.eng.RuleStore().Current(s.eng.Status().Now)
	if !ok {
		writeJSON(w, map[string]interface{}{"active": false})
		return
	}
	writeJSON(w, map[string]interface{}{"active": true, "rule": rule})
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	snap := s.eng.MarketView().Snapshot()
	writeJSON(w, map[string]interface{}{
		"tick":       snap.Tick,
		"tickAt":     snap.TickAt,
		"indicators": snap.Indicators,
		"staleness":  s.eng.MarketView().Staleness(),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	all := s.ring.Snapshot()
	limit := s.cfg.RecentEventsLimit
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	writeJSON(w, map[string]interface{}{
		"events": all,
		"count":  len(all),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", zap.Error(err))
		return
	}

	client := newClient(uuid.New().String(), s.hub, conn)
	s.hub.register <- client
	s.logger.Info("ws client connected", zap.String("id", client.id))

	go client.writePump()
	go client.readPump()
}
