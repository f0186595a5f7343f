package monitor

import (
	"context"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/yanun0323/logs"

	"qtrader/internal/bus"
	"qtrader/internal/engine"
	"qtrader/internal/obs"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Server is the monitoring surface of a run: a read-only state API, the
// prometheus endpoint, a control channel and a websocket push hub. It never
// mutates engine state directly; control commands go through the command
// queue and take effect at the scheduler's next safe point.
type Server struct {
	addr     string
	snapshot func() engine.StateSnapshot
	commands *bus.Queue
	metrics  *obs.Metrics

	hub  *Hub
	http *http.Server
}

// NewServer wires a monitoring server over an engine.
func NewServer(addr string, eng *engine.Engine) *Server {
	s := &Server{
		addr:     addr,
		snapshot: eng.Context().Snapshot,
		commands: eng.Commands(),
		metrics:  eng.Metrics(),
		hub:      NewHub(),
	}
	eng.Context().SetListener(s)
	return s
}

// OnState implements engine.StateListener: every safe-point snapshot is
// pushed to the websocket clients.
func (s *Server) OnState(snap engine.StateSnapshot) {
	if s.hub.Count() == 0 {
		return
	}
	payload, err := sonic.Marshal(snap)
	if err != nil {
		logs.Errorf("marshal state push: %+v", err)
		return
	}
	s.hub.Broadcast(payload)
}

// Start serves the monitoring API in a background goroutine.
func (s *Server) Start() {
	r := mux.NewRouter()
	r.HandleFunc("/api/state", s.handleState).Methods(http.MethodGet)
	r.HandleFunc("/api/control", s.handleControl).Methods(http.MethodPost)
	r.HandleFunc("/ws", s.handleWS)
	r.Handle("/metrics", s.metrics.Handler())

	s.http = &http.Server{
		Addr:              s.addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logs.Infof("monitoring server listening on %s", s.addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logs.Errorf("monitoring server: %+v", err)
		}
	}()
}

// Stop shuts the server down.
func (s *Server) Stop() {
	s.hub.Close()
	if s.http == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.http.Shutdown(ctx)
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	payload, err := sonic.Marshal(s.snapshot())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}

type controlRequest struct {
	Command string `json:"command"`
}

type controlResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, controlResponse{Error: "invalid request body"})
		return
	}
	kind, ok := bus.ParseCommand(req.Command)
	if !ok {
		writeJSON(w, http.StatusBadRequest, controlResponse{Error: "unknown command: " + req.Command})
		return
	}
	if err := s.commands.TryPublish(bus.Command{Kind: kind, Source: "monitor"}); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, controlResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, controlResponse{OK: true})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logs.Warnf("websocket upgrade: %+v", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 16)}
	s.hub.add(c)

	// Greet with the current state so a late client is not blank.
	if payload, err := sonic.Marshal(s.snapshot()); err == nil {
		select {
		case c.send <- payload:
		default:
		}
	}

	go c.writeLoop()
	go c.readLoop(s.hub)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	payload, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
