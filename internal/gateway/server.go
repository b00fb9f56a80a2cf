// Package gateway exposes the orchestrator over a WebSocket.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/metric"

	"github.com/communityfinder/server/internal/agent/model"
	"github.com/communityfinder/server/internal/geo"
	"github.com/communityfinder/server/internal/progress"
	logx "github.com/communityfinder/server/pkg/logger"
)

// Client events.
const (
	EventSubmitQuery       = "submit_query"
	EventSubmitQueryLegacy = "on_submit_query"
)

// Runner executes one orchestration run and publishes exactly one terminal
// event to sink unless ctx is cancelled.
type Runner interface {
	Stream(ctx context.Context, in model.RunInput, sink progress.Sink)
}

type inFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type outFrame struct {
	Event string         `json:"event"`
	Data  progress.Event `json:"data"`
}

type submitData struct {
	Query    string     `json:"query"`
	Location *geo.Point `json:"location"`
}

// Server accepts WebSocket clients and starts one run per submitted query.
type Server struct {
	runner   Runner
	cfg      Config
	metrics  *metrics
	upgrader websocket.Upgrader
	http     *http.Server

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
	runs   sync.WaitGroup
}

func New(runner Runner, cfg Config, meter metric.Meter) (*Server, error) {
	m, err := newMetrics(meter)
	if err != nil {
		return nil, err
	}
	s := &Server{
		runner:  runner,
		cfg:     cfg.withDefaults(),
		metrics: m,
		upgrader: websocket.Upgrader{
			// The browser client is served from another origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: map[*websocket.Conn]struct{}{},
	}
	s.http = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler routes /ws and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// ListenAndServe blocks until the server stops. It returns nil after Shutdown.
func (s *Server) ListenAndServe() error {
	logx.Info().Str("addr", s.cfg.Addr).Msg("Gateway listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting clients, closes open sockets and waits for
// in-flight runs to return.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)

	s.mu.Lock()
	s.closed = true
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// connection serialises writes to one socket.
type connection struct {
	ws           *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
}

func (c *connection) send(f outFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteJSON(f)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logx.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	connID := uuid.NewString()
	s.track(ws, true)
	defer s.track(ws, false)
	defer ws.Close()

	logx.Info().Str("conn_id", connID).Str("remote", r.RemoteAddr).Msg("Client connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := &connection{ws: ws, writeTimeout: s.cfg.WriteTimeout}
	go s.keepAlive(ctx, conn)

	_ = ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		var f inFrame
		if err := ws.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logx.Warn().Err(err).Str("conn_id", connID).Msg("Client read failed")
			}
			break
		}
		_ = ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))

		switch f.Event {
		case EventSubmitQuery, EventSubmitQueryLegacy:
			s.submit(ctx, conn, connID, f.Data)
		default:
			logx.Debug().Str("conn_id", connID).Str("event", f.Event).Msg("Ignoring unknown event")
		}
	}

	logx.Info().Str("conn_id", connID).Msg("Client disconnected; cancelling runs")
}

// submit starts one run for data. Malformed submissions get an immediate
// error event.
func (s *Server) submit(ctx context.Context, conn *connection, connID string, data json.RawMessage) {
	var in submitData
	if err := json.Unmarshal(data, &in); err != nil || strings.TrimSpace(in.Query) == "" {
		_ = conn.send(outFrame{Event: string(progress.KindFinal), Data: progress.Failure("query is required")})
		return
	}

	if !s.startRun() {
		_ = conn.send(outFrame{Event: string(progress.KindFinal), Data: progress.Failure("server is shutting down")})
		return
	}

	runID := uuid.NewString()
	logx.Info().Str("conn_id", connID).Str("run_id", runID).Msg("Query received")

	events := progress.NewChannel(s.cfg.EventBuffer)
	start := time.Now()
	s.metrics.started(ctx)

	go func() {
		defer s.runs.Done()
		defer events.Close()
		s.runner.Stream(ctx, model.RunInput{
			RunID:         runID,
			Query:         in.Query,
			UsersLocation: in.Location,
		}, events)
	}()
	go func() {
		defer s.runs.Done()
		for e := range events.Events() {
			if e.Kind == progress.KindFinal {
				s.metrics.finished(context.Background(), start, e.ErrorMsg != "")
			}
			if err := conn.send(outFrame{Event: string(e.Kind), Data: e}); err != nil {
				logx.Debug().Err(err).Str("run_id", runID).Msg("Dropping event for closed client")
			}
		}
		if n := events.Dropped(); n > 0 {
			logx.Warn().Str("run_id", runID).Int("dropped", n).Msg("Progress events dropped")
		}
	}()
}

// startRun registers a run's two goroutines unless Shutdown has begun.
func (s *Server) startRun() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.runs.Add(2)
	return true
}

func (s *Server) keepAlive(ctx context.Context, conn *connection) {
	ticker := time.NewTicker(s.cfg.PongWait * 9 / 10)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := conn.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (s *Server) track(c *websocket.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
}
