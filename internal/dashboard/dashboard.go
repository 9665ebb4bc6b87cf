// Package dashboard serves a push-only WebSocket feed of live tracker
// counters, upgraded with gobwas/ws the way ws/internal/shared serves
// its client connections. Unlike the teacher's Client, a dashboard
// connection never reads subscription state back in: readPump exists
// only to notice disconnects, and writePump only ever pushes periodic
// counter snapshots plus keepalive pings.
package dashboard

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
)

const (
	pingPeriod = 25 * time.Second
	writeWait  = 10 * time.Second
)

// CountersSource supplies the current per-topic counter snapshot on
// demand. *tracker.Registry satisfies this via its Snapshot method,
// adapted to the dashboard's own Snapshot type by the caller.
type CountersSource interface {
	Snapshot() map[string]Snapshot
}

// Snapshot mirrors tracker.Snapshot without importing the tracker
// package, keeping dashboard independently testable.
type Snapshot struct {
	OutOfSeq  uint64 `json:"out_of_seq"`
	Duplicate uint64 `json:"duplicate"`
	Loss      uint64 `json:"loss"`
}

// Server serves GET /counters as a WebSocket upgrade, pushing a JSON
// counters snapshot to every connected client on each tick.
type Server struct {
	logger zerolog.Logger
	source CountersSource
	period time.Duration

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn      net.Conn
	send      chan []byte
	closeOnce sync.Once
}

// New constructs a dashboard Server. period controls how often
// snapshots are pushed to connected clients.
func New(source CountersSource, period time.Duration, logger zerolog.Logger) *Server {
	return &Server{
		logger:  logger,
		source:  source,
		period:  period,
		clients: make(map[*client]struct{}),
	}
}

// Handler returns the http.Handler for the counters WebSocket endpoint.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serveWS)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Debug().Err(err).Msg("dashboard upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 8)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	s.logger.Debug().Msg("dashboard client connected")

	go s.writePump(c)
	go s.readPump(c)
}

// readPump drains inbound frames purely to detect close/read errors;
// the dashboard has nothing to do with client payloads.
func (s *Server) readPump(c *client) {
	defer s.removeClient(c)
	for {
		if _, _, err := wsutil.ReadClientData(c.conn); err != nil {
			return
		}
	}
}

func (s *Server) writePump(c *client) {
	writer := bufio.NewWriter(c.conn)
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.removeClient(c)
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(writer, ws.OpText, payload); err != nil {
				return
			}
			if err := writer.Flush(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	_, present := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()
	if !present {
		return
	}
	c.closeOnce.Do(func() {
		close(c.send)
		c.conn.Close()
	})
}

// Run periodically pushes a counters snapshot to every connected
// client until ctx is cancelled. Call it in its own goroutine.
func (s *Server) Run(ctx context.Context) {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcast()
		}
	}
}

func (s *Server) broadcast() {
	payload, err := json.Marshal(s.source.Snapshot())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to marshal counters snapshot")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- payload:
		default:
			s.logger.Debug().Msg("dashboard client too slow, dropping snapshot")
		}
	}
}
