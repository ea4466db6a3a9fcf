// Package progress streams the per-section fixpoint milestones that
// internal/verifier reports (one when a section's analysis starts, one when
// it finishes; there are no per-block milestones) plus a done frame per
// section over a WebSocket connection while a verification run is in
// flight: an
// http.Server wrapping a gorilla/websocket Upgrader, a registry of
// connected clients guarded by a mutex, and a broadcast that writes to
// every client and drops ones whose write fails. The surface is the one
// thing a verifier run needs -- publish progress frames, let clients
// subscribe -- not bidirectional messaging.
package progress

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"ebpfverify/internal/verifier"
)

// Frame is one JSON message pushed to subscribers: a fixpoint milestone for
// a single run, identified by RunID so a client watching multiple
// concurrent verifications can demultiplex.
type Frame struct {
	RunID   string `json:"run_id"`
	Section string `json:"section"`
	Block   int    `json:"block"`
	Total   int    `json:"total"`
	Done    bool   `json:"done"`
}

// Server upgrades HTTP connections to WebSockets and fans out Frames
// published via Publish to every currently-connected client.
type Server struct {
	upgrader websocket.Upgrader
	httpSrv  *http.Server

	mu      sync.RWMutex
	clients map[string]*client
}

type client struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewServer builds a progress server listening on addr (e.g. "127.0.0.1:8787").
// The HTTP server is started in the background by Start.
func NewServer(addr string) *Server {
	s := &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/progress", s.handleUpgrade)
	s.httpSrv = &http.Server{Addr: addr, Handler: mux}
	return s
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{id: uuid.New().String(), conn: conn}
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	go func() {
		defer s.drop(c.id)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) drop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[id]; ok {
		c.conn.Close()
		delete(s.clients, id)
	}
}

// Start runs the HTTP server in the background. Call Shutdown to stop it.
func (s *Server) Start() {
	go s.httpSrv.ListenAndServe()
}

// Shutdown stops accepting new connections and closes all current ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for id, c := range s.clients {
		c.conn.Close()
		delete(s.clients, id)
	}
	s.mu.Unlock()
	return s.httpSrv.Shutdown(ctx)
}

// broadcast sends frame to every connected client, dropping any whose
// write fails.
func (s *Server) broadcast(f Frame) {
	b, err := json.Marshal(f)
	if err != nil {
		return
	}
	s.mu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		c.mu.Lock()
		err := c.conn.WriteMessage(websocket.TextMessage, b)
		c.mu.Unlock()
		if err != nil {
			s.drop(c.id)
		}
	}
}

// Hook returns a verifier.Options.OnProgress callback that republishes every
// milestone for runID to connected clients, plus a completion function the
// caller must invoke once VerifyObject returns so subscribers see Done.
func (s *Server) Hook(runID string) (func(verifier.Progress), func(section string)) {
	onProgress := func(p verifier.Progress) {
		s.broadcast(Frame{RunID: runID, Section: p.Section, Block: p.Block, Total: p.Total})
	}
	done := func(section string) {
		s.broadcast(Frame{RunID: runID, Section: section, Done: true})
	}
	return onProgress, done
}

// Addr reports the server's configured listen address, for log output.
func (s *Server) Addr() string { return s.httpSrv.Addr }
