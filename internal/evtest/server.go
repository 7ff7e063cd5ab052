// Package evtest runs an in-process event server for wire-level tests: a chi
// route upgrading to WebSocket, with helpers to push events and to kill live
// connections to exercise the reconnect path.
package evtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// Frame is one message received from the client under test.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type Server struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu         sync.Mutex
	conns      []*websocket.Conn
	validToken string
	dials      int

	received chan Frame
}

func New() *Server {
	s := &Server{
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		received: make(chan Frame, 256),
	}
	r := chi.NewRouter()
	r.Get("/ws", s.serveWS)
	s.srv = httptest.NewServer(r)
	return s
}

// URL returns the ws:// endpoint clients should dial.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
}

// RequireToken makes the server reject dials whose token query differs.
func (s *Server) RequireToken(token string) {
	s.mu.Lock()
	s.validToken = token
	s.mu.Unlock()
}

// Dials reports how many upgrade attempts reached the server.
func (s *Server) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// Received exposes frames sent by the client under test.
func (s *Server) Received() <-chan Frame { return s.received }

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.dials++
	valid := s.validToken
	s.mu.Unlock()
	if valid != "" && r.URL.Query().Get("token") != valid {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f Frame
			if json.Unmarshal(raw, &f) == nil {
				select {
				case s.received <- f:
				default:
				}
			}
		}
	}()
}

// Push sends one event to every connected client.
func (s *Server) Push(typ string, payload any) error {
	data, err := json.Marshal(map[string]any{"type": typ, "payload": payload})
	if err != nil {
		return err
	}
	s.mu.Lock()
	conns := append([]*websocket.Conn(nil), s.conns...)
	s.mu.Unlock()
	for _, c := range conns {
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			continue
		}
	}
	return nil
}

// DropConnections force-closes every live connection, simulating a transport
// fault without stopping the server.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

func (s *Server) Close() {
	s.DropConnections()
	s.srv.Close()
}
