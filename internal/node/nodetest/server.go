// Package nodetest runs an in-process audio node for tests.
package nodetest

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/petervdpas/lavaman/internal/proto"
)

const Password = "youshallnotpass"

// Request is one REST call the server received.
type Request struct {
	Method string
	Path   string
	Query  string
	Body   []byte
}

// Server speaks enough of the node protocol for client tests. It sends a
// ready frame with SessionID right after each websocket handshake unless
// SessionID is empty.
type Server struct {
	*httptest.Server

	SessionID string

	// Search answers /v4/loadtracks by identifier. Missing entries yield an
	// empty result.
	Search map[string]proto.LoadResult

	// Status forces every REST response to this code when non-zero.
	Status atomic.Int32

	upgrader websocket.Upgrader

	mu        sync.Mutex
	requests  []Request
	handshake http.Header
	conns     []*websocket.Conn
	connected chan struct{}
}

func New() *Server {
	s := &Server{
		SessionID: "session-1",
		Search:    map[string]proto.LoadResult{},
		connected: make(chan struct{}, 16),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// HostPort splits the listener address for node.Options.
func (s *Server) HostPort() (string, int) {
	host, port, _ := net.SplitHostPort(s.Listener.Addr().String())
	p, _ := strconv.Atoi(port)
	return host, p
}

// SetSessionID changes the session handed out on later handshakes. An empty
// id keeps new connections from ever becoming ready.
func (s *Server) SetSessionID(id string) {
	s.mu.Lock()
	s.SessionID = id
	s.mu.Unlock()
}

// Connected fires once per accepted websocket.
func (s *Server) Connected() <-chan struct{} { return s.connected }

func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

func (s *Server) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// LastRequest returns the newest REST call or a zero Request.
func (s *Server) LastRequest() Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return Request{}
	}
	return s.requests[len(s.requests)-1]
}

func (s *Server) Handshake() http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handshake.Clone()
}

// Send writes a frame to every connected websocket.
func (s *Server) Send(frame any) {
	b, _ := json.Marshal(frame)
	s.SendRaw(b)
}

func (s *Server) SendRaw(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.WriteMessage(websocket.TextMessage, b)
	}
}

// Close drops all websockets and shuts the server down.
func (s *Server) Close() {
	s.Drop()
	s.Server.Close()
}

// Drop closes every websocket without a close handshake.
func (s *Server) Drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(proto.HeaderAuthorization) != Password {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.URL.Path == proto.WebSocketPath {
		s.serveWS(w, r)
		return
	}

	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.requests = append(s.requests, Request{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: body})
	s.mu.Unlock()

	if code := s.Status.Load(); code != 0 {
		http.Error(w, "forced failure", int(code))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/version":
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "4.0.8")
	case r.URL.Path == "/v4/loadtracks":
		res, ok := s.Search[r.URL.Query().Get("identifier")]
		if !ok {
			res = proto.LoadResult{LoadType: proto.LoadEmpty, Data: json.RawMessage(`{}`)}
		}
		json.NewEncoder(w).Encode(res)
	case r.URL.Path == "/v4/stats":
		json.NewEncoder(w).Encode(proto.Stats{Players: 1, Uptime: 1})
	case r.URL.Path == "/v4/info":
		json.NewEncoder(w).Encode(proto.Info{Version: proto.Version{Semver: "4.0.8", Major: 4}})
	case strings.HasPrefix(r.URL.Path, "/v4/sessions/"):
		s.serveSession(w, r, body)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) serveSession(w http.ResponseWriter, r *http.Request, body []byte) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v4/sessions/"), "/")
	switch {
	case len(parts) == 1 && r.Method == http.MethodPatch:
		w.Write(body)
	case len(parts) == 2 && r.Method == http.MethodGet:
		io.WriteString(w, "[]")
	case len(parts) == 3 && r.Method == http.MethodPatch:
		var u proto.UpdatePlayer
		json.Unmarshal(body, &u)
		rp := proto.RemotePlayer{GuildID: parts[2], Volume: proto.DefaultVolume}
		if u.Volume != nil {
			rp.Volume = *u.Volume
		}
		if u.Paused != nil {
			rp.Paused = *u.Paused
		}
		json.NewEncoder(w).Encode(rp)
	case len(parts) == 3 && r.Method == http.MethodGet:
		json.NewEncoder(w).Encode(proto.RemotePlayer{GuildID: parts[2]})
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	c, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.handshake = r.Header.Clone()
	s.conns = append(s.conns, c)
	sid := s.SessionID
	if sid != "" {
		b, _ := json.Marshal(map[string]any{"op": proto.OpReady, "sessionId": sid, "resumed": r.Header.Get(proto.HeaderSessionID) != ""})
		_ = c.WriteMessage(websocket.TextMessage, b)
	}
	s.mu.Unlock()

	select {
	case s.connected <- struct{}{}:
	default:
	}

	// Drain until the client goes away; gorilla answers close frames itself.
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}
