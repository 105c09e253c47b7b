package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"
	"github.com/petervdpas/lavaman/internal/metrics"
	"github.com/petervdpas/lavaman/internal/proto"
	"github.com/petervdpas/lavaman/internal/util"
)

var log = logging.Logger("lavaman/node")

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Ready
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Ready:
		return "ready"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type Options struct {
	ID       string `json:"id"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Secure   bool   `json:"secure"`
	Password string `json:"-"`

	// SessionID is sent as Session-Id on the first connect to resume a
	// previous session.
	SessionID string `json:"-"`

	// RequestTimeout bounds every REST call. Zero uses the default.
	RequestTimeout time.Duration `json:"-"`
}

// Identity is the caller identity presented on the websocket handshake.
type Identity struct {
	UserID     string
	ClientName string
}

// Node is one remote audio server: a websocket session plus its REST API.
type Node struct {
	opts   Options
	http   *http.Client
	dialer *websocket.Dialer
	sink   func(proto.Message)

	// onReady runs on the read loop after a ready frame was applied.
	onReady func(n *Node, r proto.Ready)

	players atomic.Int64

	mu        sync.RWMutex
	state     State
	sessionID string
	resumeID  string
	stats     *proto.Stats
	conn      *websocket.Conn
	done      chan struct{}
}

// New creates a disconnected node. Every decoded inbound message is passed
// to sink, which must not block.
func New(opts Options, sink func(proto.Message)) *Node {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = util.DefaultRequestTimeout
	}
	if sink == nil {
		sink = func(proto.Message) {}
	}
	return &Node{
		opts:     opts,
		http:     &http.Client{Timeout: opts.RequestTimeout},
		dialer:   &websocket.Dialer{HandshakeTimeout: util.DefaultConnectTimeout, Proxy: http.ProxyFromEnvironment},
		sink:     sink,
		resumeID: opts.SessionID,
	}
}

func (n *Node) ID() string { return n.opts.ID }

func (n *Node) Options() Options { return n.opts }

func (n *Node) hostPort() string {
	return n.opts.Host + ":" + strconv.Itoa(n.opts.Port)
}

func (n *Node) RESTURL() string {
	if n.opts.Secure {
		return "https://" + n.hostPort()
	}
	return "http://" + n.hostPort()
}

func (n *Node) WebSocketURL() string {
	if n.opts.Secure {
		return "wss://" + n.hostPort() + proto.WebSocketPath
	}
	return "ws://" + n.hostPort() + proto.WebSocketPath
}

func (n *Node) State() State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// Connected reports whether the websocket is open, ready or not.
func (n *Node) Connected() bool {
	s := n.State()
	return s == Connected || s == Ready
}

// SessionID returns the live session id, or "" before ready and after
// disconnect.
func (n *Node) SessionID() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.sessionID
}

// Stats returns the last stats frame, or nil if none arrived yet.
func (n *Node) Stats() *proto.Stats {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.stats == nil {
		return nil
	}
	s := *n.stats
	return &s
}

// PlayerCount is the number of players this client has bound to the node.
func (n *Node) PlayerCount() int { return int(n.players.Load()) }

func (n *Node) addPlayers(d int64) {
	v := n.players.Add(d)
	if v < 0 {
		n.players.Store(0)
		v = 0
	}
	metrics.NodeAssignedPlayers.WithLabelValues(n.opts.ID).Set(float64(v))
}

// Connect opens the websocket and starts the read loop. It returns once the
// handshake completes and does not retry.
func (n *Node) Connect(ctx context.Context, id Identity) error {
	n.mu.Lock()
	switch n.state {
	case Connecting:
		n.mu.Unlock()
		return ErrConnecting
	case Connected, Ready:
		n.mu.Unlock()
		return nil
	}
	n.state = Connecting
	resume := n.resumeID
	n.mu.Unlock()

	clientName := id.ClientName
	if clientName == "" {
		clientName = proto.DefaultClientName
	}
	h := http.Header{}
	h.Set(proto.HeaderAuthorization, n.opts.Password)
	h.Set(proto.HeaderUserID, id.UserID)
	h.Set(proto.HeaderClientName, clientName)
	if resume != "" {
		h.Set(proto.HeaderSessionID, resume)
	}

	conn, resp, err := n.dialer.DialContext(ctx, n.WebSocketURL(), h)
	if err != nil {
		n.mu.Lock()
		n.state = Disconnected
		n.mu.Unlock()
		if resp != nil {
			resp.Body.Close()
			return fmt.Errorf("connect node %s: handshake status %s: %w", n.opts.ID, resp.Status, err)
		}
		return fmt.Errorf("connect node %s: %w", n.opts.ID, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	done := make(chan struct{})
	n.mu.Lock()
	n.conn = conn
	n.done = done
	n.state = Connected
	n.mu.Unlock()

	metrics.NodeUp.WithLabelValues(n.opts.ID).Set(1)
	log.Infof("connected to node %s at %s", n.opts.ID, n.hostPort())

	go n.readLoop(conn, done)
	return nil
}

func (n *Node) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				log.Warnf("node %s closed the websocket: %d %s", n.opts.ID, ce.Code, ce.Text)
			} else {
				log.Warnf("node %s websocket error: %v", n.opts.ID, err)
			}
			n.markDisconnected(conn)
			return
		}

		msg, err := proto.DecodeMessage(n.opts.ID, data)
		if err != nil {
			metrics.FramesDropped.WithLabelValues(n.opts.ID).Inc()
			log.Errorf("node %s: dropping frame: %v", n.opts.ID, err)
			continue
		}
		n.apply(msg)
		n.sink(msg)
	}
}

func (n *Node) apply(msg proto.Message) {
	switch {
	case msg.Ready != nil:
		n.mu.Lock()
		n.sessionID = msg.Ready.SessionID
		n.resumeID = msg.Ready.SessionID
		n.state = Ready
		n.mu.Unlock()
		log.Infof("node %s is ready with session %s (resumed=%v)", n.opts.ID, msg.Ready.SessionID, msg.Ready.Resumed)
		if n.onReady != nil {
			n.onReady(n, *msg.Ready)
		}
	case msg.Stats != nil:
		s := *msg.Stats
		n.mu.Lock()
		n.stats = &s
		n.mu.Unlock()
		metrics.NodeRemotePlayers.WithLabelValues(n.opts.ID).Set(float64(s.Players))
	}
}

// markDisconnected clears session state if conn is still the active socket.
func (n *Node) markDisconnected(conn *websocket.Conn) {
	n.mu.Lock()
	if n.conn != conn {
		n.mu.Unlock()
		return
	}
	n.conn = nil
	n.sessionID = ""
	n.state = Disconnected
	n.mu.Unlock()
	conn.Close()
	metrics.NodeUp.WithLabelValues(n.opts.ID).Set(0)
}

// Close sends a close frame and waits for the read loop to exit.
func (n *Node) Close() error {
	n.mu.RLock()
	conn, done := n.conn, n.done
	n.mu.RUnlock()
	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"),
		time.Now().Add(util.ShortTimeout))

	select {
	case <-done:
	case <-time.After(util.ShortTimeout):
		n.markDisconnected(conn)
		<-done
	}
	return nil
}
