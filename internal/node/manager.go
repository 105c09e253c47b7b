package node

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/petervdpas/lavaman/internal/metrics"
	"github.com/petervdpas/lavaman/internal/proto"
	"github.com/petervdpas/lavaman/internal/util"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultEventBuffer   = 256
	DefaultDroppedMemory = 100
)

// SessionStore remembers session ids across restarts so nodes can resume.
type SessionStore interface {
	SaveSession(ctx context.Context, nodeID, sessionID string) error
	LoadSession(ctx context.Context, nodeID string) (string, error)
}

type ManagerOptions struct {
	Identity Identity

	// EventBuffer is the capacity of the shared event channel.
	EventBuffer int

	// DroppedMemory is how many dropped events are kept for inspection.
	DroppedMemory int

	Sessions SessionStore

	// ResumeTimeout, when > 0, enables session resuming on every ready
	// node with this timeout.
	ResumeTimeout time.Duration
}

// DroppedEvent is a message that did not fit on the event channel.
type DroppedEvent struct {
	At      time.Time     `json:"at"`
	Message proto.Message `json:"message"`
}

// Manager is the registry of nodes. All nodes write into one bounded event
// channel.
type Manager struct {
	opts    ManagerOptions
	events  chan proto.Message
	dropped *util.RingBuffer[DroppedEvent]

	mu      sync.RWMutex
	nodes   map[string]*Node
	order   []string
	pending map[string]struct{}
}

func NewManager(opts ManagerOptions) *Manager {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultEventBuffer
	}
	if opts.DroppedMemory <= 0 {
		opts.DroppedMemory = DefaultDroppedMemory
	}
	if opts.Identity.ClientName == "" {
		opts.Identity.ClientName = proto.DefaultClientName
	}
	return &Manager{
		opts:    opts,
		events:  make(chan proto.Message, opts.EventBuffer),
		dropped: util.NewRingBuffer[DroppedEvent](opts.DroppedMemory),
		nodes:   make(map[string]*Node),
		pending: make(map[string]struct{}),
	}
}

func (m *Manager) Identity() Identity { return m.opts.Identity }

// Events is the shared stream of every decoded message from every node.
func (m *Manager) Events() <-chan proto.Message { return m.events }

// Dropped returns the most recent events lost to a full channel.
func (m *Manager) Dropped() []DroppedEvent { return m.dropped.Snapshot() }

// DroppedTotal counts every event lost since start.
func (m *Manager) DroppedTotal() uint64 { return m.dropped.Total() }

func (m *Manager) forward(msg proto.Message) {
	select {
	case m.events <- msg:
		metrics.EventsForwarded.WithLabelValues(msg.NodeID, msg.Op).Inc()
	default:
		metrics.EventsDropped.WithLabelValues(msg.NodeID, msg.Op).Inc()
		m.dropped.Push(DroppedEvent{At: time.Now(), Message: msg})
		log.Warnf("event channel full, dropped %s from node %s", msg.Op, msg.NodeID)
	}
}

func (m *Manager) onReady(n *Node, r proto.Ready) {
	if m.opts.Sessions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), util.ShortTimeout)
		if err := m.opts.Sessions.SaveSession(ctx, n.ID(), r.SessionID); err != nil {
			log.Warnf("node %s: remember session: %v", n.ID(), err)
		}
		cancel()
	}
	if m.opts.ResumeTimeout > 0 {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), n.opts.RequestTimeout)
			defer cancel()
			secs := int64(m.opts.ResumeTimeout / time.Second)
			if _, err := n.UpdateSession(ctx, true, secs); err != nil {
				log.Warnf("node %s: enable resuming: %v", n.ID(), err)
			}
		}()
	}
}

// AddNode connects a new node and registers it once the handshake succeeds.
// A failed connect leaves the registry unchanged.
func (m *Manager) AddNode(ctx context.Context, opts Options) (*Node, error) {
	if strings.TrimSpace(opts.ID) == "" {
		opts.ID = uuid.NewString()
	}

	m.mu.Lock()
	_, exists := m.nodes[opts.ID]
	_, busy := m.pending[opts.ID]
	if exists || busy {
		m.mu.Unlock()
		return nil, fmt.Errorf("node %s: %w", opts.ID, ErrDuplicateNode)
	}
	m.pending[opts.ID] = struct{}{}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.pending, opts.ID)
		m.mu.Unlock()
	}()

	if opts.SessionID == "" && m.opts.Sessions != nil {
		if sid, err := m.opts.Sessions.LoadSession(ctx, opts.ID); err == nil {
			opts.SessionID = sid
		} else {
			log.Warnf("node %s: load session: %v", opts.ID, err)
		}
	}

	n := New(opts, m.forward)
	n.onReady = m.onReady
	if err := n.Connect(ctx, m.opts.Identity); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.nodes[opts.ID] = n
	m.order = append(m.order, opts.ID)
	m.mu.Unlock()
	return n, nil
}

// AddNodes connects many nodes concurrently. Nodes that connect are
// registered even if others fail; the first error is returned.
func (m *Manager) AddNodes(ctx context.Context, opts []Options) error {
	var g errgroup.Group
	for _, o := range opts {
		g.Go(func() error {
			_, err := m.AddNode(ctx, o)
			return err
		})
	}
	return g.Wait()
}

func (m *Manager) Node(id string) (*Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id]
	return n, ok
}

// Nodes returns all nodes in registration order.
func (m *Manager) Nodes() []*Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Node, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.nodes[id])
	}
	return out
}

// RemoveNode unregisters a node without closing it.
func (m *Manager) RemoveNode(id string) (*Node, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return nil, false
	}
	delete(m.nodes, id)
	for i, o := range m.order {
		if o == id {
			m.order = append(m.order[:i:i], m.order[i+1:]...)
			break
		}
	}
	return n, true
}

// Reconnect is the explicit reconnection call for a disconnected node.
func (m *Manager) Reconnect(ctx context.Context, id string) error {
	n, ok := m.Node(id)
	if !ok {
		return fmt.Errorf("node %s: %w", id, ErrNodeNotFound)
	}
	return n.Connect(ctx, m.opts.Identity)
}

// LeastUsed picks the connected node with the fewest assigned players. Ties
// go to the earliest registered node.
func (m *Manager) LeastUsed() (*Node, error) { return m.LeastUsedExcept() }

// LeastUsedExcept is LeastUsed ignoring the given node ids.
func (m *Manager) LeastUsedExcept(skip ...string) (*Node, error) {
	var best *Node
	for _, n := range m.Nodes() {
		if !n.Connected() || slices.Contains(skip, n.ID()) {
			continue
		}
		if best == nil || n.PlayerCount() < best.PlayerCount() {
			best = n
		}
	}
	if best == nil {
		return nil, ErrNoNodes
	}
	return best, nil
}

// Assign records that a player is bound to n.
func (m *Manager) Assign(n *Node) { n.addPlayers(1) }

// Release undoes Assign.
func (m *Manager) Release(n *Node) { n.addPlayers(-1) }

// Close closes every registered node.
func (m *Manager) Close() {
	for _, n := range m.Nodes() {
		if err := n.Close(); err != nil {
			log.Warnf("close node %s: %v", n.ID(), err)
		}
	}
}
