// Package manager owns the guild to player registry and routes node
// events to players and subscribers.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/petervdpas/lavaman/internal/metrics"
	"github.com/petervdpas/lavaman/internal/node"
	"github.com/petervdpas/lavaman/internal/player"
	"github.com/petervdpas/lavaman/internal/proto"
	"github.com/petervdpas/lavaman/internal/queue"
)

var log = logging.Logger("lavaman/manager")

var (
	ErrPlayerExists   = errors.New("player already exists for guild")
	ErrPlayerNotFound = errors.New("player not found")
)

const DefaultSubscriberBuffer = 64

type Options struct {
	// Store persists queues. Defaults to an in-memory store.
	Store             queue.Store
	MaxPreviousTracks int
	Watcher           queue.Watcher

	// RestoreQueues syncs a new player's queue from Store.
	RestoreQueues bool

	Player           player.Config
	SubscriberBuffer int
}

type Manager struct {
	nodes *node.Manager
	opts  Options

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	players map[string]*player.Player

	listenerMu sync.RWMutex
	listeners  map[chan proto.Message]struct{}
}

func New(nodes *node.Manager, opts Options) *Manager {
	if opts.Store == nil {
		opts.Store = queue.NewMemoryStore()
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = DefaultSubscriberBuffer
	}
	if opts.Player.Platforms == nil {
		opts.Player.Platforms = proto.DefaultPlatforms()
	}
	if opts.Player.SearchPlatform == "" {
		opts.Player.SearchPlatform = proto.DefaultSearchPlatform
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		nodes:     nodes,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		players:   make(map[string]*player.Player),
		listeners: make(map[chan proto.Message]struct{}),
	}
}

func (m *Manager) Nodes() *node.Manager { return m.nodes }

// CreatePlayer registers a player for opts.GuildID on the node named by
// opts.Node, or on the least used node.
func (m *Manager) CreatePlayer(ctx context.Context, opts player.Options) (*player.Player, error) {
	if opts.GuildID == "" {
		return nil, errors.New("guild id is required")
	}

	m.mu.Lock()
	if _, ok := m.players[opts.GuildID]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("guild %s: %w", opts.GuildID, ErrPlayerExists)
	}
	n, err := m.pickNode(opts.Node)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	q := queue.New(opts.GuildID, queue.Options{
		MaxPreviousTracks: m.opts.MaxPreviousTracks,
		Store:             m.opts.Store,
		Watcher:           m.opts.Watcher,
	})
	p := player.New(opts, n, q, m.opts.Player)
	m.players[opts.GuildID] = p
	m.nodes.Assign(n)
	count := len(m.players)
	m.mu.Unlock()

	metrics.Players.Set(float64(count))
	go p.Run(m.ctx)

	if m.opts.RestoreQueues {
		if err := q.Sync(ctx, true, false); err != nil && !errors.Is(err, queue.ErrNoStoredQueue) {
			log.Warnw("queue restore failed", "guild", opts.GuildID, "err", err)
		}
	}
	log.Debugw("player created", "guild", opts.GuildID, "node", n.ID())
	return p, nil
}

func (m *Manager) pickNode(id string) (*node.Node, error) {
	if id == "" {
		return m.nodes.LeastUsed()
	}
	n, ok := m.nodes.Node(id)
	if !ok {
		return nil, fmt.Errorf("node %s: %w", id, node.ErrNodeNotFound)
	}
	return n, nil
}

func (m *Manager) GetPlayer(guildID string) (*player.Player, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.players[guildID]
	return p, ok
}

// Players returns every player ordered by guild id.
func (m *Manager) Players() []*player.Player {
	m.mu.RLock()
	out := make([]*player.Player, 0, len(m.players))
	for _, p := range m.players {
		out = append(out, p)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].GuildID() < out[j].GuildID() })
	return out
}

// DeletePlayer drops a player from the registry and ends its event loop
// without touching the node.
func (m *Manager) DeletePlayer(guildID string) bool {
	m.mu.Lock()
	p, ok := m.players[guildID]
	if ok {
		delete(m.players, guildID)
	}
	count := len(m.players)
	m.mu.Unlock()
	if !ok {
		return false
	}
	p.Stop()
	m.release(p)
	metrics.Players.Set(float64(count))
	return true
}

// DestroyPlayer destroys the player remotely, deletes its stored queue and
// removes it from the registry. Registry removal happens even when the
// remote calls fail.
func (m *Manager) DestroyPlayer(ctx context.Context, guildID string, disconnect bool) error {
	p, ok := m.GetPlayer(guildID)
	if !ok {
		return fmt.Errorf("guild %s: %w", guildID, ErrPlayerNotFound)
	}
	err := p.Destroy(ctx, disconnect)
	m.DeletePlayer(guildID)
	return err
}

func (m *Manager) release(p *player.Player) {
	if n, ok := p.Node().(*node.Node); ok {
		m.nodes.Release(n)
	}
}

// ChangeNode moves one player to the node with the given id.
func (m *Manager) ChangeNode(ctx context.Context, guildID, nodeID string) error {
	p, ok := m.GetPlayer(guildID)
	if !ok {
		return fmt.Errorf("guild %s: %w", guildID, ErrPlayerNotFound)
	}
	to, ok := m.nodes.Node(nodeID)
	if !ok {
		return fmt.Errorf("node %s: %w", nodeID, node.ErrNodeNotFound)
	}
	return m.move(ctx, p, to)
}

func (m *Manager) move(ctx context.Context, p *player.Player, to *node.Node) error {
	from := p.Node()
	err := p.ChangeNode(ctx, to)
	if p.Node() != from {
		if n, ok := from.(*node.Node); ok {
			m.nodes.Release(n)
		}
		m.nodes.Assign(to)
	}
	if err != nil {
		metrics.Migrations.WithLabelValues("error").Inc()
		return err
	}
	metrics.Migrations.WithLabelValues("ok").Inc()
	return nil
}

// MoveNodePlayers migrates every player on fromID to the least used other
// node. Failures are collected; the remaining players are still moved.
func (m *Manager) MoveNodePlayers(ctx context.Context, fromID string) error {
	var errs []error
	for _, p := range m.Players() {
		if p.NodeID() != fromID {
			continue
		}
		to, err := m.nodes.LeastUsedExcept(fromID)
		if err != nil {
			return errors.Join(append(errs, err)...)
		}
		if err := m.move(ctx, p, to); err != nil {
			errs = append(errs, fmt.Errorf("guild %s: %w", p.GuildID(), err))
		}
	}
	return errors.Join(errs...)
}

// VoiceServerUpdate forwards gateway voice credentials to the guild's player.
func (m *Manager) VoiceServerUpdate(ctx context.Context, guildID string, vs proto.VoiceState) error {
	p, ok := m.GetPlayer(guildID)
	if !ok {
		return fmt.Errorf("guild %s: %w", guildID, ErrPlayerNotFound)
	}
	return p.UpdateVoice(ctx, vs)
}

// Search runs a one-off load on the least used node.
func (m *Manager) Search(ctx context.Context, query string) (*proto.LoadResult, error) {
	n, err := m.nodes.LeastUsed()
	if err != nil {
		return nil, err
	}
	return n.LoadTracks(ctx, player.SearchQuery(player.PlatformPrefix(m.opts.Player.Platforms, m.opts.Player.SearchPlatform), query))
}

// Subscribe returns a channel receiving every node message after it was
// applied to its player. Slow subscribers miss messages.
func (m *Manager) Subscribe() (ch <-chan proto.Message, cancel func()) {
	c := make(chan proto.Message, m.opts.SubscriberBuffer)

	m.listenerMu.Lock()
	m.listeners[c] = struct{}{}
	m.listenerMu.Unlock()

	cancel = func() {
		m.listenerMu.Lock()
		if _, ok := m.listeners[c]; ok {
			delete(m.listeners, c)
			close(c)
		}
		m.listenerMu.Unlock()
	}
	return c, cancel
}

// Run dispatches node events until ctx ends.
func (m *Manager) Run(ctx context.Context) {
	events := m.nodes.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-events:
			m.dispatch(msg)
		}
	}
}

func (m *Manager) dispatch(msg proto.Message) {
	switch {
	case msg.Ready != nil && !msg.Ready.Resumed:
		go m.restoreNode(msg.NodeID)
	case msg.GuildID() != "":
		if p, ok := m.GetPlayer(msg.GuildID()); ok {
			p.Deliver(msg)
		}
	}

	m.listenerMu.RLock()
	for ch := range m.listeners {
		select {
		case ch <- msg:
		default:
		}
	}
	m.listenerMu.RUnlock()
}

// restoreNode re-sends every player on a node that came back with a fresh
// session.
func (m *Manager) restoreNode(nodeID string) {
	for _, p := range m.Players() {
		if p.NodeID() != nodeID {
			continue
		}
		if err := p.Restore(m.ctx); err != nil {
			log.Warnw("restore player failed", "guild", p.GuildID(), "node", nodeID, "err", err)
		}
	}
}

// Close stops player loops and closes subscriber channels. Nodes are left
// to their own manager.
func (m *Manager) Close() {
	m.cancel()

	m.listenerMu.Lock()
	for ch := range m.listeners {
		close(ch)
	}
	m.listeners = map[chan proto.Message]struct{}{}
	m.listenerMu.Unlock()
}
