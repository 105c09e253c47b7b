package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/petervdpas/lavaman/internal/queue"
)

const (
	KindMemory   = "memory"
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
	KindBadger   = "badger"
)

// Backend is everything the runtime persists: queue snapshots and the last
// session id per node.
type Backend interface {
	queue.Store
	Guilds(ctx context.Context) ([]string, error)
	SaveSession(ctx context.Context, nodeID, sessionID string) error
	LoadSession(ctx context.Context, nodeID string) (string, error)
	Close() error
}

// OpenBackend opens the backend of the given kind. For sqlite and badger dsn
// is a directory, for postgres a connection string.
func OpenBackend(kind, dsn string) (Backend, error) {
	switch kind {
	case "", KindMemory:
		return NewMemory(), nil
	case KindSQLite:
		return OpenSQLite(dsn)
	case KindPostgres:
		return Open(DriverPostgres, dsn)
	case KindBadger:
		return OpenKV(dsn)
	}
	return nil, fmt.Errorf("unknown storage kind %q", kind)
}

// Memory keeps queues and sessions in process memory.
type Memory struct {
	*queue.MemoryStore

	mu       sync.RWMutex
	sessions map[string]string
	guilds   map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		MemoryStore: queue.NewMemoryStore(),
		sessions:    make(map[string]string),
		guilds:      make(map[string]struct{}),
	}
}

func (m *Memory) Set(ctx context.Context, guildID string, blob []byte) error {
	m.mu.Lock()
	m.guilds[guildID] = struct{}{}
	m.mu.Unlock()
	return m.MemoryStore.Set(ctx, guildID, blob)
}

func (m *Memory) Delete(ctx context.Context, guildID string) (bool, error) {
	m.mu.Lock()
	delete(m.guilds, guildID)
	m.mu.Unlock()
	return m.MemoryStore.Delete(ctx, guildID)
}

func (m *Memory) Guilds(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.guilds))
	for g := range m.guilds {
		out = append(out, g)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) SaveSession(_ context.Context, nodeID, sessionID string) error {
	m.mu.Lock()
	m.sessions[nodeID] = sessionID
	m.mu.Unlock()
	return nil
}

func (m *Memory) LoadSession(_ context.Context, nodeID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[nodeID], nil
}

func (m *Memory) Close() error { return nil }
