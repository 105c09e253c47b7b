package queue

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/petervdpas/lavaman/internal/proto"
)

// Snapshot is the persisted form of a queue.
type Snapshot struct {
	Current  *proto.Track       `json:"current"`
	Previous []proto.Track      `json:"previous"`
	Tracks   []proto.QueueTrack `json:"tracks"`
}

// Store persists queue snapshots keyed by guild id. Get returns a nil blob
// and no error when nothing is stored.
type Store interface {
	Get(ctx context.Context, guildID string) ([]byte, error)
	Set(ctx context.Context, guildID string, blob []byte) error
	Delete(ctx context.Context, guildID string) (bool, error)
	Serialize(s Snapshot) ([]byte, error)
	Deserialize(b []byte) (Snapshot, error)
}

// JSONCodec implements the Serialize/Deserialize half of Store. Backends
// embed it.
type JSONCodec struct{}

func (JSONCodec) Serialize(s Snapshot) ([]byte, error) { return json.Marshal(s) }

func (JSONCodec) Deserialize(b []byte) (Snapshot, error) {
	var s Snapshot
	err := json.Unmarshal(b, &s)
	return s, err
}

// MemoryStore is the default, non-durable store.
type MemoryStore struct {
	JSONCodec

	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, guildID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.data[guildID]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), b...), nil
}

func (m *MemoryStore) Set(_ context.Context, guildID string, blob []byte) error {
	m.mu.Lock()
	m.data[guildID] = append([]byte(nil), blob...)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, guildID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[guildID]
	delete(m.data, guildID)
	return ok, nil
}
