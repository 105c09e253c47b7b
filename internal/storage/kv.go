package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/petervdpas/lavaman/internal/queue"
)

const (
	queuePrefix   = "queue/"
	sessionPrefix = "session/"
)

// KV is a badger-backed queue and session store.
type KV struct {
	queue.JSONCodec

	db *badger.DB
}

// OpenKV opens a badger database at path. An empty path keeps everything in
// memory.
func OpenKV(path string) (*KV, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &KV{db: db}, nil
}

func (k *KV) Close() error { return k.db.Close() }

func (k *KV) get(key string) ([]byte, error) {
	var out []byte
	err := k.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	return out, err
}

func (k *KV) set(key string, val []byte) error {
	return k.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), val)
	})
}

func (k *KV) Get(_ context.Context, guildID string) ([]byte, error) {
	b, err := k.get(queuePrefix + guildID)
	if err != nil {
		return nil, fmt.Errorf("get queue: %w", err)
	}
	return b, nil
}

func (k *KV) Set(_ context.Context, guildID string, blob []byte) error {
	if err := k.set(queuePrefix+guildID, blob); err != nil {
		return fmt.Errorf("set queue: %w", err)
	}
	return nil
}

func (k *KV) Delete(_ context.Context, guildID string) (bool, error) {
	var existed bool
	err := k.db.Update(func(txn *badger.Txn) error {
		key := []byte(queuePrefix + guildID)
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		existed = true
		return txn.Delete(key)
	})
	if err != nil {
		return false, fmt.Errorf("delete queue: %w", err)
	}
	return existed, nil
}

// Guilds lists every guild with a stored queue.
func (k *KV) Guilds(_ context.Context) ([]string, error) {
	var out []string
	err := k.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(queuePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			out = append(out, string(it.Item().Key()[len(queuePrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}
	return out, nil
}

func (k *KV) SaveSession(_ context.Context, nodeID, sessionID string) error {
	if err := k.set(sessionPrefix+nodeID, []byte(sessionID)); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (k *KV) LoadSession(_ context.Context, nodeID string) (string, error) {
	b, err := k.get(sessionPrefix + nodeID)
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	return string(b), nil
}
