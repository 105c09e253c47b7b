package queue

import (
	"github.com/google/uuid"
	"github.com/petervdpas/lavaman/internal/proto"
)

type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeRemoved  ChangeKind = "removed"
	ChangeShuffled ChangeKind = "shuffled"
)

// Change describes one structural mutation of a queue.
type Change struct {
	ID        string             `json:"id"`
	GuildID   string             `json:"guildId"`
	Kind      ChangeKind         `json:"kind"`
	Tracks    []proto.QueueTrack `json:"tracks,omitempty"`
	Positions []int              `json:"positions,omitempty"`
	Before    Snapshot           `json:"before"`
	After     Snapshot           `json:"after"`
}

// Watcher observes queue changes. It is called synchronously after the
// mutation is applied and must not block for long.
type Watcher interface {
	QueueChanged(c Change)
}

type WatcherFunc func(Change)

func (f WatcherFunc) QueueChanged(c Change) { f(c) }

func (q *Queue) notify(kind ChangeKind, tracks []proto.QueueTrack, positions []int, before, after Snapshot) {
	if q.watcher == nil {
		return
	}
	c := Change{
		ID:        uuid.NewString(),
		GuildID:   q.guildID,
		Kind:      kind,
		Tracks:    tracks,
		Positions: positions,
		Before:    before,
		After:     after,
	}
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("queue watcher panicked on %s for guild %s: %v", kind, q.guildID, r)
		}
	}()
	q.watcher.QueueChanged(c)
}
