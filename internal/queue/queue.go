package queue

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/petervdpas/lavaman/internal/proto"
)

var log = logging.Logger("lavaman/queue")

var ErrNoStoredQueue = errors.New("no stored queue")

const (
	DefaultMaxPreviousTracks = 25

	// AtEnd appends in Add.
	AtEnd = -1
)

type Options struct {
	MaxPreviousTracks int
	Store             Store
	Watcher           Watcher
}

// Queue is the pending track list, current track and play history of one
// guild. Mutations persist through the configured Store.
type Queue struct {
	guildID string
	maxPrev int
	store   Store
	watcher Watcher

	mu       sync.Mutex
	current  *proto.Track
	previous []proto.Track // newest first
	tracks   []proto.QueueTrack
}

func New(guildID string, opts Options) *Queue {
	if opts.MaxPreviousTracks <= 0 {
		opts.MaxPreviousTracks = DefaultMaxPreviousTracks
	}
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	return &Queue{
		guildID: guildID,
		maxPrev: opts.MaxPreviousTracks,
		store:   opts.Store,
		watcher: opts.Watcher,
	}
}

func (q *Queue) GuildID() string { return q.guildID }

func (q *Queue) Current() *proto.Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return nil
	}
	t := *q.current
	return &t
}

// SetCurrent replaces the current track without persisting.
func (q *Queue) SetCurrent(t *proto.Track) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t == nil {
		q.current = nil
		return
	}
	c := *t
	q.current = &c
}

// PushPrevious records t as the most recent history entry without persisting.
func (q *Queue) PushPrevious(t proto.Track) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.previous = append([]proto.Track{t}, q.previous...)
	q.trimLocked()
}

func (q *Queue) Previous() []proto.Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]proto.Track(nil), q.previous...)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tracks)
}

// Tracks returns pending tracks in [start, end). A negative end means the
// end of the queue.
func (q *Queue) Tracks(start, end int) []proto.QueueTrack {
	q.mu.Lock()
	defer q.mu.Unlock()
	if end < 0 || end > len(q.tracks) {
		end = len(q.tracks)
	}
	if start < 0 {
		start = 0
	}
	if start >= end {
		return nil
	}
	return append([]proto.QueueTrack(nil), q.tracks[start:end]...)
}

// PopFront removes and returns the first pending track without persisting.
func (q *Queue) PopFront() (proto.QueueTrack, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tracks) == 0 {
		return proto.QueueTrack{}, false
	}
	t := q.tracks[0]
	q.tracks = append([]proto.QueueTrack(nil), q.tracks[1:]...)
	return t, true
}

// Clear drops all pending tracks in memory only.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.tracks = nil
	q.mu.Unlock()
}

// TotalDuration sums the current track and every resolved pending track.
func (q *Queue) TotalDuration() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	var total int64
	if q.current != nil {
		total = q.current.Info.Length
	}
	for _, t := range q.tracks {
		total += t.Duration()
	}
	return total
}

// Snapshot returns a copy of the queue state with history already trimmed.
func (q *Queue) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.trimLocked()
	return q.snapshotLocked()
}

func (q *Queue) snapshotLocked() Snapshot {
	s := Snapshot{
		Previous: append([]proto.Track{}, q.previous...),
		Tracks:   append([]proto.QueueTrack{}, q.tracks...),
	}
	if q.current != nil {
		c := *q.current
		s.Current = &c
	}
	return s
}

func (q *Queue) trimLocked() {
	if len(q.previous) > q.maxPrev {
		q.previous = q.previous[:q.maxPrev]
	}
}

// Add inserts tracks at index (AtEnd or any index past the end appends) and
// returns the new pending length.
func (q *Queue) Add(ctx context.Context, tracks []proto.QueueTrack, index int) (int, error) {
	q.mu.Lock()
	before := q.snapshotLocked()
	pos := q.insertLocked(tracks, index)
	after := q.snapshotLocked()
	n := len(q.tracks)
	err := q.saveLocked(ctx)
	q.mu.Unlock()

	if len(tracks) > 0 {
		q.notify(ChangeAdded, tracks, []int{pos}, before, after)
	}
	return n, err
}

func (q *Queue) insertLocked(tracks []proto.QueueTrack, index int) int {
	if index < 0 || index > len(q.tracks) {
		index = len(q.tracks)
	}
	out := make([]proto.QueueTrack, 0, len(q.tracks)+len(tracks))
	out = append(out, q.tracks[:index]...)
	out = append(out, tracks...)
	out = append(out, q.tracks[index:]...)
	q.tracks = out
	return index
}

// Splice removes up to amount tracks starting at index and inserts the
// replacements at the same position. On an empty queue it only inserts.
func (q *Queue) Splice(ctx context.Context, index, amount int, insert []proto.QueueTrack) ([]proto.QueueTrack, error) {
	q.mu.Lock()
	if len(q.tracks) == 0 {
		q.mu.Unlock()
		if len(insert) > 0 {
			_, err := q.Add(ctx, insert, AtEnd)
			return nil, err
		}
		return nil, nil
	}

	if index < 0 {
		index = 0
	}
	before := q.snapshotLocked()
	end := index + amount
	if amount < 0 || end > len(q.tracks) {
		end = len(q.tracks)
	}
	var removed []proto.QueueTrack
	var positions []int
	if index < end {
		removed = append(removed, q.tracks[index:end]...)
		for i := index; i < end; i++ {
			positions = append(positions, i)
		}
		q.tracks = append(q.tracks[:index:index], q.tracks[end:]...)
	}
	mid := q.snapshotLocked()
	pos := index
	if len(insert) > 0 {
		pos = q.insertLocked(insert, index)
	}
	after := q.snapshotLocked()
	err := q.saveLocked(ctx)
	q.mu.Unlock()

	if len(removed) > 0 {
		q.notify(ChangeRemoved, removed, positions, before, mid)
	}
	if len(insert) > 0 {
		q.notify(ChangeAdded, insert, []int{pos}, mid, after)
	}
	return removed, err
}

// Remove deletes the track at index. Out of range is not an error; ok is
// false.
func (q *Queue) Remove(ctx context.Context, index int) (t proto.QueueTrack, ok bool, err error) {
	q.mu.Lock()
	if index < 0 || index >= len(q.tracks) {
		q.mu.Unlock()
		return proto.QueueTrack{}, false, nil
	}
	before := q.snapshotLocked()
	t = q.tracks[index]
	q.tracks = append(q.tracks[:index:index], q.tracks[index+1:]...)
	after := q.snapshotLocked()
	err = q.saveLocked(ctx)
	q.mu.Unlock()

	q.notify(ChangeRemoved, []proto.QueueTrack{t}, []int{index}, before, after)
	return t, true, err
}

// Shuffle randomizes pending order and returns the pending length.
func (q *Queue) Shuffle(ctx context.Context) (int, error) {
	q.mu.Lock()
	n := len(q.tracks)
	if n <= 1 {
		q.mu.Unlock()
		return n, nil
	}
	before := q.snapshotLocked()
	if n == 2 {
		q.tracks[0], q.tracks[1] = q.tracks[1], q.tracks[0]
	} else {
		rand.Shuffle(n, func(i, j int) { q.tracks[i], q.tracks[j] = q.tracks[j], q.tracks[i] })
	}
	after := q.snapshotLocked()
	err := q.saveLocked(ctx)
	q.mu.Unlock()

	q.notify(ChangeShuffled, nil, nil, before, after)
	return n, err
}

// ShiftPrevious pops the most recent history entry.
func (q *Queue) ShiftPrevious(ctx context.Context) (*proto.Track, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.previous) == 0 {
		return nil, nil
	}
	t := q.previous[0]
	q.previous = append([]proto.Track(nil), q.previous[1:]...)
	return &t, q.saveLocked(ctx)
}

// Save trims history and writes the queue to the store.
func (q *Queue) Save(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.saveLocked(ctx)
}

func (q *Queue) saveLocked(ctx context.Context) error {
	q.trimLocked()
	blob, err := q.store.Serialize(q.snapshotLocked())
	if err != nil {
		return fmt.Errorf("serialize queue %s: %w", q.guildID, err)
	}
	if err := q.store.Set(ctx, q.guildID, blob); err != nil {
		log.Warnf("persist queue %s: %v", q.guildID, err)
		return fmt.Errorf("persist queue %s: %w", q.guildID, err)
	}
	return nil
}

// Sync loads the stored snapshot into this queue. With override the stored
// lists replace the in-memory ones, otherwise they are appended. The current
// track is only filled when empty and dontSyncCurrent is false.
func (q *Queue) Sync(ctx context.Context, override, dontSyncCurrent bool) error {
	blob, err := q.store.Get(ctx, q.guildID)
	if err != nil {
		return fmt.Errorf("load queue %s: %w", q.guildID, err)
	}
	if blob == nil {
		return fmt.Errorf("guild %s: %w", q.guildID, ErrNoStoredQueue)
	}
	data, err := q.store.Deserialize(blob)
	if err != nil {
		return fmt.Errorf("decode queue %s: %w", q.guildID, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if !dontSyncCurrent && q.current == nil && data.Current != nil {
		q.current = data.Current
	}
	if len(data.Tracks) > 0 {
		if override {
			q.tracks = nil
		}
		q.tracks = append(q.tracks, data.Tracks...)
	}
	if len(data.Previous) > 0 {
		if override {
			q.previous = nil
		}
		q.previous = append(q.previous, data.Previous...)
	}
	return q.saveLocked(ctx)
}

// Destroy deletes the stored snapshot. The in-memory queue is untouched.
func (q *Queue) Destroy(ctx context.Context) (bool, error) {
	ok, err := q.store.Delete(ctx, q.guildID)
	if err != nil {
		return false, fmt.Errorf("delete queue %s: %w", q.guildID, err)
	}
	return ok, nil
}
