package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/petervdpas/lavaman/internal/proto"
)

func track(id string, length int64) proto.QueueTrack {
	return proto.Resolved(proto.Track{Encoded: "enc-" + id, Info: proto.TrackInfo{Identifier: id, Title: id, Length: length}})
}

func ids(ts []proto.QueueTrack) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Title()
	}
	return out
}

func filled(t *testing.T, n int, opts Options) *Queue {
	t.Helper()
	q := New("g1", opts)
	var ts []proto.QueueTrack
	for i := 0; i < n; i++ {
		ts = append(ts, track(fmt.Sprint(i), 1000))
	}
	if _, err := q.Add(context.Background(), ts, AtEnd); err != nil {
		t.Fatal(err)
	}
	return q
}

func TestAddAtIndexClamps(t *testing.T) {
	ctx := context.Background()
	q := filled(t, 2, Options{})
	if _, err := q.Add(ctx, []proto.QueueTrack{track("x", 1)}, 1); err != nil {
		t.Fatal(err)
	}
	n, err := q.Add(ctx, []proto.QueueTrack{track("y", 1)}, 99)
	if err != nil {
		t.Fatal(err)
	}
	got := ids(q.Tracks(0, -1))
	want := []string{"0", "x", "1", "y"}
	if n != 4 || fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("got %v (n=%d), want %v", got, n, want)
	}
}

func TestSpliceRemovesClampedRange(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		index, amount int
		want          []string
		removed       int
	}{
		{1, 2, []string{"0", "3", "4"}, 2},
		{3, 10, []string{"0", "1", "2"}, 2},
		{0, 0, []string{"0", "1", "2", "3", "4"}, 0},
		{7, 1, []string{"0", "1", "2", "3", "4"}, 0},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("%d_%d", tc.index, tc.amount), func(t *testing.T) {
			q := filled(t, 5, Options{})
			removed, err := q.Splice(ctx, tc.index, tc.amount, nil)
			if err != nil {
				t.Fatal(err)
			}
			if len(removed) != tc.removed {
				t.Fatalf("removed %d, want %d", len(removed), tc.removed)
			}
			if got := ids(q.Tracks(0, -1)); fmt.Sprint(got) != fmt.Sprint(tc.want) {
				t.Fatalf("remaining %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSpliceInsertsAndOnEmptyAdds(t *testing.T) {
	ctx := context.Background()
	q := filled(t, 3, Options{})
	removed, err := q.Splice(ctx, 1, 1, []proto.QueueTrack{track("a", 1), track("b", 1)})
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 1 || removed[0].Title() != "1" {
		t.Fatalf("removed = %v", ids(removed))
	}
	if got := ids(q.Tracks(0, -1)); fmt.Sprint(got) != "[0 a b 2]" {
		t.Fatalf("got %v", got)
	}

	empty := New("g2", Options{})
	removed, err = empty.Splice(ctx, 4, 2, []proto.QueueTrack{track("z", 1)})
	if err != nil || removed != nil {
		t.Fatalf("removed=%v err=%v", removed, err)
	}
	if empty.Len() != 1 {
		t.Fatalf("len = %d", empty.Len())
	}
}

func TestRemoveOutOfRange(t *testing.T) {
	q := filled(t, 2, Options{})
	if _, ok, err := q.Remove(context.Background(), 5); ok || err != nil {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	got, ok, err := q.Remove(context.Background(), 0)
	if !ok || err != nil || got.Title() != "0" || q.Len() != 1 {
		t.Fatalf("remove(0) = %v %v %v", got.Title(), ok, err)
	}
}

func TestShuffle(t *testing.T) {
	ctx := context.Background()
	for _, n := range []int{0, 1} {
		q := filled(t, n, Options{})
		got, err := q.Shuffle(ctx)
		if err != nil || got != n {
			t.Fatalf("shuffle(%d) = %d, %v", n, got, err)
		}
	}

	q := filled(t, 2, Options{})
	q.Shuffle(ctx)
	if got := ids(q.Tracks(0, -1)); fmt.Sprint(got) != "[1 0]" {
		t.Fatalf("two-track shuffle = %v", got)
	}

	q = filled(t, 20, Options{})
	n, _ := q.Shuffle(ctx)
	got := ids(q.Tracks(0, -1))
	sort.Strings(got)
	want := ids(filled(t, 20, Options{}).Tracks(0, -1))
	sort.Strings(want)
	if n != 20 || fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("shuffle is not a permutation: %v", got)
	}
}

func TestSaveTrimsPrevious(t *testing.T) {
	ctx := context.Background()
	q := New("g", Options{MaxPreviousTracks: 3})
	for i := 0; i < 10; i++ {
		q.PushPrevious(proto.Track{Info: proto.TrackInfo{Identifier: fmt.Sprint(i)}})
		if err := q.Save(ctx); err != nil {
			t.Fatal(err)
		}
		if l := len(q.Previous()); l > 3 {
			t.Fatalf("previous len = %d", l)
		}
	}
	if q.Previous()[0].Info.Identifier != "9" {
		t.Fatal("previous is not newest first")
	}
	p, err := q.ShiftPrevious(ctx)
	if err != nil || p == nil || p.Info.Identifier != "9" {
		t.Fatalf("ShiftPrevious = %v, %v", p, err)
	}
}

func TestSyncAndDestroy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	src := filled(t, 3, Options{Store: store})
	src.SetCurrent(&proto.Track{Info: proto.TrackInfo{Identifier: "cur"}})
	src.PushPrevious(proto.Track{Info: proto.TrackInfo{Identifier: "old"}})
	if err := src.Save(ctx); err != nil {
		t.Fatal(err)
	}

	dst := New("g1", Options{Store: store})
	dst.Add(ctx, []proto.QueueTrack{track("local", 1)}, AtEnd)
	if err := dst.Sync(ctx, false, false); err != nil {
		t.Fatal(err)
	}
	if dst.Len() != 4 || dst.Current() == nil || dst.Current().Info.Identifier != "cur" {
		t.Fatalf("merge sync: len=%d current=%v", dst.Len(), dst.Current())
	}

	over := New("g1", Options{Store: store})
	if err := over.Sync(ctx, true, true); err != nil {
		t.Fatal(err)
	}
	if over.Current() != nil {
		t.Fatal("dontSyncCurrent ignored")
	}

	ok, err := over.Destroy(ctx)
	if !ok || err != nil {
		t.Fatalf("destroy = %v %v", ok, err)
	}
	if over.Len() == 0 {
		t.Fatal("destroy must not touch the in-memory queue")
	}
	if err := New("g1", Options{Store: store}).Sync(ctx, false, false); !errors.Is(err, ErrNoStoredQueue) {
		t.Fatalf("sync after destroy: %v", err)
	}
}

func TestTotalDurationSkipsUnresolved(t *testing.T) {
	ctx := context.Background()
	q := New("g", Options{})
	q.SetCurrent(&proto.Track{Info: proto.TrackInfo{Identifier: "c", Length: 500}})
	q.Add(ctx, []proto.QueueTrack{
		track("a", 1000),
		proto.Unresolved(proto.UnresolvedTrack{Info: proto.UnresolvedInfo{Title: "u", Duration: 9999}}),
	}, AtEnd)
	if got := q.TotalDuration(); got != 1500 {
		t.Fatalf("TotalDuration = %d", got)
	}
}

func TestWatcherSeesBeforeAfter(t *testing.T) {
	ctx := context.Background()
	var changes []Change
	q := New("g", Options{Watcher: WatcherFunc(func(c Change) { changes = append(changes, c) })})
	q.Add(ctx, []proto.QueueTrack{track("a", 1), track("b", 1), track("c", 1)}, AtEnd)
	q.Remove(ctx, 1)
	q.Shuffle(ctx)

	if len(changes) != 3 {
		t.Fatalf("changes = %d", len(changes))
	}
	add, rem, shuf := changes[0], changes[1], changes[2]
	if add.Kind != ChangeAdded || len(add.Before.Tracks) != 0 || len(add.After.Tracks) != 3 {
		t.Fatalf("add change = %+v", add)
	}
	if rem.Kind != ChangeRemoved || rem.Positions[0] != 1 || len(rem.After.Tracks) != 2 {
		t.Fatalf("remove change = %+v", rem)
	}
	if shuf.Kind != ChangeShuffled || shuf.ID == "" || shuf.GuildID != "g" {
		t.Fatalf("shuffle change = %+v", shuf)
	}
}

func TestWatcherPanicDoesNotFailMutation(t *testing.T) {
	q := New("g", Options{Watcher: WatcherFunc(func(Change) { panic("boom") })})
	n, err := q.Add(context.Background(), []proto.QueueTrack{track("a", 1)}, AtEnd)
	if n != 1 || err != nil {
		t.Fatalf("add = %d, %v", n, err)
	}
}
