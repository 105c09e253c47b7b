package player

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/petervdpas/lavaman/internal/proto"
	"github.com/petervdpas/lavaman/internal/queue"
)

type fakeNode struct {
	id        string
	connected bool
	session   string

	mu        sync.Mutex
	updates   []proto.UpdatePlayer
	destroyed int
	queries   []string
	results   map[string]proto.LoadResult
	err       error

	// DestroyPlayer signals entered and waits on block when both are set.
	entered chan struct{}
	block   chan struct{}
}

func newFakeNode(id string) *fakeNode {
	return &fakeNode{id: id, connected: true, session: "session-" + id, results: map[string]proto.LoadResult{}}
}

func (f *fakeNode) ID() string        { return f.id }
func (f *fakeNode) Connected() bool   { return f.connected }
func (f *fakeNode) SessionID() string { return f.session }

func (f *fakeNode) UpdatePlayer(_ context.Context, guildID string, _ bool, u proto.UpdatePlayer) (*proto.RemotePlayer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.updates = append(f.updates, u)
	return &proto.RemotePlayer{GuildID: guildID}, nil
}

func (f *fakeNode) DestroyPlayer(context.Context, string) error {
	if f.entered != nil && f.block != nil {
		f.entered <- struct{}{}
		<-f.block
	}
	f.mu.Lock()
	f.destroyed++
	f.mu.Unlock()
	return nil
}

func (f *fakeNode) LoadTracks(_ context.Context, identifier string) (*proto.LoadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, identifier)
	res, ok := f.results[identifier]
	if !ok {
		return &proto.LoadResult{LoadType: proto.LoadEmpty}, nil
	}
	return &res, nil
}

func (f *fakeNode) CurrentLyrics(context.Context, string, bool) (*proto.Lyrics, error) {
	return &proto.Lyrics{SourceName: "fake"}, nil
}

func (f *fakeNode) calls() []proto.UpdatePlayer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]proto.UpdatePlayer(nil), f.updates...)
}

func (f *fakeNode) last(t *testing.T) proto.UpdatePlayer {
	t.Helper()
	c := f.calls()
	if len(c) == 0 {
		t.Fatal("no update sent")
	}
	return c[len(c)-1]
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func track(id string) proto.Track {
	return proto.Track{Encoded: "enc-" + id, Info: proto.TrackInfo{Identifier: id, Title: id, Length: 60000}}
}

type fixture struct {
	p     *Player
	node  *fakeNode
	clock *fakeClock
	empty chan *proto.Track
}

func newFixture(t *testing.T, ids ...string) *fixture {
	t.Helper()
	f := &fixture{
		node:  newFakeNode("n1"),
		clock: &fakeClock{t: time.Unix(1700000000, 0)},
		empty: make(chan *proto.Track, 4),
	}
	q := queue.New("g1", queue.Options{Store: queue.NewMemoryStore()})
	var ts []proto.QueueTrack
	for _, id := range ids {
		ts = append(ts, proto.Resolved(track(id)))
	}
	if len(ts) > 0 {
		if _, err := q.Add(context.Background(), ts, queue.AtEnd); err != nil {
			t.Fatal(err)
		}
	}
	f.p = New(Options{GuildID: "g1", VoiceChannelID: "vc1"}, f.node, q, Config{
		AutoSkip: true,
		Clock:    f.clock.Now,
		OnQueueEmpty: func(_ context.Context, _ *Player, last *proto.Track) {
			f.empty <- last
		},
	})
	return f
}

func endEvent(reason proto.TrackEndReason) proto.Message {
	return proto.Message{Op: proto.OpEvent, Event: &proto.Event{Type: proto.EventTrackEnd, GuildID: "g1", Reason: string(reason)}}
}

func currentID(p *Player) string {
	if c := p.Queue().Current(); c != nil {
		return c.Info.Identifier
	}
	return ""
}

func TestPlayTakesNextFromQueue(t *testing.T) {
	f := newFixture(t, "a", "b")
	if err := f.p.Play(context.Background(), PlayOptions{}); err != nil {
		t.Fatal(err)
	}
	u := f.node.last(t)
	if u.Track == nil || u.Track.Encoded == nil || *u.Track.Encoded != "enc-a" {
		t.Fatalf("track = %+v", u.Track)
	}
	if *u.Position != 0 || *u.Volume != proto.DefaultVolume {
		t.Fatalf("position=%d volume=%d", *u.Position, *u.Volume)
	}
	if currentID(f.p) != "a" || f.p.Queue().Len() != 1 {
		t.Fatalf("current=%q len=%d", currentID(f.p), f.p.Queue().Len())
	}
	if f.p.State() != Playing {
		t.Fatalf("state = %s", f.p.State())
	}
}

func TestPlayNothingFailsWithoutNetwork(t *testing.T) {
	f := newFixture(t)
	if err := f.p.Play(context.Background(), PlayOptions{}); !errors.Is(err, ErrNothingToPlay) {
		t.Fatalf("err = %v", err)
	}
	if n := len(f.node.calls()); n != 0 {
		t.Fatalf("%d updates sent", n)
	}
}

func TestPlayExplicitTrack(t *testing.T) {
	f := newFixture(t)
	vol := 2000
	pos := int64(1500)
	err := f.p.Play(context.Background(), PlayOptions{Track: proto.EncodedTrack("raw", nil), Volume: &vol, Position: &pos})
	if err != nil {
		t.Fatal(err)
	}
	u := f.node.last(t)
	if *u.Track.Encoded != "raw" || *u.Volume != proto.MaxVolume || *u.Position != 1500 {
		t.Fatalf("update = %+v", u)
	}
	if f.p.Volume() != proto.MaxVolume || f.p.Position() != 1500 {
		t.Fatalf("volume=%d position=%d", f.p.Volume(), f.p.Position())
	}
}

func TestPositionExtrapolation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "a")
	if err := f.p.Play(ctx, PlayOptions{}); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(2 * time.Second)
	if got := f.p.Position(); got != 2000 {
		t.Fatalf("position = %d, want 2000", got)
	}

	if err := f.p.Pause(ctx); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(time.Second)
	if got := f.p.Position(); got != 2000 {
		t.Fatalf("paused position = %d, want 2000", got)
	}

	if err := f.p.Resume(ctx); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(time.Second)
	if got := f.p.Position(); got != 3000 {
		t.Fatalf("resumed position = %d, want 3000", got)
	}

	f.p.HandleMessage(ctx, proto.Message{Op: proto.OpPlayerUpdate, PlayerUpdate: &proto.PlayerUpdate{
		GuildID: "g1",
		State:   proto.PlayerState{Position: 10000, Connected: true, Ping: 42},
	}})
	f.clock.Advance(500 * time.Millisecond)
	if got := f.p.Position(); got != 10500 {
		t.Fatalf("after update = %d, want 10500", got)
	}
	if f.p.Ping().WS != 42*time.Millisecond {
		t.Fatalf("ws ping = %v", f.p.Ping().WS)
	}
}

func TestPauseResumePreconditions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "a")
	if err := f.p.Resume(ctx); !errors.Is(err, ErrNotPaused) {
		t.Fatalf("resume err = %v", err)
	}
	if err := f.p.Pause(ctx); err != nil {
		t.Fatal(err)
	}
	if err := f.p.Pause(ctx); !errors.Is(err, ErrAlreadyPaused) {
		t.Fatalf("second pause err = %v", err)
	}
	if n := len(f.node.calls()); n != 1 {
		t.Fatalf("%d updates, want 1", n)
	}
	if f.p.State() != Paused {
		t.Fatalf("state = %s", f.p.State())
	}
}

func TestFailedUpdateLeavesState(t *testing.T) {
	f := newFixture(t, "a")
	f.node.err = errors.New("boom")
	if err := f.p.Pause(context.Background()); err == nil {
		t.Fatal("want error")
	}
	if f.p.Paused() {
		t.Fatal("paused after failed update")
	}
}

func TestSeek(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "a")
	if err := f.p.Seek(ctx, 5000); err != nil {
		t.Fatal(err)
	}
	if n := len(f.node.calls()); n != 0 {
		t.Fatalf("seek without track sent %d updates", n)
	}

	if err := f.p.Play(ctx, PlayOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := f.p.Seek(ctx, -10); err != nil {
		t.Fatal(err)
	}
	if u := f.node.last(t); *u.Position != 0 {
		t.Fatalf("position = %d", *u.Position)
	}
	if err := f.p.Seek(ctx, 30000); err != nil {
		t.Fatal(err)
	}
	if f.p.Position() != 30000 {
		t.Fatalf("position = %d", f.p.Position())
	}
}

func TestSetVolumeClamps(t *testing.T) {
	f := newFixture(t)
	if err := f.p.SetVolume(context.Background(), -5); err != nil {
		t.Fatal(err)
	}
	if f.p.Volume() != 0 || *f.node.last(t).Volume != 0 {
		t.Fatalf("volume = %d", f.p.Volume())
	}
}

func TestSkipEmptyQueueThrows(t *testing.T) {
	f := newFixture(t)
	if err := f.p.Skip(context.Background(), 1, true); !errors.Is(err, ErrSkipEmpty) {
		t.Fatalf("err = %v", err)
	}
	if n := len(f.node.calls()); n != 0 {
		t.Fatalf("%d updates sent", n)
	}
}

func TestSkipPastQueueThrows(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "a", "b")
	if err := f.p.Play(ctx, PlayOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := f.p.Skip(ctx, 2, true); !errors.Is(err, ErrSkipEmpty) {
		t.Fatalf("err = %v", err)
	}
	if f.p.Queue().Len() != 1 {
		t.Fatalf("len = %d", f.p.Queue().Len())
	}
}

func TestPlatformAlias(t *testing.T) {
	q := queue.New("g1", queue.Options{})
	p := New(Options{GuildID: "g1"}, newFakeNode("n1"), q, Config{SearchPlatform: "SoundCloud"})
	if p.cfg.SearchPlatform != "scsearch" {
		t.Fatalf("platform = %q", p.cfg.SearchPlatform)
	}
}

func TestSkipAdvancesOnTrackEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "a", "b", "c", "d")
	if err := f.p.Play(ctx, PlayOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := f.p.Skip(ctx, 2, false); err != nil {
		t.Fatal(err)
	}
	u := f.node.last(t)
	if u.Track == nil || u.Track.Encoded != nil || u.Track.Identifier != "" {
		t.Fatalf("skip should send a null track, got %+v", u.Track)
	}
	if _, ok := f.p.Get(KeySkipped); !ok {
		t.Fatal("skip flag not set")
	}

	f.p.HandleMessage(ctx, endEvent(proto.EndStopped))
	if currentID(f.p) != "c" {
		t.Fatalf("current = %q, want c", currentID(f.p))
	}
	if prev := f.p.Queue().Previous(); len(prev) != 1 || prev[0].Info.Identifier != "a" {
		t.Fatalf("previous = %+v", prev)
	}
	if _, ok := f.p.Get(KeySkipped); ok {
		t.Fatal("skip flag not cleared")
	}
	if !f.p.Playing() {
		t.Fatal("not playing after advance")
	}
}

func TestSkipFromIdlePlays(t *testing.T) {
	f := newFixture(t, "a")
	if err := f.p.Skip(context.Background(), 0, false); err != nil {
		t.Fatal(err)
	}
	if currentID(f.p) != "a" || !f.p.Playing() {
		t.Fatalf("current=%q playing=%v", currentID(f.p), f.p.Playing())
	}
}

func TestFinishedAdvancesAndEmpties(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "a", "b")
	if err := f.p.Play(ctx, PlayOptions{}); err != nil {
		t.Fatal(err)
	}
	f.p.HandleMessage(ctx, endEvent(proto.EndFinished))
	if currentID(f.p) != "b" {
		t.Fatalf("current = %q", currentID(f.p))
	}
	f.p.HandleMessage(ctx, endEvent(proto.EndFinished))
	if currentID(f.p) != "" {
		t.Fatalf("current = %q after last track", currentID(f.p))
	}
	if _, ok := f.p.Get(KeyQueueEmpty); !ok {
		t.Fatal("queue empty flag not set")
	}
	select {
	case last := <-f.empty:
		if last == nil || last.Info.Identifier != "b" {
			t.Fatalf("last = %+v", last)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnQueueEmpty not called")
	}
	if f.p.State() != Idle {
		t.Fatalf("state = %s", f.p.State())
	}
}

func TestReplacedDoesNotAdvance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "a", "b")
	if err := f.p.Play(ctx, PlayOptions{}); err != nil {
		t.Fatal(err)
	}
	before := len(f.node.calls())
	f.p.HandleMessage(ctx, endEvent(proto.EndReplaced))
	if currentID(f.p) != "a" || len(f.node.calls()) != before {
		t.Fatalf("current=%q calls=%d", currentID(f.p), len(f.node.calls()))
	}
}

func TestStopPlayingSuppressesAdvance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "a", "b")
	if err := f.p.Play(ctx, PlayOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := f.p.StopPlaying(ctx, false, false); err != nil {
		t.Fatal(err)
	}
	if f.p.Playing() {
		t.Fatal("still playing")
	}
	calls := len(f.node.calls())
	f.p.HandleMessage(ctx, endEvent(proto.EndStopped))
	if len(f.node.calls()) != calls {
		t.Fatal("track end after stop started playback")
	}
	if currentID(f.p) != "" || f.p.Queue().Len() != 1 {
		t.Fatalf("current=%q len=%d", currentID(f.p), f.p.Queue().Len())
	}
	if _, ok := f.p.Get(KeyStopPlaying); ok {
		t.Fatal("stop flag not cleared")
	}
	select {
	case <-f.empty:
		t.Fatal("autoplay ran")
	default:
	}

	// The flag only suppresses once.
	if err := f.p.Play(ctx, PlayOptions{}); err != nil {
		t.Fatal(err)
	}
	f.p.HandleMessage(ctx, endEvent(proto.EndFinished))
	if _, ok := f.p.Get(KeyQueueEmpty); !ok {
		t.Fatal("second track end did not reach queue end")
	}
}

func TestStopPlayingClearsQueue(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	if err := f.p.StopPlaying(context.Background(), true, true); err != nil {
		t.Fatal(err)
	}
	if f.p.Queue().Len() != 0 {
		t.Fatalf("len = %d", f.p.Queue().Len())
	}
}

func TestRepeatModes(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, "a", "b")
	if err := f.p.SetRepeatMode(RepeatTrack); err != nil {
		t.Fatal(err)
	}
	if err := f.p.Play(ctx, PlayOptions{}); err != nil {
		t.Fatal(err)
	}
	f.p.HandleMessage(ctx, endEvent(proto.EndFinished))
	if currentID(f.p) != "a" || *f.node.last(t).Track.Encoded != "enc-a" {
		t.Fatalf("repeat track: current = %q", currentID(f.p))
	}

	g := newFixture(t, "a")
	if err := g.p.SetRepeatMode(RepeatQueue); err != nil {
		t.Fatal(err)
	}
	if err := g.p.Play(ctx, PlayOptions{}); err != nil {
		t.Fatal(err)
	}
	g.p.HandleMessage(ctx, endEvent(proto.EndFinished))
	if currentID(g.p) != "a" {
		t.Fatalf("repeat queue: current = %q", currentID(g.p))
	}

	if err := g.p.SetRepeatMode("sometimes"); err == nil {
		t.Fatal("want error for unknown mode")
	}
}

func TestUnresolvedTrackIsSearched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	data, err := json.Marshal([]proto.Track{track("found")})
	if err != nil {
		t.Fatal(err)
	}
	f.node.results["ytsearch:Song Band"] = proto.LoadResult{LoadType: proto.LoadSearch, Data: data}

	un := []proto.QueueTrack{
		proto.Unresolved(proto.UnresolvedTrack{Info: proto.UnresolvedInfo{Title: "Missing"}}),
		proto.Unresolved(proto.UnresolvedTrack{Info: proto.UnresolvedInfo{Title: "Song", Author: "Band"}}),
	}
	if _, err := f.p.Queue().Add(ctx, un, queue.AtEnd); err != nil {
		t.Fatal(err)
	}
	if err := f.p.Play(ctx, PlayOptions{}); err != nil {
		t.Fatal(err)
	}
	if currentID(f.p) != "found" {
		t.Fatalf("current = %q", currentID(f.p))
	}
	if len(f.node.queries) != 2 || f.node.queries[0] != "ytsearch:Missing" {
		t.Fatalf("queries = %v", f.node.queries)
	}
}

func TestChangeNode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "a")
	if err := f.p.Play(ctx, PlayOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := f.p.ChangeNode(ctx, f.node); !errors.Is(err, ErrSameNode) {
		t.Fatalf("same node err = %v", err)
	}

	f.clock.Advance(3 * time.Second)
	f.node.entered = make(chan struct{})
	f.node.block = make(chan struct{})
	to := newFakeNode("n2")

	errc := make(chan error, 1)
	go func() { errc <- f.p.ChangeNode(ctx, to) }()
	<-f.node.entered

	if f.p.State() != Migrating {
		t.Fatalf("state = %s", f.p.State())
	}
	if err := f.p.Pause(ctx); !errors.Is(err, ErrMigrating) {
		t.Fatalf("pause during migration err = %v", err)
	}
	if err := f.p.ChangeNode(ctx, newFakeNode("n3")); !errors.Is(err, ErrMigrating) {
		t.Fatalf("second change err = %v", err)
	}
	close(f.node.block)
	if err := <-errc; err != nil {
		t.Fatal(err)
	}

	if f.p.NodeID() != "n2" {
		t.Fatalf("node = %s", f.p.NodeID())
	}
	u := to.last(t)
	if *u.Track.Encoded != "enc-a" || *u.Position != 3000 || *u.Volume != proto.DefaultVolume || *u.Paused {
		t.Fatalf("update = %+v", u)
	}
	if f.p.State() != Playing {
		t.Fatalf("state after move = %s", f.p.State())
	}
}

// playingOnMoved starts "a" on n1, lets 5s pass and moves the player to n2.
func playingOnMoved(t *testing.T) (*fixture, *fakeNode) {
	t.Helper()
	ctx := context.Background()
	f := newFixture(t, "a", "b")
	if err := f.p.Play(ctx, PlayOptions{}); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(5 * time.Second)
	to := newFakeNode("n2")
	if err := f.p.ChangeNode(ctx, to); err != nil {
		t.Fatal(err)
	}
	return f, to
}

func TestFramesFromPreviousNodeAreIgnored(t *testing.T) {
	ctx := context.Background()
	f, to := playingOnMoved(t)

	end := endEvent(proto.EndStopped)
	end.NodeID = "n1"
	f.p.HandleMessage(ctx, end)
	f.p.HandleMessage(ctx, proto.Message{Op: proto.OpPlayerUpdate, NodeID: "n1", PlayerUpdate: &proto.PlayerUpdate{
		GuildID: "g1",
		State:   proto.PlayerState{Position: 0},
	}})

	if f.p.State() != Playing || f.p.Position() != 5000 || currentID(f.p) != "a" {
		t.Fatalf("state=%s position=%d current=%q", f.p.State(), f.p.Position(), currentID(f.p))
	}
	if n := len(to.calls()); n != 1 {
		t.Fatalf("new node got %d updates, want 1", n)
	}

	f.p.HandleMessage(ctx, proto.Message{Op: proto.OpPlayerUpdate, NodeID: "n2", PlayerUpdate: &proto.PlayerUpdate{
		GuildID: "g1",
		State:   proto.PlayerState{Position: 7000, Connected: true},
	}})
	if f.p.Position() != 7000 {
		t.Fatalf("position = %d after update from current node", f.p.Position())
	}
}

func TestChangeNodeRejectsNodeWithoutSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "a")
	if err := f.p.Play(ctx, PlayOptions{}); err != nil {
		t.Fatal(err)
	}

	to := newFakeNode("n2")
	to.session = ""
	if err := f.p.ChangeNode(ctx, to); !errors.Is(err, ErrNodeNotReady) {
		t.Fatalf("err = %v", err)
	}
	down := newFakeNode("n3")
	down.connected = false
	if err := f.p.ChangeNode(ctx, down); !errors.Is(err, ErrNodeNotReady) {
		t.Fatalf("disconnected target err = %v", err)
	}

	if f.node.destroyed != 0 || len(to.calls()) != 0 || len(down.calls()) != 0 {
		t.Fatalf("destroyed=%d to=%d down=%d", f.node.destroyed, len(to.calls()), len(down.calls()))
	}
	if f.p.NodeID() != "n1" || f.p.State() != Playing {
		t.Fatalf("node=%s state=%s", f.p.NodeID(), f.p.State())
	}
}

func TestChangeNodeFallsBackToOldNode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "a")
	if err := f.p.Play(ctx, PlayOptions{}); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(2 * time.Second)

	to := newFakeNode("n2")
	to.err = errors.New("rejected")
	if err := f.p.ChangeNode(ctx, to); err == nil {
		t.Fatal("want error")
	}
	if f.p.NodeID() != "n1" || f.p.State() != Playing {
		t.Fatalf("node=%s state=%s", f.p.NodeID(), f.p.State())
	}
	if f.node.destroyed != 1 {
		t.Fatalf("old node destroyed %d times", f.node.destroyed)
	}
	u := f.node.last(t)
	if *u.Track.Encoded != "enc-a" || *u.Position != 2000 {
		t.Fatalf("resend = %+v", u)
	}
}

func TestChangeNodeLeavesIdleWhenBothNodesFail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "a")
	if err := f.p.Play(ctx, PlayOptions{}); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(time.Second)

	to := newFakeNode("n2")
	to.err = errors.New("rejected")
	f.node.err = errors.New("gone")
	if err := f.p.ChangeNode(ctx, to); err == nil {
		t.Fatal("want error")
	}
	if f.p.NodeID() != "n1" || f.p.State() != Idle {
		t.Fatalf("node=%s state=%s", f.p.NodeID(), f.p.State())
	}
	f.clock.Advance(time.Second)
	if f.p.Position() != 1000 {
		t.Fatalf("position = %d", f.p.Position())
	}
}

func TestStopEndsRunLoop(t *testing.T) {
	f := newFixture(t)
	done := make(chan struct{})
	go func() {
		f.p.Run(context.Background())
		close(done)
	}()
	f.p.Stop()
	f.p.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return")
	}
	if f.p.State() == Destroyed {
		t.Fatal("stop destroyed the player")
	}
}

func TestDestroy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "a")
	var sent []string
	f.p.cfg.SendVoiceState = func(_, channel string, _, _ bool) error {
		sent = append(sent, channel)
		return nil
	}
	if err := f.p.Destroy(ctx, true); err != nil {
		t.Fatal(err)
	}
	if f.node.destroyed != 1 || len(sent) != 1 || sent[0] != "" {
		t.Fatalf("destroyed=%d sent=%v", f.node.destroyed, sent)
	}
	if err := f.p.Play(ctx, PlayOptions{}); !errors.Is(err, ErrDestroyed) {
		t.Fatalf("play after destroy err = %v", err)
	}
	if err := f.p.Destroy(ctx, true); err != nil {
		t.Fatal(err)
	}
	if f.node.destroyed != 1 {
		t.Fatal("second destroy reached the node")
	}
	select {
	case <-f.p.Done():
	default:
		t.Fatal("done not closed")
	}
	if f.p.Deliver(endEvent(proto.EndFinished)) {
		t.Fatal("deliver accepted after destroy")
	}
}

func TestVoiceState(t *testing.T) {
	f := newFixture(t)
	if err := f.p.ChangeVoiceState("vc1", false, true); !errors.Is(err, ErrSameVoiceChannel) {
		t.Fatalf("err = %v", err)
	}
	if err := f.p.ChangeVoiceState("vc2", false, true); err != nil {
		t.Fatal(err)
	}
	if err := f.p.Disconnect(false); err != nil {
		t.Fatal(err)
	}
	if err := f.p.Disconnect(false); !errors.Is(err, ErrNoVoiceChannel) {
		t.Fatalf("err = %v", err)
	}
	if err := f.p.Connect(); !errors.Is(err, ErrNoVoiceChannel) {
		t.Fatalf("err = %v", err)
	}
	if err := f.p.Disconnect(true); err != nil {
		t.Fatal(err)
	}
}

func TestDataHidesControlFlags(t *testing.T) {
	f := newFixture(t)
	f.p.Set("dj", "alice")
	f.p.Set(KeySkipped, true)
	if d := f.p.Data(); len(d) != 1 || d["dj"] != "alice" {
		t.Fatalf("data = %v", d)
	}
	f.p.ClearData()
	if _, ok := f.p.Get("dj"); ok {
		t.Fatal("user key survived ClearData")
	}
	if _, ok := f.p.Get(KeySkipped); !ok {
		t.Fatal("control flag dropped by ClearData")
	}
}

func TestRunAppliesDeliveredMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t, "a")
	go f.p.Run(ctx)

	f.p.Deliver(proto.Message{Op: proto.OpEvent, Event: &proto.Event{Type: proto.EventTrackStart, GuildID: "g1", Track: &proto.Track{Encoded: "x", Info: proto.TrackInfo{Identifier: "x"}}}})
	deadline := time.Now().Add(2 * time.Second)
	for !f.p.Playing() {
		if time.Now().After(deadline) {
			t.Fatal("track start not applied")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if currentID(f.p) != "x" {
		t.Fatalf("current = %q", currentID(f.p))
	}
}

func TestSearchQuery(t *testing.T) {
	cases := []struct{ platform, in, want string }{
		{"ytsearch", "never gonna", "ytsearch:never gonna"},
		{"scsearch", "  lofi  ", "scsearch:lofi"},
		{"ytsearch", "https://example.com/a.mp3", "https://example.com/a.mp3"},
		{"ytsearch", "spsearch:song", "spsearch:song"},
		{"ytsearch", "time 12:30", "ytsearch:time 12:30"},
		{"", "x", "ytsearch:x"},
	}
	for _, tc := range cases {
		if got := SearchQuery(tc.platform, tc.in); got != tc.want {
			t.Errorf("SearchQuery(%q, %q) = %q, want %q", tc.platform, tc.in, got, tc.want)
		}
	}
}

func TestRestoreResendsState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "a")
	if err := f.p.Restore(ctx); err != nil {
		t.Fatal(err)
	}
	if n := len(f.node.calls()); n != 0 {
		t.Fatalf("restore of an idle player sent %d updates", n)
	}
	if err := f.p.Play(ctx, PlayOptions{}); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(4 * time.Second)
	if err := f.p.Restore(ctx); err != nil {
		t.Fatal(err)
	}
	u := f.node.last(t)
	if *u.Track.Encoded != "enc-a" || *u.Position != 4000 {
		t.Fatalf("update = %+v", u)
	}
}
