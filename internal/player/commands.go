package player

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/petervdpas/lavaman/internal/proto"
	"github.com/petervdpas/lavaman/internal/queue"
)

// PlayOptions tweaks Play. With a nil Track the queue's current track (or
// the next pending one) is played.
type PlayOptions struct {
	Track     *proto.UpdateTrack
	Position  *int64
	EndTime   *int64
	Volume    *int
	Paused    *bool
	NoReplace bool
}

func (o PlayOptions) explicit() bool {
	return o.Track != nil && (o.Track.Encoded != nil || o.Track.Identifier != "")
}

func (p *Player) Play(ctx context.Context, opts PlayOptions) error {
	unlock, err := p.begin()
	if err != nil {
		return err
	}
	defer unlock()
	return p.playLocked(ctx, opts)
}

func (p *Player) playLocked(ctx context.Context, opts PlayOptions) error {
	p.unset(KeyQueueEmpty)

	u := proto.UpdatePlayer{EndTime: opts.EndTime, Paused: opts.Paused}
	var pos int64
	if opts.Position != nil {
		pos = max(*opts.Position, 0)
	}

	if opts.explicit() {
		u.Track = opts.Track
		u.Position = opts.Position
	} else {
		cur := p.queue.Current()
		if cur == nil {
			next, err := p.nextFromQueue(ctx)
			if err != nil {
				return err
			}
			cur = next
		}
		if cur == nil {
			return ErrNothingToPlay
		}
		u.Track = proto.EncodedTrack(cur.Encoded, cur.UserData)
		u.Position = &pos
	}

	vol := p.Volume()
	if opts.Volume != nil {
		vol = proto.ClampVolume(*opts.Volume)
	}
	u.Volume = &vol

	if err := p.update(ctx, opts.NoReplace, u); err != nil {
		return fmt.Errorf("play: %w", err)
	}

	p.mu.Lock()
	p.playing = true
	p.paused = opts.Paused != nil && *opts.Paused
	p.volume = vol
	p.anchorLocked(pos)
	p.mu.Unlock()
	return nil
}

// nextFromQueue moves the first playable pending track into the current
// slot. Unresolved tracks are searched for; ones that cannot be resolved
// are dropped. It returns nil when the queue ran dry.
func (p *Player) nextFromQueue(ctx context.Context) (*proto.Track, error) {
	for {
		next, ok := p.queue.PopFront()
		if !ok {
			return nil, p.queue.Save(ctx)
		}
		t := next.Resolved
		if t == nil {
			resolved, err := p.resolve(ctx, next.Unresolved)
			if err != nil {
				log.Warnw("dropping unresolvable track", "guild", p.guildID, "title", next.Title(), "err", err)
				continue
			}
			t = resolved
		}
		p.queue.SetCurrent(t)
		return t, p.queue.Save(ctx)
	}
}

func (p *Player) resolve(ctx context.Context, u *proto.UnresolvedTrack) (*proto.Track, error) {
	if u.Encoded != "" {
		return &proto.Track{
			Encoded: u.Encoded,
			Info: proto.TrackInfo{
				Title:      u.Info.Title,
				Author:     u.Info.Author,
				Length:     u.Info.Duration,
				URI:        u.Info.URI,
				SourceName: u.Info.SourceName,
				ISRC:       u.Info.ISRC,
			},
			PluginInfo: u.PluginInfo,
			UserData:   u.UserData,
			Requester:  u.Requester,
		}, nil
	}
	query := strings.TrimSpace(u.Info.Title + " " + u.Info.Author)
	if query == "" {
		return nil, errors.New("unresolved track has no title")
	}
	res, err := p.Node().LoadTracks(ctx, p.cfg.SearchPlatform+":"+query)
	if err != nil {
		return nil, err
	}
	tracks := res.Tracks()
	if len(tracks) == 0 {
		return nil, fmt.Errorf("no results for %q", query)
	}
	t := tracks[0]
	t.UserData = u.UserData
	t.Requester = u.Requester
	return &t, nil
}

func (p *Player) Pause(ctx context.Context) error {
	unlock, err := p.begin()
	if err != nil {
		return err
	}
	defer unlock()

	if p.Paused() {
		return ErrAlreadyPaused
	}
	paused := true
	if err := p.update(ctx, false, proto.UpdatePlayer{Paused: &paused}); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	p.mu.Lock()
	p.lastPosition = p.positionLocked()
	p.paused = true
	p.mu.Unlock()
	return nil
}

func (p *Player) Resume(ctx context.Context) error {
	unlock, err := p.begin()
	if err != nil {
		return err
	}
	defer unlock()

	if !p.Paused() {
		return ErrNotPaused
	}
	paused := false
	if err := p.update(ctx, false, proto.UpdatePlayer{Paused: &paused}); err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	p.mu.Lock()
	p.paused = false
	p.anchorLocked(p.lastPosition)
	p.mu.Unlock()
	return nil
}

// Seek jumps to position ms. It is a no-op without a current track.
func (p *Player) Seek(ctx context.Context, position int64) error {
	unlock, err := p.begin()
	if err != nil {
		return err
	}
	defer unlock()

	if p.queue.Current() == nil {
		return nil
	}
	position = max(position, 0)
	if err := p.update(ctx, false, proto.UpdatePlayer{Position: &position}); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	p.mu.Lock()
	p.anchorLocked(position)
	p.mu.Unlock()
	return nil
}

func (p *Player) SetVolume(ctx context.Context, volume int) error {
	unlock, err := p.begin()
	if err != nil {
		return err
	}
	defer unlock()

	volume = proto.ClampVolume(volume)
	if err := p.update(ctx, false, proto.UpdatePlayer{Volume: &volume}); err != nil {
		return fmt.Errorf("volume: %w", err)
	}
	p.mu.Lock()
	p.volume = volume
	p.mu.Unlock()
	return nil
}

// Skip ends the current track so the next one starts. skipTo > 1 drops
// skipTo-1 pending tracks first. With throwOnEmpty, skipping past the
// queue fails with ErrSkipEmpty.
func (p *Player) Skip(ctx context.Context, skipTo int, throwOnEmpty bool) error {
	unlock, err := p.begin()
	if err != nil {
		return err
	}
	defer unlock()
	return p.skipLocked(ctx, skipTo, throwOnEmpty)
}

func (p *Player) skipLocked(ctx context.Context, skipTo int, throwOnEmpty bool) error {
	n := p.queue.Len()
	if throwOnEmpty && (n == 0 || skipTo > n) {
		return ErrSkipEmpty
	}
	if skipTo > 1 {
		if _, err := p.queue.Splice(ctx, 0, skipTo-1, nil); err != nil {
			return err
		}
	}

	if !p.Playing() && p.queue.Current() == nil {
		return p.playLocked(ctx, PlayOptions{})
	}

	p.Set(KeySkipped, true)
	paused := false
	if err := p.update(ctx, false, proto.UpdatePlayer{Track: proto.StopTrack(), Paused: &paused}); err != nil {
		p.unset(KeySkipped)
		return fmt.Errorf("skip: %w", err)
	}
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
	return nil
}

// StopPlaying stops the current track without advancing. clearQueue drops
// every pending track; executeAutoplay lets OnQueueEmpty run afterwards.
func (p *Player) StopPlaying(ctx context.Context, clearQueue, executeAutoplay bool) error {
	unlock, err := p.begin()
	if err != nil {
		return err
	}
	defer unlock()

	p.Set(KeyStopPlaying, true)
	if clearQueue {
		if _, err := p.queue.Splice(ctx, 0, p.queue.Len(), nil); err != nil {
			p.unset(KeyStopPlaying)
			return err
		}
	}
	if !executeAutoplay {
		p.Set(KeyAutoplayStopPlaying, true)
	}

	if err := p.update(ctx, false, proto.UpdatePlayer{Track: proto.StopTrack()}); err != nil {
		p.unset(KeyStopPlaying, KeyAutoplayStopPlaying)
		return fmt.Errorf("stop: %w", err)
	}
	p.mu.Lock()
	p.paused = false
	p.playing = false
	p.lastPosition = p.positionLocked()
	p.lastPositionChange = timeZero
	p.mu.Unlock()
	return nil
}

// PlayPrevious puts the current track back at the head of the queue and
// plays the most recent history entry.
func (p *Player) PlayPrevious(ctx context.Context) error {
	unlock, err := p.begin()
	if err != nil {
		return err
	}
	defer unlock()

	prev, err := p.queue.ShiftPrevious(ctx)
	if err != nil {
		return err
	}
	if prev == nil {
		return ErrNothingToPlay
	}
	if cur := p.queue.Current(); cur != nil {
		if _, err := p.queue.Add(ctx, []proto.QueueTrack{proto.Resolved(*cur)}, 0); err != nil {
			return err
		}
	}
	p.queue.SetCurrent(prev)
	if err := p.queue.Save(ctx); err != nil {
		return err
	}
	return p.playLocked(ctx, PlayOptions{})
}

func (p *Player) SetRepeatMode(m RepeatMode) error {
	switch m {
	case RepeatOff, RepeatTrack, RepeatQueue:
	default:
		return fmt.Errorf("unknown repeat mode %q", m)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkLocked(); err != nil {
		return err
	}
	p.repeat = m
	return nil
}

// ChangeNode moves playback to another node. The target must hold a
// session. The old node's player is destroyed first, then the new node
// receives the track, position, volume and pause state. If the new node
// rejects it, the player goes back to the old node; when that fails too
// it is left idle there. Commands issued meanwhile fail with ErrMigrating.
func (p *Player) ChangeNode(ctx context.Context, to Node) error {
	p.mu.Lock()
	switch {
	case p.destroyed:
		p.mu.Unlock()
		return ErrDestroyed
	case p.node.ID() == to.ID():
		p.mu.Unlock()
		return ErrSameNode
	case p.data[KeyNodeChanging] != nil:
		p.mu.Unlock()
		return ErrMigrating
	case !to.Connected() || to.SessionID() == "":
		p.mu.Unlock()
		return fmt.Errorf("node %s: %w", to.ID(), ErrNodeNotReady)
	}
	p.data[KeyNodeChanging] = true
	p.mu.Unlock()
	defer p.unset(KeyNodeChanging)

	p.cmdMu.Lock()
	defer p.cmdMu.Unlock()

	old := p.Node()
	if old.Connected() {
		if err := old.DestroyPlayer(ctx, p.guildID); err != nil {
			log.Warnw("destroy on old node failed", "guild", p.guildID, "node", old.ID(), "err", err)
		}
	}

	p.mu.Lock()
	p.node = to
	u := p.resendLocked()
	pos := *u.Position
	p.mu.Unlock()

	err := p.update(ctx, false, u)
	if err == nil {
		p.mu.Lock()
		p.anchorLocked(pos)
		p.mu.Unlock()
		log.Infow("player moved", "guild", p.guildID, "from", old.ID(), "to", to.ID())
		return nil
	}

	err = fmt.Errorf("change node %s -> %s: %w", old.ID(), to.ID(), err)
	p.mu.Lock()
	p.node = old
	p.mu.Unlock()
	if rerr := p.update(ctx, false, u); rerr != nil {
		log.Warnw("player lost on both nodes", "guild", p.guildID, "from", old.ID(), "to", to.ID(), "err", rerr)
		p.mu.Lock()
		p.playing = false
		p.paused = false
		p.lastPosition = pos
		p.lastPositionChange = timeZero
		p.mu.Unlock()
		return errors.Join(err, rerr)
	}
	p.mu.Lock()
	p.anchorLocked(pos)
	p.mu.Unlock()
	log.Warnw("player kept on old node", "guild", p.guildID, "node", old.ID(), "err", err)
	return err
}

// resendLocked builds the update that recreates the local playback state on
// a node.
func (p *Player) resendLocked() proto.UpdatePlayer {
	pos := p.positionLocked()
	vol := p.volume
	paused := p.paused
	u := proto.UpdatePlayer{Position: &pos, Volume: &vol, Paused: &paused, Voice: p.voice}
	if cur := p.queue.Current(); cur != nil {
		u.Track = proto.EncodedTrack(cur.Encoded, cur.UserData)
	}
	return u
}

// Restore re-sends the local playback state to the current node, for use
// after the node lost its session.
func (p *Player) Restore(ctx context.Context) error {
	unlock, err := p.begin()
	if err != nil {
		return err
	}
	defer unlock()

	p.mu.RLock()
	u := p.resendLocked()
	p.mu.RUnlock()
	if u.Track == nil && u.Voice == nil {
		return nil
	}
	pos := *u.Position
	if err := p.update(ctx, false, u); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	p.mu.Lock()
	p.anchorLocked(pos)
	p.mu.Unlock()
	return nil
}

// UpdateVoice hands the gateway voice credentials to the node.
func (p *Player) UpdateVoice(ctx context.Context, vs proto.VoiceState) error {
	unlock, err := p.begin()
	if err != nil {
		return err
	}
	defer unlock()

	if err := p.update(ctx, false, proto.UpdatePlayer{Voice: &vs}); err != nil {
		return fmt.Errorf("voice: %w", err)
	}
	p.mu.Lock()
	p.voice = &vs
	p.mu.Unlock()
	return nil
}

func (p *Player) Connect() error {
	if err := p.check(); err != nil {
		return err
	}
	p.mu.RLock()
	channel, mute, deaf := p.voiceChannelID, p.selfMute, p.selfDeaf
	p.mu.RUnlock()
	if channel == "" {
		return ErrNoVoiceChannel
	}
	return p.sendVoice(channel, mute, deaf)
}

// Disconnect leaves the voice channel. Without force it fails when no
// channel is set.
func (p *Player) Disconnect(force bool) error {
	if err := p.check(); err != nil {
		return err
	}
	return p.disconnect(force)
}

func (p *Player) disconnect(force bool) error {
	p.mu.RLock()
	channel, mute, deaf := p.voiceChannelID, p.selfMute, p.selfDeaf
	p.mu.RUnlock()
	if !force && channel == "" {
		return ErrNoVoiceChannel
	}
	if err := p.sendVoice("", mute, deaf); err != nil {
		return err
	}
	p.mu.Lock()
	p.voiceChannelID = ""
	p.voiceConnected = false
	p.mu.Unlock()
	return nil
}

func (p *Player) ChangeVoiceState(channelID string, selfMute, selfDeaf bool) error {
	if err := p.check(); err != nil {
		return err
	}
	p.mu.RLock()
	same := channelID == p.voiceChannelID
	p.mu.RUnlock()
	if same {
		return ErrSameVoiceChannel
	}
	if err := p.sendVoice(channelID, selfMute, selfDeaf); err != nil {
		return err
	}
	p.mu.Lock()
	p.voiceChannelID = channelID
	p.selfMute, p.selfDeaf = selfMute, selfDeaf
	p.mu.Unlock()
	return nil
}

func (p *Player) sendVoice(channelID string, mute, deaf bool) error {
	if p.cfg.SendVoiceState == nil {
		return nil
	}
	return p.cfg.SendVoiceState(p.guildID, channelID, mute, deaf)
}

// Destroy tears the player down: optional voice disconnect, stored queue
// removal and remote player removal. A destroyed player rejects every
// command; destroying twice is a no-op.
func (p *Player) Destroy(ctx context.Context, disconnect bool) error {
	p.mu.Lock()
	if p.destroyed || p.data[KeyDestroyStatus] != nil {
		p.mu.Unlock()
		return nil
	}
	p.data[KeyDestroyStatus] = true
	p.mu.Unlock()

	p.cmdMu.Lock()
	defer p.cmdMu.Unlock()

	var errs []error
	if disconnect {
		if err := p.disconnect(true); err != nil {
			errs = append(errs, err)
		}
	}

	p.mu.Lock()
	p.destroyed = true
	p.playing = false
	p.paused = false
	p.lastPositionChange = timeZero
	p.mu.Unlock()
	p.once.Do(func() { close(p.stop) })

	if _, err := p.queue.Destroy(ctx); err != nil {
		errs = append(errs, err)
	}
	if n := p.Node(); n.Connected() {
		if err := n.DestroyPlayer(ctx, p.guildID); err != nil {
			errs = append(errs, err)
		}
	}
	log.Debugw("player destroyed", "guild", p.guildID)
	return errors.Join(errs...)
}

// Search loads query on the player's node. Plain text gets the default
// search platform prefix; URLs and prefixed queries pass through.
func (p *Player) Search(ctx context.Context, query string) (*proto.LoadResult, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	return p.Node().LoadTracks(ctx, SearchQuery(p.cfg.SearchPlatform, query))
}

func SearchQuery(platform, query string) string {
	query = strings.TrimSpace(query)
	if strings.Contains(query, "://") {
		return query
	}
	if i := strings.Index(query, ":"); i > 0 && !strings.ContainsAny(query[:i], " \t") {
		return query
	}
	if platform == "" {
		platform = proto.DefaultSearchPlatform
	}
	return platform + ":" + query
}

func (p *Player) Lyrics(ctx context.Context, skipTrackSource bool) (*proto.Lyrics, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	if p.queue.Current() == nil {
		return nil, ErrNothingToPlay
	}
	return p.Node().CurrentLyrics(ctx, p.guildID, skipTrackSource)
}

// retire moves the current track into history. In queue repeat it is also
// appended to the pending tracks.
func (p *Player) retire(ctx context.Context, cur *proto.Track) {
	p.queue.SetCurrent(nil)
	if cur == nil {
		return
	}
	p.queue.PushPrevious(*cur)
	if p.RepeatMode() == RepeatQueue {
		if _, err := p.queue.Add(ctx, []proto.QueueTrack{proto.Resolved(*cur)}, queue.AtEnd); err != nil {
			log.Warnw("requeue failed", "guild", p.guildID, "err", err)
		}
	}
}
