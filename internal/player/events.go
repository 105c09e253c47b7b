package player

import (
	"context"
	"errors"

	"github.com/petervdpas/lavaman/internal/proto"
)

// Deliver queues a node message for Run. It never blocks; a full inbox
// drops the message and reports false.
func (p *Player) Deliver(m proto.Message) bool {
	select {
	case <-p.stop:
		return false
	default:
	}
	select {
	case p.inbox <- m:
		return true
	default:
		log.Warnw("player inbox full, dropping message", "guild", p.guildID, "op", m.Op)
		return false
	}
}

// Run applies delivered messages in order until ctx ends or the player is
// destroyed.
func (p *Player) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case m := <-p.inbox:
			p.HandleMessage(ctx, m)
		}
	}
}

// Done is closed once the player is destroyed or stopped.
func (p *Player) Done() <-chan struct{} { return p.stop }

// HandleMessage applies one node message to the player. Frames from a node
// the player has moved away from are dropped.
func (p *Player) HandleMessage(ctx context.Context, m proto.Message) {
	if m.NodeID != "" && m.NodeID != p.NodeID() {
		log.Debugw("dropping frame from previous node", "guild", p.guildID, "node", m.NodeID, "op", m.Op)
		return
	}
	switch {
	case m.PlayerUpdate != nil:
		p.onPlayerUpdate(m.PlayerUpdate.State)
	case m.Event != nil:
		p.onEvent(ctx, *m.Event)
	}
}

func (p *Player) onPlayerUpdate(st proto.PlayerState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return
	}
	p.anchorLocked(st.Position)
	p.voiceConnected = st.Connected
	p.ping.WS = msDuration(st.Ping)
}

func (p *Player) onEvent(ctx context.Context, ev proto.Event) {
	switch ev.Type {
	case proto.EventTrackStart:
		p.onTrackStart(ev)
	case proto.EventTrackEnd:
		p.onTrackEnd(ctx, ev)
	case proto.EventTrackException:
		msg := ""
		if ev.Exception != nil {
			msg = ev.Exception.Message
		}
		log.Warnw("track exception", "guild", p.guildID, "err", msg)
	case proto.EventTrackStuck:
		log.Warnw("track stuck", "guild", p.guildID, "threshold_ms", ev.ThresholdMs)
		if p.cfg.AutoSkip {
			if err := p.Skip(ctx, 0, false); err != nil && !errors.Is(err, ErrDestroyed) {
				log.Warnw("skip after stuck track failed", "guild", p.guildID, "err", err)
			}
		}
	case proto.EventWebSocketClosed:
		p.mu.Lock()
		p.voiceConnected = false
		p.mu.Unlock()
		log.Warnw("voice websocket closed", "guild", p.guildID, "code", ev.Code, "reason", ev.Reason, "by_remote", ev.ByRemote)
	}
}

func (p *Player) onTrackStart(ev proto.Event) {
	if ev.Track != nil && p.queue.Current() == nil {
		p.queue.SetCurrent(ev.Track)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return
	}
	p.playing = true
	if p.lastPositionChange.IsZero() {
		p.anchorLocked(p.lastPosition)
	}
}

// onTrackEnd advances the queue. A pending stop request suppresses the
// advance once; a skip always advances; otherwise AutoSkip decides.
func (p *Player) onTrackEnd(ctx context.Context, ev proto.Event) {
	p.cmdMu.Lock()
	defer p.cmdMu.Unlock()

	reason := ev.EndReason()
	if reason == proto.EndReplaced {
		return
	}

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.playing = false
	p.lastPosition = 0
	p.lastPositionChange = timeZero
	p.mu.Unlock()

	cur := p.queue.Current()

	if p.takeFlag(KeyStopPlaying) {
		autoplay := !p.takeFlag(KeyAutoplayStopPlaying)
		p.retire(ctx, cur)
		p.save(ctx)
		if autoplay {
			p.queueEnd(ctx, cur)
		}
		return
	}

	skipped := p.takeFlag(KeySkipped)
	if !skipped && !(p.cfg.AutoSkip && reason.MayStartNext()) {
		return
	}

	if cur != nil && !skipped && reason == proto.EndFinished && p.RepeatMode() == RepeatTrack {
		if err := p.playLocked(ctx, PlayOptions{}); err != nil {
			log.Warnw("repeat track failed", "guild", p.guildID, "err", err)
		}
		return
	}

	p.retire(ctx, cur)
	err := p.playLocked(ctx, PlayOptions{})
	switch {
	case errors.Is(err, ErrNothingToPlay):
		p.save(ctx)
		p.queueEnd(ctx, cur)
	case err != nil:
		log.Warnw("advance failed", "guild", p.guildID, "err", err)
	}
}

func (p *Player) queueEnd(ctx context.Context, last *proto.Track) {
	p.Set(KeyQueueEmpty, true)
	log.Debugw("queue empty", "guild", p.guildID)
	if hook := p.cfg.OnQueueEmpty; hook != nil {
		go hook(ctx, p, last)
	}
}

func (p *Player) save(ctx context.Context) {
	if err := p.queue.Save(ctx); err != nil {
		log.Warnw("queue save failed", "guild", p.guildID, "err", err)
	}
}
