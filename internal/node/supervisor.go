package node

import (
	"context"
	"time"
)

type SupervisorOptions struct {
	Interval   time.Duration
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

func (o *SupervisorOptions) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.MinBackoff <= 0 {
		o.MinBackoff = 250 * time.Millisecond
	}
	if o.MaxBackoff < o.MinBackoff {
		o.MaxBackoff = 30 * time.Second
	}
}

type retry struct {
	backoff time.Duration
	next    time.Time
}

// Supervisor owns the reconnect policy. It polls node states and calls
// Reconnect on disconnected nodes with doubling backoff per node. The read
// loop itself never reconnects.
type Supervisor struct {
	m    *Manager
	opts SupervisorOptions
	now  func() time.Time

	retries map[string]*retry
}

func NewSupervisor(m *Manager, opts SupervisorOptions) *Supervisor {
	opts.defaults()
	return &Supervisor{m: m, opts: opts, now: time.Now, retries: make(map[string]*retry)}
}

// Run blocks until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	t := time.NewTicker(s.opts.Interval)
	defer t.Stop()
	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (s *Supervisor) tick(ctx context.Context) {
	now := s.now()
	seen := make(map[string]bool)
	for _, n := range s.m.Nodes() {
		id := n.ID()
		seen[id] = true
		if n.State() != Disconnected {
			delete(s.retries, id)
			continue
		}
		r := s.retries[id]
		if r == nil {
			r = &retry{backoff: s.opts.MinBackoff}
			s.retries[id] = r
		}
		if now.Before(r.next) {
			continue
		}
		if err := s.m.Reconnect(ctx, id); err != nil {
			log.Warnf("reconnect node %s failed, next try in %s: %v", id, r.backoff, err)
			r.next = now.Add(r.backoff)
			if r.backoff < s.opts.MaxBackoff {
				r.backoff *= 2
				if r.backoff > s.opts.MaxBackoff {
					r.backoff = s.opts.MaxBackoff
				}
			}
			continue
		}
		log.Infof("reconnected node %s", id)
		delete(s.retries, id)
	}
	for id := range s.retries {
		if !seen[id] {
			delete(s.retries, id)
		}
	}
}
