package app

import (
	"context"
	"time"

	"github.com/petervdpas/lavaman/internal/config"
	"github.com/petervdpas/lavaman/internal/manager"
	"github.com/petervdpas/lavaman/internal/node"
)

const readyTimeout = 5 * time.Second

// NodeOptions converts resolved config entries into node options.
func NodeOptions(nodes []config.Node) []node.Options {
	out := make([]node.Options, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, node.Options{
			ID:             n.ID,
			Host:           n.Host,
			Port:           n.Port,
			Secure:         n.Secure,
			Password:       n.Password,
			RequestTimeout: time.Duration(n.RequestTimeoutSec) * time.Second,
		})
	}
	return out
}

// diffNodes compares running nodes with the wanted set. An entry without an
// id matches a running node on the same address.
func diffNodes(have []node.Options, want []config.Node) (add []config.Node, remove []string) {
	matched := make(map[string]bool, len(have))
	for _, w := range want {
		found := false
		for _, h := range have {
			if (w.ID != "" && h.ID == w.ID) || (w.ID == "" && h.Host == w.Host && h.Port == w.Port) {
				matched[h.ID] = true
				found = true
				break
			}
		}
		if !found {
			add = append(add, w)
		}
	}
	for _, h := range have {
		if !matched[h.ID] {
			remove = append(remove, h.ID)
		}
	}
	return add, remove
}

// Reconcile brings the node set in line with cfg. New nodes are added
// before players are moved off removed ones; a node whose players cannot
// all move is still removed.
func Reconcile(ctx context.Context, m *manager.Manager, cfg config.Config) {
	want, err := cfg.ResolvedNodes()
	if err != nil {
		log.Warnw("reconcile nodes", "err", err)
		return
	}
	nodes := m.Nodes()

	var have []node.Options
	for _, n := range nodes.Nodes() {
		have = append(have, n.Options())
	}
	add, remove := diffNodes(have, want)

	for _, o := range NodeOptions(add) {
		n, err := nodes.AddNode(ctx, o)
		if err != nil {
			log.Warnw("add node", "node", o.ID, "err", err)
			continue
		}
		log.Infow("node added", "node", n.ID())
		if len(remove) > 0 && !awaitReady(ctx, n, readyTimeout) {
			log.Warnw("added node not ready, moves may fail", "node", n.ID())
		}
	}
	for _, id := range remove {
		if err := m.MoveNodePlayers(ctx, id); err != nil {
			log.Warnw("move players off removed node", "node", id, "err", err)
		}
		if n, ok := nodes.RemoveNode(id); ok {
			if err := n.Close(); err != nil {
				log.Debugw("close removed node", "node", id, "err", err)
			}
			log.Infow("node removed", "node", id)
		}
	}
}

// awaitReady polls until n has a session or the timeout passes.
func awaitReady(ctx context.Context, n *node.Node, timeout time.Duration) bool {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	deadline := time.After(timeout)
	for n.State() != node.Ready {
		select {
		case <-ctx.Done():
			return false
		case <-deadline:
			return false
		case <-t.C:
		}
	}
	return true
}
