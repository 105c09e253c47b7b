package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/petervdpas/lavaman/internal/config"
	"github.com/petervdpas/lavaman/internal/manager"
	"github.com/petervdpas/lavaman/internal/node"
	"github.com/petervdpas/lavaman/internal/player"
	"github.com/petervdpas/lavaman/internal/proto"
	"github.com/petervdpas/lavaman/internal/queue"
	"github.com/petervdpas/lavaman/internal/storage"
	"github.com/petervdpas/lavaman/internal/util"
	"github.com/petervdpas/lavaman/internal/viewer"
	"golang.org/x/sync/errgroup"
)

var log = logging.Logger("lavaman/app")

type Options struct {
	CfgPath string
	Cfg     config.Config
	Version string

	// Progress reports startup steps. Optional.
	Progress func(step, total int, label string)
}

// Run starts every component described by the config and blocks until ctx
// ends or one of them fails.
func Run(ctx context.Context, opt Options) error {
	cfg := opt.Cfg
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := ApplyLogLevels(cfg.Log); err != nil {
		return err
	}

	logBuf := viewer.NewLogBuffer(cfg.Viewer.LogLines)
	stopCapture, err := logBuf.Capture(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer stopCapture()

	logBanner(opt.CfgPath, cfg)

	progress := opt.Progress
	if progress == nil {
		progress = func(int, int, string) {}
	}
	step, total := 0, 4
	if cfg.Viewer.HTTPAddr != "" {
		total++
	}

	// ── Storage
	step++
	progress(step, total, "Opening storage")
	dsn := cfg.Storage.DSN
	if cfg.Storage.Kind == storage.KindSQLite || cfg.Storage.Kind == storage.KindBadger {
		// Directories are relative to the config file.
		dsn = util.ResolvePath(filepath.Dir(opt.CfgPath), dsn)
	}
	backend, err := storage.OpenBackend(cfg.Storage.Kind, dsn)
	if err != nil {
		return fmt.Errorf("open %s storage: %w", cfg.Storage.Kind, err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Warnw("close storage", "err", err)
		}
	}()

	// ── Nodes
	step++
	progress(step, total, "Connecting nodes")
	nodes := node.NewManager(node.ManagerOptions{
		Identity:      node.Identity{UserID: cfg.Client.UserID, ClientName: cfg.Client.ClientName},
		EventBuffer:   cfg.Events.Buffer,
		DroppedMemory: cfg.Events.DroppedMemory,
		Sessions:      backend,
		ResumeTimeout: time.Duration(cfg.Client.ResumeTimeoutSec) * time.Second,
	})
	defer nodes.Close()

	want, err := cfg.ResolvedNodes()
	if err != nil {
		return err
	}
	if err := nodes.AddNodes(ctx, NodeOptions(want)); err != nil {
		// Nodes that connected stay registered; the rest are retried on
		// the next config change.
		log.Errorw("not every node connected", "err", err)
	}
	log.Infof("%d of %d nodes connected", len(nodes.Nodes()), len(want))

	// ── Players
	step++
	progress(step, total, "Starting player manager")
	m := manager.New(nodes, manager.Options{
		Store:             backend,
		MaxPreviousTracks: cfg.Queue.MaxPreviousTracks,
		Watcher:           queue.WatcherFunc(logQueueChange),
		RestoreQueues:     cfg.Queue.Restore,
		Player:            PlayerConfig(cfg.Player),
		SubscriberBuffer:  cfg.Events.SubscriberBuffer,
	})
	defer m.Close()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		m.Run(ctx)
		return nil
	})

	sup := node.NewSupervisor(nodes, node.SupervisorOptions{
		Interval:   cfg.Supervisor.Interval(),
		MinBackoff: cfg.Supervisor.MinBackoff(),
		MaxBackoff: cfg.Supervisor.MaxBackoff(),
	})
	g.Go(func() error {
		sup.Run(ctx)
		return nil
	})

	// ── Viewer
	if cfg.Viewer.HTTPAddr != "" {
		step++
		progress(step, total, "Starting viewer")
		addr, url, _ := NormalizeLocalViewer(cfg.Viewer.HTTPAddr)
		g.Go(func() error {
			return viewer.Start(ctx, addr, viewer.Viewer{Manager: m, Logs: logBuf, LogLevel: cfg.Log.Level, Queues: backend, Version: opt.Version})
		})
		log.Infof("status server: %s", url)
	}

	// ── Config reload
	if opt.CfgPath != "" {
		g.Go(func() error {
			err := config.Watch(ctx, opt.CfgPath, func(next config.Config) {
				if err := ApplyLogLevels(next.Log); err != nil {
					log.Warnw("apply log levels", "err", err)
				}
				Reconcile(ctx, m, next)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	step++
	progress(step, total, "Online")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// ApplyLogLevels sets the global level and then the per logger overrides.
func ApplyLogLevels(c config.Log) error {
	lvl, err := logging.LevelFromString(c.Level)
	if err != nil {
		return err
	}
	logging.SetAllLoggers(lvl)
	for sys, l := range c.Subsystems {
		if err := logging.SetLogLevel(sys, l); err != nil {
			return fmt.Errorf("%s: %w", sys, err)
		}
	}
	return nil
}

// PlayerConfig maps the player config section. Configured platforms extend
// the built-in aliases.
func PlayerConfig(c config.Player) player.Config {
	platforms := proto.DefaultPlatforms()
	for alias, prefix := range c.Platforms {
		platforms[alias] = prefix
	}
	return player.Config{
		AutoSkip:       c.AutoSkip,
		SearchPlatform: c.DefaultSearchPlatform,
		DefaultVolume:  c.DefaultVolume,
		Platforms:      platforms,
	}
}

func logQueueChange(c queue.Change) {
	log.Debugw("queue changed", "guild", c.GuildID, "kind", c.Kind)
}
