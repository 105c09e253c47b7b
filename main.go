// main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/petervdpas/lavaman/internal/app"
	"github.com/petervdpas/lavaman/internal/config"
	"github.com/petervdpas/lavaman/internal/node"
	"github.com/petervdpas/lavaman/internal/player"
	"github.com/spf13/cobra"
)

var log = logging.Logger("lavaman")

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

var (
	cfgPath string
	userID  string
	nodeID  string
)

var rootCmd = &cobra.Command{
	Use:          "lavaman",
	Short:        "Audio node client and player manager",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the configured nodes and serve the status API",
	RunE: func(cmd *cobra.Command, args []string) error {
		abs, err := filepath.Abs(cfgPath)
		if err != nil {
			return fmt.Errorf("invalid config path: %w", err)
		}

		var cfg config.Config
		if userID != "" {
			var created bool
			cfg, created, err = config.Ensure(abs, userID)
			if created {
				fmt.Printf("Created default config at %s\n", abs)
			}
		} else {
			cfg, err = config.Load(abs)
		}
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return app.Run(ctx, app.Options{
			CfgPath: abs,
			Cfg:     cfg,
			Version: appVersion,
			Progress: func(step, total int, label string) {
				log.Infof("[%d/%d] %s", step, total, label)
			},
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run one track search against a configured node",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := app.ApplyLogLevels(cfg.Log); err != nil {
			return err
		}
		resolved, err := cfg.ResolvedNodes()
		if err != nil {
			return err
		}
		opts := app.NodeOptions(resolved)
		if len(opts) == 0 {
			return errors.New("no nodes configured")
		}
		target := opts[0]
		if nodeID != "" {
			found := false
			for _, o := range opts {
				if o.ID == nodeID {
					target, found = o, true
					break
				}
			}
			if !found {
				return fmt.Errorf("node %s: %w", nodeID, node.ErrNodeNotFound)
			}
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		// Loading tracks is not session scoped, so no websocket is needed.
		n := node.New(target, nil)
		pc := app.PlayerConfig(cfg.Player)
		query := player.SearchQuery(player.PlatformPrefix(pc.Platforms, pc.SearchPlatform), strings.Join(args, " "))
		res, err := n.LoadTracks(ctx, query)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "lavaman v%s\n", appVersion)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "lavaman.yaml", "config file (.yaml, .yml or .json)")
	runCmd.Flags().StringVar(&userID, "user-id", "", "create a default config for this bot user id if none exists")
	searchCmd.Flags().StringVar(&nodeID, "node", "", "node id to query (default: first configured)")

	rootCmd.AddCommand(runCmd, searchCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
