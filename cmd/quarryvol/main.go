package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/quarrydb/quarry/pkg/config"
	"github.com/quarrydb/quarry/pkg/coordinator"
	"github.com/quarrydb/quarry/pkg/decommission"
	"github.com/quarrydb/quarry/pkg/initializer"
	"github.com/quarrydb/quarry/pkg/log"
	"github.com/quarrydb/quarry/pkg/metadata"
	"github.com/quarrydb/quarry/pkg/rewriter"
	"github.com/quarrydb/quarry/pkg/types"
	"github.com/quarrydb/quarry/pkg/walreg"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "quarryvol",
	Short: "Quarry volume placement administration",
	Long: `quarryvol administers the volume layer of a quarry cluster: it
initializes volumes with the instance identity marker, applies volume
replacement rules to persisted metadata, and drives volume decommissioning
through draining to retirement.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"quarryvol version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/quarry/quarry.yaml",
		"path to the quarry configuration file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(rewriteCmd)
	rootCmd.AddCommand(decommissionCmd)
	rootCmd.AddCommand(statusCmd)

	initCmd.Flags().Bool("add-volumes", false,
		"only stamp newly configured volumes, fail if the instance is not initialized yet")

	rewriteCmd.Flags().String("table", "", "restrict the pass to one table id")

	decommissionBeginCmd.Flags().String("volume", "", "volume prefix to decommission")
	_ = decommissionBeginCmd.MarkFlagRequired("volume")
	decommissionVerifyCmd.Flags().String("volume", "", "volume prefix to verify")
	_ = decommissionVerifyCmd.MarkFlagRequired("volume")
	decommissionVerifyCmd.Flags().Duration("wait", 0,
		"keep polling until the volume retires or the duration passes")

	decommissionCmd.AddCommand(decommissionBeginCmd)
	decommissionCmd.AddCommand(decommissionVerifyCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSON})
	return cfg, nil
}

// instanceID reads the cluster identity from the data dir, minting one on
// first initialization.
func instanceID(cfg *config.Config, mint bool) (string, error) {
	path := filepath.Join(cfg.DataDir, "instance_id")
	data, err := os.ReadFile(path)
	if err == nil {
		return strings.TrimSpace(string(data)), nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}
	if !mint {
		return "", fmt.Errorf("instance not initialized (no %s); run quarryvol init first", path)
	}

	id := uuid.New().String()
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0644); err != nil {
		return "", err
	}
	return id, nil
}

func openStores(cfg *config.Config) (metadata.Store, walreg.Registry, error) {
	store, err := metadata.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}
	registry, err := walreg.NewBoltRegistry(cfg.DataDir)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, registry, nil
}

func startCoordinator(cfg *config.Config) (*coordinator.Coordinator, error) {
	nodeID := cfg.Coordinator.NodeID
	if nodeID == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, err
		}
		nodeID = host
	}

	coord, err := coordinator.New(&coordinator.Config{
		NodeID:   nodeID,
		BindAddr: cfg.Coordinator.BindAddr,
		DataDir:  filepath.Join(cfg.DataDir, "coordinator"),
	})
	if err != nil {
		return nil, err
	}
	if err := coord.Bootstrap(); err != nil {
		return nil, err
	}
	if err := coord.WaitForLeader(10 * time.Second); err != nil {
		return nil, err
	}
	return coord, nil
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configured volumes with the instance identity marker",
	RunE: func(cmd *cobra.Command, args []string) error {
		addOnly, _ := cmd.Flags().GetBool("add-volumes")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		set, err := cfg.VolumeSet()
		if err != nil {
			return err
		}
		id, err := instanceID(cfg, !addOnly)
		if err != nil {
			return err
		}

		if err := initializer.New(id).AddVolumes(set); err != nil {
			return err
		}
		fmt.Printf("Initialized %d volume(s) for instance %s\n", set.Size(), id)
		return nil
	},
}

var rewriteCmd = &cobra.Command{
	Use:   "rewrite",
	Short: "Apply configured volume replacement rules to persisted metadata",
	RunE: func(cmd *cobra.Command, args []string) error {
		tableID, _ := cmd.Flags().GetString("table")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		set, err := cfg.VolumeSet()
		if err != nil {
			return err
		}
		rules := set.Rules()
		if len(rules) == 0 {
			fmt.Println("No volume replacements configured, nothing to do")
			return nil
		}

		store, registry, err := openStores(cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		defer registry.Close()

		coord, err := startCoordinator(cfg)
		if err != nil {
			return err
		}
		defer coord.Shutdown()
		if !coord.IsLeader() {
			return fmt.Errorf("another coordinator holds the rewrite role")
		}

		rng := types.FullRange()
		if tableID != "" {
			rng = types.TableRange(tableID)
		}

		report, err := rewriter.New(store, registry, set).Rewrite(cmd.Context(), rng, rules)
		if err != nil {
			return err
		}
		if err := coord.RecordCheckpoint(rules, report); err != nil {
			return err
		}
		fmt.Printf("Rewrite complete: %s\n", report)
		return nil
	},
}

var decommissionCmd = &cobra.Command{
	Use:   "decommission",
	Short: "Retire a volume from the active set",
}

func newDecommissioner(cfg *config.Config) (*decommission.Decommissioner, *coordinator.Coordinator, func(), error) {
	store, registry, err := openStores(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	coord, err := startCoordinator(cfg)
	if err != nil {
		store.Close()
		registry.Close()
		return nil, nil, nil, err
	}
	cleanup := func() {
		coord.Shutdown()
		registry.Close()
		store.Close()
	}
	return decommission.New(store, registry, coord, cfg.RetryPolicy()), coord, cleanup, nil
}

var decommissionBeginCmd = &cobra.Command{
	Use:   "begin",
	Short: "Stop placing new files on a volume and begin draining it",
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix, _ := cmd.Flags().GetString("volume")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		set, err := cfg.VolumeSet()
		if err != nil {
			return err
		}

		dec, _, cleanup, err := newDecommissioner(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		remaining, err := dec.Begin(set, prefix)
		if err != nil {
			return err
		}
		fmt.Printf("Volume %s is draining; %d volume(s) remain active\n", prefix, remaining.Size())
		fmt.Println("Remove it from the volumes list in configuration before the next restart.")
		return nil
	},
}

var decommissionVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Re-scan metadata and the WAL registry for residual references",
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix, _ := cmd.Flags().GetString("volume")
		wait, _ := cmd.Flags().GetDuration("wait")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		dec, _, cleanup, err := newDecommissioner(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		if wait > 0 {
			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()
			if err := dec.WaitRetired(ctx, prefix, 5*time.Second); err != nil {
				return err
			}
		} else if err := dec.Verify(cmd.Context(), prefix); err != nil {
			if decommission.IsResidual(err) {
				fmt.Printf("Volume %s stays draining: %v\n", prefix, err)
				return nil
			}
			return err
		}

		state, err := dec.State(prefix)
		if err != nil {
			return err
		}
		fmt.Printf("Volume %s is %s\n", prefix, state)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the volume topology and decommission states",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		set, err := cfg.VolumeSet()
		if err != nil {
			return err
		}

		coord, err := startCoordinator(cfg)
		if err != nil {
			return err
		}
		defer coord.Shutdown()

		fmt.Println("Active volumes:")
		for _, prefix := range set.Active() {
			state, _ := coord.VolumeState(prefix)
			fmt.Printf("  %s (%s)\n", prefix, state)
		}
		if rules := set.Rules(); len(rules) > 0 {
			fmt.Println("Replacement rules:")
			for _, rule := range rules {
				fmt.Printf("  %s\n", rule)
			}
		}
		for prefix, state := range coord.VolumeStates() {
			if !set.Contains(prefix) {
				fmt.Printf("  %s (%s, not configured)\n", prefix, state)
			}
		}
		if cp := coord.LastCheckpoint(); cp != nil {
			fmt.Printf("Last rewrite: %d row(s), %d pending, at %s\n",
				cp.Rewritten, cp.Pending, cp.CompletedAt.Format(time.RFC3339))
		}
		return nil
	},
}
