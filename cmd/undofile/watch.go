package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kirawi/undofile/internal/cache"
	"github.com/kirawi/undofile/internal/ui"
	"github.com/kirawi/undofile/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the cache sync daemon",
	Long: `Watch the state directory for changed undo files and keep the SQLite
query cache in sync.

The undo files remain the source of truth; the cache only speeds up
'undofile log' and 'undofile cache status'. The daemon runs until
interrupted and shuts down gracefully on SIGINT/SIGTERM.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		store := openStore(cfg, true)

		db, err := cache.Open(cfg.CachePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening cache: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.InitSchema(); err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing cache schema: %v\n", err)
			os.Exit(1)
		}

		daemonCfg := watch.DefaultConfig()
		daemonCfg.BackupSuffix = cfg.BackupSuffix
		daemonCfg.Logger = daemonLogger(cfg)

		daemon, err := watch.New(db, store.TreeDir(), daemonCfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating daemon: %v\n", err)
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("%s Watching %s (cache: %s)\n", ui.RenderAccent("👁"), store.TreeDir(), cfg.CachePath)
		if err := daemon.Start(ctx); err != nil && err != context.Canceled {
			fmt.Fprintf(os.Stderr, "Daemon error: %v\n", err)
			os.Exit(1)
		}
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Query cache management",
	Long: `Manage the SQLite query cache built from the undo files.

The cache is disposable: 'undofile cache sync' rebuilds it from the
authoritative undo files at any time.`,
}

var cacheSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Rebuild the cache from the undo files",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		store := openStore(cfg, true)

		db, err := cache.Open(cfg.CachePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening cache: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.InitSchema(); err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing cache schema: %v\n", err)
			os.Exit(1)
		}

		daemonCfg := watch.DefaultConfig()
		daemonCfg.BackupSuffix = cfg.BackupSuffix

		daemon, err := watch.New(db, store.TreeDir(), daemonCfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating syncer: %v\n", err)
			os.Exit(1)
		}

		start := time.Now()
		if err := daemon.FullSync(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during sync: %v\n", err)
			os.Exit(1)
		}

		docs, _ := db.DocumentCount()
		fmt.Printf("%s Cache sync complete in %v (%d documents)\n",
			ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond), docs)
	},
}

var cacheStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache contents",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		info, err := os.Stat(cfg.CachePath)
		if os.IsNotExist(err) {
			fmt.Printf("\n%s Cache not initialized\n", ui.RenderWarn("⚠"))
			fmt.Printf("   Run 'undofile cache sync' to build it\n\n")
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error checking cache: %v\n", err)
			os.Exit(1)
		}

		db, err := cache.Open(cfg.CachePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening cache: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()

		docs, err := db.Documents()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading cache: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("\nCache: %s (%d bytes)\n", cfg.CachePath, info.Size())
		for _, doc := range docs {
			fmt.Printf("  %s  %d revisions, tip %d, synced %s\n",
				ui.RenderAccent(doc.Document), doc.RevisionCount, doc.TipID,
				doc.SyncedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Println()
	},
}

func init() {
	cacheCmd.AddCommand(cacheSyncCmd)
	cacheCmd.AddCommand(cacheStatusCmd)
}
