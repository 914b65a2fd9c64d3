// Command undofile manages shared, persistent undo history for documents.
//
// Each editing session is an independent client: it extends the document's
// revision tree locally and merges its unseen history into the shared
// master store on save, without requiring other sessions to reload first.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kirawi/undofile/internal/config"
	"github.com/kirawi/undofile/internal/undofile"
)

var rootCmd = &cobra.Command{
	Use:   "undofile",
	Short: "Shared persistent undo history for documents",
	Long: `undofile maintains one authoritative revision tree per document on disk,
shared by any number of independent editing sessions.

Sessions record edits locally, detect when the document changed outside
their view, and merge their unseen history into the master tree on save.
The master store is only ever rewritten through backup-protected atomic
replaces, so a crash leaves either the old version or the new one, never
a truncated hybrid.`,
}

var sessionName string

func main() {
	rootCmd.PersistentFlags().StringVar(&sessionName, "session", "default", "session name; each independent editing session keeps its own sync state")

	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(toggleCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(cacheCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration or exits.
func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// openStore builds a Store from config or exits. quiet discards store logs,
// for commands whose stdout is the report.
func openStore(cfg *config.Config, quiet bool) *undofile.Store {
	storeCfg := undofile.DefaultConfig(cfg.StateDir)
	storeCfg.BackupSuffix = cfg.BackupSuffix
	storeCfg.Enabled = cfg.Enabled
	storeCfg.Session = sessionName
	if quiet {
		storeCfg.Logger = log.New(io.Discard, "", 0)
	}

	store, err := undofile.NewStore(storeCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}
	return store
}

// daemonLogger returns the watch daemon's logger, rotated via lumberjack
// when a log file is configured.
func daemonLogger(cfg *config.Config) *log.Logger {
	if cfg.LogFile == "" {
		return log.New(os.Stderr, "[watch] ", log.LstdFlags)
	}
	return log.New(&lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	}, "[watch] ", log.LstdFlags)
}
