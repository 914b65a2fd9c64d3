package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kirawi/undofile/internal/ui"
)

var resetCmd = &cobra.Command{
	Use:   "reset <document>",
	Short: "Reinitialize this session's sync state from disk",
	Long: `Discard this session's sync state and adopt the document as it
currently exists on disk.

This is the recovery path after a blocked stale save: the session's view
falls behind when the document changes externally, and resetting accepts
the on-disk version as the new baseline. Unmerged local revisions in the
old sync state are dropped; the master tree is untouched.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		document := args[0]

		cfg := loadConfig()
		store := openStore(cfg, true)

		client, err := store.Reset(document)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error resetting %s: %v\n", document, err)
			os.Exit(1)
		}

		fmt.Printf("%s Reset %s to revision %s\n",
			ui.RenderPass("✓"), document, ui.RenderAccent(fmt.Sprintf("%d", client.State.DivergenceID)))
	},
}
