package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kirawi/undofile/internal/hashing"
	"github.com/kirawi/undofile/internal/ui"
	"github.com/kirawi/undofile/internal/undofile"
)

var statusCmd = &cobra.Command{
	Use:   "status <document>",
	Short: "Show sync state and staleness for a document",
	Long: `Display this session's view of a document's undo history.

Shows the master tree size, the session's divergence point, unmerged
local revisions, and whether the document changed on disk outside this
session (in which case the next save will be blocked).`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		document := args[0]

		cfg := loadConfig()
		store := openStore(cfg, true)

		client, err := store.Load(document)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", document, err)
			os.Exit(1)
		}

		currentHash, err := hashing.HashFile(document)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error hashing %s: %v\n", document, err)
			os.Exit(1)
		}

		fmt.Printf("\nDocument: %s\n", document)
		fmt.Printf("  Undo file:   %s\n", store.TreePath(document))
		fmt.Printf("  Revisions:   %d\n", client.Tree.Len())
		fmt.Printf("  Divergence:  %d\n", client.State.DivergenceID)
		fmt.Printf("  Cursor:      %d\n", client.State.Cursor)
		fmt.Printf("  Unmerged:    %d\n", len(client.State.Suffix))
		fmt.Printf("  Disk hash:   %s\n", ui.RenderAccent(currentHash.Short()))
		fmt.Printf("  Synced hash: %s\n", ui.RenderAccent(client.State.LastSyncedFileHash.Short()))

		if undofile.CheckFreshness(client.State, currentHash) == undofile.Fresh {
			fmt.Printf("  State:       %s\n\n", ui.RenderPass("fresh"))
		} else {
			fmt.Printf("  State:       %s %s\n\n",
				ui.RenderWarn("stale"), ui.RenderMuted("(document changed outside this session)"))
		}

		if !store.Enabled() {
			fmt.Printf("%s Undo-file feature is disabled; saves skip history\n\n", ui.RenderWarn("⚠"))
		}
	},
}
