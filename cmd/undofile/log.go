package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirawi/undofile/internal/history"
	"github.com/kirawi/undofile/internal/ui"
)

var logCmd = &cobra.Command{
	Use:   "log <document>",
	Short: "Show the revision tree of a document",
	Long: `Render a document's full revision tree, root first.

Sibling branches are separate lines of descent created by sessions that
diverged from the same revision; they are preserved as-is, never
flattened or reordered.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		document := args[0]

		cfg := loadConfig()
		store := openStore(cfg, true)

		tree, err := store.ReadTree(document)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading undo file: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("\n%s (%d revisions)\n", document, tree.Len())
		printSubtree(tree, tree.Root().ID, 0)
		fmt.Println()
	},
}

// printSubtree renders a revision and its descendants, indented by depth.
func printSubtree(tree *history.Tree, id uint64, depth int) {
	rev, _ := tree.Get(id)

	marker := " "
	if id == tree.Cursor() {
		marker = ui.RenderPass("*")
	}

	parent := "root"
	if rev.Parent != nil {
		parent = fmt.Sprintf("parent %d", *rev.Parent)
	}

	fmt.Printf("%s%s %s  %s  %s\n",
		strings.Repeat("  ", depth),
		marker,
		ui.RenderAccent(fmt.Sprintf("[%d]", rev.ID)),
		ui.RenderMuted(parent),
		ui.RenderMuted(fmt.Sprintf("hash %s  %s", rev.FileHash.Short(), rev.CreatedAt.Format("2006-01-02 15:04:05"))))

	for _, child := range tree.Children(id) {
		printSubtree(tree, child, depth+1)
	}
}
