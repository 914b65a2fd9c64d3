package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kirawi/undofile/internal/ui"
	"github.com/kirawi/undofile/internal/undofile"
)

var saveInput string

var saveCmd = &cobra.Command{
	Use:   "save <document>",
	Short: "Commit new content as a revision and save the document",
	Long: `Save new document content with undo history.

The new content is read from --input (or stdin), committed as a revision
on top of this session's cursor, and saved:

  1. The document's current on-disk hash is checked against this
     session's sync state; an unseen external change blocks the entire
     save with a reload warning, touching nothing.
  2. The document is written via backup-protected atomic replace.
  3. The session's unmerged revisions are grafted onto the master tree,
     which is then persisted the same way.

Either the document and its history both advance, or neither does.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		document := args[0]

		content, err := readInput(saveInput)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
			os.Exit(1)
		}

		cfg := loadConfig()
		store := openStore(cfg, true)

		client, err := store.Load(document)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", document, err)
			os.Exit(1)
		}

		if store.Enabled() {
			if _, err := client.Commit(store.BlobDir(), content); err != nil {
				fmt.Fprintf(os.Stderr, "Error committing revision: %v\n", err)
				os.Exit(1)
			}
		}

		result, err := store.Save(client, content)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error saving %s: %v\n", document, err)
			os.Exit(1)
		}

		switch result.Status {
		case undofile.StatusSaved:
			fmt.Printf("%s Saved %s (tip revision %s)\n",
				ui.RenderPass("✓"), document, ui.RenderAccent(fmt.Sprintf("%d", result.TipID)))
		case undofile.StatusWarned:
			fmt.Printf("%s Save blocked: %s\n", ui.RenderWarn("⚠"), result.Reason)
			fmt.Printf("   Run 'undofile reset %s' after reviewing the on-disk changes\n", document)
			os.Exit(1)
		case undofile.StatusSkipped:
			fmt.Printf("%s Saved %s %s\n", ui.RenderPass("✓"), document, ui.RenderMuted("(undo history disabled)"))
		}
	},
}

func init() {
	saveCmd.Flags().StringVarP(&saveInput, "input", "i", "", "file to read new content from (default: stdin)")
}

// readInput reads the new document content from a file or stdin.
func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
