package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kirawi/undofile/internal/ui"
	"github.com/kirawi/undofile/internal/undofile"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <document>",
	Short: "Check the integrity of a document's undo file and backup",
	Long: `Deserialize a document's undo file and its backup copy, verifying the
format header, the body checksum, and the structural invariants (exactly
one root, every parent resolves, no cycles).

A corrupt file is reported, never repaired. If the live file is corrupt
but the backup is valid, the backup holds the previous version of the
history.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		document := args[0]

		cfg := loadConfig()
		store := openStore(cfg, true)

		liveCorrupt := verifyOne("undo file", store.TreePath(document))
		backupCorrupt := verifyOne("backup", store.BackupPath(document))

		if liveCorrupt || backupCorrupt {
			os.Exit(1)
		}
	},
}

// verifyOne checks a single undo file and reports the result. Returns true
// only if the file exists and fails verification; a missing file is
// reported as absent, not a failure.
func verifyOne(label, path string) bool {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Printf("%s %s: %s\n", ui.RenderMuted("-"), label, ui.RenderMuted("not present"))
		return false
	}

	tree, err := undofile.VerifyFile(path)
	if err != nil {
		fmt.Printf("%s %s: %v\n", ui.RenderFail("✗"), label, err)
		return true
	}

	fmt.Printf("%s %s: %d revisions, root %d, tip %d\n",
		ui.RenderPass("✓"), label, tree.Len(), tree.Root().ID, tree.Tip().ID)
	return false
}
