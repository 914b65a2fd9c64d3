package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kirawi/undofile/internal/config"
	"github.com/kirawi/undofile/internal/ui"
)

var toggleOff bool

var toggleCmd = &cobra.Command{
	Use:   "toggle",
	Short: "Enable or disable undo-file participation",
	Long: `Enable (default) or disable (--off) undo-file participation for
subsequent saves.

Toggling takes effect immediately and never rewrites history: disabling
only means future saves write the document without touching the master
tree.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		enabled := !toggleOff

		if err := config.SetEnabled(enabled); err != nil {
			fmt.Fprintf(os.Stderr, "Error updating config: %v\n", err)
			os.Exit(1)
		}

		if enabled {
			fmt.Printf("%s Undo-file feature enabled\n", ui.RenderPass("✓"))
		} else {
			fmt.Printf("%s Undo-file feature disabled; saves will skip history\n", ui.RenderWarn("⚠"))
		}
	},
}

func init() {
	toggleCmd.Flags().BoolVar(&toggleOff, "off", false, "disable undo-file participation")
}
