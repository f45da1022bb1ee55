// Command statusctl is a diagnostic CLI over the Status & Cancellation
// Store (SPEC_FULL.md §4.12): list/show/summary/gc/watch against the same JSON
// status directory the engine itself writes to. It has no effect on a
// running pool or process — it only reads (and, for gc, prunes) the
// on-disk records.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var (
	jsonOutput bool
	statusDir  string
)

var rootCmd = &cobra.Command{
	Use:           "statusctl",
	Short:         "Inspect and maintain the parallel task engine's status store",
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&statusDir, "dir", "", "Status store directory (defaults to status_store.directory config)")
}
