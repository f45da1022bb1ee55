package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	gcMaxAge  time.Duration
	gcTempDir string
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete status records older than --max-age that are not RUNNING",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		removed, err := store.Cleanup(gcMaxAge, gcTempDir)
		if err != nil {
			return fmt.Errorf("statusctl: cleaning up: %w", err)
		}
		color.New(color.FgGreen).Fprintf(os.Stdout, "removed %d record(s)\n", removed)
		return nil
	},
}

func init() {
	gcCmd.Flags().DurationVar(&gcMaxAge, "max-age", 24*time.Hour, "Records older than this are eligible for removal")
	gcCmd.Flags().StringVar(&gcTempDir, "temp-dir", os.TempDir(), "Directory to also sweep for leftover defer_*.tmp files")
	rootCmd.AddCommand(gcCmd)
}
