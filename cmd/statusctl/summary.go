package main

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize the status store: counts by status, duration, memory",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		stats, err := store.Summarize()
		if err != nil {
			return fmt.Errorf("statusctl: summarizing: %w", err)
		}

		if jsonOutput {
			data, err := json.Marshal(stats)
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		for status, count := range stats.CountByStatus {
			c := colorForStatus(status)
			c.Printf("%-10s", status)
			fmt.Printf(" %d\n", count)
		}
		fmt.Printf("\nduration: min=%.3fs avg=%.3fs max=%.3fs\n", stats.MinDuration, stats.AvgDuration, stats.MaxDuration)
		fmt.Printf("memory:   avg=%d bytes peak=%d bytes\n", uint64(stats.AvgMemory), stats.PeakMemory)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(summaryCmd)
}
