package main

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show [task-id]",
	Short: "Show one task's full status record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		rec, err := store.Get(args[0])
		if err != nil {
			return fmt.Errorf("statusctl: reading record: %w", err)
		}
		if rec == nil {
			return fmt.Errorf("statusctl: no record for task %q", args[0])
		}

		if jsonOutput {
			data, err := json.MarshalIndent(rec, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		c := colorForStatus(rec.Status)
		c.Printf("%s\n", rec.Status)
		fmt.Printf("task_id:   %s\n", rec.TaskID)
		fmt.Printf("pid:       %d\n", rec.PID)
		fmt.Printf("message:   %s\n", rec.Message)
		fmt.Printf("duration:  %.3fs\n", rec.Duration)
		if rec.MemoryUsage > 0 {
			fmt.Printf("memory:    %d bytes (peak %d)\n", rec.MemoryUsage, rec.MemoryPeak)
		}
		if rec.Class != "" {
			fmt.Printf("class:     %s\n", rec.Class)
		}
		if rec.Error != "" {
			fmt.Printf("error:     %s\n", rec.Error)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
}
