package main

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every task record in the status store",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		records, err := store.ListAllSorted()
		if err != nil {
			return fmt.Errorf("statusctl: listing records: %w", err)
		}

		if jsonOutput {
			data, err := json.Marshal(records)
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		for _, r := range records {
			c := colorForStatus(r.Status)
			c.Printf("%-10s", r.Status)
			fmt.Printf(" %-36s pid=%-7d %s\n", r.TaskID, r.PID, r.Message)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
