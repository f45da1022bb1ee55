package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hiblaphp/parallel-sub000/statuswatch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream status record updates as they're written, until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}

		w, err := statuswatch.New(store, nil)
		if err != nil {
			return fmt.Errorf("statusctl: starting watcher: %w", err)
		}
		defer w.Close()

		if err := w.Watch(func(ev statuswatch.Event) {
			switch ev.Type {
			case statuswatch.EventRemoved:
				fmt.Printf("removed  %s\n", ev.TaskID)
			case statuswatch.EventUpdated:
				if ev.Record == nil {
					return
				}
				c := colorForStatus(ev.Record.Status)
				c.Printf("%-10s", ev.Record.Status)
				fmt.Printf(" %s %s\n", ev.TaskID, ev.Record.Message)
			}
		}); err != nil {
			return fmt.Errorf("statusctl: watching: %w", err)
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
