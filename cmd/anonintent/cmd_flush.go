package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var flushAll bool

func init() {
	rootCmd.AddCommand(flushCmd)
	flushCmd.Flags().BoolVar(&flushAll, "all", false, "keep delivering until the queue is empty")
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Deliver pending events now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openAgent(ctx, settings)
		if err != nil {
			return err
		}
		defer a.Close()

		before := a.PendingEventsCount()
		for {
			pending := a.PendingEventsCount()
			if !a.Flush(ctx) {
				if err := a.Stats().LastError; err != nil {
					return fmt.Errorf("delivery failed; %d events pending: %w", a.PendingEventsCount(), err)
				}
				return fmt.Errorf("delivery failed; %d events pending", a.PendingEventsCount())
			}
			if left := a.PendingEventsCount(); !flushAll || left == 0 || left >= pending {
				break
			}
		}

		after := a.PendingEventsCount()
		fmt.Fprintf(cmd.OutOrStdout(), "Delivered %d events, %d pending.\n", before-after, after)
		return nil
	},
}
