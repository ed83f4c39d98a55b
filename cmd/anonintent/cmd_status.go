package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show identity, consent and queue state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openAgent(ctx, settings)
		if err != nil {
			return err
		}
		defer a.Close()

		session, _ := a.CurrentSession()
		lastSync := "never"
		if t := a.LastSyncTime(); !t.IsZero() {
			lastSync = t.Local().Format(time.RFC3339)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "STATE\t%s\n", a.State())
		fmt.Fprintf(w, "CONSENT\t%s\n", a.ConsentState())
		fmt.Fprintf(w, "ANON ID\t%s\n", a.AnonID())
		fmt.Fprintf(w, "SESSION\t%s\n", session.ID)
		fmt.Fprintf(w, "SESSION STARTED\t%s\n", session.StartedAt.Local().Format(time.RFC3339))
		fmt.Fprintf(w, "PENDING\t%d\n", a.PendingEventsCount())
		fmt.Fprintf(w, "LAST SYNC\t%s\n", lastSync)
		return w.Flush()
	},
}
