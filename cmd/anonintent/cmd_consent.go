package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(consentCmd, identityCmd)
	consentCmd.AddCommand(consentGrantCmd, consentDenyCmd)
	identityCmd.AddCommand(identityResetCmd)
}

var consentCmd = &cobra.Command{
	Use:   "consent",
	Short: "Show or change the consent decision",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openAgent(cmd.Context(), settings)
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Fprintln(cmd.OutOrStdout(), a.ConsentState())
		return nil
	},
}

var consentGrantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Allow recording and delivery",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setConsent(cmd, true)
	},
}

var consentDenyCmd = &cobra.Command{
	Use:   "deny",
	Short: "Stop recording and discard pending events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setConsent(cmd, false)
	},
}

func setConsent(cmd *cobra.Command, granted bool) error {
	a, err := openAgent(cmd.Context(), settings)
	if err != nil {
		return err
	}
	defer a.Close()

	pending := a.PendingEventsCount()
	a.SetConsent(granted)
	if granted {
		fmt.Fprintln(cmd.OutOrStdout(), "Consent granted.")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Consent denied; discarded %d pending events.\n", pending)
	return nil
}

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage the anonymous identity",
}

var identityResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Replace the anonymous id and start a new session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openAgent(cmd.Context(), settings)
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := a.ResetIdentity()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}
