// Command anonintent operates the telemetry agent from a shell: record
// events, deliver the pending queue, inspect state and manage consent.
//
// Settings come from flags, ANONINTENT_* environment variables and an
// optional YAML or JSON file, in that order of precedence.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile  string
	settings = viper.New()
)

var rootCmd = &cobra.Command{
	Use:           "anonintent",
	Short:         "Anonymous intent telemetry agent",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadSettings(settings, cfgFile, cmd); err != nil {
			return err
		}
		if endpoint := settings.GetString("otlpEndpoint"); endpoint != "" {
			return setupTelemetry(cmd.Context(), endpoint, settings.GetBool("otlpInsecure"))
		}
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (.yaml, .yml or .json)")
	flags.String("data-dir", "", "directory holding the agent database")
	flags.String("api-key", "", "collector API key")
	flags.String("endpoint", "", "collector URL")
	flags.String("environment", "", "production, staging or development")
	flags.Bool("debug", false, "log at debug level")
	flags.String("otlp-endpoint", "", "export agent metrics and spans to this OTLP/gRPC collector")
}

func main() {
	err := rootCmd.Execute()
	if shutdownErr := shutdownTelemetry(); shutdownErr != nil {
		fmt.Fprintln(os.Stderr, "telemetry:", shutdownErr)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
