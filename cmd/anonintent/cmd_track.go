package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var (
	trackPropsJSON string
	trackFlush     bool
)

func init() {
	rootCmd.AddCommand(trackCmd)
	trackCmd.Flags().StringVar(&trackPropsJSON, "props", "", "properties as a JSON object")
	trackCmd.Flags().BoolVar(&trackFlush, "flush", false, "deliver pending events after recording")
}

var trackCmd = &cobra.Command{
	Use:   "track <event> [key=value ...]",
	Short: "Record an event",
	Long: `Record an event in the pending queue.

Properties may be given as key=value pairs, as a JSON object with --props,
or both. Values that parse as numbers or booleans are recorded as such.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		props, err := parseProperties(trackPropsJSON, args[1:])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := openAgent(ctx, settings)
		if err != nil {
			return err
		}
		defer a.Close()

		id, ok := a.Track(ctx, args[0], props)
		if !ok {
			fmt.Fprintf(cmd.OutOrStdout(), "Not recorded (consent %s).\n", a.ConsentState())
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)

		if trackFlush && !a.Flush(ctx) {
			return fmt.Errorf("delivery failed; %d events pending", a.PendingEventsCount())
		}
		return nil
	},
}

// parseProperties merges a JSON object with key=value pairs; pairs win.
func parseProperties(rawJSON string, pairs []string) (map[string]any, error) {
	props := make(map[string]any)
	if strings.TrimSpace(rawJSON) != "" {
		if err := json.Unmarshal([]byte(rawJSON), &props); err != nil {
			return nil, fmt.Errorf("parse --props: %w", err)
		}
	}
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("property %q: want key=value", pair)
		}
		props[k] = scalar(v)
	}
	return props, nil
}

func scalar(s string) any {
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
