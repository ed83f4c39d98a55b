package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/anonintent/pkg/anonintent"
	"github.com/randalmurphal/anonintent/pkg/anonintent/lifecycle"
)

func init() {
	rootCmd.AddCommand(pipeCmd)
}

var pipeCmd = &cobra.Command{
	Use:   "pipe",
	Short: "Record events read as JSON lines from stdin",
	Long: `Read one event per line from stdin and record it, delivering in the
background until stdin closes or the process is interrupted.

Each line is a JSON object:

	{"event": "search", "properties": {"query": "trail shoes"}}

On SIGINT or SIGTERM pending events are handed to the network's
best-effort path before exiting.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		sigs := lifecycle.NotifySignals()
		defer sigs.Close()
		stop := sigs.Subscribe(func(_ context.Context, s lifecycle.State) {
			if s == lifecycle.Terminating {
				cancel()
			}
		})
		defer stop.Unsubscribe()

		a, err := openAgent(ctx, settings, anonintent.WithLifecycle(sigs))
		if err != nil {
			return err
		}
		defer a.Close()

		recorded, skipped, err := pipeEvents(ctx, a.Tracker, cmd.InOrStdin())
		if err != nil {
			return err
		}
		if ctx.Err() == nil {
			a.Flush(ctx)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Recorded %d events, skipped %d, %d pending.\n",
			recorded, skipped, a.PendingEventsCount())
		return nil
	},
}

type pipeLine struct {
	Event      string         `json:"event"`
	Properties map[string]any `json:"properties"`
}

// pipeEvents tracks each line of r until EOF or ctx is done. Lines that are
// not valid events are skipped.
func pipeEvents(ctx context.Context, tracker *anonintent.Tracker, r io.Reader) (recorded, skipped int, err error) {
	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return recorded, skipped, nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return recorded, skipped, fmt.Errorf("read stdin: %w", err)
					}
				default:
				}
				return recorded, skipped, nil
			}
			if len(line) == 0 {
				continue
			}
			var pl pipeLine
			if err := json.Unmarshal(line, &pl); err != nil || pl.Event == "" {
				slog.Debug("skipping malformed line", slog.Int("bytes", len(line)))
				skipped++
				continue
			}
			if _, ok := tracker.Track(ctx, pl.Event, pl.Properties); ok {
				recorded++
			} else {
				skipped++
			}
		}
	}
}
