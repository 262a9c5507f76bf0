package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iudanet/rollcall/internal/models"
)

// ErrFeedClosed is returned when the server ends the change feed
var ErrFeedClosed = errors.New("change feed closed by server")

func newWatchCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [id...]",
		Short: "Print changes as they happen",
		Long: `Print changes of the given records, or of all records, until interrupted.
Every change also updates the local cache used by "list --cached".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.run(cmd, func(ctx context.Context, c *Cli) error {
				return c.runWatch(ctx, args)
			})
		},
	}
}

func (c *Cli) runWatch(ctx context.Context, ids []string) error {
	var predicate models.Predicate = models.AllRecords
	if len(ids) > 0 {
		predicate = models.RecordIn(ids...)
	}

	events, err := c.backend.Subscribe(ctx, predicate)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	if !c.json() {
		c.io.Println("Watching for changes, press Ctrl+C to stop.")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrFeedClosed
			}
			if c.cache != nil {
				if err := c.cache.ApplyEvent(ctx, ev); err != nil {
					c.logger.Warn("Failed to cache event", "record_id", ev.RecordID, "error", err)
				}
			}
			if err := c.printEvent(ev); err != nil {
				return err
			}
		}
	}
}

func (c *Cli) printEvent(ev models.ChangeEvent) error {
	if c.json() {
		// Одна строка на событие, удобно для jq
		raw, err := jsonLine(ev)
		if err != nil {
			return err
		}
		_, err = c.io.Write(raw)
		return err
	}

	changes := make([]string, 0, len(ev.ChangedFields))
	for _, f := range models.SortedKeys(ev.ChangedFields) {
		changes = append(changes, f+"="+formatValue(ev.ChangedFields[f]))
	}

	action := string(ev.Action)
	if ev.SourceEntryID != "" {
		action += " (from " + ev.SourceEntryID + ")"
	}
	c.io.Printf("%s  %s v%d  %s  %s  %s\n",
		formatTime(ev.At), ev.RecordID, ev.Version, orDash(ev.ActorID), action, strings.Join(changes, " "))
	return nil
}
