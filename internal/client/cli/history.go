package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/iudanet/rollcall/internal/client/restore"
	"github.com/iudanet/rollcall/internal/models"
)

// ErrNotConfirmed is returned when the user declines a restore
var ErrNotConfirmed = errors.New("restore cancelled")

func newHistoryCommand(st *state) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show the change history of a record, most recent first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.run(cmd, func(ctx context.Context, c *Cli) error {
				return c.runHistory(ctx, args[0], limit)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of entries, 0 for all")

	return cmd
}

func (c *Cli) runHistory(ctx context.Context, id string, limit int) error {
	s := c.openSession(nil)
	defer func() {
		_ = s.Close(ctx)
	}()

	var entries []*models.ChangeLogEntry
	for e, err := range s.ChangeHistory(ctx, id) {
		if err != nil {
			return fmt.Errorf("failed to read history: %w", err)
		}
		entries = append(entries, e)
		if limit > 0 && len(entries) == limit {
			break
		}
	}

	if c.json() {
		if entries == nil {
			entries = []*models.ChangeLogEntry{}
		}
		return c.printJSON(entries)
	}

	if len(entries) == 0 {
		c.io.Printf("No history for record %s.\n", id)
		return nil
	}

	tw := tabwriter.NewWriter(c.io, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tACTION\tACTOR\tCHANGES\tENTRY")
	for _, e := range entries {
		action := string(e.ActionType)
		if from := e.RestoredFrom(); from != "" {
			action += " (from " + from + ")"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			formatTime(e.CreatedAt), action, orDash(e.ActorID), formatChanges(e), e.ID)
	}
	return tw.Flush()
}

type restoreOptions struct {
	fields         []string
	discardPending bool
	yes            bool
}

func newRestoreCommand(st *state) *cobra.Command {
	opts := &restoreOptions{}

	cmd := &cobra.Command{
		Use:   "restore <entry-id>",
		Short: "Revert the fields of a history entry to their previous values",
		Long: `Revert the fields changed by a history entry to the values they had
before it. The revert is itself logged as a new history entry and can be
reverted again.`,
		Example: `  rollcall restore 01JNQ3Y5Z8K2V7T9R4M6P1C0XW
  rollcall restore 01JNQ3Y5Z8K2V7T9R4M6P1C0XW --field memo --yes`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.run(cmd, func(ctx context.Context, c *Cli) error {
				return c.runRestore(ctx, args[0], opts)
			})
		},
	}
	cmd.Flags().StringSliceVar(&opts.fields, "field", nil, "Restore only these fields (repeatable)")
	cmd.Flags().BoolVar(&opts.discardPending, "discard-pending", false, "Drop unsaved edits of the restored fields instead of saving them first")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "Do not ask for confirmation")

	return cmd
}

func (c *Cli) runRestore(ctx context.Context, entryID string, opts *restoreOptions) error {
	entry, err := c.backend.GetEntry(ctx, entryID)
	if err != nil {
		return fmt.Errorf("failed to read history entry: %w", err)
	}

	values, missing := models.RestoreTarget(entry, opts.fields)
	if len(missing) > 0 {
		return fmt.Errorf("entry %s did not change %s", entryID, strings.Join(missing, ", "))
	}

	if !opts.yes {
		if err := c.confirmRestore(entry, values); err != nil {
			return err
		}
	}

	var phases []string
	s := c.openSession(func(_ string, p restore.Phase) {
		phases = append(phases, p.String())
	})
	defer func() {
		_ = s.Close(ctx)
	}()

	if _, err := s.OpenRecord(ctx, entry.RecordID); err != nil {
		return err
	}

	out, err := s.RequestRestore(ctx, restore.Request{
		TargetLogEntryID: entryID,
		Fields:           opts.fields,
		DiscardPending:   opts.discardPending,
	})
	if err != nil {
		return err
	}
	if out.Result.Record != nil {
		c.cacheRecord(ctx, out.Result.Record)
	}

	if c.json() {
		return c.printJSON(out.Result)
	}

	c.logger.Debug("Restore finished", "phases", phases)
	c.io.Printf("Restored %s of record %s (version %d)\n",
		strings.Join(out.Result.RestoredFields, ", "), out.RecordID, out.Result.Record.Version)
	if out.Result.Entry != nil {
		c.io.Printf("History entry: %s\n", out.Result.Entry.ID)
	}
	return nil
}

// confirmRestore показывает, что изменится, и спрашивает подтверждение.
// Без терминала подтверждение возможно только флагом --yes.
func (c *Cli) confirmRestore(entry *models.ChangeLogEntry, values map[string]any) error {
	if !c.io.IsTerminal() {
		return fmt.Errorf("confirmation required: run with --yes")
	}

	c.io.Printf("Restore record %s from entry %s:\n", entry.RecordID, entry.ID)
	for _, f := range models.SortedKeys(values) {
		c.io.Printf("  %s: %s -> %s\n", f, formatValue(entry.After[f]), formatValue(values[f]))
	}

	answer, err := c.io.ReadInput("Proceed? [y/N] ")
	if err != nil {
		return fmt.Errorf("failed to read confirmation: %w", err)
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return nil
	default:
		return ErrNotConfirmed
	}
}
