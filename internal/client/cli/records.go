package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iudanet/rollcall/internal/client/scheduler"
	"github.com/iudanet/rollcall/internal/models"
)

func newCreateCommand(st *state) *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "create [field=value...]",
		Short: "Create a record",
		Example: `  rollcall create --id P1 name=김민수 call_status=대기중 party_size=2
  rollcall create name="Jane Doe"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.run(cmd, func(ctx context.Context, c *Cli) error {
				return c.runCreate(ctx, id, args)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Record ID (generated when empty)")

	return cmd
}

func (c *Cli) runCreate(ctx context.Context, id string, args []string) error {
	fields, err := parseAssignments(args)
	if err != nil {
		return err
	}
	if len(fields) > 0 {
		if fields, err = c.schema.ValidatePatch(fields); err != nil {
			return err
		}
	}

	rec, err := c.backend.CreateRecord(ctx, id, fields)
	if err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}
	c.cacheRecord(ctx, rec)

	if c.json() {
		return c.printJSON(rec)
	}
	c.io.Printf("Created record %s\n", rec.ID)
	return nil
}

func newGetCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.run(cmd, func(ctx context.Context, c *Cli) error {
				return c.runGet(ctx, args[0])
			})
		},
	}
}

func (c *Cli) runGet(ctx context.Context, id string) error {
	rec, err := c.backend.GetRecord(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get record: %w", err)
	}
	c.cacheRecord(ctx, rec)
	return c.printRecord(rec)
}

func newListCommand(st *state) *cobra.Command {
	var (
		limit  int
		cached bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.run(cmd, func(ctx context.Context, c *Cli) error {
				return c.runList(ctx, limit, cached)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of records")
	cmd.Flags().BoolVar(&cached, "cached", false, "Read the local cache instead of the server")

	return cmd
}

func (c *Cli) runList(ctx context.Context, limit int, cached bool) error {
	var (
		records []*models.Record
		err     error
	)

	if cached {
		if c.cache == nil {
			return fmt.Errorf("no local cache configured")
		}
		records, err = c.cache.ListRecords(ctx)
		if err != nil {
			return fmt.Errorf("failed to read cache: %w", err)
		}
		if limit > 0 && len(records) > limit {
			records = records[:limit]
		}
	} else {
		records, err = c.backend.ListRecords(ctx, limit)
		if err != nil {
			return fmt.Errorf("failed to list records: %w", err)
		}
		for _, rec := range records {
			c.cacheRecord(ctx, rec)
		}
	}

	if c.json() {
		return c.printJSON(records)
	}

	if len(records) == 0 {
		c.io.Println("No records found.")
		return nil
	}

	c.io.Printf("Found %d record(s):\n\n", len(records))
	for _, rec := range records {
		c.io.Printf("%-12s v%-4d %s\n", rec.ID, rec.Version, c.summary(rec))
	}
	return nil
}

// summary показывает имя и статусы записи в одну строку
func (c *Cli) summary(rec *models.Record) string {
	parts := make([]string, 0, 4)
	if name, ok := rec.Fields["name"]; ok {
		parts = append(parts, formatValue(name))
	}
	for _, f := range rec.FieldNames() {
		if c.schema.IsStatus(f) {
			parts = append(parts, f+"="+formatValue(rec.Fields[f]))
		}
	}
	return strings.Join(parts, "  ")
}

func newEditCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "edit <id> field=value...",
		Short: "Change fields of a record",
		Long: `Change fields of a record. All assignments are saved as one change
and logged as one history entry.`,
		Example: `  rollcall edit P1 memo="call after 6pm" party_size=3`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.run(cmd, func(ctx context.Context, c *Cli) error {
				return c.runEdit(ctx, args[0], args[1:])
			})
		},
	}
}

func (c *Cli) runEdit(ctx context.Context, id string, args []string) error {
	fields, err := parseAssignments(args)
	if err != nil {
		return err
	}

	s := c.openSession(nil)
	defer func() {
		_ = s.Close(ctx)
	}()

	if _, err := s.OpenRecord(ctx, id); err != nil {
		return err
	}
	for _, name := range models.SortedKeys(fields) {
		if err := s.Edit(id, name, fields[name]); err != nil {
			return err
		}
	}

	res, err := s.Retry(ctx, id)
	if err != nil {
		return err
	}
	return c.printFlush(ctx, res)
}

func newStatusCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:     "status <id> <field> <value>",
		Short:   "Set a status field of a record",
		Example: `  rollcall status P1 call_status "응답(참석)"`,
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.run(cmd, func(ctx context.Context, c *Cli) error {
				return c.runStatus(ctx, args[0], args[1], args[2])
			})
		},
	}
}

func (c *Cli) runStatus(ctx context.Context, id, field, value string) error {
	s := c.openSession(nil)
	defer func() {
		_ = s.Close(ctx)
	}()

	if _, err := s.OpenRecord(ctx, id); err != nil {
		return err
	}

	res, err := s.SetStatus(ctx, id, field, value)
	if err != nil {
		return err
	}
	return c.printFlush(ctx, res)
}

func (c *Cli) printFlush(ctx context.Context, res *scheduler.FlushResult) error {
	if res.Record != nil {
		c.cacheRecord(ctx, res.Record)
	}

	if c.json() {
		return c.printJSON(newFlushOutput(res))
	}

	if res.NoOp {
		c.io.Println("Nothing changed.")
		return nil
	}

	c.io.Printf("Saved %s (version %d)\n", strings.Join(res.Fields, ", "), res.Record.Version)
	if res.Entry != nil {
		c.io.Printf("History entry: %s\n", res.Entry.ID)
	}
	if res.AuditErr != nil {
		c.io.Printf("Warning: %v\n", res.AuditErr)
	}
	for _, w := range res.Conflicts {
		c.io.Printf("Warning: %v\n", w)
	}
	return nil
}

// flushOutput is the JSON form of a save
type flushOutput struct {
	Record     *models.Record         `json:"record,omitempty"`
	Entry      *models.ChangeLogEntry `json:"entry,omitempty"`
	AuditError string                 `json:"audit_error,omitempty"`
	Fields     []string               `json:"fields"`
	Conflicts  []string               `json:"conflicts,omitempty"`
	NoOp       bool                   `json:"no_op"`
}

func newFlushOutput(res *scheduler.FlushResult) flushOutput {
	out := flushOutput{Record: res.Record, Entry: res.Entry, Fields: res.Fields, NoOp: res.NoOp}
	if res.AuditErr != nil {
		out.AuditError = res.AuditErr.Error()
	}
	for _, w := range res.Conflicts {
		out.Conflicts = append(out.Conflicts, w.Error())
	}
	return out
}
