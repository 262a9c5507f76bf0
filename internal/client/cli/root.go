package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/iudanet/rollcall/internal/client/api"
	"github.com/iudanet/rollcall/internal/client/iocli"
	"github.com/iudanet/rollcall/internal/client/storage/boltdb"
	"github.com/iudanet/rollcall/internal/clock"
	"github.com/iudanet/rollcall/internal/config"
	"github.com/iudanet/rollcall/internal/validation"
)

// ValidFormats defines the allowed output formats
var ValidFormats = []string{FormatText, FormatJSON}

// Factory builds the client for a command once flags are parsed.
// The returned cleanup is called after the command finishes.
type Factory func(cmd *cobra.Command) (*Cli, func() error, error)

// state is shared by the root command and its subcommands
type state struct {
	factory Factory
	cli     *Cli
	cleanup func() error
	format  string
}

// NewRootCommand creates the root command of the client
func NewRootCommand(version string, factory Factory) *cobra.Command {
	st := &state{factory: factory}

	cmd := &cobra.Command{
		Use:           "rollcall",
		Short:         "rollcall - shared participant records with history and restore",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, st.format) {
				return fmt.Errorf("invalid format %q: must be one of %v", st.format, ValidFormats)
			}
			c, cleanup, err := st.factory(cmd)
			if err != nil {
				return err
			}
			c.format = st.format
			st.cli, st.cleanup = c, cleanup
			return nil
		},
	}

	config.ClientFlags(cmd)
	cmd.PersistentFlags().StringVar(&st.format, "format", FormatText, "Output format (text|json)")

	cmd.AddCommand(newCreateCommand(st))
	cmd.AddCommand(newGetCommand(st))
	cmd.AddCommand(newListCommand(st))
	cmd.AddCommand(newEditCommand(st))
	cmd.AddCommand(newStatusCommand(st))
	cmd.AddCommand(newHistoryCommand(st))
	cmd.AddCommand(newRestoreCommand(st))
	cmd.AddCommand(newWatchCommand(st))

	return cmd
}

// run executes fn with the client and releases it afterwards,
// also when fn fails
func (st *state) run(cmd *cobra.Command, fn func(ctx context.Context, c *Cli) error) error {
	defer func() {
		if st.cleanup == nil {
			return
		}
		if err := st.cleanup(); err != nil {
			st.cli.logger.Warn("Failed to release client", "error", err)
		}
		st.cleanup = nil
	}()
	return fn(cmd.Context(), st.cli)
}

// Connect is the production Factory: it reads the configuration, opens the
// local cache and connects to the server.
func Connect(cmd *cobra.Command) (*Cli, func() error, error) {
	cfg, err := config.LoadClient(cmd)
	if err != nil {
		return nil, nil, err
	}

	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	schema := validation.ParticipantSchema()
	if cfg.SchemaPath != "" {
		if schema, err = validation.LoadSchema(cfg.SchemaPath); err != nil {
			return nil, nil, err
		}
	}

	cache, err := boltdb.New(cmd.Context(), cfg.CachePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open cache: %w", err)
	}

	client := api.NewClient(cfg.Server, api.Options{
		Token:   cfg.Token,
		ActorID: cfg.ActorID,
		Timeout: cfg.Timeout,
	}, logger)

	c := New(iocli.NewStdio(), client, cache, clock.New(), Options{
		Schema:  schema,
		ActorID: cfg.ActorID,
		Quiet:   cfg.Quiet,
	}, logger)

	return c, cache.Close, nil
}
