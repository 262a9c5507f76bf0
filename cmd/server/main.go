package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/iudanet/rollcall/internal/config"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "rollcall-server",
		Short:         "Record server with field-level change history and restore",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.ServerFlags(cmd)

	cmd.AddCommand(
		newServeCommand(),
		newTokenCommand(),
		newVersionCommand(),
	)
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Rollcall Server\n")
			_, _ = fmt.Fprintf(out, "Version:    %s\n", Version)
			_, _ = fmt.Fprintf(out, "Build Date: %s\n", BuildDate)
			_, _ = fmt.Fprintf(out, "Git Commit: %s\n", GitCommit)
		},
	}
}
