package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iudanet/rollcall/internal/config"
	"github.com/iudanet/rollcall/internal/server/jwt"
)

func newTokenCommand() *cobra.Command {
	var actor, name string

	cmd := &cobra.Command{
		Use:     "token",
		Short:   "Issue an actor token signed with the server secret",
		Example: `  rollcall-server token --actor editor-1 --name "Kim Minsu" --jwt-secret $SECRET`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServer(cmd)
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return errors.New("jwt secret is required to issue tokens")
			}

			token, expiresIn, err := jwt.NewService(cfg.JWTSecret, cfg.TokenTTL).Issue(actor, name)
			if err != nil {
				return fmt.Errorf("failed to issue token: %w", err)
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, token)
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "expires in %s\n", time.Duration(expiresIn)*time.Second)
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "Actor ID")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	_ = cmd.MarkFlagRequired("actor")

	return cmd
}
