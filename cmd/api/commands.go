package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/helpdesk/internal/bot"
	"github.com/capitalize-ai/helpdesk/internal/config"
	"github.com/capitalize-ai/helpdesk/internal/middleware"
	"github.com/capitalize-ai/helpdesk/internal/model"
	"github.com/capitalize-ai/helpdesk/internal/store"
)

func rootCmd() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:   "helpdesk",
		Short: "WhatsApp helpdesk API",
		Long: `Helpdesk receives WhatsApp conversations, answers them with a menu bot
and an optional AI responder, and routes them to human attendants over a
realtime console connection.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), envFile)
		},
	}
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before the environment")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), envFile)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			s, err := store.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer s.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", cfg.DatabaseDriver)
			return nil
		},
	})

	cmd.AddCommand(tokenCmd(&envFile))

	cmd.AddCommand(&cobra.Command{
		Use:   "check-menu [file]",
		Short: "Validate a bot menu file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			tree, err := bot.LoadTree(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "menu ok: %d nodes, root %q\n", len(tree.Nodes()), tree.Root())
			return nil
		},
	})

	return cmd
}

func tokenCmd(envFile *string) *cobra.Command {
	var (
		role string
		ttl  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token <attendant-id>",
		Short: "Issue a console token for local development",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*envFile)
			if err != nil {
				return err
			}
			r := model.Role(role)
			if !r.Valid() {
				return fmt.Errorf("unknown role %q", role)
			}
			token, err := middleware.NewTokenValidator(cfg.JWTSecret).Sign(args[0], r, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(model.RoleAttendant), "Role claim (admin, supervisor, attendant)")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "Token lifetime")
	return cmd
}
