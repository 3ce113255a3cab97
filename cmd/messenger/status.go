package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/certline/messenger/internal/app"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show unread count for the support conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadEnv(cmd)
			if err != nil {
				return err
			}

			a, err := app.New(cfg, logger)
			if errors.Is(err, app.ErrNotLoggedIn) {
				return fmt.Errorf("not logged in; run `messenger login --token <jwt>` first")
			}
			if err != nil {
				return err
			}
			defer a.Close()

			count, err := a.REST().UnreadCount(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetch unread count: %w", err)
			}

			fmt.Printf("Logged in as %s\n", a.User().FullName)
			fmt.Printf("Unread messages: %d\n", count)
			return nil
		},
	}
}
