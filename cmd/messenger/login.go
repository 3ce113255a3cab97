package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/certline/messenger/internal/identity"
	"github.com/certline/messenger/internal/store"
	"github.com/certline/messenger/internal/store/sqlite"
)

func loginCmd() *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a portal access token for this machine",
		Long: `Persists a bearer token issued by the portal's login flow. The token is
decoded locally to resolve the user's id and display name; it is never sent
anywhere except as the Authorization header on portal requests.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadEnv(cmd)
			if err != nil {
				return err
			}

			cred, err := identity.FromToken(token)
			if err != nil {
				return fmt.Errorf("invalid token: %w", err)
			}

			st, err := sqlite.New(cfg.DatabasePath)
			if err != nil {
				return fmt.Errorf("open local store: %w", err)
			}
			defer st.Close()

			if err := st.SaveSession(cmd.Context(), store.Session{
				Token:    cred.Token,
				UserID:   cred.User.ID,
				FullName: cred.User.FullName,
				Role:     cred.User.Role,
			}); err != nil {
				return fmt.Errorf("save session: %w", err)
			}

			logger.Info().Str("user_id", cred.User.ID).Msg("session stored")
			fmt.Printf("Logged in as %s (%s)\n", cred.User.FullName, cred.User.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "portal access token (JWT)")
	cmd.MarkFlagRequired("token")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadEnv(cmd)
			if err != nil {
				return err
			}

			st, err := sqlite.New(cfg.DatabasePath)
			if err != nil {
				return fmt.Errorf("open local store: %w", err)
			}
			defer st.Close()

			if err := st.ClearSession(cmd.Context()); err != nil {
				return fmt.Errorf("clear session: %w", err)
			}
			fmt.Println("Logged out")
			return nil
		},
	}
}
