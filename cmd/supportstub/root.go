package main

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/certline/messenger/internal/identity"
	"github.com/certline/messenger/internal/log"
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "supportstub",
		Short:         "Development stub of the portal messaging backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(serveCmd(), tokenCmd())
	return cmd
}

func serveCmd() *cobra.Command {
	var (
		addr      string
		secret    string
		logLevel  string
		autoReply bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the stub server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.New(logLevel)
			srv := newStubServer([]byte(secret), autoReply, logger)
			logger.Info().Str("addr", addr).Msg("starting support stub")
			return srv.run(cmd.Context(), addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":333", "listen address")
	cmd.Flags().StringVar(&secret, "secret", "dev-secret", "HS256 signing secret")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")
	cmd.Flags().BoolVar(&autoReply, "auto-reply", false, "reply to every user message as admin")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		secret string
		userID string
		name   string
		role   string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			claims := identity.Claims{
				UserID:   userID,
				FullName: name,
				Role:     role,
				RegisteredClaims: jwt.RegisteredClaims{
					Subject:   userID,
					IssuedAt:  jwt.NewNumericDate(now),
					ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
				},
			}
			token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
			signed, err := token.SignedString([]byte(secret))
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Println(signed)
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "dev-secret", "HS256 signing secret")
	cmd.Flags().StringVar(&userID, "user-id", "u-1", "user id claim")
	cmd.Flags().StringVar(&name, "name", "Test User", "full name claim")
	cmd.Flags().StringVar(&role, "role", "company", "role claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
