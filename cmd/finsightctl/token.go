package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"finsight/internal/session"
)

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenIssueCmd)
	tokenIssueCmd.Flags().StringP("user", "u", "", "Subject of the token")
	tokenIssueCmd.Flags().String("email", "", "Email claim")
	tokenIssueCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	_ = tokenIssueCmd.MarkFlagRequired("user")
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage session tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Sign a session token with AUTH_JWT_SECRET, for local testing",
	Args:  cobra.NoArgs,
	RunE:  runTokenIssue,
}

func runTokenIssue(cmd *cobra.Command, args []string) error {
	user, _ := cmd.Flags().GetString("user")
	email, _ := cmd.Flags().GetString("email")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if len(cfg.AuthJWTSecret) < 32 {
		return fmt.Errorf("AUTH_JWT_SECRET must be set to at least 32 characters")
	}
	if ttl <= 0 {
		return fmt.Errorf("--ttl must be positive")
	}

	token, err := session.NewVerifier(cfg.AuthJWTSecret).Issue(user, email, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
