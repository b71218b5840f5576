package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aura-remote/backend/internal/auth"
)

var (
	flagTokenSecret string
	flagTokenName   string
	flagTokenHours  int
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a development token signed with the coordinator's JWT secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagUser == "" {
			return errors.New("--user is required")
		}
		if flagTokenSecret == "" {
			return errors.New("--secret or JWT_SECRET is required")
		}
		token, err := auth.NewJWTService(flagTokenSecret, flagTokenHours).Generate(flagUser, flagTokenName, "")
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&flagTokenSecret, "secret", envOr("JWT_SECRET", ""), "HS256 signing secret")
	tokenCmd.Flags().StringVar(&flagTokenName, "name", "", "display name claim")
	tokenCmd.Flags().IntVar(&flagTokenHours, "hours", 24, "token lifetime in hours")
}
