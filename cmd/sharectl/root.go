package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pion/webrtc/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-remote/backend/internal/auth"
	"github.com/aura-remote/backend/internal/client"
	"github.com/aura-remote/backend/internal/ice"
)

var (
	flagServer  string
	flagToken   string
	flagUser    string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "sharectl",
	Short: "Command-line endpoint for remote screen-share sessions",
	Long: `sharectl joins a remote session coordinator as a host or a viewer.

Server and token default to SHARE_SERVER_URL and SHARE_TOKEN.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", envOr("SHARE_SERVER_URL", "http://localhost:8080"), "coordinator base URL")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", os.Getenv("SHARE_TOKEN"), "bearer token")
	rootCmd.PersistentFlags().StringVar(&flagUser, "user", "", "user id (defaults to the token's subject)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(probeCmd, hostCmd, viewCmd, tokenCmd)
}

// Execute runs the root command.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newLogger() *zap.Logger {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if !flagVerbose {
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, _ := config.Build()
	return logger
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// resolveUser returns --user, or the subject of the token. The token is not verified here; the coordinator does that.
func resolveUser() (string, error) {
	if flagUser != "" {
		return flagUser, nil
	}
	if flagToken == "" {
		return "", fmt.Errorf("--token or SHARE_TOKEN is required")
	}
	claims := &auth.Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(flagToken, claims); err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	if id := claims.Identity(); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("token carries no user id, pass --user")
}

// iceServers asks the coordinator for its ICE servers and falls back to public STUN.
func iceServers(ctx context.Context, logger *zap.Logger) []webrtc.ICEServer {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	servers, err := client.FetchICEServers(ctx, flagServer, flagToken, nil)
	if err != nil || len(servers) == 0 {
		logger.Warn("using default ICE servers", zap.Error(err))
		return ice.Servers(nil, "", "")
	}
	return servers
}
