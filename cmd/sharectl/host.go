package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aura-remote/backend/internal/client"
	"github.com/aura-remote/backend/internal/models"
	"github.com/aura-remote/backend/internal/quality"
)

var (
	flagHostSession    string
	flagHostCapture    string
	flagHostLoop       bool
	flagHostMax        int
	flagHostControl    bool
	flagHostLowLatency bool
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Create a session and share a VP8 IVF capture as the display stream",
	Long: `Create a session and share a capture with every viewer that joins.

Examples:
  sharectl host --session demo --capture screen.ivf
  sharectl host --session demo --capture screen.ivf --loop --max 4`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagHostSession == "" || flagHostCapture == "" {
			return errors.New("--session and --capture are required")
		}
		return runHost()
	},
}

func init() {
	hostCmd.Flags().StringVar(&flagHostSession, "session", "", "session id to create")
	hostCmd.Flags().StringVar(&flagHostCapture, "capture", "", "VP8 IVF file standing in for the screen")
	hostCmd.Flags().BoolVar(&flagHostLoop, "loop", false, "restart the capture at end of file")
	hostCmd.Flags().IntVar(&flagHostMax, "max", 0, "maximum participants (server default when 0)")
	hostCmd.Flags().BoolVar(&flagHostControl, "allow-control", false, "allow viewers to request screen control")
	hostCmd.Flags().BoolVar(&flagHostLowLatency, "low-latency", false, "prioritize latency over quality")
}

func runHost() error {
	logger := newLogger()
	defer logger.Sync()
	ctx, cancel := signalContext()
	defer cancel()

	userID, err := resolveUser()
	if err != nil {
		return err
	}
	tier := probeTier(ctx, logger)

	source, err := client.NewIVFSource(flagHostCapture, flagHostLoop, logger)
	if err != nil {
		return err
	}
	factory, err := client.NewPionFactory(client.PionOptions{
		ICEServers: iceServers(ctx, logger),
		Tracks:     []webrtc.TrackLocal{source.Track()},
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	conn, err := client.Dial(ctx, flagServer, flagToken, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	neg, err := client.NewNegotiator(client.Config{
		SessionID: flagHostSession,
		UserID:    userID,
		Role:      client.RoleHost,
		Tier:      tier,
		Settings: &models.Settings{
			AllowScreenControl: flagHostControl,
			MaxParticipants:    flagHostMax,
			PrioritizeLatency:  flagHostLowLatency,
		},
		Logger: logger,
	}, conn, factory, source)
	if err != nil {
		return err
	}
	if err := neg.Start(); err != nil {
		return err
	}
	source.Start(ctx)
	fmt.Printf("sharing %s as session %s, peer %s (%s, %s@%dfps), Ctrl+C to stop\n", flagHostCapture, flagHostSession, neg.PeerID(), tier.Label, tier.Resolution(), tier.FPS)

	err = neg.Run(ctx, conn.Incoming())
	if errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

func probeTier(ctx context.Context, logger *zap.Logger) quality.Tier {
	prober, err := client.NewProber(flagServer, nil)
	if err != nil {
		return quality.Classify(0)
	}
	tier, rtt, err := prober.Probe(ctx)
	if err != nil {
		logger.Warn("link probe failed, using default tier", zap.Error(err))
		return quality.Classify(100 * time.Millisecond)
	}
	logger.Info("link probed", zap.Duration("rtt", rtt), zap.String("quality", string(tier.Label)))
	return tier
}
