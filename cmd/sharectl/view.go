package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aura-remote/backend/internal/client"
	"github.com/aura-remote/backend/internal/models"
)

var (
	flagViewSession string
	flagViewOut     string
	flagViewStats   time.Duration
)

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Join a session, request the host's stream and record it",
	Long: `Join a session as a viewer. The display stream is written to an IVF file when --out is set.

Examples:
  sharectl view --session demo --out received.ivf`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagViewSession == "" {
			return errors.New("--session is required")
		}
		return runView()
	},
}

func init() {
	viewCmd.Flags().StringVar(&flagViewSession, "session", "", "session id to join")
	viewCmd.Flags().StringVar(&flagViewOut, "out", "", "record the received VP8 stream to this IVF file")
	viewCmd.Flags().DurationVar(&flagViewStats, "stats-interval", 5*time.Second, "how often to report performance stats")
}

func runView() error {
	logger := newLogger()
	defer logger.Sync()
	ctx, cancel := signalContext()
	defer cancel()

	userID, err := resolveUser()
	if err != nil {
		return err
	}

	var recorder *client.Recorder
	if flagViewOut != "" {
		if recorder, err = client.NewIVFRecorder(flagViewOut); err != nil {
			return err
		}
		defer recorder.Close()
	}

	factory, err := client.NewPionFactory(client.PionOptions{
		ICEServers: iceServers(ctx, logger),
		OnTrack: func(track *webrtc.TrackRemote) {
			if recorder == nil || !strings.EqualFold(track.Codec().MimeType, webrtc.MimeTypeVP8) {
				return
			}
			recorder.Consume(track)
		},
		Logger: logger,
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
		SessionID: flagViewSession,
		UserID:    userID,
		Role:      client.RoleViewer,
		Logger:    logger,
	}, conn, factory, nil)
	if err != nil {
		return err
	}
	if err := neg.Start(); err != nil {
		return err
	}

	go func() {
		select {
		case <-neg.Connected():
			fmt.Printf("receiving session %s\n", flagViewSession)
			reportStats(ctx, neg, recorder, logger)
		case <-neg.Stopped():
		case <-ctx.Done():
		}
	}()

	err = neg.Run(ctx, conn.Incoming())
	if errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

// reportStats sends periodic telemetry: probe latency plus frame rate and bytes seen by the recorder.
func reportStats(ctx context.Context, neg *client.Negotiator, recorder *client.Recorder, logger *zap.Logger) {
	prober, err := client.NewProber(flagServer, nil)
	if err != nil {
		return
	}
	ticker := time.NewTicker(flagViewStats)
	defer ticker.Stop()
	var lastBytes, lastFrames int64
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-neg.Stopped():
			return
		case now := <-ticker.C:
			sample := models.PerformanceSample{Timestamp: now}
			if rtt, err := prober.RTT(ctx); err == nil {
				sample.Latency = float64(rtt) / float64(time.Millisecond)
			}
			if recorder != nil {
				_, bytes, frames := recorder.Counters()
				elapsed := now.Sub(last).Seconds()
				if elapsed > 0 {
					sample.FPS = float64(frames-lastFrames) / elapsed
					sample.Bitrate = float64(bytes-lastBytes) * 8 / elapsed
				}
				sample.Bytes = bytes - lastBytes
				lastBytes, lastFrames = bytes, frames
			}
			last = now
			if err := neg.ReportStats(sample); err != nil {
				logger.Debug("report stats", zap.Error(err))
				return
			}
		}
	}
}
