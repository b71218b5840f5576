package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"github.com/pion/webrtc/v3/pkg/media/ivfwriter"
	"go.uber.org/zap"
)

// IVFSource plays a VP8 IVF file as the shared display stream. It stands in for a screen capture.
type IVFSource struct {
	path     string
	loop     bool
	track    *webrtc.TrackLocalStaticSample
	interval time.Duration
	logger   *zap.Logger

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewIVFSource checks the file header and prepares a VP8 track.
func NewIVFSource(path string, loop bool, logger *zap.Logger) (*IVFSource, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	_, header, err := ivfreader.NewWith(f)
	if err != nil {
		return nil, fmt.Errorf("read ivf header: %w", err)
	}
	if header.FourCC != "VP80" {
		return nil, fmt.Errorf("unsupported codec %q, want VP80", header.FourCC)
	}
	interval := 33 * time.Millisecond
	if header.TimebaseDenominator > 0 {
		interval = time.Duration(float64(header.TimebaseNumerator)/float64(header.TimebaseDenominator)*1000) * time.Millisecond
	}
	id := uuid.New().String()
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen-"+id, "display-"+id)
	if err != nil {
		return nil, fmt.Errorf("create track: %w", err)
	}
	return &IVFSource{path: path, loop: loop, track: track, interval: interval, logger: logger, done: make(chan struct{})}, nil
}

// Track returns the local track to attach to calls.
func (s *IVFSource) Track() webrtc.TrackLocal { return s.track }

// Start plays the file in the background until EOF (unless looping), ctx ends or Close.
func (s *IVFSource) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go func() {
		defer s.finish()
		for {
			err := s.play(ctx)
			if err == nil || errors.Is(err, context.Canceled) {
				return
			}
			if !errors.Is(err, io.EOF) || !s.loop {
				if !errors.Is(err, io.EOF) {
					s.logger.Warn("capture stopped", zap.Error(err))
				}
				return
			}
		}
	}()
}

// Done closes when playback ends.
func (s *IVFSource) Done() <-chan struct{} { return s.done }

// Close stops playback.
func (s *IVFSource) Close() error {
	if s.cancel != nil {
		s.cancel()
	} else {
		s.finish()
	}
	return nil
}

func (s *IVFSource) finish() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *IVFSource) play(ctx context.Context) error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()
	reader, _, err := ivfreader.NewWith(f)
	if err != nil {
		return err
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		frame, _, err := reader.ParseNextFrame()
		if err != nil {
			return err
		}
		if err := s.track.WriteSample(media.Sample{Data: frame, Duration: s.interval}); err != nil {
			return err
		}
	}
}

type rtpSink interface {
	WriteRTP(pkt *rtp.Packet) error
	Close() error
}

// Recorder writes a received VP8 track to an IVF file and counts what it saw.
type Recorder struct {
	sink    rtpSink
	mu      sync.Mutex
	packets atomic.Int64
	bytes   atomic.Int64
	frames  atomic.Int64
}

// NewIVFRecorder creates path and records into it.
func NewIVFRecorder(path string) (*Recorder, error) {
	w, err := ivfwriter.New(path)
	if err != nil {
		return nil, fmt.Errorf("create ivf: %w", err)
	}
	return &Recorder{sink: w}, nil
}

// Consume reads RTP from track until it ends.
func (r *Recorder) Consume(track *webrtc.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if err := r.WriteRTP(pkt); err != nil {
			return
		}
	}
}

// WriteRTP records one packet. A set marker bit ends a frame.
func (r *Recorder) WriteRTP(pkt *rtp.Packet) error {
	r.packets.Add(1)
	r.bytes.Add(int64(len(pkt.Payload)))
	if pkt.Marker {
		r.frames.Add(1)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sink.WriteRTP(pkt)
}

// Counters returns packets, payload bytes and completed frames so far.
func (r *Recorder) Counters() (packets, bytes, frames int64) {
	return r.packets.Load(), r.bytes.Load(), r.frames.Load()
}

// Close finalizes the file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sink.Close()
}
