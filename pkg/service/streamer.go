// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package service

import (
	"context"
	"io"
	"os"

	"github.com/benbjohnson/clock"
	"github.com/dustin/go-humanize"
	"github.com/frostbyte73/core"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/srt-abr/pkg/bwe"
	"github.com/livekit/srt-abr/pkg/config"
	"github.com/livekit/srt-abr/pkg/srt"
	"github.com/livekit/srt-abr/pkg/telemetry/prometheus"
)

type StreamerParams struct {
	NodeID string
	Stream config.StreamConfig
	Config config.StreamerConfig
	ABR    bwe.ControllerConfig
	SRT    srt.Config

	Dialer    srt.Dialer
	OpenInput func(path string) (io.ReadCloser, error)
	Clock     clock.Clock
	Logger    logger.Logger

	// called from the control goroutine and from API handlers
	OnStateChange func(state *StreamState)
}

// Streamer relays one already muxed input to an SRT destination and runs the bitrate
// controller against that connection.
type Streamer struct {
	params     StreamerParams
	controller *bwe.Controller

	sampler atomic.Pointer[srt.ConnSampler]

	status       atomic.String
	lastError    atomic.String
	relayedBytes atomic.Uint64
	reconnects   atomic.Uint32
	startedAt    atomic.Time

	// pause requested through the API, as opposed to the pause held while reconnecting
	userPaused   atomic.Bool
	reconnecting atomic.Bool

	running atomic.Bool
	stop    core.Fuse
}

func NewStreamer(params StreamerParams) (*Streamer, error) {
	if params.OpenInput == nil {
		params.OpenInput = openInput
	}
	if params.Clock == nil {
		params.Clock = clock.New()
	}
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	params.Logger = params.Logger.WithValues("streamID", params.Stream.ID)

	s := &Streamer{
		params: params,
	}
	s.status.Store(string(StreamStatusIdle))

	controller, err := bwe.NewController(bwe.ControllerParams{
		Config:           params.ABR,
		Sampler:          s,
		Logger:           params.Logger,
		Clock:            params.Clock,
		ReferenceBitrate: params.Stream.ReferenceBitrate,
		InitialBitrate:   params.Stream.InitialBitrate,
		Listener:         s,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "stream %s", params.Stream.ID)
	}
	s.controller = controller

	if params.Stream.StartPaused {
		s.userPaused.Store(true)
		controller.Pause()
	}
	return s, nil
}

func (s *Streamer) ID() string {
	return s.params.Stream.ID
}

func (s *Streamer) Controller() *bwe.Controller {
	return s.controller
}

// Run relays until the input ends, Stop is called or ctx is cancelled.
// It returns an error only when the stream could not be carried.
func (s *Streamer) Run(ctx context.Context) error {
	if s.running.Swap(true) {
		return ErrStreamerAlreadyRun
	}
	// unblocks the input reader
	defer s.stop.Break()

	startedAt := s.params.Clock.Now()
	s.startedAt.Store(startedAt)
	prometheus.StreamStarted(s.ID(), s.controller.ReferenceBitrate(), s.controller.CurrentBitrate())
	defer func() {
		prometheus.StreamEnded(s.ID(), s.params.Clock.Since(startedAt).Seconds())
	}()

	input, err := s.params.OpenInput(s.params.Stream.Input)
	if err != nil {
		err = errors.Wrapf(err, "could not open input %s", s.params.Stream.Input)
		s.setStatus(StreamStatusFailed, err)
		return err
	}
	defer input.Close()

	conn, err := s.dial(ctx)
	if err != nil {
		s.setStatus(StreamStatusFailed, err)
		return err
	}
	defer func() {
		s.disconnect(conn)
	}()

	chunks := make(chan []byte, 4)
	readErr := make(chan error, 1)
	go s.readInput(ctx, input, chunks, readErr)

	ticker := s.params.Clock.Ticker(s.params.Config.TickInterval)
	defer ticker.Stop()

	s.params.Logger.Infow(
		"streamer started",
		"url", s.params.Stream.URL,
		"input", s.params.Stream.Input,
		"reference", humanize.SI(float64(s.controller.ReferenceBitrate()), "bps"),
	)
	for {
		select {
		case <-ctx.Done():
			s.setStatus(StreamStatusEnded, nil)
			return nil

		case <-s.stop.Watch():
			s.setStatus(StreamStatusEnded, nil)
			return nil

		case <-ticker.C:
			s.controller.Tick()

		case chunk, ok := <-chunks:
			if !ok {
				if err := <-readErr; err != nil {
					err = errors.Wrap(err, "could not read input")
					s.setStatus(StreamStatusFailed, err)
					return err
				}
				s.params.Logger.Infow("input ended", "relayed", humanize.Bytes(s.relayedBytes.Load()))
				s.setStatus(StreamStatusEnded, nil)
				return nil
			}

			if _, err := conn.Write(chunk); err != nil {
				s.params.Logger.Warnw("srt write failed", err)
				s.disconnect(conn)
				conn = nil

				if conn, err = s.reconnect(ctx, err); err != nil {
					s.setStatus(StreamStatusFailed, err)
					return err
				}
				if conn == nil {
					// stopped while reconnecting
					s.setStatus(StreamStatusEnded, nil)
					return nil
				}
				continue
			}

			s.relayedBytes.Add(uint64(len(chunk)))
			prometheus.RecordRelayedBytes(s.ID(), len(chunk))
			s.controller.Tick()
		}
	}
}

func (s *Streamer) Stop() {
	s.stop.Break()
}

func (s *Streamer) SetReferenceBitrate(bps int64) error {
	if err := s.controller.SetReferenceBitrate(bps); err != nil {
		return err
	}

	prometheus.RecordReferenceBitrate(s.ID(), bps)
	s.notifyStateChange()
	return nil
}

func (s *Streamer) Pause() {
	s.userPaused.Store(true)
	s.controller.Pause()
	s.notifyStateChange()
}

// Resume takes effect once the stream is connected again when called during a reconnect.
func (s *Streamer) Resume() {
	s.userPaused.Store(false)
	if !s.reconnecting.Load() {
		s.controller.Resume()
	}
	s.notifyStateChange()
}

func (s *Streamer) State() *StreamState {
	state := &StreamState{
		ID:               s.ID(),
		NodeID:           s.params.NodeID,
		URL:              s.params.Stream.URL,
		Input:            s.params.Stream.Input,
		Status:           StreamStatus(s.status.Load()),
		Error:            s.lastError.Load(),
		Verdict:          s.controller.CurrentVerdict().String(),
		CurrentBitrate:   s.controller.CurrentBitrate(),
		ReferenceBitrate: s.controller.ReferenceBitrate(),
		Paused:           s.controller.IsPaused(),
		RelayedBytes:     s.relayedBytes.Load(),
		Reconnects:       s.reconnects.Load(),
		StartedAt:        s.startedAt.Load(),
		UpdatedAt:        s.params.Clock.Now(),
	}
	if estimate, ok := s.controller.LastEstimate(); ok {
		state.RTTFloorMs = estimate.RTTFloorMs
		state.BandwidthCeilingBps = estimate.BandwidthCeilingBps
	}
	return state
}

// Sample reads the current connection, failing while disconnected.
func (s *Streamer) Sample() (bwe.Sample, error) {
	sampler := s.sampler.Load()
	if sampler == nil {
		return bwe.Sample{}, errors.Wrap(bwe.ErrSampleUnavailable, "not connected")
	}
	return sampler.Sample()
}

func (s *Streamer) OnCongestionVerdict(_ bwe.CongestionVerdict, estimate bwe.Estimate) {
	prometheus.RecordCongestionEstimate(s.ID(), estimate)
}

func (s *Streamer) OnTargetBitrateChange(previous int64, current int64, verdict bwe.CongestionVerdict) {
	s.params.Logger.Infow(
		"target bitrate changed",
		"verdict", verdict,
		"previous", humanize.SIWithDigits(float64(previous), 2, "bps"),
		"current", humanize.SIWithDigits(float64(current), 2, "bps"),
	)
	prometheus.RecordBitrateChange(s.ID(), previous, current)
	s.notifyStateChange()
}

func (s *Streamer) OnSampleUnavailable(_ error) {
	prometheus.RecordSampleUnavailable(s.ID())
}

func (s *Streamer) dial(ctx context.Context) (srt.Conn, error) {
	s.setStatus(StreamStatusConnecting, nil)
	conn, err := s.params.Dialer.Dial(ctx, s.params.Stream.URL)
	prometheus.RecordStreamConnect(s.ID(), err)
	if err != nil {
		return nil, err
	}

	s.sampler.Store(srt.NewConnSampler(srt.ConnSamplerParams{
		Conn:                   conn,
		PacketPayloadBytes:     s.params.SRT.PacketPayloadBytes,
		PacketCorrectionFactor: s.params.SRT.PacketCorrectionFactor,
	}))
	s.setStatus(StreamStatusPublishing, nil)
	return conn, nil
}

// reconnect dials until it succeeds. Bitrate adjustment is suspended meanwhile, windows keep their state.
// A nil conn with a nil error means the streamer was stopped.
func (s *Streamer) reconnect(ctx context.Context, cause error) (srt.Conn, error) {
	if s.params.Config.ReconnectInterval <= 0 {
		return nil, errors.Wrap(cause, "connection lost")
	}

	s.reconnecting.Store(true)
	s.controller.Pause()
	defer func() {
		s.reconnecting.Store(false)
		if !s.userPaused.Load() {
			s.controller.Resume()
		}
	}()
	s.setStatus(StreamStatusReconnecting, cause)

	for {
		select {
		case <-ctx.Done():
			return nil, nil
		case <-s.stop.Watch():
			return nil, nil
		case <-s.params.Clock.After(s.params.Config.ReconnectInterval):
		}

		s.reconnects.Inc()
		conn, err := s.dial(ctx)
		if err == nil {
			s.params.Logger.Infow("reconnected", "attempts", s.reconnects.Load())
			return conn, nil
		}
		s.params.Logger.Debugw("reconnect failed", "error", err)
		s.setStatus(StreamStatusReconnecting, err)
	}
}

func (s *Streamer) disconnect(conn srt.Conn) {
	if sampler := s.sampler.Swap(nil); sampler != nil {
		sampler.Close()
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			s.params.Logger.Debugw("could not close srt connection", "error", err)
		}
	}
}

func (s *Streamer) readInput(ctx context.Context, input io.Reader, chunks chan<- []byte, readErr chan<- error) {
	defer close(chunks)

	for {
		buf := make([]byte, s.params.Config.ChunkSize)
		n, err := io.ReadFull(input, buf)
		if n > 0 {
			select {
			case chunks <- buf[:n]:
			case <-ctx.Done():
				return
			case <-s.stop.Watch():
				return
			}
		}
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				err = nil
			}
			readErr <- err
			return
		}
	}
}

func (s *Streamer) setStatus(status StreamStatus, err error) {
	s.status.Store(string(status))
	if err != nil {
		s.lastError.Store(err.Error())
	} else if status == StreamStatusPublishing {
		s.lastError.Store("")
	}
	s.notifyStateChange()
}

func (s *Streamer) notifyStateChange() {
	if s.params.OnStateChange != nil {
		s.params.OnStateChange(s.State())
	}
}

// ------------------------------------------------

func openInput(path string) (io.ReadCloser, error) {
	if path == config.StdinInput {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

var _ bwe.Sampler = (*Streamer)(nil)
var _ bwe.ControllerListener = (*Streamer)(nil)
