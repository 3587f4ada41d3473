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

package bwe

import (
	"github.com/benbjohnson/clock"
	"github.com/livekit/protocol/logger"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap/zapcore"

	"github.com/livekit/srt-abr/pkg/ccutils"
)

type ControllerListener interface {
	OnCongestionVerdict(verdict CongestionVerdict, estimate Estimate)
	OnTargetBitrateChange(previous int64, current int64, verdict CongestionVerdict)
	OnSampleUnavailable(err error)
}

// ------------------------------------------------

type ControllerParams struct {
	Config  ControllerConfig
	Sampler Sampler
	Logger  logger.Logger
	Clock   clock.Clock

	// bits per second
	ReferenceBitrate int64
	InitialBitrate   int64

	Listener ControllerListener
}

// Controller runs the adaptive bitrate loop for one stream.
// Tick must be called from a single goroutine. Everything else is safe for concurrent use.
type Controller struct {
	params ControllerParams

	rtt        *RTTEstimator
	bandwidth  *BandwidthEstimator
	classifier *CongestionClassifier
	bitrate    *BitrateController

	congestionGate *ccutils.Gate
	bitrateGate    *ccutils.Gate

	verdict      atomic.Int32
	lastEstimate atomic.Pointer[Estimate]
}

func NewController(params ControllerParams) (*Controller, error) {
	if err := params.Config.Validate(); err != nil {
		return nil, err
	}
	if params.Sampler == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "sampler is required")
	}
	if params.ReferenceBitrate <= 0 {
		return nil, errors.Wrapf(ErrInvalidBitrate, "reference bitrate %d", params.ReferenceBitrate)
	}
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	if params.Clock == nil {
		params.Clock = clock.New()
	}

	c := &Controller{
		params: params,
	}

	var err error
	if c.rtt, err = NewRTTEstimator(RTTEstimatorParams{Config: params.Config, Logger: params.Logger}); err != nil {
		return nil, errors.Wrap(ErrInvalidConfig, err.Error())
	}
	if c.bandwidth, err = NewBandwidthEstimator(BandwidthEstimatorParams{Config: params.Config, Logger: params.Logger}); err != nil {
		return nil, errors.Wrap(ErrInvalidConfig, err.Error())
	}
	if c.classifier, err = NewCongestionClassifier(CongestionClassifierParams{
		Config:    params.Config,
		RTT:       c.rtt,
		Bandwidth: c.bandwidth,
		Logger:    params.Logger,
	}); err != nil {
		return nil, errors.Wrap(ErrInvalidConfig, err.Error())
	}
	if c.bitrate, err = NewBitrateController(
		BitrateControllerParams{Config: params.Config, Logger: params.Logger},
		params.ReferenceBitrate,
		params.InitialBitrate,
	); err != nil {
		return nil, err
	}
	if c.congestionGate, err = ccutils.NewGate(ccutils.GateParams{
		Name:   "congestion-check",
		Config: params.Config.CongestionCheck,
		Clock:  params.Clock,
	}); err != nil {
		return nil, errors.Wrap(ErrInvalidConfig, err.Error())
	}
	if c.bitrateGate, err = ccutils.NewGate(ccutils.GateParams{
		Name:   "bitrate-update",
		Config: params.Config.BitrateUpdate,
		Clock:  params.Clock,
	}); err != nil {
		return nil, errors.Wrap(ErrInvalidConfig, err.Error())
	}

	return c, nil
}

// Tick is the single entry point of the control loop, call it at any cadence.
func (c *Controller) Tick() {
	if c.congestionGate.Run(c.checkCongestion) {
		c.congestionGate.Reset()
	}
	if c.bitrateGate.Run(c.updateBitrate) {
		c.bitrateGate.Reset()
	}
}

func (c *Controller) CurrentVerdict() CongestionVerdict {
	return CongestionVerdict(c.verdict.Load())
}

func (c *Controller) CurrentBitrate() int64 {
	return c.bitrate.State().Current()
}

func (c *Controller) ReferenceBitrate() int64 {
	return c.bitrate.State().Reference()
}

// LastEstimate returns the outcome of the most recent successful congestion check.
func (c *Controller) LastEstimate() (Estimate, bool) {
	estimate := c.lastEstimate.Load()
	if estimate == nil {
		return Estimate{}, false
	}
	return *estimate, true
}

func (c *Controller) SetReferenceBitrate(bps int64) error {
	if err := c.bitrate.SetReference(bps); err != nil {
		return errors.Wrapf(err, "reference bitrate %d", bps)
	}

	c.params.Logger.Infow("controller: reference bitrate updated", "reference", bps)
	return nil
}

// Pause suspends bitrate adjustment. Sampling and classification continue.
func (c *Controller) Pause() {
	c.bitrateGate.Pause()
	c.params.Logger.Infow("controller: paused")
}

func (c *Controller) Resume() {
	c.bitrateGate.Resume()
	c.params.Logger.Infow("controller: resumed")
}

func (c *Controller) IsPaused() bool {
	return c.bitrateGate.IsPaused()
}

func (c *Controller) checkCongestion() {
	sample, err := c.params.Sampler.Sample()
	if err == nil {
		err = sample.Validate()
	}
	if err != nil {
		if !errors.Is(err, ErrSampleUnavailable) {
			err = errors.Wrap(ErrSampleUnavailable, err.Error())
		}
		c.params.Logger.Debugw("controller: skipping congestion check", "error", err)
		if c.params.Listener != nil {
			c.params.Listener.OnSampleUnavailable(err)
		}
		return
	}
	if sample.At.IsZero() {
		sample.At = c.params.Clock.Now()
	}

	c.rtt.Push(sample.RTTMs)
	c.bandwidth.Push(sample.BandwidthBps)
	estimate := c.classifier.Classify(sample.InflightBytes, sample.At)

	c.lastEstimate.Store(&estimate)
	c.verdict.Store(int32(estimate.Verdict))

	if c.params.Listener != nil {
		c.params.Listener.OnCongestionVerdict(estimate.Verdict, estimate)
	}
}

func (c *Controller) updateBitrate() {
	verdict := c.CurrentVerdict()
	previous, changed := c.bitrate.Apply(verdict)
	if !changed {
		return
	}

	current := c.CurrentBitrate()
	c.params.Logger.Debugw(
		"controller: target bitrate changed",
		"verdict", verdict,
		"previous", previous,
		"current", current,
		"reference", c.ReferenceBitrate(),
	)
	if c.params.Listener != nil {
		c.params.Listener.OnTargetBitrateChange(previous, current, verdict)
	}
}

func (c *Controller) MarshalLogObject(e zapcore.ObjectEncoder) error {
	if c == nil {
		return nil
	}

	e.AddString("verdict", c.CurrentVerdict().String())
	e.AddBool("paused", c.IsPaused())
	if err := e.AddObject("bitrate", c.bitrate.State()); err != nil {
		return err
	}
	if estimate, ok := c.LastEstimate(); ok {
		if err := e.AddObject("lastEstimate", estimate); err != nil {
			return err
		}
	}
	return nil
}
