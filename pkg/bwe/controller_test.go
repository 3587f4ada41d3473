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
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/livekit/protocol/logger"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/livekit/srt-abr/pkg/ccutils"
)

type testSampler struct {
	lock    sync.Mutex
	sample  Sample
	err     error
	samples int
}

func (s *testSampler) Sample() (Sample, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.samples++
	if s.err != nil {
		return Sample{}, s.err
	}
	return s.sample, nil
}

func (s *testSampler) set(sample Sample, err error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.sample = sample
	s.err = err
}

func (s *testSampler) count() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.samples
}

type bitrateChange struct {
	previous int64
	current  int64
	verdict  CongestionVerdict
}

type testListener struct {
	verdicts    []CongestionVerdict
	changes     []bitrateChange
	unavailable []error
}

func (l *testListener) OnCongestionVerdict(verdict CongestionVerdict, _ Estimate) {
	l.verdicts = append(l.verdicts, verdict)
}

func (l *testListener) OnTargetBitrateChange(previous int64, current int64, verdict CongestionVerdict) {
	l.changes = append(l.changes, bitrateChange{previous, current, verdict})
}

func (l *testListener) OnSampleUnavailable(err error) {
	l.unavailable = append(l.unavailable, err)
}

// every tick runs both the congestion check and the bitrate update
func everyTickConfig() ControllerConfig {
	config := DefaultControllerConfig
	config.CongestionCheck = ccutils.GateConfig{MaxCount: 1}
	config.BitrateUpdate = ccutils.GateConfig{MaxCount: 1}
	return config
}

func newTestController(t *testing.T, config ControllerConfig, sampler Sampler) (*Controller, *testListener, *clock.Mock) {
	mock := clock.NewMock()
	listener := &testListener{}
	c, err := NewController(ControllerParams{
		Config:           config,
		Sampler:          sampler,
		Logger:           logger.GetLogger(),
		Clock:            mock,
		ReferenceBitrate: 1_000_000,
		Listener:         listener,
	})
	require.NoError(t, err)
	return c, listener, mock
}

var steadySample = Sample{RTTMs: 40, BandwidthBps: 1_000_000, InflightBytes: 0}

func TestControllerEndToEnd(t *testing.T) {
	sampler := &testSampler{sample: steadySample}
	c, listener, _ := newTestController(t, everyTickConfig(), sampler)

	require.Equal(t, CongestionVerdictKeep, c.CurrentVerdict())
	require.Equal(t, int64(1_000_000), c.CurrentBitrate())

	// six samples to fill the estimators, the sixth also starts the state history
	for i := 0; i < 10; i++ {
		c.Tick()
		require.Equal(t, CongestionVerdictKeep, c.CurrentVerdict())
		require.Equal(t, int64(1_000_000), c.CurrentBitrate())
	}

	c.Tick()
	require.Equal(t, CongestionVerdictIncrease, c.CurrentVerdict())
	require.Equal(t, int64(1_080_000), c.CurrentBitrate())

	estimate, ok := c.LastEstimate()
	require.True(t, ok)
	require.Equal(t, int64(40), estimate.RTTFloorMs)
	require.Equal(t, uint64(1_200_000), estimate.BandwidthCeilingBps)
	require.Equal(t, 48_000.0, estimate.BDPBits)
	require.Equal(t, 62_400.0, estimate.StateSample)
	require.Equal(t, 374_400.0, estimate.StateTotal)

	require.Len(t, listener.verdicts, 11)
	require.Equal(t, []bitrateChange{{1_000_000, 1_080_000, CongestionVerdictIncrease}}, listener.changes)
	require.Equal(t, 11, sampler.count())
}

func TestControllerSkipOnFailure(t *testing.T) {
	sampler := &testSampler{sample: steadySample}
	c, listener, _ := newTestController(t, everyTickConfig(), sampler)

	for i := 0; i < 10; i++ {
		c.Tick()
	}
	before, ok := c.LastEstimate()
	require.True(t, ok)
	pending := c.classifier.Pending()
	rttPending := c.rtt.window.Len()
	bandwidthPending := c.bandwidth.window.Len()

	sampler.set(Sample{}, errors.New("socket closed"))
	for i := 0; i < 3; i++ {
		c.Tick()
	}
	sampler.set(Sample{RTTMs: -1, BandwidthBps: 1_000_000}, nil)
	c.Tick()

	require.Len(t, listener.unavailable, 4)
	for _, err := range listener.unavailable {
		require.ErrorIs(t, err, ErrSampleUnavailable)
	}
	require.Equal(t, pending, c.classifier.Pending())
	require.Equal(t, rttPending, c.rtt.window.Len())
	require.Equal(t, bandwidthPending, c.bandwidth.window.Len())
	require.Equal(t, CongestionVerdictKeep, c.CurrentVerdict())
	require.Equal(t, int64(1_000_000), c.CurrentBitrate())
	after, _ := c.LastEstimate()
	require.Equal(t, before, after)

	// the next good sample completes the history as if nothing happened
	sampler.set(steadySample, nil)
	c.Tick()
	require.Equal(t, CongestionVerdictIncrease, c.CurrentVerdict())
	require.Equal(t, int64(1_080_000), c.CurrentBitrate())
}

func TestControllerFailureKeepsPublishedVerdict(t *testing.T) {
	sampler := &testSampler{sample: steadySample}
	config := everyTickConfig()
	// verdict is applied on a separate, slower cadence
	config.BitrateUpdate = ccutils.GateConfig{MaxCount: 100}
	c, _, _ := newTestController(t, config, sampler)

	for i := 0; i < 11; i++ {
		c.Tick()
	}
	require.Equal(t, CongestionVerdictIncrease, c.CurrentVerdict())

	sampler.set(Sample{}, ErrSampleUnavailable)
	c.Tick()
	require.Equal(t, CongestionVerdictIncrease, c.CurrentVerdict())
}

func TestControllerPause(t *testing.T) {
	sampler := &testSampler{sample: steadySample}
	c, listener, _ := newTestController(t, everyTickConfig(), sampler)

	c.Pause()
	require.True(t, c.IsPaused())
	for i := 0; i < 11; i++ {
		c.Tick()
	}

	// classification continued, adjustment did not
	require.Equal(t, CongestionVerdictIncrease, c.CurrentVerdict())
	require.Equal(t, int64(1_000_000), c.CurrentBitrate())
	require.Empty(t, listener.changes)

	c.Resume()
	require.False(t, c.IsPaused())
	for i := 0; i < 6; i++ {
		c.Tick()
	}
	require.Equal(t, CongestionVerdictIncrease, c.CurrentVerdict())
	require.Equal(t, int64(1_080_000), c.CurrentBitrate())
}

func TestControllerCadence(t *testing.T) {
	sampler := &testSampler{sample: steadySample}
	c, _, mock := newTestController(t, DefaultControllerConfig, sampler)

	c.Tick()
	mock.Add(299 * time.Millisecond)
	c.Tick()
	require.Equal(t, 0, sampler.count())

	mock.Add(time.Millisecond)
	c.Tick()
	require.Equal(t, 1, sampler.count())

	// a fast caller still samples at most once per interval, the next check lands at 610ms
	for i := 0; i < 40; i++ {
		mock.Add(10 * time.Millisecond)
		c.Tick()
	}
	require.Equal(t, 2, sampler.count())
}

func TestControllerSetReferenceBitrate(t *testing.T) {
	sampler := &testSampler{sample: steadySample}
	c, _, _ := newTestController(t, everyTickConfig(), sampler)

	require.ErrorIs(t, c.SetReferenceBitrate(0), ErrInvalidBitrate)
	require.Equal(t, int64(1_000_000), c.ReferenceBitrate())

	require.NoError(t, c.SetReferenceBitrate(2_000_000))
	require.Equal(t, int64(2_000_000), c.ReferenceBitrate())

	// increases now run up to the new ceiling
	for i := 0; i < 11; i++ {
		c.Tick()
	}
	require.Equal(t, int64(1_080_000), c.CurrentBitrate())
}

func TestNewControllerRejectsInvalidConfig(t *testing.T) {
	sampler := &testSampler{sample: steadySample}

	config := DefaultControllerConfig
	config.RTTWindow = 0
	_, err := NewController(ControllerParams{Config: config, Sampler: sampler, ReferenceBitrate: 1_000_000})
	require.ErrorIs(t, err, ErrInvalidConfig)

	config = DefaultControllerConfig
	config.DecreaseRatio = -0.85
	_, err = NewController(ControllerParams{Config: config, Sampler: sampler, ReferenceBitrate: 1_000_000})
	require.ErrorIs(t, err, ErrInvalidConfig)

	config = DefaultControllerConfig
	config.BitrateUpdate.Policy = "sometimes"
	_, err = NewController(ControllerParams{Config: config, Sampler: sampler, ReferenceBitrate: 1_000_000})
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewController(ControllerParams{Config: DefaultControllerConfig, ReferenceBitrate: 1_000_000})
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewController(ControllerParams{Config: DefaultControllerConfig, Sampler: sampler})
	require.ErrorIs(t, err, ErrInvalidBitrate)
}

func TestDefaultControllerConfig(t *testing.T) {
	require.NoError(t, DefaultControllerConfig.Validate())
	require.Equal(t, int64(31_584), DefaultControllerConfig.IncreaseThreshold)
	require.Equal(t, int64(-63_168), DefaultControllerConfig.DecreaseThreshold)
}
