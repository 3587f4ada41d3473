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
	"math"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
)

// Sample is one snapshot of transport performance counters.
type Sample struct {
	RTTMs         int64
	BandwidthBps  uint64
	InflightBytes int64
	At            time.Time
}

func (s Sample) Validate() error {
	if s.RTTMs < 0 {
		return errors.Wrapf(ErrSampleUnavailable, "negative rtt %d ms", s.RTTMs)
	}
	if s.InflightBytes < 0 {
		return errors.Wrapf(ErrSampleUnavailable, "negative inflight %d bytes", s.InflightBytes)
	}
	return nil
}

func (s Sample) MarshalLogObject(e zapcore.ObjectEncoder) error {
	e.AddInt64("rttMs", s.RTTMs)
	e.AddUint64("bandwidthBps", s.BandwidthBps)
	e.AddInt64("inflightBytes", s.InflightBytes)
	e.AddTime("at", s.At)
	return nil
}

// Sampler pulls counters from the transport. It must not block.
// Any failure is reported as (or wraps) ErrSampleUnavailable.
type Sampler interface {
	Sample() (Sample, error)
}

// SamplerFunc adapts a plain function to Sampler.
type SamplerFunc func() (Sample, error)

func (f SamplerFunc) Sample() (Sample, error) {
	return f()
}

// ------------------------------------------------

// FloatToBps converts a rate in bits per second reported as a float into a bandwidth sample value.
func FloatToBps(bps float64) (uint64, error) {
	if math.IsNaN(bps) || math.IsInf(bps, 0) || bps < 0 {
		return 0, errors.Wrapf(ErrSampleUnavailable, "invalid send rate %v", bps)
	}
	return uint64(math.Round(bps)), nil
}
