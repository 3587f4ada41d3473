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

package srt

import (
	"math"

	gosrt "github.com/datarhei/gosrt"
	"github.com/livekit/protocol/utils/mono"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/livekit/srt-abr/pkg/bwe"
)

// StatsSource is the part of an SRT connection the sampler needs.
type StatsSource interface {
	Stats(s *gosrt.Statistics)
}

type ConnSamplerParams struct {
	Conn                   StatsSource
	PacketPayloadBytes     int64
	PacketCorrectionFactor int64
}

// ConnSampler reads instantaneous statistics off an SRT connection.
type ConnSampler struct {
	params ConnSamplerParams
	closed atomic.Bool
}

func NewConnSampler(params ConnSamplerParams) *ConnSampler {
	if params.PacketPayloadBytes <= 0 {
		params.PacketPayloadBytes = DefaultConfig.PacketPayloadBytes
	}
	if params.PacketCorrectionFactor <= 0 {
		params.PacketCorrectionFactor = DefaultConfig.PacketCorrectionFactor
	}
	return &ConnSampler{
		params: params,
	}
}

// Close makes every further Sample fail, the connection itself is not touched.
func (c *ConnSampler) Close() {
	c.closed.Store(true)
}

func (c *ConnSampler) Sample() (bwe.Sample, error) {
	if c.closed.Load() || c.params.Conn == nil {
		return bwe.Sample{}, errors.Wrap(bwe.ErrSampleUnavailable, "connection closed")
	}

	var stats gosrt.Statistics
	c.params.Conn.Stats(&stats)
	instantaneous := stats.Instantaneous

	if math.IsNaN(instantaneous.MsRTT) || math.IsInf(instantaneous.MsRTT, 0) || instantaneous.MsRTT < 0 {
		return bwe.Sample{}, errors.Wrapf(bwe.ErrSampleUnavailable, "invalid rtt %v", instantaneous.MsRTT)
	}
	bandwidth, err := bwe.FloatToBps(instantaneous.MbpsSentRate * 1000 * 1000)
	if err != nil {
		return bwe.Sample{}, err
	}
	inflight := instantaneous.PktFlightSize * uint64(c.params.PacketPayloadBytes*c.params.PacketCorrectionFactor)
	if inflight > math.MaxInt64 {
		return bwe.Sample{}, errors.Wrapf(bwe.ErrSampleUnavailable, "inflight overflow, %d packets", instantaneous.PktFlightSize)
	}

	return bwe.Sample{
		RTTMs:         int64(instantaneous.MsRTT),
		BandwidthBps:  bandwidth,
		InflightBytes: int64(inflight),
		At:            mono.Now(),
	}, nil
}
