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

	"github.com/livekit/protocol/logger"
	"go.uber.org/zap/zapcore"

	"github.com/livekit/srt-abr/pkg/ccutils"
)

type BandwidthEstimatorParams struct {
	Config ControllerConfig
	Logger logger.Logger
}

// BandwidthEstimator reduces batches of send rate samples to an optimistic capacity ceiling:
// the average of the batch peak and batch mean, scaled by the configured headroom.
type BandwidthEstimator struct {
	params BandwidthEstimatorParams
	window *ccutils.Window[uint64]
}

func NewBandwidthEstimator(params BandwidthEstimatorParams) (*BandwidthEstimator, error) {
	headroom := params.Config.BandwidthHeadroom
	window, err := ccutils.NewWindow(ccutils.WindowParams[uint64]{
		Name:     "bandwidth",
		Capacity: params.Config.BandwidthWindow,
		Reducer: func(samples []uint64) uint64 {
			peak := float64(ccutils.ReduceMax(samples))
			mean := ccutils.Mean(samples)
			return uint64(math.Round((peak + mean) * headroom / 2))
		},
	})
	if err != nil {
		return nil, err
	}

	return &BandwidthEstimator{
		params: params,
		window: window,
	}, nil
}

func (b *BandwidthEstimator) Push(bandwidthBps uint64) (uint64, bool) {
	ceiling, done := b.window.Push(bandwidthBps)
	if done {
		b.params.Logger.Debugw("bandwidth estimator: batch complete", "bandwidthCeilingBps", ceiling)
	}
	return ceiling, done
}

// BandwidthCeilingBps returns the last batch reduction, zero before any batch completed.
func (b *BandwidthEstimator) BandwidthCeilingBps() uint64 {
	ceiling, _ := b.window.Value()
	return ceiling
}

func (b *BandwidthEstimator) IsReady() bool {
	return b.window.IsReady()
}

func (b *BandwidthEstimator) MarshalLogObject(e zapcore.ObjectEncoder) error {
	if b == nil {
		return nil
	}

	e.AddUint64("bandwidthCeilingBps", b.BandwidthCeilingBps())
	return e.AddObject("window", b.window)
}
