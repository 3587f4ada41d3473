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
	"github.com/livekit/protocol/logger"
	"go.uber.org/zap/zapcore"

	"github.com/livekit/srt-abr/pkg/ccutils"
)

type RTTEstimatorParams struct {
	Config ControllerConfig
	Logger logger.Logger
}

// RTTEstimator tracks the minimum RTT over consecutive batches of samples.
type RTTEstimator struct {
	params RTTEstimatorParams
	window *ccutils.Window[int64]
}

func NewRTTEstimator(params RTTEstimatorParams) (*RTTEstimator, error) {
	window, err := ccutils.NewWindow(ccutils.WindowParams[int64]{
		Name:     "rtt",
		Capacity: params.Config.RTTWindow,
		Reducer:  ccutils.ReduceMin[int64],
	})
	if err != nil {
		return nil, err
	}

	return &RTTEstimator{
		params: params,
		window: window,
	}, nil
}

// Push clamps the sample to the configured floor and adds it to the current batch.
func (r *RTTEstimator) Push(rttMs int64) (int64, bool) {
	if rttMs < r.params.Config.RTTFloorMs {
		rttMs = r.params.Config.RTTFloorMs
	}

	floor, done := r.window.Push(rttMs)
	if done {
		r.params.Logger.Debugw("rtt estimator: batch complete", "rttFloorMs", floor)
	}
	return floor, done
}

// RTTFloorMs returns the last batch minimum, or the configured initial RTT before any batch completed.
func (r *RTTEstimator) RTTFloorMs() int64 {
	if floor, ready := r.window.Value(); ready {
		return floor
	}
	return r.params.Config.RTTInitialMs
}

func (r *RTTEstimator) IsReady() bool {
	return r.window.IsReady()
}

func (r *RTTEstimator) MarshalLogObject(e zapcore.ObjectEncoder) error {
	if r == nil {
		return nil
	}

	e.AddInt64("rttFloorMs", r.RTTFloorMs())
	return e.AddObject("window", r.window)
}
