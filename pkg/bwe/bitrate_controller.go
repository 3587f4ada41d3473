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
	"go.uber.org/atomic"
	"go.uber.org/zap/zapcore"
)

// BitrateState holds the published target bitrate and the reference it is bounded by.
// Only the BitrateController writes current, any goroutine may read it.
type BitrateState struct {
	current   atomic.Int64
	reference atomic.Int64
}

func (b *BitrateState) Current() int64 {
	return b.current.Load()
}

func (b *BitrateState) Reference() int64 {
	return b.reference.Load()
}

func (b *BitrateState) MarshalLogObject(e zapcore.ObjectEncoder) error {
	if b == nil {
		return nil
	}

	e.AddInt64("current", b.current.Load())
	e.AddInt64("reference", b.reference.Load())
	return nil
}

// ------------------------------------------------

type BitrateControllerParams struct {
	Config ControllerConfig
	Logger logger.Logger
}

type BitrateController struct {
	params BitrateControllerParams
	state  BitrateState
}

func NewBitrateController(params BitrateControllerParams, reference int64, initial int64) (*BitrateController, error) {
	if reference <= 0 {
		return nil, ErrInvalidBitrate
	}

	b := &BitrateController{
		params: params,
	}
	b.state.reference.Store(reference)
	if initial <= 0 {
		initial = reference
	}
	b.state.current.Store(b.clamp(initial, reference))
	return b, nil
}

func (b *BitrateController) State() *BitrateState {
	return &b.state
}

func (b *BitrateController) SetReference(reference int64) error {
	if reference <= 0 {
		return ErrInvalidBitrate
	}

	b.state.reference.Store(reference)
	return nil
}

// Apply maps a verdict to a new target bitrate. It returns the previous value and whether it changed.
func (b *BitrateController) Apply(verdict CongestionVerdict) (int64, bool) {
	current := b.state.current.Load()
	reference := float64(b.state.reference.Load())
	ceiling := int64(reference * b.params.Config.IncreaseCeiling)
	floor := int64(reference * b.params.Config.DecreaseFloor)

	updated := current
	switch verdict {
	case CongestionVerdictIncrease:
		if current < ceiling {
			updated = min(int64(math.Round(float64(current)*b.params.Config.IncreaseRatio)), ceiling)
		}
	case CongestionVerdictDecrease:
		if current > floor {
			updated = max(int64(math.Round(float64(current)*b.params.Config.DecreaseRatio)), floor)
		}
	case CongestionVerdictKeep:
	}

	if updated == current {
		return current, false
	}

	b.state.current.Store(updated)
	b.params.Logger.Debugw(
		"bitrate controller: target updated",
		"verdict", verdict,
		"previous", current,
		"current", updated,
		"reference", int64(reference),
	)
	return current, true
}

func (b *BitrateController) clamp(bitrate int64, reference int64) int64 {
	ceiling := int64(float64(reference) * b.params.Config.IncreaseCeiling)
	floor := int64(float64(reference) * b.params.Config.DecreaseFloor)
	return min(max(bitrate, floor), ceiling)
}
