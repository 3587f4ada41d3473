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
	"time"

	"github.com/pkg/errors"

	"github.com/livekit/srt-abr/pkg/ccutils"
)

const (
	// approximates one transport payload unit of 7 MPEG-TS packets
	PayloadUnitBytes = 1316
)

// ------------------------------------------------

type ControllerConfig struct {
	RTTWindow       int `yaml:"rtt_window,omitempty"`
	BandwidthWindow int `yaml:"bandwidth_window,omitempty"`
	StateWindow     int `yaml:"state_window,omitempty"`

	RTTFloorMs   int64 `yaml:"rtt_floor_ms,omitempty"`
	RTTInitialMs int64 `yaml:"rtt_initial_ms,omitempty"`

	IncreaseRatio   float64 `yaml:"increase_ratio,omitempty"`
	DecreaseRatio   float64 `yaml:"decrease_ratio,omitempty"`
	IncreaseCeiling float64 `yaml:"increase_ceiling,omitempty"`
	DecreaseFloor   float64 `yaml:"decrease_floor,omitempty"`

	CongestionWindowGain float64 `yaml:"congestion_window_gain,omitempty"`
	BandwidthHeadroom    float64 `yaml:"bandwidth_headroom,omitempty"`

	// thresholds on the summed state history, in bits
	IncreaseThreshold int64 `yaml:"increase_threshold,omitempty"`
	DecreaseThreshold int64 `yaml:"decrease_threshold,omitempty"`

	CongestionCheck ccutils.GateConfig `yaml:"congestion_check,omitempty"`
	BitrateUpdate   ccutils.GateConfig `yaml:"bitrate_update,omitempty"`
}

var (
	DefaultControllerConfig = ControllerConfig{
		RTTWindow:            6,
		BandwidthWindow:      6,
		StateWindow:          6,
		RTTFloorMs:           35,
		RTTInitialMs:         100,
		IncreaseRatio:        1.08,
		DecreaseRatio:        0.85,
		IncreaseCeiling:      1.3,
		DecreaseFloor:        0.4,
		CongestionWindowGain: 1.3,
		BandwidthHeadroom:    1.2,
		IncreaseThreshold:    PayloadUnitBytes * 8 * 3,
		DecreaseThreshold:    -PayloadUnitBytes * 8 * 6,
		CongestionCheck: ccutils.GateConfig{
			MaxCount:    1,
			MaxInterval: 300 * time.Millisecond,
			Policy:      ccutils.GatePolicyAnd,
		},
		BitrateUpdate: ccutils.GateConfig{
			MaxCount:    1,
			MaxInterval: 500 * time.Millisecond,
			Policy:      ccutils.GatePolicyAnd,
		},
	}
)

func (c ControllerConfig) Validate() error {
	if c.RTTWindow <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "rtt_window must be positive, got %d", c.RTTWindow)
	}
	if c.BandwidthWindow <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "bandwidth_window must be positive, got %d", c.BandwidthWindow)
	}
	if c.StateWindow <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "state_window must be positive, got %d", c.StateWindow)
	}
	if c.RTTFloorMs < 0 {
		return errors.Wrapf(ErrInvalidConfig, "rtt_floor_ms cannot be negative, got %d", c.RTTFloorMs)
	}
	if c.RTTInitialMs <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "rtt_initial_ms must be positive, got %d", c.RTTInitialMs)
	}
	if c.IncreaseRatio <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "increase_ratio must be positive, got %v", c.IncreaseRatio)
	}
	if c.DecreaseRatio <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "decrease_ratio must be positive, got %v", c.DecreaseRatio)
	}
	if c.IncreaseCeiling <= 0 || c.DecreaseFloor <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "bitrate bounds must be positive, got floor %v, ceiling %v", c.DecreaseFloor, c.IncreaseCeiling)
	}
	if c.DecreaseFloor > c.IncreaseCeiling {
		return errors.Wrapf(ErrInvalidConfig, "decrease_floor %v above increase_ceiling %v", c.DecreaseFloor, c.IncreaseCeiling)
	}
	if c.CongestionWindowGain <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "congestion_window_gain must be positive, got %v", c.CongestionWindowGain)
	}
	if c.BandwidthHeadroom <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "bandwidth_headroom must be positive, got %v", c.BandwidthHeadroom)
	}
	if c.DecreaseThreshold > c.IncreaseThreshold {
		return errors.Wrapf(ErrInvalidConfig, "decrease_threshold %d above increase_threshold %d", c.DecreaseThreshold, c.IncreaseThreshold)
	}
	if err := c.CongestionCheck.Validate(); err != nil {
		return errors.Wrapf(ErrInvalidConfig, "congestion_check: %v", err)
	}
	if err := c.BitrateUpdate.Validate(); err != nil {
		return errors.Wrapf(ErrInvalidConfig, "bitrate_update: %v", err)
	}
	return nil
}
