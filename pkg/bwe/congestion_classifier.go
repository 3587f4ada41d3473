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

	"github.com/livekit/protocol/logger"
	"go.uber.org/zap/zapcore"

	"github.com/livekit/srt-abr/pkg/ccutils"
)

// Estimate is the outcome of one congestion check.
type Estimate struct {
	At time.Time

	RTTFloorMs          int64
	BandwidthCeilingBps uint64
	InflightBytes       int64

	// zero until both estimators are ready
	BDPBits     float64
	StateSample float64

	// StateTotal is only meaningful when StateComplete is set
	StateTotal    float64
	StateComplete bool

	Verdict CongestionVerdict
}

func (e Estimate) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddTime("at", e.At)
	enc.AddInt64("rttFloorMs", e.RTTFloorMs)
	enc.AddUint64("bandwidthCeilingBps", e.BandwidthCeilingBps)
	enc.AddInt64("inflightBytes", e.InflightBytes)
	enc.AddFloat64("bdpBits", e.BDPBits)
	enc.AddFloat64("stateSample", e.StateSample)
	if e.StateComplete {
		enc.AddFloat64("stateTotal", e.StateTotal)
	}
	enc.AddString("verdict", e.Verdict.String())
	return nil
}

// ------------------------------------------------

type CongestionClassifierParams struct {
	Config    ControllerConfig
	RTT       *RTTEstimator
	Bandwidth *BandwidthEstimator
	Logger    logger.Logger
}

// CongestionClassifier compares the in-flight data against the gained bandwidth-delay product
// and sums that margin over a short history before deciding on a verdict.
type CongestionClassifier struct {
	params CongestionClassifierParams

	history *ccutils.Window[float64]
}

func NewCongestionClassifier(params CongestionClassifierParams) (*CongestionClassifier, error) {
	history, err := ccutils.NewWindow(ccutils.WindowParams[float64]{
		Name:     "state",
		Capacity: params.Config.StateWindow,
		Reducer:  ccutils.ReduceSum[float64],
	})
	if err != nil {
		return nil, err
	}

	return &CongestionClassifier{
		params:  params,
		history: history,
	}, nil
}

func (c *CongestionClassifier) Classify(inflightBytes int64, at time.Time) Estimate {
	estimate := Estimate{
		At:                  at,
		RTTFloorMs:          c.params.RTT.RTTFloorMs(),
		BandwidthCeilingBps: c.params.Bandwidth.BandwidthCeilingBps(),
		InflightBytes:       inflightBytes,
		Verdict:             CongestionVerdictKeep,
	}

	// cold start, leave the history untouched
	if !c.params.RTT.IsReady() || !c.params.Bandwidth.IsReady() {
		return estimate
	}

	estimate.BDPBits = float64(estimate.BandwidthCeilingBps) * float64(estimate.RTTFloorMs) / 1000
	estimate.StateSample = c.params.Config.CongestionWindowGain*estimate.BDPBits - float64(inflightBytes*8)

	total, done := c.history.Push(estimate.StateSample)
	if !done {
		return estimate
	}

	estimate.StateTotal = total
	estimate.StateComplete = true
	switch {
	case total > float64(c.params.Config.IncreaseThreshold):
		estimate.Verdict = CongestionVerdictIncrease
	case total < float64(c.params.Config.DecreaseThreshold):
		estimate.Verdict = CongestionVerdictDecrease
	}

	c.params.Logger.Debugw("congestion classifier: verdict", "estimate", estimate)
	return estimate
}

// Pending is the number of state samples collected towards the next verdict.
func (c *CongestionClassifier) Pending() int {
	return c.history.Len()
}

func (c *CongestionClassifier) MarshalLogObject(e zapcore.ObjectEncoder) error {
	if c == nil {
		return nil
	}

	if err := e.AddObject("rtt", c.params.RTT); err != nil {
		return err
	}
	if err := e.AddObject("bandwidth", c.params.Bandwidth); err != nil {
		return err
	}
	return e.AddObject("history", c.history)
}
