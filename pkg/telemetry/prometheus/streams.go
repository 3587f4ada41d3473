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

package prometheus

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"

	"github.com/livekit/srt-abr/pkg/bwe"
)

var (
	streamCurrent atomic.Int32

	promStreamCurrent         prometheus.Gauge
	promTargetBitrate         *prometheus.GaugeVec
	promReferenceBitrate      *prometheus.GaugeVec
	promRTTFloor              *prometheus.GaugeVec
	promBandwidthCeiling      *prometheus.GaugeVec
	promStateSample           *prometheus.HistogramVec
	promVerdictCounter        *prometheus.CounterVec
	promBitrateChangeCounter  *prometheus.CounterVec
	promSampleUnavailable     *prometheus.CounterVec
	promRelayedBytes          *prometheus.CounterVec
	promStreamConnectCounter  *prometheus.CounterVec
	promStreamDurationSeconds prometheus.Histogram
)

func initStreamStats(nodeID string) {
	labels := prometheus.Labels{"node_id": nodeID}

	promStreamCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   srtAbrNamespace,
		Subsystem:   "stream",
		Name:        "total",
		ConstLabels: labels,
	})
	promTargetBitrate = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   srtAbrNamespace,
		Subsystem:   "stream",
		Name:        "target_bitrate_bps",
		ConstLabels: labels,
	}, []string{"stream_id"})
	promReferenceBitrate = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   srtAbrNamespace,
		Subsystem:   "stream",
		Name:        "reference_bitrate_bps",
		ConstLabels: labels,
	}, []string{"stream_id"})
	promRTTFloor = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   srtAbrNamespace,
		Subsystem:   "congestion",
		Name:        "rtt_floor_ms",
		ConstLabels: labels,
	}, []string{"stream_id"})
	promBandwidthCeiling = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   srtAbrNamespace,
		Subsystem:   "congestion",
		Name:        "bandwidth_ceiling_bps",
		ConstLabels: labels,
	}, []string{"stream_id"})
	promStateSample = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   srtAbrNamespace,
		Subsystem:   "congestion",
		Name:        "state_sample_bits",
		ConstLabels: labels,
		Buckets: []float64{
			-1_000_000, -250_000, -63_168, -10_528, 0, 5_264, 31_584, 250_000, 1_000_000,
		},
	}, []string{"stream_id"})
	promVerdictCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   srtAbrNamespace,
		Subsystem:   "congestion",
		Name:        "verdict",
		ConstLabels: labels,
	}, []string{"stream_id", "verdict"})
	promBitrateChangeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   srtAbrNamespace,
		Subsystem:   "stream",
		Name:        "bitrate_change",
		ConstLabels: labels,
	}, []string{"stream_id", "direction"})
	promSampleUnavailable = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   srtAbrNamespace,
		Subsystem:   "congestion",
		Name:        "sample_unavailable",
		ConstLabels: labels,
	}, []string{"stream_id"})
	promRelayedBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   srtAbrNamespace,
		Subsystem:   "stream",
		Name:        "relayed_bytes",
		ConstLabels: labels,
	}, []string{"stream_id"})
	promStreamConnectCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   srtAbrNamespace,
		Subsystem:   "stream",
		Name:        "connect",
		ConstLabels: labels,
	}, []string{"stream_id", "status"})
	promStreamDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   srtAbrNamespace,
		Subsystem:   "stream",
		Name:        "duration_seconds",
		ConstLabels: labels,
		Buckets: []float64{
			5, 10, 60, 5 * 60, 10 * 60, 30 * 60, 60 * 60, 2 * 60 * 60, 5 * 60 * 60, 10 * 60 * 60,
		},
	})

	prometheus.MustRegister(promStreamCurrent)
	prometheus.MustRegister(promTargetBitrate)
	prometheus.MustRegister(promReferenceBitrate)
	prometheus.MustRegister(promRTTFloor)
	prometheus.MustRegister(promBandwidthCeiling)
	prometheus.MustRegister(promStateSample)
	prometheus.MustRegister(promVerdictCounter)
	prometheus.MustRegister(promBitrateChangeCounter)
	prometheus.MustRegister(promSampleUnavailable)
	prometheus.MustRegister(promRelayedBytes)
	prometheus.MustRegister(promStreamConnectCounter)
	prometheus.MustRegister(promStreamDurationSeconds)
}

func StreamStarted(streamID string, referenceBitrate int64, targetBitrate int64) {
	streamCurrent.Inc()
	if !initialized.Load() {
		return
	}

	promStreamCurrent.Inc()
	promReferenceBitrate.WithLabelValues(streamID).Set(float64(referenceBitrate))
	promTargetBitrate.WithLabelValues(streamID).Set(float64(targetBitrate))
}

func StreamEnded(streamID string, durationSeconds float64) {
	streamCurrent.Dec()
	if !initialized.Load() {
		return
	}

	promStreamCurrent.Dec()
	promStreamDurationSeconds.Observe(durationSeconds)
	promTargetBitrate.DeleteLabelValues(streamID)
	promReferenceBitrate.DeleteLabelValues(streamID)
	promRTTFloor.DeleteLabelValues(streamID)
	promBandwidthCeiling.DeleteLabelValues(streamID)
}

func RecordCongestionEstimate(streamID string, estimate bwe.Estimate) {
	if !initialized.Load() {
		return
	}

	promRTTFloor.WithLabelValues(streamID).Set(float64(estimate.RTTFloorMs))
	promBandwidthCeiling.WithLabelValues(streamID).Set(float64(estimate.BandwidthCeilingBps))
	if estimate.BDPBits != 0 {
		promStateSample.WithLabelValues(streamID).Observe(estimate.StateSample)
	}
	if estimate.StateComplete {
		promVerdictCounter.WithLabelValues(streamID, estimate.Verdict.String()).Inc()
	}
}

func RecordBitrateChange(streamID string, previous int64, current int64) {
	if !initialized.Load() {
		return
	}

	direction := "up"
	if current < previous {
		direction = "down"
	}
	promBitrateChangeCounter.WithLabelValues(streamID, direction).Inc()
	promTargetBitrate.WithLabelValues(streamID).Set(float64(current))
}

func RecordReferenceBitrate(streamID string, reference int64) {
	if !initialized.Load() {
		return
	}

	promReferenceBitrate.WithLabelValues(streamID).Set(float64(reference))
}

func RecordSampleUnavailable(streamID string) {
	if !initialized.Load() {
		return
	}

	promSampleUnavailable.WithLabelValues(streamID).Inc()
}

func RecordRelayedBytes(streamID string, n int) {
	if !initialized.Load() {
		return
	}

	promRelayedBytes.WithLabelValues(streamID).Add(float64(n))
}

func RecordStreamConnect(streamID string, err error) {
	if !initialized.Load() {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}
	promStreamConnectCounter.WithLabelValues(streamID, status).Inc()
}

func errorType(err error) string {
	var typed interface{ Cause() error }
	if errors.As(err, &typed) {
		return fmt.Sprintf("%T", typed.Cause())
	}
	return fmt.Sprintf("%T", err)
}
