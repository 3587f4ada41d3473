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

package service

import (
	"time"

	"go.uber.org/zap/zapcore"
)

type StreamStatus string

const (
	StreamStatusIdle         StreamStatus = "idle"
	StreamStatusConnecting   StreamStatus = "connecting"
	StreamStatusPublishing   StreamStatus = "publishing"
	StreamStatusReconnecting StreamStatus = "reconnecting"
	StreamStatusEnded        StreamStatus = "ended"
	StreamStatusFailed       StreamStatus = "failed"
)

// StreamState is the persisted and reported view of one stream.
type StreamState struct {
	ID     string       `json:"id"`
	NodeID string       `json:"node_id,omitempty"`
	URL    string       `json:"url"`
	Input  string       `json:"input"`
	Status StreamStatus `json:"status"`
	Error  string       `json:"error,omitempty"`

	Verdict          string `json:"verdict"`
	CurrentBitrate   int64  `json:"current_bitrate"`
	ReferenceBitrate int64  `json:"reference_bitrate"`
	Paused           bool   `json:"paused"`

	RTTFloorMs          int64  `json:"rtt_floor_ms,omitempty"`
	BandwidthCeilingBps uint64 `json:"bandwidth_ceiling_bps,omitempty"`

	RelayedBytes uint64    `json:"relayed_bytes"`
	Reconnects   uint32    `json:"reconnects,omitempty"`
	StartedAt    time.Time `json:"started_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (s *StreamState) MarshalLogObject(e zapcore.ObjectEncoder) error {
	if s == nil {
		return nil
	}

	e.AddString("id", s.ID)
	e.AddString("status", string(s.Status))
	e.AddString("verdict", s.Verdict)
	e.AddInt64("currentBitrate", s.CurrentBitrate)
	e.AddInt64("referenceBitrate", s.ReferenceBitrate)
	e.AddBool("paused", s.Paused)
	e.AddUint64("relayedBytes", s.RelayedBytes)
	return nil
}
