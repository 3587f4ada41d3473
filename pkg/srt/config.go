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

import "time"

type Config struct {
	Latency           time.Duration `yaml:"latency,omitempty"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout,omitempty"`

	// in-flight packets are converted to bytes as packets * payload * correction
	PacketPayloadBytes     int64 `yaml:"packet_payload_bytes,omitempty"`
	PacketCorrectionFactor int64 `yaml:"packet_correction_factor,omitempty"`

	// gosrt log topics forwarded to the logger, e.g. "connection", "control:send"
	LogTopics []string `yaml:"log_topics,omitempty"`
}

var (
	DefaultConfig = Config{
		Latency:                120 * time.Millisecond,
		ConnectionTimeout:      3 * time.Second,
		PacketPayloadBytes:     188,
		PacketCorrectionFactor: 7,
	}
)
