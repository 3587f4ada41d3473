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
	"testing"

	"github.com/livekit/protocol/logger"
	"github.com/stretchr/testify/require"
)

func TestLogBridge(t *testing.T) {
	bridge := NewLogBridge([]string{"connection"}, logger.GetLogger())
	srtLogger := bridge.Logger()

	require.True(t, srtLogger.HasTopic("connection"))
	require.False(t, srtLogger.HasTopic("packet:recv"))

	srtLogger.Print("connection:new", 1, 1, func() string { return "connected" })

	bridge.Close()
	bridge.Close()

	// logging after close is dropped, not a panic
	srtLogger.Print("connection:close", 1, 1, func() string { return "closed" })

	var nilBridge *LogBridge
	nilBridge.Close()
}
