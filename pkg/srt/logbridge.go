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
	"strings"

	gosrt "github.com/datarhei/gosrt"
	"github.com/frostbyte73/core"
	"github.com/livekit/protocol/logger"
)

// LogBridge forwards gosrt's topic logs into the structured logger.
type LogBridge struct {
	srtLogger gosrt.Logger
	logger    logger.Logger

	closed core.Fuse
}

func NewLogBridge(topics []string, l logger.Logger) *LogBridge {
	b := &LogBridge{
		srtLogger: gosrt.NewLogger(topics),
		logger:    l,
	}
	go b.worker()
	return b
}

func (b *LogBridge) Logger() gosrt.Logger {
	return b.srtLogger
}

// Close stops forwarding. The gosrt logger stays open since connection goroutines may still log
// while shutting down, entries after Close are drained and dropped.
// Safe on a nil bridge.
func (b *LogBridge) Close() {
	if b == nil {
		return
	}
	b.closed.Break()
}

func (b *LogBridge) worker() {
	for entry := range b.srtLogger.Listen() {
		if b.closed.IsBroken() {
			continue
		}

		keysAndValues := []interface{}{
			"topic", entry.Topic,
			"socketID", entry.SocketId,
			"at", entry.Time,
		}
		if strings.Contains(entry.Topic, "error") {
			b.logger.Warnw("srt: "+entry.Message, nil, keysAndValues...)
		} else {
			b.logger.Debugw("srt: "+entry.Message, keysAndValues...)
		}
	}
}
