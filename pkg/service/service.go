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
	"github.com/redis/go-redis/v9"

	"github.com/livekit/protocol/logger"
	redisLiveKit "github.com/livekit/protocol/redis"

	"github.com/livekit/srt-abr/pkg/config"
	"github.com/livekit/srt-abr/pkg/srt"
)

func createRedisClient(conf *config.Config) (redis.UniversalClient, error) {
	if !conf.Redis.IsConfigured() {
		return nil, nil
	}
	return redisLiveKit.GetRedisClient(&conf.Redis)
}

func createStore(rc redis.UniversalClient) StreamStore {
	if rc != nil {
		logger.Infow("using redis stream store")
		return NewRedisStreamStore(rc)
	}
	return NewLocalStreamStore()
}

func createDialer(conf *config.Config) srt.Dialer {
	return srt.NewDialer(srt.DialerParams{
		Config: conf.SRT,
		Logger: logger.GetLogger(),
	})
}

func createStreamManager(conf *config.Config, nodeID string, store StreamStore, dialer srt.Dialer) (*StreamManager, error) {
	return NewStreamManager(StreamManagerParams{
		Config: conf,
		NodeID: nodeID,
		Store:  store,
		Dialer: dialer,
		Logger: logger.GetLogger(),
	})
}
