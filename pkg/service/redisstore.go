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
	"context"
	"encoding/json"

	goversion "github.com/hashicorp/go-version"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/srt-abr/version"
)

const (
	VersionKey = "srt_abr_version"

	// StreamsKey is hash of stream_id => StreamState json
	StreamsKey = "srt_abr_streams"

	// states written before this version used a different layout and are dropped on start
	minCompatibleVersion = "0.2.0"
)

type RedisStreamStore struct {
	rc redis.UniversalClient
}

func NewRedisStreamStore(rc redis.UniversalClient) *RedisStreamStore {
	return &RedisStreamStore{
		rc: rc,
	}
}

// Start checks the version that last wrote the store and clears states it cannot read.
func (s *RedisStreamStore) Start(ctx context.Context) error {
	current, err := s.rc.Get(ctx, VersionKey).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	if current == "" {
		current = "0.0.0"
	}

	v, err := goversion.NewVersion(current)
	if err != nil {
		logger.Warnw("invalid stored version, resetting stream states", err, "version", current)
		v, _ = goversion.NewVersion("0.0.0")
	}
	minCompatible, _ := goversion.NewVersion(minCompatibleVersion)
	if v.LessThan(minCompatible) {
		if err := s.rc.Del(ctx, StreamsKey).Err(); err != nil {
			return errors.Wrap(err, "could not reset stream states")
		}
		logger.Infow("reset stream states", "previousVersion", current, "version", version.Version)
	}

	return s.rc.Set(ctx, VersionKey, version.Version, 0).Err()
}

func (s *RedisStreamStore) StoreStream(ctx context.Context, state *StreamState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	if err = s.rc.HSet(ctx, StreamsKey, state.ID, data).Err(); err != nil {
		return errors.Wrap(err, "could not store stream")
	}
	return nil
}

func (s *RedisStreamStore) LoadStream(ctx context.Context, id string) (*StreamState, error) {
	data, err := s.rc.HGet(ctx, StreamsKey, id).Result()
	if err != nil {
		if err == redis.Nil {
			err = ErrStreamNotFound
		}
		return nil, err
	}

	state := StreamState{}
	if err = json.Unmarshal([]byte(data), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *RedisStreamStore) ListStreams(ctx context.Context) ([]*StreamState, error) {
	items, err := s.rc.HVals(ctx, StreamsKey).Result()
	if err != nil && err != redis.Nil {
		return nil, errors.Wrap(err, "could not get streams")
	}

	states := make([]*StreamState, 0, len(items))
	for _, item := range items {
		state := StreamState{}
		if err := json.Unmarshal([]byte(item), &state); err != nil {
			return nil, err
		}
		states = append(states, &state)
	}

	sortStreamStates(states)
	return states, nil
}

func (s *RedisStreamStore) DeleteStream(ctx context.Context, id string) error {
	return s.rc.HDel(ctx, StreamsKey, id).Err()
}
