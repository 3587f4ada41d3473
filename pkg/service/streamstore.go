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
	"sort"
	"sync"
)

type StreamStore interface {
	StoreStream(ctx context.Context, state *StreamState) error
	LoadStream(ctx context.Context, id string) (*StreamState, error)
	// ListStreams returns all streams ordered by id
	ListStreams(ctx context.Context) ([]*StreamState, error)
	DeleteStream(ctx context.Context, id string) error
}

// LocalStreamStore keeps stream states in memory, used when redis is not configured.
type LocalStreamStore struct {
	lock    sync.RWMutex
	streams map[string]*StreamState
}

func NewLocalStreamStore() *LocalStreamStore {
	return &LocalStreamStore{
		streams: make(map[string]*StreamState),
	}
}

func (s *LocalStreamStore) StoreStream(_ context.Context, state *StreamState) error {
	stored := *state

	s.lock.Lock()
	s.streams[state.ID] = &stored
	s.lock.Unlock()
	return nil
}

func (s *LocalStreamStore) LoadStream(_ context.Context, id string) (*StreamState, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	state := s.streams[id]
	if state == nil {
		return nil, ErrStreamNotFound
	}
	loaded := *state
	return &loaded, nil
}

func (s *LocalStreamStore) ListStreams(_ context.Context) ([]*StreamState, error) {
	s.lock.RLock()
	states := make([]*StreamState, 0, len(s.streams))
	for _, state := range s.streams {
		listed := *state
		states = append(states, &listed)
	}
	s.lock.RUnlock()

	sortStreamStates(states)
	return states, nil
}

func (s *LocalStreamStore) DeleteStream(_ context.Context, id string) error {
	s.lock.Lock()
	delete(s.streams, id)
	s.lock.Unlock()
	return nil
}

func sortStreamStates(states []*StreamState) {
	sort.Slice(states, func(i, j int) bool {
		return states[i].ID < states[j].ID
	})
}
