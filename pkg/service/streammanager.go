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
	"io"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/gammazero/workerpool"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/srt-abr/pkg/config"
	"github.com/livekit/srt-abr/pkg/srt"
	"github.com/livekit/srt-abr/pkg/telemetry/prometheus"
)

type StreamManagerParams struct {
	Config    *config.Config
	NodeID    string
	Store     StreamStore
	Dialer    srt.Dialer
	OpenInput func(path string) (io.ReadCloser, error)
	Clock     clock.Clock
	Logger    logger.Logger
}

// StreamManager owns the streamers configured on this node and persists their state.
type StreamManager struct {
	params StreamManagerParams

	lock      sync.RWMutex
	streamers map[string]*Streamer
	order     []string

	// latest state per stream waiting to be written, a stream has at most one writer queued
	persistLock sync.Mutex
	pending     map[string]*StreamState
	scheduled   map[string]bool
	closed      bool
	persistPool *workerpool.WorkerPool
}

func NewStreamManager(params StreamManagerParams) (*StreamManager, error) {
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	if params.Clock == nil {
		params.Clock = clock.New()
	}
	if params.Store == nil {
		params.Store = NewLocalStreamStore()
	}

	workers := params.Config.Streamer.StoreWorkers
	if workers <= 0 {
		workers = 1
	}

	m := &StreamManager{
		params:      params,
		streamers:   make(map[string]*Streamer),
		pending:     make(map[string]*StreamState),
		scheduled:   make(map[string]bool),
		persistPool: workerpool.New(workers),
	}

	for _, sc := range params.Config.Streams {
		s, err := NewStreamer(StreamerParams{
			NodeID:        params.NodeID,
			Stream:        sc,
			Config:        params.Config.Streamer,
			ABR:           params.Config.ABR,
			SRT:           params.Config.SRT,
			Dialer:        params.Dialer,
			OpenInput:     params.OpenInput,
			Clock:         params.Clock,
			Logger:        params.Logger,
			OnStateChange: m.persistState,
		})
		if err != nil {
			m.persistPool.Stop()
			return nil, err
		}
		m.streamers[sc.ID] = s
		m.order = append(m.order, sc.ID)
	}

	return m, nil
}

// Run starts every streamer and blocks until all of them have finished.
// Streams fail independently, the returned error combines their failures.
func (m *StreamManager) Run(ctx context.Context) error {
	m.lock.RLock()
	streamers := make([]*Streamer, 0, len(m.order))
	for _, id := range m.order {
		streamers = append(streamers, m.streamers[id])
	}
	m.lock.RUnlock()

	for _, s := range streamers {
		m.persistState(s.State())
	}

	var (
		g       errgroup.Group
		errLock sync.Mutex
		runErr  error
	)
	for _, s := range streamers {
		g.Go(func() error {
			err := s.Run(ctx)
			prometheus.RecordServiceOperation("stream_run", err)
			if err != nil {
				m.params.Logger.Warnw("stream failed", err, "streamID", s.ID())
				errLock.Lock()
				runErr = multierr.Append(runErr, errors.Wrapf(err, "stream %s", s.ID()))
				errLock.Unlock()
			} else {
				m.params.Logger.Infow("stream finished", "streamID", s.ID())
			}
			return nil
		})
	}
	_ = g.Wait()

	m.persistLock.Lock()
	m.closed = true
	m.persistLock.Unlock()
	m.persistPool.StopWait()
	return runErr
}

func (m *StreamManager) Stop() {
	m.lock.RLock()
	defer m.lock.RUnlock()

	for _, s := range m.streamers {
		s.Stop()
	}
}

func (m *StreamManager) GetStreamer(ctx context.Context, id string) (*Streamer, error) {
	m.lock.RLock()
	s := m.streamers[id]
	m.lock.RUnlock()
	if s != nil {
		return s, nil
	}

	if _, err := m.params.Store.LoadStream(ctx, id); err == nil {
		return nil, ErrStreamNotLocal
	}
	return nil, ErrStreamNotFound
}

// GetStream reports a local stream live, other streams as last stored.
func (m *StreamManager) GetStream(ctx context.Context, id string) (*StreamState, error) {
	m.lock.RLock()
	s := m.streamers[id]
	m.lock.RUnlock()
	if s != nil {
		return s.State(), nil
	}
	return m.params.Store.LoadStream(ctx, id)
}

func (m *StreamManager) ListStreams(ctx context.Context) ([]*StreamState, error) {
	stored, err := m.params.Store.ListStreams(ctx)
	if err != nil {
		return nil, err
	}

	m.lock.RLock()
	states := make([]*StreamState, 0, len(stored)+len(m.streamers))
	for _, st := range stored {
		if _, ok := m.streamers[st.ID]; !ok {
			states = append(states, st)
		}
	}
	for _, s := range m.streamers {
		states = append(states, s.State())
	}
	m.lock.RUnlock()

	sortStreamStates(states)
	return states, nil
}

func (m *StreamManager) SetReferenceBitrate(ctx context.Context, id string, bps int64) (*StreamState, error) {
	s, err := m.GetStreamer(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.SetReferenceBitrate(bps); err != nil {
		return nil, err
	}
	return s.State(), nil
}

func (m *StreamManager) PauseStream(ctx context.Context, id string) (*StreamState, error) {
	s, err := m.GetStreamer(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Pause()
	return s.State(), nil
}

func (m *StreamManager) ResumeStream(ctx context.Context, id string) (*StreamState, error) {
	s, err := m.GetStreamer(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Resume()
	return s.State(), nil
}

func (m *StreamManager) persistState(state *StreamState) {
	m.persistLock.Lock()
	defer m.persistLock.Unlock()

	m.pending[state.ID] = state
	if m.scheduled[state.ID] || m.closed {
		return
	}
	m.scheduled[state.ID] = true

	id := state.ID
	m.persistPool.Submit(func() {
		m.flush(id)
	})
}

func (m *StreamManager) flush(id string) {
	for {
		m.persistLock.Lock()
		state := m.pending[id]
		delete(m.pending, id)
		if state == nil {
			delete(m.scheduled, id)
			m.persistLock.Unlock()
			return
		}
		m.persistLock.Unlock()

		err := m.params.Store.StoreStream(context.Background(), state)
		prometheus.RecordServiceOperation("store_stream", err)
		if err != nil {
			m.params.Logger.Warnw("could not store stream state", err, "streamID", id)
		}
	}
}
