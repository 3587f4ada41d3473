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

package service_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	gosrt "github.com/datarhei/gosrt"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/livekit/srt-abr/pkg/bwe"
	"github.com/livekit/srt-abr/pkg/ccutils"
	"github.com/livekit/srt-abr/pkg/config"
	"github.com/livekit/srt-abr/pkg/service"
	"github.com/livekit/srt-abr/pkg/srt"
	"github.com/livekit/srt-abr/pkg/testutils"
)

const testChunkSize = 1316

type fakeConn struct {
	lock     sync.Mutex
	written  bytes.Buffer
	failNext bool
	closed   atomic.Bool
	stats    gosrt.StatisticsInstantaneous
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		stats: gosrt.StatisticsInstantaneous{
			MsRTT:        40,
			MbpsSentRate: 1,
		},
	}
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.failNext {
		c.failNext = false
		return 0, errors.New("connection reset")
	}
	return c.written.Write(p)
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *fakeConn) Stats(s *gosrt.Statistics) {
	s.Instantaneous = c.stats
}

func (c *fakeConn) Written() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.written.Len()
}

// fakeDialer hands out conns in order, or the conn registered for a url when byURL is set.
type fakeDialer struct {
	lock  sync.Mutex
	conns []*fakeConn
	byURL map[string]*fakeConn
	err   error
	dials atomic.Int32
}

func (d *fakeDialer) Dial(_ context.Context, url string) (srt.Conn, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	n := d.dials.Inc()
	if d.err != nil {
		return nil, d.err
	}
	if d.byURL != nil {
		if conn, ok := d.byURL[url]; ok {
			return conn, nil
		}
		return nil, errors.New("connection refused")
	}
	if int(n) > len(d.conns) {
		return nil, errors.New("no more connections")
	}
	return d.conns[n-1], nil
}

func everyTickABRConfig() bwe.ControllerConfig {
	conf := bwe.DefaultControllerConfig
	conf.CongestionCheck = ccutils.GateConfig{MaxCount: 1}
	conf.BitrateUpdate = ccutils.GateConfig{MaxCount: 1}
	return conf
}

func testStreamConfig(id string) config.StreamConfig {
	return config.StreamConfig{
		ID:               id,
		Input:            "test.ts",
		URL:              "srt://127.0.0.1:6000?streamid=" + id,
		ReferenceBitrate: 1_000_000,
	}
}

func chunkInput(chunks int) func(string) (io.ReadCloser, error) {
	return func(_ string) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(make([]byte, chunks*testChunkSize))), nil
	}
}

func newTestStreamer(t *testing.T, dialer srt.Dialer, openInput func(string) (io.ReadCloser, error)) (*service.Streamer, *clock.Mock, *[]*service.StreamState) {
	mock := clock.NewMock()
	var (
		lock   sync.Mutex
		states []*service.StreamState
	)

	s, err := service.NewStreamer(service.StreamerParams{
		NodeID: "test-node",
		Stream: testStreamConfig("stream1"),
		Config: config.StreamerConfig{
			ChunkSize:         testChunkSize,
			TickInterval:      20 * time.Millisecond,
			ReconnectInterval: time.Second,
		},
		ABR:       everyTickABRConfig(),
		SRT:       srt.DefaultConfig,
		Dialer:    dialer,
		OpenInput: openInput,
		Clock:     mock,
		OnStateChange: func(state *service.StreamState) {
			lock.Lock()
			states = append(states, state)
			lock.Unlock()
		},
	})
	require.NoError(t, err)
	return s, mock, &states
}

func TestStreamerRelaysAndAdapts(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	s, _, states := newTestStreamer(t, dialer, chunkInput(11))

	require.NoError(t, s.Run(context.Background()))

	require.Equal(t, 11*testChunkSize, conn.Written())
	require.True(t, conn.closed.Load())

	state := s.State()
	require.Equal(t, service.StreamStatusEnded, state.Status)
	require.Equal(t, uint64(11*testChunkSize), state.RelayedBytes)
	require.Equal(t, "INCREASE", state.Verdict)
	require.Equal(t, int64(1_080_000), state.CurrentBitrate)
	require.Equal(t, int64(1_000_000), state.ReferenceBitrate)
	require.Equal(t, int64(40), state.RTTFloorMs)
	require.Equal(t, uint64(1_200_000), state.BandwidthCeilingBps)
	require.Equal(t, "test-node", state.NodeID)

	// connecting, publishing, bitrate change, ended
	require.GreaterOrEqual(t, len(*states), 4)
	require.Equal(t, service.StreamStatusConnecting, (*states)[0].Status)
	require.Equal(t, service.StreamStatusEnded, (*states)[len(*states)-1].Status)
}

func TestStreamerPartialLastChunk(t *testing.T) {
	conn := newFakeConn()
	s, _, _ := newTestStreamer(t, &fakeDialer{conns: []*fakeConn{conn}}, func(_ string) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(make([]byte, testChunkSize+100))), nil
	})

	require.NoError(t, s.Run(context.Background()))
	require.Equal(t, testChunkSize+100, conn.Written())
}

func TestStreamerDialFailure(t *testing.T) {
	dialer := &fakeDialer{err: errors.New("refused")}
	s, _, _ := newTestStreamer(t, dialer, chunkInput(1))

	err := s.Run(context.Background())
	require.Error(t, err)

	state := s.State()
	require.Equal(t, service.StreamStatusFailed, state.Status)
	require.Contains(t, state.Error, "refused")
}

func TestStreamerInputFailure(t *testing.T) {
	dialer := &fakeDialer{conns: []*fakeConn{newFakeConn()}}
	s, _, _ := newTestStreamer(t, dialer, func(_ string) (io.ReadCloser, error) {
		return nil, errors.New("no such file")
	})

	require.Error(t, s.Run(context.Background()))
	require.Equal(t, service.StreamStatusFailed, s.State().Status)
	require.Equal(t, int32(0), dialer.dials.Load())
}

func TestStreamerRunsOnce(t *testing.T) {
	s, _, _ := newTestStreamer(t, &fakeDialer{conns: []*fakeConn{newFakeConn()}}, chunkInput(1))

	require.NoError(t, s.Run(context.Background()))
	require.ErrorIs(t, s.Run(context.Background()), service.ErrStreamerAlreadyRun)
}

func TestStreamerReconnects(t *testing.T) {
	first := newFakeConn()
	first.failNext = true
	second := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{first, second}}

	s, mock, _ := newTestStreamer(t, dialer, chunkInput(3))

	done := make(chan error, 1)
	go func() {
		done <- s.Run(context.Background())
	}()

	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		return dialer.dials.Load() >= 2
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, testutils.Receive(t, done))

	require.True(t, first.closed.Load())
	// the chunk that failed is dropped
	require.Equal(t, 2*testChunkSize, second.Written())

	state := s.State()
	require.Equal(t, uint32(1), state.Reconnects)
	require.Equal(t, service.StreamStatusEnded, state.Status)
	require.False(t, state.Paused)
}

func TestStreamerStop(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	dialer := &fakeDialer{conns: []*fakeConn{newFakeConn()}}
	s, _, _ := newTestStreamer(t, dialer, func(_ string) (io.ReadCloser, error) {
		return pr, nil
	})

	done := make(chan error, 1)
	go func() {
		done <- s.Run(context.Background())
	}()

	testutils.WithTimeout(t, func() string {
		if status := s.State().Status; status != service.StreamStatusPublishing {
			return fmt.Sprintf("status %s", status)
		}
		return ""
	})

	s.Stop()
	require.NoError(t, testutils.Receive(t, done))
	require.Equal(t, service.StreamStatusEnded, s.State().Status)
}

func TestStreamerControls(t *testing.T) {
	s, _, states := newTestStreamer(t, &fakeDialer{}, chunkInput(0))

	require.NoError(t, s.SetReferenceBitrate(2_000_000))
	require.Equal(t, int64(2_000_000), s.State().ReferenceBitrate)
	require.ErrorIs(t, s.SetReferenceBitrate(0), service.ErrInvalidBitrate)

	s.Pause()
	require.True(t, s.State().Paused)
	s.Resume()
	require.False(t, s.State().Paused)

	require.Len(t, *states, 3)
}

func TestStreamerSampleWhileDisconnected(t *testing.T) {
	s, _, _ := newTestStreamer(t, &fakeDialer{}, chunkInput(0))

	_, err := s.Sample()
	require.ErrorIs(t, err, bwe.ErrSampleUnavailable)
}

func TestStreamerKeepsUserPauseAcrossReconnect(t *testing.T) {
	first := newFakeConn()
	first.failNext = true
	dialer := &fakeDialer{conns: []*fakeConn{first, newFakeConn()}}

	s, mock, _ := newTestStreamer(t, dialer, chunkInput(2))

	done := make(chan error, 1)
	go func() {
		done <- s.Run(context.Background())
	}()

	testutils.WithTimeout(t, func() string {
		if status := s.State().Status; status != service.StreamStatusReconnecting {
			return fmt.Sprintf("status %s", status)
		}
		return ""
	})
	require.True(t, s.State().Paused)
	s.Pause()

	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		return dialer.dials.Load() >= 2
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, testutils.Receive(t, done))
	require.True(t, s.State().Paused)
}
