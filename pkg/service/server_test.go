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
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/livekit/srt-abr/pkg/config"
	"github.com/livekit/srt-abr/pkg/service"
	"github.com/livekit/srt-abr/pkg/testutils"
)

func newTestServer(t *testing.T, openInput func(string) (io.ReadCloser, error)) *service.SRTABRServer {
	store := service.NewLocalStreamStore()
	dialer := &fakeDialer{conns: []*fakeConn{newFakeConn()}}
	m := newTestManager(t, store, dialer, openInput, "s1")

	conf := &config.Config{
		BindAddresses: []string{"127.0.0.1"},
	}
	s, err := service.NewSRTABRServer(conf, "node1", m, store, service.NewAPIService(m, "node1"))
	require.NoError(t, err)
	return s
}

func TestServerExitsWhenStreamsEnd(t *testing.T) {
	s := newTestServer(t, chunkInput(2))

	require.NoError(t, s.Start())
	require.False(t, s.IsRunning())

	select {
	case <-s.Closed():
	default:
		t.Fatal("closed should fire after Start returns")
	}
}

func TestServerStop(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	s := newTestServer(t, func(string) (io.ReadCloser, error) { return pr, nil })

	done := make(chan error, 1)
	go func() {
		done <- s.Start()
	}()

	require.Eventually(t, s.IsRunning, 5*time.Second, 10*time.Millisecond)
	require.ErrorIs(t, s.Start(), service.ErrServerAlreadyRunning)

	s.Stop()
	require.NoError(t, testutils.Receive(t, done))
}

func TestServerStopBeforeStart(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	s := newTestServer(t, func(string) (io.ReadCloser, error) { return pr, nil })

	s.Stop()
	require.NoError(t, s.Start())
}
