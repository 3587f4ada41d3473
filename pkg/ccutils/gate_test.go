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

package ccutils

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func newTestGate(t *testing.T, config GateConfig) (*Gate, *clock.Mock) {
	mock := clock.NewMock()
	g, err := NewGate(GateParams{
		Name:   "test",
		Config: config,
		Clock:  mock,
	})
	require.NoError(t, err)
	return g, mock
}

func TestGateAndPolicy(t *testing.T) {
	g, mock := newTestGate(t, GateConfig{MaxCount: 1, MaxInterval: 300 * time.Millisecond, Policy: GatePolicyAnd})

	runs := 0
	fn := func() { runs++ }

	// count satisfied, interval not yet
	require.False(t, g.Run(fn))
	require.Equal(t, int64(1), g.Count())

	mock.Add(299 * time.Millisecond)
	require.False(t, g.Run(fn))
	require.Equal(t, 0, runs)

	mock.Add(time.Millisecond)
	require.True(t, g.Run(fn))
	require.Equal(t, 1, runs)
	require.Equal(t, GateStateFired, g.State())

	// stays fired until reset
	mock.Add(time.Second)
	require.False(t, g.Run(fn))
	require.Equal(t, 1, runs)

	g.Reset()
	require.Equal(t, GateStateArmed, g.State())
	require.Equal(t, int64(0), g.Count())
	require.Equal(t, time.Duration(0), g.Elapsed())

	// clock restarts on the first run after reset
	require.False(t, g.Run(fn))
	mock.Add(300 * time.Millisecond)
	require.True(t, g.Run(fn))
	require.Equal(t, 2, runs)
}

func TestGateAndPolicyNeedsCount(t *testing.T) {
	g, mock := newTestGate(t, GateConfig{MaxCount: 3, MaxInterval: 100 * time.Millisecond, Policy: GatePolicyAnd})

	require.False(t, g.Run(nil))
	mock.Add(time.Second)
	require.False(t, g.Run(nil))
	require.True(t, g.Run(nil))
}

func TestGateOrPolicy(t *testing.T) {
	t.Run("count reached first", func(t *testing.T) {
		g, _ := newTestGate(t, GateConfig{MaxCount: 3, MaxInterval: time.Hour, Policy: GatePolicyOr})

		require.False(t, g.Run(nil))
		require.False(t, g.Run(nil))
		require.True(t, g.Run(nil))
	})

	t.Run("interval reached first", func(t *testing.T) {
		g, mock := newTestGate(t, GateConfig{MaxCount: 100, MaxInterval: 300 * time.Millisecond, Policy: GatePolicyOr})

		require.False(t, g.Run(nil))
		mock.Add(300 * time.Millisecond)
		require.True(t, g.Run(nil))
		require.Equal(t, int64(2), g.Count())
	})
}

func TestGateDefaultsToAnd(t *testing.T) {
	g, mock := newTestGate(t, GateConfig{MaxCount: 1, MaxInterval: 50 * time.Millisecond})
	require.Equal(t, GatePolicyAnd, g.Config().Policy)

	require.False(t, g.Run(nil))
	mock.Add(50 * time.Millisecond)
	require.True(t, g.Run(nil))
}

func TestGateZeroThresholdsFireEveryCall(t *testing.T) {
	g, _ := newTestGate(t, GateConfig{})

	for i := 0; i < 3; i++ {
		require.True(t, g.Run(nil))
		g.Reset()
	}
}

func TestGatePause(t *testing.T) {
	g, mock := newTestGate(t, GateConfig{MaxCount: 1, MaxInterval: 100 * time.Millisecond})

	require.False(t, g.Run(nil))
	g.Pause()
	require.True(t, g.IsPaused())

	mock.Add(time.Second)
	require.False(t, g.Run(nil))
	// paused runs do not advance the counters
	require.Equal(t, int64(1), g.Count())

	// reset does not unpause
	g.Reset()
	require.True(t, g.IsPaused())

	g.Resume()
	require.False(t, g.Run(nil))
	mock.Add(100 * time.Millisecond)
	require.True(t, g.Run(nil))
}

func TestGateConfigValidate(t *testing.T) {
	require.NoError(t, GateConfig{MaxCount: 1, MaxInterval: time.Second, Policy: GatePolicyOr}.Validate())
	require.Error(t, GateConfig{MaxCount: -1}.Validate())
	require.Error(t, GateConfig{MaxInterval: -time.Second}.Validate())
	require.Error(t, GateConfig{Policy: "xor"}.Validate())

	_, err := NewGate(GateParams{Name: "bad", Config: GateConfig{Policy: "xor"}})
	require.Error(t, err)
}
