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
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"
	"go.uber.org/zap/zapcore"
)

// ------------------------------------------------

type GatePolicy string

const (
	// fire once both the call count and the interval have been reached
	GatePolicyAnd GatePolicy = "and"
	// fire once either the call count or the interval has been reached
	GatePolicyOr GatePolicy = "or"
)

// ------------------------------------------------

type GateState int

const (
	GateStateArmed GateState = iota
	GateStateFired
)

func (g GateState) String() string {
	switch g {
	case GateStateArmed:
		return "ARMED"
	case GateStateFired:
		return "FIRED"
	default:
		return fmt.Sprintf("%d", int(g))
	}
}

// ------------------------------------------------

type GateConfig struct {
	MaxCount    int64         `yaml:"max_count,omitempty"`
	MaxInterval time.Duration `yaml:"max_interval,omitempty"`
	Policy      GatePolicy    `yaml:"policy,omitempty"`
}

func (c GateConfig) Validate() error {
	if c.MaxCount < 0 {
		return fmt.Errorf("max_count cannot be negative, got %d", c.MaxCount)
	}
	if c.MaxInterval < 0 {
		return fmt.Errorf("max_interval cannot be negative, got %s", c.MaxInterval)
	}
	switch c.Policy {
	case "", GatePolicyAnd, GatePolicyOr:
	default:
		return fmt.Errorf("unknown gate policy %q", c.Policy)
	}
	return nil
}

// ------------------------------------------------

type GateParams struct {
	Name   string
	Config GateConfig
	Clock  clock.Clock
}

// Gate decouples how often Run is called from how often its effect runs.
// It is driven from a single goroutine, only the pause flag may be flipped from elsewhere.
type Gate struct {
	params GateParams

	paused atomic.Bool

	state     GateState
	count     int64
	startedAt time.Time
	elapsed   time.Duration
}

func NewGate(params GateParams) (*Gate, error) {
	if err := params.Config.Validate(); err != nil {
		return nil, fmt.Errorf("gate %s: %w", params.Name, err)
	}
	if params.Config.Policy == "" {
		params.Config.Policy = GatePolicyAnd
	}
	if params.Clock == nil {
		params.Clock = clock.New()
	}

	return &Gate{
		params: params,
		state:  GateStateArmed,
	}, nil
}

// Run advances the gate and calls fn when the gate fires. It returns true if fn ran.
// A fired gate stays fired, reporting false, until Reset.
func (g *Gate) Run(fn func()) bool {
	if g.paused.Load() || g.state == GateStateFired {
		return false
	}

	if !g.countDone() {
		g.count++
	}

	if !g.intervalDone() {
		now := g.params.Clock.Now()
		if g.startedAt.IsZero() {
			g.startedAt = now
		}
		g.elapsed = now.Sub(g.startedAt)
	}

	if !g.isSatisfied() {
		return false
	}

	g.state = GateStateFired
	if fn != nil {
		fn()
	}
	return true
}

// Reset re-arms the gate for the next cycle. The pause flag is left untouched.
func (g *Gate) Reset() {
	g.state = GateStateArmed
	g.count = 0
	g.startedAt = time.Time{}
	g.elapsed = 0
}

func (g *Gate) Pause() {
	g.paused.Store(true)
}

func (g *Gate) Resume() {
	g.paused.Store(false)
}

func (g *Gate) IsPaused() bool {
	return g.paused.Load()
}

func (g *Gate) State() GateState {
	return g.state
}

func (g *Gate) Count() int64 {
	return g.count
}

func (g *Gate) Elapsed() time.Duration {
	return g.elapsed
}

func (g *Gate) Config() GateConfig {
	return g.params.Config
}

func (g *Gate) countDone() bool {
	return g.count >= g.params.Config.MaxCount
}

func (g *Gate) intervalDone() bool {
	return g.elapsed >= g.params.Config.MaxInterval
}

func (g *Gate) isSatisfied() bool {
	switch g.params.Config.Policy {
	case GatePolicyOr:
		return g.countDone() || g.intervalDone()
	default:
		return g.countDone() && g.intervalDone()
	}
}

func (g *Gate) MarshalLogObject(e zapcore.ObjectEncoder) error {
	if g == nil {
		return nil
	}

	e.AddString("name", g.params.Name)
	e.AddString("policy", string(g.params.Config.Policy))
	e.AddString("state", g.state.String())
	e.AddBool("paused", g.paused.Load())
	e.AddInt64("count", g.count)
	e.AddInt64("maxCount", g.params.Config.MaxCount)
	e.AddDuration("elapsed", g.elapsed)
	e.AddDuration("maxInterval", g.params.Config.MaxInterval)
	return nil
}
