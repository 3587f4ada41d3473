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
	"context"
	"io"

	gosrt "github.com/datarhei/gosrt"
	"github.com/livekit/protocol/logger"
	"github.com/pkg/errors"
)

// Conn is what a publisher needs from an SRT connection.
type Conn interface {
	io.WriteCloser
	StatsSource
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type DialerParams struct {
	Config Config
	Logger logger.Logger
}

// GoSRTDialer opens caller-mode SRT connections.
type GoSRTDialer struct {
	params DialerParams
}

func NewDialer(params DialerParams) *GoSRTDialer {
	return &GoSRTDialer{
		params: params,
	}
}

// Dial connects to an srt:// URL. Query parameters such as streamid, passphrase or latency
// are parsed by gosrt and take precedence over the configured defaults.
func (d *GoSRTDialer) Dial(ctx context.Context, url string) (Conn, error) {
	config := gosrt.DefaultConfig()
	if d.params.Config.Latency > 0 {
		config.Latency = d.params.Config.Latency
	}
	if d.params.Config.ConnectionTimeout > 0 {
		config.ConnectionTimeout = d.params.Config.ConnectionTimeout
	}

	address, err := config.UnmarshalURL(url)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid srt url %s", url)
	}

	var bridge *LogBridge
	if len(d.params.Config.LogTopics) != 0 {
		bridge = NewLogBridge(d.params.Config.LogTopics, d.params.Logger.WithComponent("srt"))
		config.Logger = bridge.Logger()
	}

	type dialResult struct {
		conn gosrt.Conn
		err  error
	}
	resultCh := make(chan dialResult, 1)
	go func() {
		conn, err := gosrt.Dial("srt", address, config)
		resultCh <- dialResult{conn, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			// late connections are closed as soon as they arrive
			if res := <-resultCh; res.conn != nil {
				res.conn.Close()
			}
			bridge.Close()
		}()
		return nil, ctx.Err()

	case res := <-resultCh:
		if res.err != nil {
			bridge.Close()
			return nil, errors.Wrapf(res.err, "could not dial %s", address)
		}

		d.params.Logger.Infow(
			"srt connection established",
			"address", address,
			"streamID", config.StreamId,
			"socketID", res.conn.SocketId(),
			"latency", config.Latency,
		)
		return &dialedConn{Conn: res.conn, bridge: bridge}, nil
	}
}

// ------------------------------------------------

type dialedConn struct {
	gosrt.Conn
	bridge *LogBridge
}

func (c *dialedConn) Close() error {
	err := c.Conn.Close()
	c.bridge.Close()
	return err
}
