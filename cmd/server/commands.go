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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	redisLiveKit "github.com/livekit/protocol/redis"

	"github.com/livekit/srt-abr/pkg/config"
	"github.com/livekit/srt-abr/pkg/service"
)

// listStreams reads the shared store when redis is configured, the local admin API otherwise.
func listStreams(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
	defer cancel()

	var states []*service.StreamState
	if conf.Redis.IsConfigured() {
		rc, err := redisLiveKit.GetRedisClient(&conf.Redis)
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer rc.Close()

		states, err = service.NewRedisStreamStore(rc).ListStreams(ctx)
		if err != nil {
			return errors.Wrap(err, "list streams")
		}
	} else {
		states, err = fetchStreams(ctx, conf)
		if err != nil {
			return errors.Wrap(err, "list streams")
		}
	}

	renderStreams(os.Stdout, states)
	return nil
}

func fetchStreams(ctx context.Context, conf *config.Config) ([]*service.StreamState, error) {
	host := "127.0.0.1"
	if len(conf.BindAddresses) != 0 && conf.BindAddresses[0] != "" {
		host = conf.BindAddresses[0]
	}
	url := fmt.Sprintf("http://%s/streams", net.JoinHostPort(host, strconv.Itoa(int(conf.Port))))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s from %s", res.Status, url)
	}

	var body service.ListStreamsResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Streams, nil
}

func renderStreams(w *os.File, states []*service.StreamState) {
	table := tablewriter.NewWriter(w)
	table.SetRowLine(true)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{
		"ID",
		"Node",
		"Status",
		"Verdict",
		"Bitrate",
		"Reference",
		"Paused",
		"RTT",
		"Relayed",
		"Updated",
	})

	for _, st := range states {
		table.Append([]string{
			st.ID,
			st.NodeID,
			string(st.Status),
			st.Verdict,
			humanize.SIWithDigits(float64(st.CurrentBitrate), 2, "bps"),
			humanize.SIWithDigits(float64(st.ReferenceBitrate), 2, "bps"),
			strconv.FormatBool(st.Paused),
			fmt.Sprintf("%d ms", st.RTTFloorMs),
			humanize.Bytes(st.RelayedBytes),
			humanize.Time(st.UpdatedAt),
		})
	}

	table.Render()
}

func printConfig(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(conf)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

func helpVerbose(c *cli.Context) error {
	generatedFlags, err := config.GenerateCLIFlags(baseFlags, false)
	if err != nil {
		return err
	}

	c.App.Flags = append(baseFlags, generatedFlags...)
	return cli.ShowAppHelp(c)
}
