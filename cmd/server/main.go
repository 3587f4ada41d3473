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
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/livekit/protocol/logger"
	"github.com/livekit/protocol/utils"

	"github.com/livekit/srt-abr/pkg/config"
	"github.com/livekit/srt-abr/pkg/service"
	"github.com/livekit/srt-abr/pkg/telemetry/prometheus"
	"github.com/livekit/srt-abr/version"
)

var baseFlags = []cli.Flag{
	&cli.StringSliceFlag{
		Name:  "bind",
		Usage: "IP address to listen on, use flag multiple times to specify multiple addresses",
	},
	&cli.StringFlag{
		Name:  "config",
		Usage: "path to config file",
	},
	&cli.StringFlag{
		Name:    "config-body",
		Usage:   "config in YAML, typically passed in as an environment var in a container",
		EnvVars: []string{"SRT_ABR_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "node-id",
		Usage:   "id of this node, generated when empty",
		EnvVars: []string{"SRT_ABR_NODE_ID"},
	},
	&cli.StringFlag{
		Name:    "redis-host",
		Usage:   "host (incl. port) to redis server",
		EnvVars: []string{"REDIS_HOST"},
	},
	&cli.StringFlag{
		Name:    "redis-password",
		Usage:   "password to redis",
		EnvVars: []string{"REDIS_PASSWORD"},
	},
	// single stream, in addition to the configured ones
	&cli.StringFlag{
		Name:  "url",
		Usage: "srt:// destination of a stream started from the command line",
	},
	&cli.StringFlag{
		Name:  "input",
		Usage: "MPEG-TS file relayed to --url, - for stdin",
		Value: config.StdinInput,
	},
	&cli.Int64Flag{
		Name:  "bitrate",
		Usage: "reference bitrate of the --url stream, in bits per second",
	},
	&cli.StringFlag{
		Name:  "stream-id",
		Usage: "id of the --url stream",
		Value: config.DefaultStreamID,
	},
	// debugging flags
	&cli.StringFlag{
		Name:  "memprofile",
		Usage: "write memory profile to `file`",
	},
	&cli.BoolFlag{
		Name:  "dev",
		Usage: "sets log-level to debug and enables request logging",
	},
	&cli.BoolFlag{
		Name:   "disable-strict-config",
		Usage:  "disables strict config parsing",
		Hidden: true,
	},
}

func main() {
	generatedFlags, err := config.GenerateCLIFlags(baseFlags, true)
	if err != nil {
		fmt.Println(err)
	}

	app := &cli.App{
		Name:        "srt-abr",
		Usage:       "SRT publisher with adaptive bitrate control",
		Description: "run without subcommands to start relaying the configured streams",
		Flags:       append(baseFlags, generatedFlags...),
		Action:      startServer,
		Commands: []*cli.Command{
			{
				Name:   "list-streams",
				Usage:  "list streams and their current bitrate",
				Action: listStreams,
			},
			{
				Name:   "print-config",
				Usage:  "prints the effective configuration",
				Action: printConfig,
			},
			{
				Name:   "help-verbose",
				Usage:  "prints app help, including all generated configuration flags",
				Action: helpVerbose,
			},
		},
		Version: version.Version,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func getConfig(c *cli.Context) (*config.Config, error) {
	confString, err := getConfigString(c.String("config"), c.String("config-body"))
	if err != nil {
		return nil, err
	}

	strictMode := true
	if c.Bool("disable-strict-config") {
		strictMode = false
	}

	conf, err := config.NewConfig(confString, strictMode, c, baseFlags)
	if err != nil {
		return nil, err
	}
	config.InitLoggerFromConfig(&conf.Logging)

	if conf.Development && conf.BindAddresses == nil {
		conf.BindAddresses = []string{
			"127.0.0.1",
			"[::1]",
		}
	}
	return conf, nil
}

func startServer(c *cli.Context) error {
	memProfile := c.String("memprofile")

	conf, err := getConfig(c)
	if err != nil {
		return err
	}
	if len(conf.Streams) == 0 {
		return fmt.Errorf("no streams configured, add streams to the config or pass --url")
	}

	if memProfile != "" {
		if f, err := os.Create(memProfile); err != nil {
			return err
		} else {
			defer func() {
				// run memory profile at termination
				runtime.GC()
				_ = pprof.WriteHeapProfile(f)
				_ = f.Close()
			}()
		}
	}

	nodeID := c.String("node-id")
	if nodeID == "" {
		nodeID = utils.NewGuid(utils.NodePrefix)
	}
	prometheus.Init(nodeID)

	server, err := service.InitializeServer(conf, nodeID)
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Infow("exit requested, shutting down", "signal", sig)
			server.Stop()
		case <-server.Closed():
		}
	}()

	return server.Start()
}

func getConfigString(configFile string, inConfigBody string) (string, error) {
	if inConfigBody != "" || configFile == "" {
		return inConfigBody, nil
	}

	outConfigBody, err := os.ReadFile(configFile)
	if err != nil {
		return "", err
	}

	return string(outConfigBody), nil
}
