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

package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/livekit/protocol/logger"
	redisLiveKit "github.com/livekit/protocol/redis"

	"github.com/livekit/srt-abr/pkg/bwe"
	"github.com/livekit/srt-abr/pkg/srt"
)

const (
	generatedCLIFlagUsage = "generated"

	// reads the stream from stdin
	StdinInput = "-"
	// id of the stream given on the command line
	DefaultStreamID = "default"
)

var (
	ErrInvalidStreamConfig = errors.New("invalid stream config")

	durationType = reflect.TypeOf(time.Duration(0))
)

type Config struct {
	Port           uint32                   `yaml:"port,omitempty"`
	BindAddresses  []string                 `yaml:"bind_addresses,omitempty"`
	PrometheusPort uint32                   `yaml:"prometheus_port,omitempty"`
	Redis          redisLiveKit.RedisConfig `yaml:"redis,omitempty"`
	SRT            srt.Config               `yaml:"srt,omitempty"`
	ABR            bwe.ControllerConfig     `yaml:"abr,omitempty"`
	Streamer       StreamerConfig           `yaml:"streamer,omitempty"`
	Streams        []StreamConfig           `yaml:"streams,omitempty"`
	Development    bool                     `yaml:"development,omitempty"`
	Logging        LoggingConfig            `yaml:"logging,omitempty"`
	NodeStats      NodeStatsConfig          `yaml:"node_stats,omitempty"`
}

type LoggingConfig struct {
	logger.Config `yaml:",inline"`
	SRTLevel      string `yaml:"srt_level,omitempty"`
}

type StreamerConfig struct {
	// bytes relayed per write, a multiple of the 188 byte MPEG-TS packet
	ChunkSize int `yaml:"chunk_size,omitempty"`
	// keeps the control loop running while the input stalls
	TickInterval time.Duration `yaml:"tick_interval,omitempty"`
	// stream state persistence
	StoreWorkers int `yaml:"store_workers,omitempty"`
	// delay before dialing again after a failed connection, 0 disables reconnects
	ReconnectInterval time.Duration `yaml:"reconnect_interval,omitempty"`
}

type StreamConfig struct {
	ID    string `yaml:"id,omitempty"`
	Input string `yaml:"input,omitempty"`
	URL   string `yaml:"url,omitempty"`
	// bits per second
	ReferenceBitrate int64 `yaml:"reference_bitrate,omitempty"`
	InitialBitrate   int64 `yaml:"initial_bitrate,omitempty"`
	StartPaused      bool  `yaml:"start_paused,omitempty"`
}

type NodeStatsConfig struct {
	UpdateInterval time.Duration `yaml:"update_interval,omitempty"`
}

var DefaultConfig = Config{
	Port:           7890,
	PrometheusPort: 0,
	SRT:            srt.DefaultConfig,
	ABR:            bwe.DefaultControllerConfig,
	Streamer: StreamerConfig{
		ChunkSize:         1316,
		TickInterval:      20 * time.Millisecond,
		StoreWorkers:      2,
		ReconnectInterval: 2 * time.Second,
	},
	NodeStats: NodeStatsConfig{
		UpdateInterval: 10 * time.Second,
	},
	Logging: LoggingConfig{
		SRTLevel: "info",
	},
}

func NewConfig(confString string, strictMode bool, c *cli.Context, baseFlags []cli.Flag) (*Config, error) {
	// start with defaults
	marshalled, err := yaml.Marshal(&DefaultConfig)
	if err != nil {
		return nil, err
	}

	var conf Config
	err = yaml.Unmarshal(marshalled, &conf)
	if err != nil {
		return nil, err
	}

	if confString != "" {
		decoder := yaml.NewDecoder(strings.NewReader(confString))
		decoder.KnownFields(strictMode)
		if err := decoder.Decode(&conf); err != nil {
			return nil, fmt.Errorf("could not parse config: %v", err)
		}
	}

	if c != nil {
		if err := conf.updateFromCLI(c, baseFlags); err != nil {
			return nil, err
		}
	}

	if err := conf.ABR.Validate(); err != nil {
		return nil, fmt.Errorf("could not validate ABR config: %w", err)
	}
	if err := conf.validateStreamer(); err != nil {
		return nil, err
	}
	if err := conf.validateStreams(); err != nil {
		return nil, err
	}

	if conf.Logging.Level == "" && conf.Development {
		conf.Logging.Level = "debug"
	}
	if conf.Logging.SRTLevel != "" {
		if conf.Logging.ComponentLevels == nil {
			conf.Logging.ComponentLevels = map[string]string{}
		}
		conf.Logging.ComponentLevels["srt"] = conf.Logging.SRTLevel
	}

	return &conf, nil
}

func (conf *Config) validateStreamer() error {
	if conf.Streamer.ChunkSize <= 0 || conf.Streamer.ChunkSize%188 != 0 {
		return fmt.Errorf("streamer chunk_size must be a positive multiple of 188, got %d", conf.Streamer.ChunkSize)
	}
	if conf.Streamer.TickInterval <= 0 {
		return fmt.Errorf("streamer tick_interval must be positive, got %s", conf.Streamer.TickInterval)
	}
	if conf.Streamer.StoreWorkers <= 0 {
		conf.Streamer.StoreWorkers = 1
	}
	return nil
}

func (conf *Config) validateStreams() error {
	seen := make(map[string]struct{}, len(conf.Streams))
	for i := range conf.Streams {
		stream := &conf.Streams[i]
		if stream.ID == "" {
			return errors.Wrapf(ErrInvalidStreamConfig, "stream %d: missing id", i)
		}
		if _, ok := seen[stream.ID]; ok {
			return errors.Wrapf(ErrInvalidStreamConfig, "stream %s: duplicate id", stream.ID)
		}
		seen[stream.ID] = struct{}{}

		if !strings.HasPrefix(stream.URL, "srt://") {
			return errors.Wrapf(ErrInvalidStreamConfig, "stream %s: url must be srt://, got %q", stream.ID, stream.URL)
		}
		if stream.ReferenceBitrate <= 0 {
			return errors.Wrapf(ErrInvalidStreamConfig, "stream %s: reference_bitrate must be positive", stream.ID)
		}
		if stream.InitialBitrate < 0 {
			return errors.Wrapf(ErrInvalidStreamConfig, "stream %s: initial_bitrate cannot be negative", stream.ID)
		}

		switch stream.Input {
		case "":
			return errors.Wrapf(ErrInvalidStreamConfig, "stream %s: missing input", stream.ID)
		case StdinInput:
		default:
			// expand env vars in filenames
			file, err := homedir.Expand(os.ExpandEnv(stream.Input))
			if err != nil {
				return err
			}
			stream.Input = file
		}
	}
	return nil
}

// Stream returns the configured stream with the given id.
func (conf *Config) Stream(id string) (StreamConfig, bool) {
	for _, stream := range conf.Streams {
		if stream.ID == id {
			return stream, true
		}
	}
	return StreamConfig{}, false
}

type configNode struct {
	TypeNode  reflect.Value
	TagPrefix string
}

func (conf *Config) ToCLIFlagNames(existingFlags []cli.Flag) map[string]reflect.Value {
	existingFlagNames := map[string]bool{}
	for _, flag := range existingFlags {
		for _, flagName := range flag.Names() {
			existingFlagNames[flagName] = true
		}
	}

	flagNames := map[string]reflect.Value{}
	var currNode configNode
	nodes := []configNode{{reflect.ValueOf(conf).Elem(), ""}}
	for len(nodes) > 0 {
		currNode, nodes = nodes[0], nodes[1:]
		for i := 0; i < currNode.TypeNode.NumField(); i++ {
			// inspect yaml tag from struct field to get path
			field := currNode.TypeNode.Type().Field(i)
			yamlTagArray := strings.SplitN(field.Tag.Get("yaml"), ",", 2)
			yamlTag := yamlTagArray[0]
			isInline := false
			if len(yamlTagArray) > 1 && yamlTagArray[1] == "inline" {
				isInline = true
			}
			if (yamlTag == "" && (!isInline || currNode.TagPrefix == "")) || yamlTag == "-" {
				continue
			}
			yamlPath := yamlTag
			if currNode.TagPrefix != "" {
				if isInline {
					yamlPath = currNode.TagPrefix
				} else {
					yamlPath = fmt.Sprintf("%s.%s", currNode.TagPrefix, yamlTag)
				}
			}
			if existingFlagNames[yamlPath] {
				continue
			}

			// map flag name to value
			value := currNode.TypeNode.Field(i)
			if value.Kind() == reflect.Struct {
				nodes = append(nodes, configNode{value, yamlPath})
			} else {
				flagNames[yamlPath] = value
			}
		}
	}

	return flagNames
}

func GenerateCLIFlags(existingFlags []cli.Flag, hidden bool) ([]cli.Flag, error) {
	blankConfig := &Config{}
	flags := make([]cli.Flag, 0)
	for name, value := range blankConfig.ToCLIFlagNames(existingFlags) {
		kind := value.Kind()
		if kind == reflect.Ptr {
			kind = value.Type().Elem().Kind()
		}

		var flag cli.Flag
		envVar := fmt.Sprintf("SRT_ABR_%s", strings.ToUpper(strings.Replace(name, ".", "_", -1)))

		if value.Type() == durationType {
			flags = append(flags, &cli.DurationFlag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			})
			continue
		}

		switch kind {
		case reflect.Bool:
			flag = &cli.BoolFlag{
				Name:   name,
				Usage:  generatedCLIFlagUsage,
				Hidden: hidden,
			}
		case reflect.String:
			flag = &cli.StringFlag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Int, reflect.Int32:
			flag = &cli.IntFlag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Int64:
			flag = &cli.Int64Flag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Uint8, reflect.Uint16, reflect.Uint32:
			flag = &cli.UintFlag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Uint64:
			flag = &cli.Uint64Flag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Float32, reflect.Float64:
			flag = &cli.Float64Flag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Slice, reflect.Map, reflect.Struct:
			// streams, bind addresses, component levels and optional sections are config file only
			continue
		default:
			return flags, fmt.Errorf("cli flag generation unsupported for config type: %s is a %s", name, kind.String())
		}

		flags = append(flags, flag)
	}

	return flags, nil
}

func (conf *Config) updateFromCLI(c *cli.Context, baseFlags []cli.Flag) error {
	generatedFlagNames := conf.ToCLIFlagNames(baseFlags)
	for _, flag := range c.App.Flags {
		flagName := flag.Names()[0]

		// the `c.App.Name != "test"` check is needed because `c.IsSet(...)` is always false in unit tests
		if !c.IsSet(flagName) && c.App.Name != "test" {
			continue
		}

		configValue, ok := generatedFlagNames[flagName]
		if !ok {
			continue
		}

		if configValue.Type() == durationType {
			configValue.SetInt(int64(c.Duration(flagName)))
			continue
		}

		kind := configValue.Kind()
		if kind == reflect.Ptr {
			// instantiate value to be set
			configValue.Set(reflect.New(configValue.Type().Elem()))

			kind = configValue.Type().Elem().Kind()
			configValue = configValue.Elem()
		}

		switch kind {
		case reflect.Bool:
			configValue.SetBool(c.Bool(flagName))
		case reflect.String:
			configValue.SetString(c.String(flagName))
		case reflect.Int, reflect.Int32, reflect.Int64:
			configValue.SetInt(c.Int64(flagName))
		case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			configValue.SetUint(c.Uint64(flagName))
		case reflect.Float32, reflect.Float64:
			configValue.SetFloat(c.Float64(flagName))
		default:
			return fmt.Errorf("unsupported generated cli flag type for config: %s is a %s", flagName, kind.String())
		}
	}

	if c.IsSet("dev") {
		conf.Development = c.Bool("dev")
	}
	if c.IsSet("redis-host") {
		conf.Redis.Address = c.String("redis-host")
	}
	if c.IsSet("redis-password") {
		conf.Redis.Password = c.String("redis-password")
	}
	if c.IsSet("bind") {
		conf.BindAddresses = c.StringSlice("bind")
	}
	if c.IsSet("url") {
		stream := StreamConfig{
			ID:               c.String("stream-id"),
			Input:            c.String("input"),
			URL:              c.String("url"),
			ReferenceBitrate: c.Int64("bitrate"),
		}
		if stream.ID == "" {
			stream.ID = DefaultStreamID
		}
		if stream.Input == "" {
			stream.Input = StdinInput
		}
		conf.Streams = append(conf.Streams, stream)
	}
	return nil
}

// Note: only pass in logr.Logger with default depth
func SetLogger(l logger.Logger) {
	logger.SetLogger(l, "srt-abr")
}

func InitLoggerFromConfig(config *LoggingConfig) {
	logger.InitFromConfig(&config.Config, "srt-abr")
}
