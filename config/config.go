// Copyright 2024 The ZlomekFS Authors.
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

// Package config collects the channel's tunables (spec's
// ProtocolMaxMessage, RequestTimeout, ChannelTimeoutSlack,
// ProcessingBuckets) into one bindable struct, loaded with viper/pflag
// the way the rest of the retrieved pack's CLIs (gcsfuse, rclone) load
// their configuration, rather than the teacher's scattered package-level
// flag.Bool globals.
package config

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds the channel's tunable protocol parameters. Their values
// must match the daemon's for wire compatibility; this repo does not
// specify how that agreement is reached.
type Config struct {
	// ProtocolMaxMessage is the maximum message body size in bytes.
	ProtocolMaxMessage int `mapstructure:"protocol_max_message"`
	// RequestTimeout is the base per-call deadline.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// ChannelTimeoutSlack is added to RequestTimeout to derive the wait
	// deadline.
	ChannelTimeoutSlack time.Duration `mapstructure:"channel_timeout_slack"`
	// ProcessingBuckets is the size of the processing hash table.
	ProcessingBuckets int `mapstructure:"processing_buckets"`
	// MaxBuffers bounds the buffer pool; 0 means unbounded.
	MaxBuffers int `mapstructure:"max_buffers"`
	// Debug enables verbose channel tracing, the analogue of the
	// teacher's -fuse.debug flag.
	Debug bool `mapstructure:"debug"`
}

// Default returns the zero-configured defaults: a 64 KiB protocol
// maximum, a 32-bucket processing table, a 30s request timeout with 5s of
// slack, and an unbounded buffer pool.
func Default() Config {
	return Config{
		ProtocolMaxMessage:  64 * 1024,
		RequestTimeout:      30 * time.Second,
		ChannelTimeoutSlack: 5 * time.Second,
		ProcessingBuckets:   32,
		MaxBuffers:          0,
		Debug:               false,
	}
}

// BindFlags registers this package's tunables on fs, so a cobra command
// can expose them as command-line flags alongside environment variables
// and config file entries bound through v.
func BindFlags(fs *pflag.FlagSet, v *viper.Viper) {
	d := Default()

	fs.Int("protocol-max-message", d.ProtocolMaxMessage, "maximum wire message size in bytes")
	fs.Duration("request-timeout", d.RequestTimeout, "base per-call deadline")
	fs.Duration("channel-timeout-slack", d.ChannelTimeoutSlack, "slack added to request-timeout to derive the wait deadline")
	fs.Int("processing-buckets", d.ProcessingBuckets, "size of the processing hash table")
	fs.Int("max-buffers", d.MaxBuffers, "maximum live buffers in the pool (0 = unbounded)")
	fs.Bool("debug", d.Debug, "enable verbose channel tracing")

	_ = v.BindPFlag("protocol_max_message", fs.Lookup("protocol-max-message"))
	_ = v.BindPFlag("request_timeout", fs.Lookup("request-timeout"))
	_ = v.BindPFlag("channel_timeout_slack", fs.Lookup("channel-timeout-slack"))
	_ = v.BindPFlag("processing_buckets", fs.Lookup("processing-buckets"))
	_ = v.BindPFlag("max_buffers", fs.Lookup("max-buffers"))
	_ = v.BindPFlag("debug", fs.Lookup("debug"))
}

// Load reads bound flags, environment variables (prefixed ZFSCHAN_), and
// any config file v has been pointed at, into a Config.
func Load(v *viper.Viper) (Config, error) {
	v.SetEnvPrefix("zfschan")
	v.AutomaticEnv()

	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
