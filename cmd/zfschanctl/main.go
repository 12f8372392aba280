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

// Command zfschanctl is a debugging surface for the channel core: it
// opens a channel, optionally runs a toy loopback daemon against it, and
// issues calls from the command line. It is not a user-visible command
// set for the filesystem itself (that remains out of scope); it exists
// so a developer can exercise the transport without a kernel module.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jacobsa/timeutil"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/zlomekfs/zfschan/channel"
	"github.com/zlomekfs/zfschan/chardevice"
	"github.com/zlomekfs/zfschan/client"
	zfsconfig "github.com/zlomekfs/zfschan/config"
	"github.com/zlomekfs/zfschan/oneway"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "zfschanctl",
		Short: "Exercise the ZlomekFS channel core without a kernel module.",
	}

	zfsconfig.BindFlags(root.PersistentFlags(), v)

	root.AddCommand(newLoopbackCmd(v))

	return root
}

// newLoopbackCmd runs a single call end-to-end against an in-process
// loopback daemon: it opens a channel, spawns a goroutine that plays D
// (reading the request and echoing a trivial OK reply), then issues a
// Root call as K and prints the result. Useful for manually confirming
// the transport is wired correctly.
func newLoopbackCmd(v *viper.Viper) *cobra.Command {
	var volumeID uint32

	cmd := &cobra.Command{
		Use:   "loopback",
		Short: "Open a channel, run a toy daemon loop, and issue one Root call.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := zfsconfig.Load(v)
			if err != nil {
				return err
			}

			logCfg := zap.NewDevelopmentConfig()
			if !cfg.Debug {
				logCfg = zap.NewProductionConfig()
			}
			logger, err := logCfg.Build()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			sugar := logger.Sugar()

			ch := channel.New(channel.Options{
				MaxMessage:        cfg.ProtocolMaxMessage,
				ProcessingBuckets: cfg.ProcessingBuckets,
				MaxBuffers:        cfg.MaxBuffers,
				Logger:            sugar,
				OneWayHandlers:    oneway.NewTable(nil, nil),
			})

			dev := chardevice.New(ch)
			if err := dev.Open(); err != nil {
				return err
			}
			defer dev.Release() //nolint:errcheck

			done := make(chan struct{})
			go runLoopbackDaemon(ch, done)
			defer func() { <-done }()

			cl := client.New(ch, timeutil.RealClock(), cfg.RequestTimeout, cfg.ChannelTimeoutSlack, sugar)

			h, err := cl.Root(cmd.Context(), volumeID)
			if err != nil {
				return err
			}

			fmt.Printf("root handle: %+v\n", h)
			return nil
		},
	}

	cmd.Flags().Uint32Var(&volumeID, "volume-id", 0, "volume id to request the root handle of")
	return cmd
}

// runLoopbackDaemon plays the minimal D side of one Root call: it reads
// one request, decodes nothing (the demo doesn't need the arguments),
// and replies with a zeroed file handle.
func runLoopbackDaemon(ch *channel.Channel, done chan<- struct{}) {
	defer close(done)

	dev := chardevice.New(ch)
	sink := make([]byte, ch.MaxMessage())

	id, n, err := dev.ReadRequest(context.Background(), sink)
	if err != nil {
		return
	}
	_ = n

	reply := buildRootReply(id)
	_, _ = dev.Write(reply)
}
