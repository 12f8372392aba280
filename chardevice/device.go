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

// Package chardevice exposes the channel's daemon-facing operations as a
// single character-device-shaped type: Open, Release, and blocking
// Read/Write matching the fixed major device described in the external
// interfaces design. In place of a kernel module backing a real
// /dev/zfs node, Device routes Read and Write straight into a
// channel.Channel, so the full call/reply/one-way cycle can be driven
// from a daemon goroutine (in tests) or from cgo wrapping a real device
// file descriptor (in production) without this package caring which.
package chardevice

import (
	"context"
	"io"

	"github.com/zlomekfs/zfschan/channel"
)

// Device is the daemon-facing character device. Exactly one Device may be
// Open at a time per underlying Channel; a second Open fails with
// zfserr.Busy (enforced by the Channel itself).
type Device struct {
	ch *channel.Channel
}

// New wraps ch as a character device.
func New(ch *channel.Channel) *Device {
	return &Device{ch: ch}
}

// Open attaches this Device as the channel's daemon end.
func (d *Device) Open() error {
	return d.ch.Open()
}

// Release detaches this Device, tearing the channel down per
// channel.Channel.Close.
func (d *Device) Release() error {
	return d.ch.Close()
}

// ReadRequest blocks until a request is pending, the connection is being
// torn down, or ctx is done, then copies its encoded body into p. A read
// of length 0 returns (0, 0, nil) immediately without dequeuing anything,
// matching the boundary behavior of a real device read(2) with a
// zero-length buffer.
func (d *Device) ReadRequest(ctx context.Context, p []byte) (id uint32, n int, err error) {
	if len(p) == 0 {
		return 0, 0, nil
	}
	return d.ch.ReadNextRequest(ctx, p)
}

// Read implements io.Reader by calling ReadRequest with a background
// context, discarding the request id. Daemon loops that need cancellation
// (to honor the "signal arrives" case) should call ReadRequest directly.
func (d *Device) Read(p []byte) (int, error) {
	_, n, err := d.ReadRequest(context.Background(), p)
	return n, err
}

// Write delivers a reply, one-way message, or (if configured) a
// D-initiated request read from p. Length must be <= the channel's
// protocol maximum; larger writes fail with zfserr.InvalidArgument.
func (d *Device) Write(p []byte) (int, error) {
	if err := d.ch.DeliverReplyOrOneway(context.Background(), p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close releases the device, satisfying io.Closer.
func (d *Device) Close() error {
	return d.Release()
}

var _ io.ReadWriteCloser = (*Device)(nil)
