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

//go:build !windows

package chardevice

import (
	"io"

	"golang.org/x/sys/unix"
)

// RawConn is a real file-descriptor-backed transport implementing the same
// io.ReadWriteCloser surface as Device, for when this process is talking
// to a genuine character device node (e.g. /dev/zfschan) backed by an
// actual kernel-resident counterpart rather than the in-process loopback
// Device drives through a channel.Channel. It does no framing of its own;
// it is a thin raw read(2)/write(2)/close(2) wrapper, the same level the
// teacher's own mount/unmount syscalls operate at.
type RawConn struct {
	fd int
}

// OpenRawConn opens path for reading and writing raw protocol bytes.
func OpenRawConn(path string) (*RawConn, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &RawConn{fd: fd}, nil
}

// NewRawConn wraps an already-open file descriptor. Chiefly useful in
// tests, which can hand it one end of a unix.Socketpair to exercise the
// same read/write path a real device node would use without requiring a
// kernel driver.
func NewRawConn(fd int) *RawConn { return &RawConn{fd: fd} }

// Read implements io.Reader via a raw read(2) on the underlying fd.
func (c *RawConn) Read(p []byte) (int, error) { return unix.Read(c.fd, p) }

// Write implements io.Writer via a raw write(2) on the underlying fd.
func (c *RawConn) Write(p []byte) (int, error) { return unix.Write(c.fd, p) }

// Close implements io.Closer via close(2).
func (c *RawConn) Close() error { return unix.Close(c.fd) }

var _ io.ReadWriteCloser = (*RawConn)(nil)
