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

package chardevice_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/zlomekfs/zfschan/chardevice"
)

func TestRawConnRoundTripOverSocketpair(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)

	a := chardevice.NewRawConn(fds[0])
	b := chardevice.NewRawConn(fds[1])
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})

	want := []byte("a wire-framed message crossing a real file descriptor")
	n, err := a.Write(want)
	require.NoError(t, err)
	require.Equal(t, len(want), n)

	got := make([]byte, len(want))
	n, err = b.Read(got)
	require.NoError(t, err)
	require.Equal(t, len(want), n)
	require.Equal(t, want, got)
}

func TestRawConnCloseThenReadFails(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)

	a := chardevice.NewRawConn(fds[0])
	b := chardevice.NewRawConn(fds[1])
	require.NoError(t, a.Close())
	t.Cleanup(func() { _ = b.Close() })

	buf := make([]byte, 16)
	_, err = a.Read(buf)
	require.Error(t, err)
}
