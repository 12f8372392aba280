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

package chardevice_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zlomekfs/zfschan/channel"
	"github.com/zlomekfs/zfschan/chardevice"
	"github.com/zlomekfs/zfschan/client"
	"github.com/zlomekfs/zfschan/oneway"
	"github.com/zlomekfs/zfschan/wire"

	"github.com/jacobsa/timeutil"
)

func newTestDevice(t *testing.T) (*chardevice.Device, *channel.Channel) {
	t.Helper()
	ch := channel.New(channel.Options{
		MaxMessage:        4096,
		ProcessingBuckets: 4,
		OneWayHandlers:    oneway.NewTable(nil, nil),
	})
	dev := chardevice.New(ch)
	require.NoError(t, dev.Open())
	t.Cleanup(func() { _ = dev.Release() })
	return dev, ch
}

func TestDeviceOpenTwiceFailsBusy(t *testing.T) {
	dev, ch := newTestDevice(t)
	_ = ch

	err := dev.Open()
	require.Error(t, err)
}

func TestDeviceReadRequestZeroLengthDoesNotDequeue(t *testing.T) {
	dev, ch := newTestDevice(t)

	c := client.New(ch, timeutil.RealClock(), 5*time.Second, time.Second, nil)
	go func() {
		_, _ = c.Root(context.Background(), 1)
	}()

	time.Sleep(10 * time.Millisecond)

	id, n, err := dev.ReadRequest(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), id)
	assert.Equal(t, 0, n)

	sink := make([]byte, 4096)
	gotID, gotN, err := dev.ReadRequest(context.Background(), sink)
	require.NoError(t, err)
	assert.Greater(t, gotN, 0)
	_ = gotID
}

func TestDeviceRoundTripThroughReadWrite(t *testing.T) {
	dev, ch := newTestDevice(t)

	want := wire.FileHandle{SiteID: 9, VolumeID: 8, Device: 7, Inode: 6, Generation: 5}
	c := client.New(ch, timeutil.RealClock(), 5*time.Second, time.Second, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sink := make([]byte, 4096)
		id, _, err := dev.ReadRequest(context.Background(), sink)
		if err != nil {
			return
		}
		enc := wire.NewEncoder(nil)
		enc.PutHeader(wire.Header{Direction: wire.DirReply, RequestID: id})
		enc.PutStatus(wire.StatusOK)
		enc.PutFileHandle(want)
		_, _ = dev.Write(enc.Bytes())
	}()

	got, err := c.Root(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("daemon goroutine did not complete")
	}
}

func TestDeviceCloseIsReleaseAndIdempotent(t *testing.T) {
	dev, _ := newTestDevice(t)
	require.NoError(t, dev.Close())
	require.NoError(t, dev.Close())
}
