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

package oneway_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zlomekfs/zfschan/oneway"
	"github.com/zlomekfs/zfschan/wire"
)

func TestNewTablePanicsIfExtraRedefinesInvalidate(t *testing.T) {
	assert.Panics(t, func() {
		oneway.NewTable(nil, map[wire.FunctionCode]oneway.Handler{
			oneway.FuncInvalidate: func(*wire.Decoder) error { return nil },
		})
	})
}

func TestDispatchInvokesInvalidateWithDecodedHandle(t *testing.T) {
	want := wire.FileHandle{SiteID: 1, VolumeID: 2, Device: 3, Inode: 4, Generation: 5}
	var got wire.FileHandle
	calls := 0

	table := oneway.NewTable(func(h wire.FileHandle) error {
		got = h
		calls++
		return nil
	}, nil)

	enc := wire.NewEncoder(nil)
	enc.PutFileHandle(want)
	dec := wire.NewDecoder(enc.Bytes())

	table.Dispatch(oneway.FuncInvalidate, dec, zap.NewNop().Sugar())

	assert.Equal(t, 1, calls)
	assert.Equal(t, want, got)
}

func TestDispatchWithNilInvalidateStillDecodes(t *testing.T) {
	table := oneway.NewTable(nil, nil)

	enc := wire.NewEncoder(nil)
	enc.PutFileHandle(wire.FileHandle{})
	dec := wire.NewDecoder(enc.Bytes())

	assert.NotPanics(t, func() {
		table.Dispatch(oneway.FuncInvalidate, dec, zap.NewNop().Sugar())
	})
}

func TestDispatchUnknownFunctionCodeIsLoggedNotFatal(t *testing.T) {
	table := oneway.NewTable(nil, nil)
	dec := wire.NewDecoder(nil)

	assert.NotPanics(t, func() {
		table.Dispatch(wire.FunctionCode(9999), dec, zap.NewNop().Sugar())
	})
}

func TestDispatchExtraHandlerRuns(t *testing.T) {
	const fcPing wire.FunctionCode = 42
	ran := false

	table := oneway.NewTable(nil, map[wire.FunctionCode]oneway.Handler{
		fcPing: func(dec *wire.Decoder) error {
			ran = true
			return dec.FinishDecoding()
		},
	})

	dec := wire.NewDecoder(nil)
	table.Dispatch(fcPing, dec, zap.NewNop().Sugar())
	require.True(t, ran)
}
