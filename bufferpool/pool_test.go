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

package bufferpool_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zlomekfs/zfschan/bufferpool"
	"github.com/zlomekfs/zfschan/zfserr"
)

func TestAcquireReleaseReusesBuffers(t *testing.T) {
	p := bufferpool.New(64, 0)

	b1, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 1, p.Live())

	p.Release(b1, true)
	assert.Equal(t, 0, p.Live())

	b2, err := p.Acquire()
	require.NoError(t, err)
	assert.Same(t, b1, b2, "expected the free list to hand back the released buffer")

	p.Release(b2, true)
}

func TestReleaseNilIsNoOp(t *testing.T) {
	p := bufferpool.New(64, 0)
	assert.NotPanics(t, func() { p.Release(nil, true) })
	assert.Equal(t, 0, p.Live())
}

func TestAcquireFailsWhenExhausted(t *testing.T) {
	p := bufferpool.New(64, 2)

	b1, err := p.Acquire()
	require.NoError(t, err)
	b2, err := p.Acquire()
	require.NoError(t, err)

	_, err = p.Acquire()
	require.Error(t, err)
	kind, ok := zfserr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, zfserr.OutOfMemory, kind)

	p.Release(b1, true)
	p.Release(b2, true)
}

func TestDestroyAllPanicsOnLeak(t *testing.T) {
	p := bufferpool.New(64, 0)
	_, err := p.Acquire()
	require.NoError(t, err)

	assert.Panics(t, func() { p.DestroyAll() })
}

func TestDestroyAllSucceedsWhenDrained(t *testing.T) {
	p := bufferpool.New(64, 0)
	b, err := p.Acquire()
	require.NoError(t, err)
	p.Release(b, true)

	assert.NotPanics(t, func() { p.DestroyAll() })
}
