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

package request_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zlomekfs/zfschan/request"
)

func TestStateMachineAdvancesOnly(t *testing.T) {
	r := request.New(1, nil, 0)
	assert.Equal(t, request.Pending, r.State())

	r.SetState(request.Processing)
	assert.Equal(t, request.Processing, r.State())

	r.SetState(request.Replied)
	assert.Equal(t, request.Replied, r.State())
}

func TestIllegalTransitionPanics(t *testing.T) {
	r := request.New(1, nil, 0)
	r.SetState(request.Processing)

	assert.Panics(t, func() { r.SetState(request.Pending) })
}

func TestWakeIsIdempotent(t *testing.T) {
	r := request.New(1, nil, 0)

	assert.NotPanics(t, func() {
		r.Wake()
		r.Wake()
		r.Wake()
	})

	select {
	case <-r.Awoken():
	case <-time.After(time.Second):
		t.Fatal("expected Awoken to be readable after Wake")
	}
}

func TestTryLockFailsWhileHeld(t *testing.T) {
	r := request.New(1, nil, 0)
	r.Lock()
	defer r.Unlock()

	require.False(t, r.TryLock())
}

func TestTryLockSucceedsWhenFree(t *testing.T) {
	r := request.New(1, nil, 0)
	require.True(t, r.TryLock())
	r.Unlock()
}
