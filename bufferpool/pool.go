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

// Package bufferpool provides a fixed-capacity pool of message buffers
// shared by the channel and the client call path, so that encoding and
// decoding a wire message never needs to allocate on the hot path.
//
// The shape follows the teacher's DefaultMessageProvider: a mutex-guarded
// free list that callers Acquire from and Release back to, falling back to
// allocation only when the list is empty.
package bufferpool

import (
	"sync"

	"github.com/zlomekfs/zfschan/zfserr"
)

// Buffer is a reusable byte region with a capacity fixed at creation. Its
// length may vary between Acquire and Release as encoders grow it, but it
// is never grown past its capacity.
type Buffer struct {
	data []byte
}

// Bytes returns the buffer's current contents.
func (b *Buffer) Bytes() []byte { return b.data }

// SetLen sets the buffer's visible length. n must not exceed cap(b.data).
func (b *Buffer) SetLen(n int) { b.data = b.data[:n] }

// Len returns the buffer's current visible length.
func (b *Buffer) Len() int { return len(b.data) }

// Cap returns the buffer's fixed capacity.
func (b *Buffer) Cap() int { return cap(b.data) }

func (b *Buffer) reset() { b.data = b.data[:0] }

// Pool is a fixed-capacity pool of Buffers of size MaxMessage. Acquire and
// Release are safe for concurrent use by multiple goroutines.
type Pool struct {
	maxMessage int
	maxBuffers int

	mu       sync.Mutex
	free     []*Buffer
	outCount int
}

// New creates a pool whose buffers have capacity maxMessage and which will
// allocate at most maxBuffers simultaneously live buffers before Acquire
// starts reporting OutOfMemory.
func New(maxMessage, maxBuffers int) *Pool {
	return &Pool{maxMessage: maxMessage, maxBuffers: maxBuffers}
}

// Acquire returns a buffer with capacity >= the pool's protocol maximum, or
// a zfserr.OutOfMemory error if the pool is exhausted.
func (p *Pool) Acquire() (*Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.free); n > 0 {
		b := p.free[n-1]
		p.free = p.free[:n-1]
		p.outCount++
		return b, nil
	}

	if p.maxBuffers > 0 && p.outCount >= p.maxBuffers {
		return nil, zfserr.New(zfserr.OutOfMemory, "buffer pool exhausted (%d live buffers)", p.outCount)
	}

	b := &Buffer{data: make([]byte, 0, p.maxMessage)}
	p.outCount++
	return b, nil
}

// Release returns buf to the pool. If dropContent is true the buffer's
// length is reset to zero; either way the backing array is retained for
// reuse. Release(nil, _) is a no-op, and each acquired buffer must be
// released exactly once.
func (p *Pool) Release(buf *Buffer, dropContent bool) {
	if buf == nil {
		return
	}

	if dropContent {
		buf.reset()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.outCount--
	p.free = append(p.free, buf)
}

// Live returns the number of buffers currently checked out of the pool.
// Used by tests to assert invariant 5 (zero leaked buffers after close).
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outCount
}

// DestroyAll tears the pool down, dropping every free buffer. It must only
// be invoked from the channel-close path after every request referencing a
// buffer has been drained; it panics if buffers are still checked out, to
// surface a leak immediately rather than silently leaking memory.
func (p *Pool) DestroyAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.outCount != 0 {
		panic("bufferpool: DestroyAll called with buffers still live")
	}
	p.free = nil
}
