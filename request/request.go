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

// Package request implements the in-flight call bookkeeping entity that
// the channel and the client call path share: a unique id, a state
// machine, an owned message buffer, and a per-request wait point.
package request

import (
	"container/list"
	"sync"

	"github.com/zlomekfs/zfschan/bufferpool"
)

// State is a Request's position in its lifecycle. Transitions only ever
// advance Pending -> Processing -> (Replied | Dequeued); backward
// transitions are forbidden and SetState panics if one is attempted.
type State int

const (
	// Pending means the Request is on the channel's pending queue, waiting
	// for a reader.
	Pending State = iota
	// Processing means a reader has dequeued the Request and is or has
	// delivered its body; it now awaits a reply in the processing table.
	Processing
	// Replied means a reply arrived and the Request now owns the reply
	// buffer. This is a terminal state for the purposes of the state
	// machine, though the caller still has to decode and release.
	Replied
	// Dequeued is a transient state observed only under the request mutex
	// during the reader/caller race: the request has been removed from its
	// container but has not yet been handed to either the processing table
	// or the caller. It must never be exposed as a separately observable
	// state outside this package.
	Dequeued
)

func (s State) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Processing:
		return "Processing"
	case Replied:
		return "Replied"
	case Dequeued:
		return "Dequeued"
	default:
		return "Unknown"
	}
}

// legalTransition reports whether moving from `from` to `to` is one of the
// advances the state machine allows.
func legalTransition(from, to State) bool {
	switch from {
	case Pending:
		return to == Processing || to == Dequeued
	case Processing:
		return to == Replied || to == Dequeued
	default:
		return false
	}
}

// Request is one in-flight K->D call. All fields below the mutex are
// GUARDED_BY(mu); the id and the wait channel are immutable after
// construction and safe to read without the lock.
type Request struct {
	// ID is this Request's unique 32-bit id. Immutable.
	ID uint32

	mu    sync.Mutex
	state State

	// Buf is the message buffer this Request currently owns: the encoded
	// call body until a reader consumes it, then (after DeliverReply) the
	// reply body. GUARDED_BY(mu)
	Buf *bufferpool.Buffer
	// EncodedLen is the length of the encoded call body. GUARDED_BY(mu)
	EncodedLen int

	// Err holds the terminal error for this Request, if any.
	// GUARDED_BY(mu)
	Err error

	// elem is this Request's node in the channel's pending queue, or nil if
	// it is not currently enqueued. GUARDED_BY(mu) by convention of whoever
	// holds the channel mutex; see channel package.
	elem *list.Element

	awoken   chan struct{}
	wakeOnce sync.Once
}

// New creates a fresh Request in state Pending, owning buf.
func New(id uint32, buf *bufferpool.Buffer, encodedLen int) *Request {
	return &Request{
		ID:         id,
		state:      Pending,
		Buf:        buf,
		EncodedLen: encodedLen,
		awoken:     make(chan struct{}),
	}
}

// Lock acquires the per-request mutex. Exposed so the channel package can
// implement the two-level locking discipline (channel mutex first, then
// request mutex) and the try-lock race avoidance rule.
func (r *Request) Lock() { r.mu.Lock() }

// Unlock releases the per-request mutex.
func (r *Request) Unlock() { r.mu.Unlock() }

// TryLock attempts to acquire the per-request mutex without blocking. This
// is the one place in the core that uses try-lock: a reader that finds this
// Request Pending but cannot win the race with a caller reclaiming it must
// back off rather than block, per the documented deadlock-avoidance rule.
func (r *Request) TryLock() bool { return r.mu.TryLock() }

// State returns the current state. REQUIRES: caller holds the lock.
func (r *Request) State() State { return r.state }

// SetState advances the state machine. REQUIRES: caller holds the lock.
// Panics on an illegal (non-advancing) transition, since that indicates a
// bug in the channel or client rather than a recoverable runtime error.
func (r *Request) SetState(to State) {
	if !legalTransition(r.state, to) {
		panic("request: illegal state transition " + r.state.String() + " -> " + to.String())
	}
	r.state = to
}

// Elem returns this Request's pending-queue list element.
// REQUIRES: caller holds the channel mutex.
func (r *Request) Elem() *list.Element { return r.elem }

// SetElem records this Request's pending-queue list element.
// REQUIRES: caller holds the channel mutex.
func (r *Request) SetElem(e *list.Element) { r.elem = e }

// Wake signals this Request's waiter. It is idempotent: calling it more
// than once, or calling it when nothing is blocked, has no additional
// effect beyond the first call.
func (r *Request) Wake() {
	r.wakeOnce.Do(func() { close(r.awoken) })
}

// Awoken returns the channel that becomes readable once Wake has been
// called. Callers select on it alongside a deadline timer and any
// cancellation signal.
func (r *Request) Awoken() <-chan struct{} { return r.awoken }
