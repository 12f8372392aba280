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

// Package channel implements the request-multiplexed gateway between the
// kernel-side caller and the user-space daemon: the pending queue, the
// processing hash table, and the four daemon-facing operations
// (Open/Close/ReadNextRequest/DeliverReplyOrOneway).
//
// Two-level locking: ReadNextRequest holds the channel mutex and only
// try-locks a request's mutex under it (popAndLockHead, the one place
// try-lock is used). The client call path takes the two in the other
// order: it holds a request's mutex while calling RemoveFromPending or
// RemoveFromProcessing, which take the channel mutex. The try-lock keeps
// these two orders from deadlocking; deliverReply and Close never hold
// both mutexes at once.
package channel

import (
	"container/list"
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/jacobsa/syncutil"
	"go.uber.org/zap"

	"github.com/zlomekfs/zfschan/bufferpool"
	"github.com/zlomekfs/zfschan/oneway"
	"github.com/zlomekfs/zfschan/request"
	"github.com/zlomekfs/zfschan/wire"
	"github.com/zlomekfs/zfschan/zfserr"
)

// pendingSemCapacity bounds the channel's pending-request counting
// semaphore. It is not a limit on in-flight calls in any practical sense;
// it exists only because a Go channel used as a semaphore needs a fixed
// buffer.
const pendingSemCapacity = 1 << 20

// ServerRequestHandler is the seam for the optional, D-initiated request
// extension described in the design notes: a message arriving with
// direction Request is routed here instead of being matched against the
// processing table. The core does not specify reply discipline for this
// path beyond exposing this seam.
type ServerRequestHandler func(ctx context.Context, body []byte) (reply []byte, err error)

// Options configures a Channel. MaxMessage and ProcessingBuckets are
// required; the other fields may be left zero or nil.
type Options struct {
	// MaxMessage is the maximum encoded size, in bytes, of any message on
	// the wire.
	MaxMessage int
	// ProcessingBuckets is the size of the processing hash table.
	ProcessingBuckets int
	// MaxBuffers bounds the buffer pool; 0 means unbounded.
	MaxBuffers int
	// Logger receives structured tracing of channel activity. A nil
	// Logger is replaced with a no-op logger, mirroring the teacher's
	// nil-logger convention.
	Logger *zap.SugaredLogger
	// OneWayHandlers is the immutable table of one-way function code
	// handlers, including the built-in invalidate handler. Registration
	// happens at construction time and is never mutated afterward.
	OneWayHandlers *oneway.Table
	// ServerRequests optionally handles D-initiated requests. May be nil,
	// in which case such messages are rejected with InvalidArgument.
	ServerRequests ServerRequestHandler
}

// Channel is the singleton gateway between the kernel-side caller and the
// user-space daemon. Create with New; call Open before use.
type Channel struct {
	opts   Options
	logger *zap.SugaredLogger
	pool   *bufferpool.Pool

	mu         syncutil.InvariantMutex
	connected  bool
	nextID     uint32
	pending    *list.List // of *request.Request, FIFO. GUARDED_BY(mu)
	processing *processingTable
	shutdownCh chan struct{}
	pendingSem chan struct{}

	live sync.WaitGroup // counts Requests with a live reference
}

// New constructs a Channel in the disconnected state. It does not allocate
// the buffer pool or reset counters until Open succeeds.
func New(opts Options) *Channel {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if opts.OneWayHandlers == nil {
		opts.OneWayHandlers = oneway.NewTable(nil, nil)
	}

	c := &Channel{
		opts:   opts,
		logger: logger,
	}
	c.mu = syncutil.NewInvariantMutex(c.checkInvariants)
	return c
}

// checkInvariants is invoked by the invariant-checking mutex on every
// Unlock, matching the teacher pack's own syncutil.InvariantMutex idiom
// (see samples/memfs's checkInvariants methods). It is a no-op before the
// first Open, since the pending queue and processing table don't exist
// yet. REQUIRES: caller holds mu (the mutex calls this itself).
func (c *Channel) checkInvariants() {
	if c.processing == nil {
		return
	}

	if c.opts.ProcessingBuckets > 0 && len(c.processing.buckets) != c.opts.ProcessingBuckets {
		panic("channel: processing table bucket count drifted from configured ProcessingBuckets")
	}

	for e := c.pending.Front(); e != nil; e = e.Next() {
		if _, ok := e.Value.(*request.Request); !ok {
			panic("channel: pending queue holds a non-Request element")
		}
	}
}

// Open transitions the channel from disconnected to connected. It fails
// with zfserr.Busy if a daemon is already attached, and succeeds at most
// once per session.
func (c *Channel) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return zfserr.New(zfserr.Busy, "channel already has an attached daemon")
	}

	c.pool = bufferpool.New(c.opts.MaxMessage, c.opts.MaxBuffers)
	c.pending = list.New()
	c.processing = newProcessingTable(c.opts.ProcessingBuckets)
	c.shutdownCh = make(chan struct{})
	c.pendingSem = make(chan struct{}, pendingSemCapacity)
	c.nextID = 0
	c.connected = true

	c.logger.Debug("channel opened")
	return nil
}

// Connected reports whether the channel currently has an attached daemon.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Pool returns the channel's buffer pool. Valid only while connected.
func (c *Channel) Pool() *bufferpool.Pool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pool
}

// MaxMessage returns the configured protocol maximum message size.
func (c *Channel) MaxMessage() int { return c.opts.MaxMessage }

// ReserveID checks that the channel is connected and reserves the next
// request id, per step 1 of the client call path. It does not enqueue
// anything.
func (c *Channel) ReserveID() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return 0, zfserr.New(zfserr.IOError, "channel not connected")
	}

	id := c.nextID
	c.nextID++
	return id, nil
}

// Enqueue appends req to the pending queue and wakes one reader, per step
//4 of the client call path. It re-checks connectedness and returns
// zfserr.IOError without enqueuing if the channel has since disconnected.
func (c *Channel) Enqueue(req *request.Request) error {
	c.mu.Lock()

	if !c.connected {
		c.mu.Unlock()
		return zfserr.New(zfserr.IOError, "channel not connected")
	}

	c.live.Add(1)
	elem := c.pending.PushBack(req)
	req.SetElem(elem)
	c.mu.Unlock()

	// Wake exactly one reader. The semaphore's value always equals the
	// number of Requests currently on the pending queue.
	c.pendingSem <- struct{}{}
	return nil
}

// Forget releases the channel's tracking of req (the caller has reclaimed
// it and reached a terminal state) and lets Close's drain proceed once
// every live Request has done the same.
func (c *Channel) Forget() {
	c.live.Done()
}

// RemoveFromPending removes req from the pending queue if it is still
// there. Used by the client call path when a call times out, is
// interrupted, or observes disconnection while still Pending.
func (c *Channel) RemoveFromPending(req *request.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem := req.Elem(); elem != nil {
		c.pending.Remove(elem)
		req.SetElem(nil)

		// Take back the token Enqueue added for req unless a reader has
		// already claimed it, so the semaphore keeps matching the queue.
		select {
		case <-c.pendingSem:
		default:
		}
	}
}

// RemoveFromProcessing removes req from the processing table if it is
// still there. Used by the client call path when a call times out or is
// interrupted after a reader already picked it up.
func (c *Channel) RemoveFromProcessing(req *request.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processing.remove(req.ID)
}

// ShutdownSignal returns a channel closed once Close has been called, so
// blocked callers and readers can select on it.
func (c *Channel) ShutdownSignal() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdownCh
}

// ReadNextRequest blocks until a Request is pending, the connection is
// being torn down, or ctx is done (modeling a delivered signal), then
// copies the head Request's encoded body into sink and moves it into the
// processing table.
//
// If sink is smaller than the encoded length, the copy is truncated to
// len(sink) and a warning is logged; the original id is unaffected, so a
// reply using it is still matched correctly.
func (c *Channel) ReadNextRequest(ctx context.Context, sink []byte) (id uint32, n int, err error) {
	for {
		select {
		case <-ctx.Done():
			return 0, 0, zfserr.New(zfserr.Interrupted, "read-next-request interrupted")
		default:
		}

		shutdown := c.ShutdownSignal()

		select {
		case <-ctx.Done():
			return 0, 0, zfserr.New(zfserr.Interrupted, "read-next-request interrupted")
		case <-shutdown:
			return 0, 0, zfserr.New(zfserr.IOError, "channel disconnected")
		case <-c.pendingSem:
		}

		req, retry := c.popAndLockHead()
		if retry {
			// Lost the race with a caller reclaiming this Request: the
			// count token has already been returned inside popAndLockHead.
			// Back off briefly and try the head again.
			runtime.Gosched()
			continue
		}
		if req == nil {
			// The queue emptied between the semaphore wakeup and our look
			// at it (a caller reclaimed its Request). Wait again unless the
			// channel has disconnected meanwhile.
			if c.Connected() {
				continue
			}
			return 0, 0, zfserr.New(zfserr.IOError, "channel disconnected")
		}

		// req's mutex is held here.
		n = req.EncodedLen
		body := req.Buf.Bytes()
		if len(sink) < n {
			c.logger.Warnw("read-next-request: sink smaller than encoded length; truncating",
				"request_id", req.ID, "encoded_len", n, "sink_len", len(sink))
			n = len(sink)
		}
		copy(sink[:n], body[:n])

		buf := req.Buf
		req.Buf = nil
		req.SetState(request.Processing)
		id = req.ID
		req.Unlock()

		c.mu.Lock()
		c.processing.insert(req)
		c.mu.Unlock()

		c.pool.Release(buf, true)
		return id, n, nil
	}
}

// popAndLockHead pops the head of the pending queue and acquires its
// mutex without blocking. If the try-lock loses the race with a caller
// that is concurrently reclaiming the same Request, it puts the Request
// back at the front of the queue, returns the semaphore token, and
// reports retry=true so ReadNextRequest tries the head again instead of
// deadlocking against the caller. The Request keeps its place at the head
// until its caller removes it or releases the lock.
func (c *Channel) popAndLockHead() (req *request.Request, retry bool) {
	c.mu.Lock()

	front := c.pending.Front()
	if front == nil {
		c.mu.Unlock()
		return nil, false
	}
	req = front.Value.(*request.Request)
	c.pending.Remove(front)
	req.SetElem(nil)

	if !req.TryLock() {
		c.pending.PushFront(req)
		req.SetElem(c.pending.Front())
		c.mu.Unlock()

		c.pendingSem <- struct{}{}
		return nil, true
	}

	c.mu.Unlock()
	return req, false
}

// DeliverReplyOrOneway accepts a message from the daemon: a reply matched
// to an outstanding Request, a one-way delivery dispatched to a
// registered handler, or (if configured) a D-initiated request routed to
// the ServerRequests seam.
func (c *Channel) DeliverReplyOrOneway(ctx context.Context, src []byte) error {
	if len(src) > c.opts.MaxMessage {
		return zfserr.New(zfserr.InvalidArgument, "message of %d bytes exceeds max %d", len(src), c.opts.MaxMessage)
	}

	c.mu.Lock()
	pool := c.pool
	c.mu.Unlock()
	if pool == nil {
		return zfserr.New(zfserr.IOError, "channel not connected")
	}

	buf, err := pool.Acquire()
	if err != nil {
		return err
	}

	buf.SetLen(len(src))
	copy(buf.Bytes(), src)

	dec := wire.NewDecoder(buf.Bytes())
	hdr, err := dec.Header()
	if err != nil {
		pool.Release(buf, true)
		return zfserr.New(zfserr.InvalidArgument, "undecodable header: %v", err)
	}

	switch hdr.Direction {
	case wire.DirReply:
		return c.deliverReply(hdr.RequestID, buf)

	case wire.DirOneWay:
		fc, err := dec.FunctionCode()
		if err != nil {
			pool.Release(buf, true)
			return zfserr.New(zfserr.InvalidArgument, "undecodable one-way function code: %v", err)
		}
		c.opts.OneWayHandlers.Dispatch(fc, dec, c.logger)
		pool.Release(buf, true)
		return nil

	case wire.DirRequest:
		defer pool.Release(buf, true)
		if c.opts.ServerRequests == nil {
			return zfserr.New(zfserr.InvalidArgument, "no server-request handler registered")
		}
		_, err := c.opts.ServerRequests(ctx, buf.Bytes())
		return err

	default:
		pool.Release(buf, true)
		return zfserr.New(zfserr.InvalidArgument, "unknown direction tag %v", hdr.Direction)
	}
}

func (c *Channel) deliverReply(id uint32, buf *bufferpool.Buffer) error {
	c.mu.Lock()
	req, ok := c.processing.lookup(id)
	if !ok {
		c.mu.Unlock()
		c.logger.Warnw("deliver-reply: orphaned reply, no matching request", "request_id", id)
		c.pool.Release(buf, true)
		return nil
	}
	c.processing.remove(id)
	c.mu.Unlock()

	req.Lock()
	req.Buf = buf
	req.SetState(request.Replied)
	req.Unlock()

	req.Wake()
	return nil
}

// Close tears the channel down: it wakes every blocked reader and caller,
// lets every live Request observe disconnection and reach a terminal
// state in its owner's hands, and only then drains the buffer pool. Close
// on an already-closed (or never-opened) channel is a no-op.
func (c *Channel) Close() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	close(c.shutdownCh)

	var toWake []*request.Request
	for e := c.pending.Front(); e != nil; e = e.Next() {
		toWake = append(toWake, e.Value.(*request.Request))
	}
	toWake = append(toWake, c.processing.all()...)
	pool := c.pool
	c.mu.Unlock()

	for _, req := range toWake {
		req.Wake()
	}

	c.live.Wait()
	pool.DestroyAll()

	c.logger.Debug("channel closed")
	return nil
}

// WaitOutcome is the result of blocking on a Request's wait point. The
// wait primitive returns exactly one of these rather than overloading a
// single error return, per the design notes' re-architecture of the
// original signal-driven wait.
type WaitOutcome int

const (
	WaitWoken WaitOutcome = iota
	WaitTimeout
	WaitSignal
	WaitDisconnect
)

// Wait blocks on req's wait point until it is woken, the deadline given by
// RequestTimeout+slack expires, ctx is done, or the channel disconnects.
func (c *Channel) Wait(ctx context.Context, req *request.Request, deadline time.Duration) WaitOutcome {
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case <-req.Awoken():
		return WaitWoken
	case <-timer.C:
		return WaitTimeout
	case <-ctx.Done():
		return WaitSignal
	case <-c.ShutdownSignal():
		return WaitDisconnect
	}
}
