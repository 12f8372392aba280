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

// Package client implements the kernel-side call path: the single
// function a typed per-operation wrapper is built on top of, which
// allocates a request id, encodes and enqueues a call, waits for a reply
// or timeout/signal/disconnect, and decodes the result.
package client

import (
	"context"
	"time"

	"github.com/jacobsa/reqtrace"
	"github.com/jacobsa/timeutil"
	"go.uber.org/zap"

	"github.com/zlomekfs/zfschan/channel"
	"github.com/zlomekfs/zfschan/request"
	"github.com/zlomekfs/zfschan/wire"
	"github.com/zlomekfs/zfschan/zfserr"
)

// Client is the kernel-side handle callers use to issue calls through a
// Channel. One Client is normally shared by every caller thread.
type Client struct {
	ch      *channel.Channel
	clock   timeutil.Clock
	timeout time.Duration
	slack   time.Duration
	logger  *zap.SugaredLogger
}

// New constructs a Client over ch. timeout is the base per-call deadline
// (spec's RequestTimeout); slack is added to derive the wait deadline
// (ChannelTimeoutSlack). clock supplies the timestamp logged with each
// call; the wait deadline itself is measured by a real timer, so a fake
// clock does not change when a call times out. Pass timeutil.RealClock()
// in production.
func New(ch *channel.Channel, clock timeutil.Clock, timeout, slack time.Duration, logger *zap.SugaredLogger) *Client {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{ch: ch, clock: clock, timeout: timeout, slack: slack, logger: logger}
}

// Call issues one request carrying function code fc, encoded by
// encodeArgs, and blocks until a reply arrives, the deadline expires, ctx
// is done (a caller signal), or the channel disconnects. On a successful
// reply with status OK, decodeResult is invoked to decode the typed
// result fields; Call then checks with (*wire.Decoder).FinishDecoding that
// no trailing bytes remain.
//
// There is no retry inside Call; a caller that wants one must call Call
// again.
func (c *Client) Call(
	ctx context.Context,
	fc wire.FunctionCode,
	encodeArgs func(*wire.Encoder),
	decodeResult func(*wire.Decoder) error,
) (err error) {
	var span reqtrace.Span
	ctx, span = reqtrace.StartSpan(ctx, fc.String())
	defer func() {
		if span != nil {
			span.Finish()
		}
	}()

	// Step 1: reserve an id, bailing out early if already disconnected.
	id, err := c.ch.ReserveID()
	if err != nil {
		return err
	}

	// Step 2: acquire a buffer and encode the message.
	pool := c.ch.Pool()
	if pool == nil {
		return zfserr.New(zfserr.IOError, "channel not connected")
	}

	buf, err := pool.Acquire()
	if err != nil {
		return err
	}

	enc := wire.NewEncoder(buf.Bytes()[:0])
	enc.PutHeader(wire.Header{Direction: wire.DirRequest, RequestID: id})
	enc.PutFunctionCode(fc)
	encodeArgs(enc)

	encoded := enc.Bytes()
	if len(encoded) > c.ch.MaxMessage() {
		pool.Release(buf, true)
		return zfserr.New(zfserr.InvalidArgument, "encoded call of %d bytes exceeds max %d", len(encoded), c.ch.MaxMessage())
	}
	buf.SetLen(len(encoded))

	// Step 3: a fresh Request, Pending, unlocked.
	req := request.New(id, buf, len(encoded))

	// Step 4: re-check connectedness and enqueue.
	if err := c.ch.Enqueue(req); err != nil {
		pool.Release(buf, true)
		return err
	}
	defer c.ch.Forget()

	deadline := c.timeout + c.slack
	c.logger.Debugw("call issued", "request_id", id, "function_code", fc, "deadline", deadline, "clock_now", c.clock.Now())

	// Step 5: block for a reply, a timeout, a signal, or a disconnect.
	outcome := c.ch.Wait(ctx, req, deadline)

	// Step 6: take the request lock and inspect state.
	req.Lock()
	defer req.Unlock()

	switch outcome {
	case channel.WaitWoken:
		// Fall through: req.State() tells us what actually happened. A
		// spurious wake from Close racing the reply is handled by the
		// state inspection below exactly like a direct timeout would be.
	case channel.WaitTimeout:
		return c.reclaim(req, zfserr.New(zfserr.Timeout, "call %d timed out after %v", id, deadline))
	case channel.WaitSignal:
		return c.reclaim(req, zfserr.New(zfserr.Interrupted, "call %d interrupted", id))
	case channel.WaitDisconnect:
		return c.reclaim(req, zfserr.New(zfserr.IOError, "channel disconnected during call %d", id))
	}

	switch req.State() {
	case request.Pending:
		return c.reclaim(req, zfserr.New(zfserr.IOError, "channel disconnected before call %d was read", id))

	case request.Processing:
		// The reader already released our call buffer; nothing to free
		// here beyond removing the id from the processing table.
		c.ch.RemoveFromProcessing(req)
		return zfserr.New(zfserr.IOError, "channel disconnected while call %d was in flight", id)

	case request.Replied:
		replyBuf := req.Buf
		req.Buf = nil
		defer pool.Release(replyBuf, true)

		dec := wire.NewDecoder(replyBuf.Bytes())
		if _, derr := dec.Header(); derr != nil {
			return zfserr.New(zfserr.ProtocolError, "undecodable reply header for call %d: %v", id, derr)
		}

		status, derr := dec.Status()
		if derr != nil {
			return zfserr.New(zfserr.ProtocolError, "undecodable reply status for call %d: %v", id, derr)
		}

		if status != wire.StatusOK {
			return zfserr.New(zfserr.Kind(status), "call %d returned non-OK status", id)
		}

		if decodeResult != nil {
			if derr := decodeResult(dec); derr != nil {
				return zfserr.New(zfserr.ProtocolError, "undecodable reply result for call %d: %v", id, derr)
			}
		}

		return dec.FinishDecoding()

	default:
		return zfserr.New(zfserr.ProtocolError, "call %d woke in unexpected state %v", id, req.State())
	}
}

// reclaim removes req from whichever container it is still in and
// releases its call buffer, for the timeout/signal/disconnect paths.
// REQUIRES: req's mutex is held by the caller.
func (c *Client) reclaim(req *request.Request, result error) error {
	switch req.State() {
	case request.Pending:
		c.ch.RemoveFromPending(req)
	case request.Processing:
		c.ch.RemoveFromProcessing(req)
	}

	if req.Buf != nil {
		if pool := c.ch.Pool(); pool != nil {
			pool.Release(req.Buf, true)
		}
		req.Buf = nil
	}

	return result
}
