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

// Package oneway implements dispatch for D->K deliveries that carry no
// reply: invalidation notices and any other extension a caller registers.
// The dispatch table is built once at construction and never mutated
// afterward, matching the core's "registration at init, immutable
// thereafter" rule.
package oneway

import (
	"go.uber.org/zap"

	"github.com/zlomekfs/zfschan/wire"
)

// FuncInvalidate is the built-in one-way function code carrying a single
// FileHandle whose cached dentry/inode should be dropped.
const FuncInvalidate wire.FunctionCode = 1

// Handler decodes and acts on a one-way message's arguments. Its error is
// logged by Dispatch but never fails the delivering write.
type Handler func(dec *wire.Decoder) error

// InvalidateFunc is the single seam to the adapter layer's dentry/inode
// cache: the built-in invalidate handler decodes a FileHandle and forwards
// it here.
type InvalidateFunc func(h wire.FileHandle) error

// Table is an immutable map from function code to Handler.
type Table struct {
	handlers map[wire.FunctionCode]Handler
}

// NewTable builds the one-way dispatch table. invalidate may be nil, in
// which case invalidation notices are decoded (so malformed ones are still
// caught) but otherwise ignored. extra registers additional function
// codes alongside the built-in invalidate handler; it must not contain
// FuncInvalidate.
func NewTable(invalidate InvalidateFunc, extra map[wire.FunctionCode]Handler) *Table {
	t := &Table{handlers: make(map[wire.FunctionCode]Handler, len(extra)+1)}

	t.handlers[FuncInvalidate] = func(dec *wire.Decoder) error {
		h, err := dec.FileHandle()
		if err != nil {
			return err
		}
		if err := dec.FinishDecoding(); err != nil {
			return err
		}
		if invalidate == nil {
			return nil
		}
		return invalidate(h)
	}

	for fc, h := range extra {
		if fc == FuncInvalidate {
			panic("oneway: extra handler table must not redefine FuncInvalidate")
		}
		t.handlers[fc] = h
	}

	return t
}

// Dispatch routes a decoded one-way message to its registered handler,
// synchronously, on the calling goroutine. A missing handler or a handler
// error is logged as a warning; dispatch never propagates either as a
// failure of the delivering write, per the core's error handling design.
func (t *Table) Dispatch(fc wire.FunctionCode, dec *wire.Decoder, logger *zap.SugaredLogger) {
	h, ok := t.handlers[fc]
	if !ok {
		logger.Warnw("one-way dispatch: unknown function code", "function_code", fc)
		return
	}

	if err := h(dec); err != nil {
		logger.Warnw("one-way handler returned error", "function_code", fc, "error", err)
	}
}
