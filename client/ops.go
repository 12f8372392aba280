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

package client

import (
	"context"

	"github.com/zlomekfs/zfschan/wire"
)

// Function codes for the typed per-operation wrappers below. Every
// higher-level filesystem operation the kernel-side VFS adapter issues
// goes through Client.Call wrapped by one of these, so the channel's
// invariants propagate to all of them uniformly.
const (
	FuncRoot FunctionCode = 100 + iota
	FuncLookUp
	FuncGetAttr
	FuncOpen
	FuncRead
	FuncWrite
	FuncReadDir
	FuncRename
)

// FunctionCode is a local alias kept for readability in this file's
// constant block; it is the same type as wire.FunctionCode.
type FunctionCode = wire.FunctionCode

func init() {
	wire.RegisterFunctionCodeName(FuncRoot, "Root")
	wire.RegisterFunctionCodeName(FuncLookUp, "LookUp")
	wire.RegisterFunctionCodeName(FuncGetAttr, "GetAttr")
	wire.RegisterFunctionCodeName(FuncOpen, "Open")
	wire.RegisterFunctionCodeName(FuncRead, "Read")
	wire.RegisterFunctionCodeName(FuncWrite, "Write")
	wire.RegisterFunctionCodeName(FuncReadDir, "ReadDir")
	wire.RegisterFunctionCodeName(FuncRename, "Rename")
}

// Attributes mirrors the subset of inode metadata the daemon reports back
// across the channel.
type Attributes struct {
	Size  uint64
	Mode  uint32
	Mtime uint64
}

// Root asks the daemon for the root file handle of a volume.
func (c *Client) Root(ctx context.Context, volumeID uint32) (wire.FileHandle, error) {
	var result wire.FileHandle

	err := c.Call(ctx, FuncRoot,
		func(e *wire.Encoder) {
			e.PutUint32(volumeID)
		},
		func(d *wire.Decoder) (err error) {
			result, err = d.FileHandle()
			return
		},
	)

	return result, err
}

// LookUp resolves name within the directory identified by parent.
func (c *Client) LookUp(ctx context.Context, parent wire.FileHandle, name string) (wire.FileHandle, error) {
	var result wire.FileHandle

	err := c.Call(ctx, FuncLookUp,
		func(e *wire.Encoder) {
			e.PutFileHandle(parent)
			e.PutString(name)
		},
		func(d *wire.Decoder) (err error) {
			result, err = d.FileHandle()
			return
		},
	)

	return result, err
}

// GetAttr fetches the attributes of the file identified by h.
func (c *Client) GetAttr(ctx context.Context, h wire.FileHandle) (Attributes, error) {
	var result Attributes

	err := c.Call(ctx, FuncGetAttr,
		func(e *wire.Encoder) {
			e.PutFileHandle(h)
		},
		func(d *wire.Decoder) (err error) {
			if result.Size, err = d.Uint64(); err != nil {
				return err
			}
			if result.Mode, err = d.Uint32(); err != nil {
				return err
			}
			result.Mtime, err = d.Uint64()
			return err
		},
	)

	return result, err
}

// OpenHandle identifies an open file or directory stream on the daemon.
type OpenHandle uint64

// Open opens the file identified by h with the given flags, returning an
// opaque handle for subsequent Read/Write calls.
func (c *Client) Open(ctx context.Context, h wire.FileHandle, flags uint32) (OpenHandle, error) {
	var result OpenHandle

	err := c.Call(ctx, FuncOpen,
		func(e *wire.Encoder) {
			e.PutFileHandle(h)
			e.PutUint32(flags)
		},
		func(d *wire.Decoder) error {
			v, err := d.Uint64()
			result = OpenHandle(v)
			return err
		},
	)

	return result, err
}

// Read reads up to size bytes at offset from the stream identified by
// handle, returning the data actually read.
func (c *Client) Read(ctx context.Context, handle OpenHandle, offset uint64, size uint32) ([]byte, error) {
	var result []byte

	err := c.Call(ctx, FuncRead,
		func(e *wire.Encoder) {
			e.PutUint64(uint64(handle))
			e.PutUint64(offset)
			e.PutUint32(size)
		},
		func(d *wire.Decoder) (err error) {
			data, err := d.Bytes()
			if err != nil {
				return err
			}
			result = append([]byte(nil), data...)
			return nil
		},
	)

	return result, err
}

// Write writes data at offset to the stream identified by handle,
// returning the number of bytes the daemon accepted.
func (c *Client) Write(ctx context.Context, handle OpenHandle, offset uint64, data []byte) (uint32, error) {
	var result uint32

	err := c.Call(ctx, FuncWrite,
		func(e *wire.Encoder) {
			e.PutUint64(uint64(handle))
			e.PutUint64(offset)
			e.PutBytes(data)
		},
		func(d *wire.Decoder) (err error) {
			result, err = d.Uint32()
			return
		},
	)

	return result, err
}

// DirEntry is one entry returned by ReadDir.
type DirEntry struct {
	Name  string
	Child wire.FileHandle
}

// ReadDir lists the directory identified by handle starting at offset.
func (c *Client) ReadDir(ctx context.Context, handle OpenHandle, offset uint64) ([]DirEntry, error) {
	var result []DirEntry

	err := c.Call(ctx, FuncReadDir,
		func(e *wire.Encoder) {
			e.PutUint64(uint64(handle))
			e.PutUint64(offset)
		},
		func(d *wire.Decoder) error {
			count, err := d.Uint32()
			if err != nil {
				return err
			}

			result = make([]DirEntry, 0, count)
			for i := uint32(0); i < count; i++ {
				name, err := d.String()
				if err != nil {
					return err
				}
				child, err := d.FileHandle()
				if err != nil {
					return err
				}
				result = append(result, DirEntry{Name: name, Child: child})
			}

			return nil
		},
	)

	return result, err
}

// Rename moves the entry named oldName in oldParent to newName in
// newParent.
func (c *Client) Rename(ctx context.Context, oldParent wire.FileHandle, oldName string, newParent wire.FileHandle, newName string) error {
	return c.Call(ctx, FuncRename,
		func(e *wire.Encoder) {
			e.PutFileHandle(oldParent)
			e.PutString(oldName)
			e.PutFileHandle(newParent)
			e.PutString(newName)
		},
		nil,
	)
}
