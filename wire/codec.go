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

// Package wire implements the channel's length-prefixed, little-endian
// framing: direction tag, 32-bit request id, function code, and the typed
// field encoders/decoders built on top of them. Every decode step is
// checked; callers must treat any failure as a protocol error and abandon
// the message, per the core's error handling design.
package wire

import (
	"encoding/binary"

	"github.com/zlomekfs/zfschan/zfserr"
)

// Encoder appends typed fields to a growing byte slice. Encoders never fail
// for messages below the protocol maximum; callers are responsible for not
// exceeding it (client.Call checks the limit before enqueueing a call).
type Encoder struct {
	buf []byte
}

// NewEncoder returns an Encoder that appends into buf (already allocated,
// typically a bufferpool.Buffer's backing slice truncated to zero length).
func NewEncoder(buf []byte) *Encoder {
	return &Encoder{buf: buf}
}

// Bytes returns the encoded message so far.
func (e *Encoder) Bytes() []byte { return e.buf }

// PutHeader appends the fixed [direction:1][request_id:4] header.
func (e *Encoder) PutHeader(h Header) {
	e.buf = append(e.buf, byte(h.Direction))
	e.PutUint32(h.RequestID)
}

// PutFunctionCode appends a 4-byte function code.
func (e *Encoder) PutFunctionCode(fc FunctionCode) {
	e.PutUint32(uint32(fc))
}

// PutStatus appends a 4-byte reply status.
func (e *Encoder) PutStatus(s Status) {
	e.PutUint32(uint32(s))
}

// PutUint32 appends a little-endian uint32.
func (e *Encoder) PutUint32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	e.buf = append(e.buf, tmp[:]...)
}

// PutUint64 appends a little-endian uint64.
func (e *Encoder) PutUint64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	e.buf = append(e.buf, tmp[:]...)
}

// PutBytes appends a length-prefixed byte string.
func (e *Encoder) PutBytes(b []byte) {
	e.PutUint32(uint32(len(b)))
	e.buf = append(e.buf, b...)
}

// PutString appends a length-prefixed string.
func (e *Encoder) PutString(s string) {
	e.PutBytes([]byte(s))
}

// PutFileHandle appends an opaque fixed-width file handle.
func (e *Encoder) PutFileHandle(h FileHandle) {
	e.PutUint32(h.SiteID)
	e.PutUint32(h.VolumeID)
	e.PutUint32(h.Device)
	e.PutUint64(h.Inode)
	e.PutUint32(h.Generation)
}

// Decoder reads typed fields off a fixed byte slice, advancing a cursor.
// Every read checks bounds; a failed read returns zfserr.ProtocolError and
// the decoder should not be used further.
type Decoder struct {
	buf []byte
	off int
}

// NewDecoder returns a Decoder over buf.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

func (d *Decoder) remaining() int { return len(d.buf) - d.off }

// Header decodes the fixed leading header.
func (d *Decoder) Header() (Header, error) {
	if d.remaining() < HeaderSize {
		return Header{}, zfserr.New(zfserr.ProtocolError, "short header: have %d bytes", d.remaining())
	}

	dir := Direction(d.buf[d.off])
	d.off++

	id, err := d.Uint32()
	if err != nil {
		return Header{}, err
	}

	return Header{Direction: dir, RequestID: id}, nil
}

// FunctionCode decodes a 4-byte function code.
func (d *Decoder) FunctionCode() (FunctionCode, error) {
	v, err := d.Uint32()
	return FunctionCode(v), err
}

// Status decodes a 4-byte reply status.
func (d *Decoder) Status() (Status, error) {
	v, err := d.Uint32()
	return Status(v), err
}

// Uint32 decodes a little-endian uint32.
func (d *Decoder) Uint32() (uint32, error) {
	if d.remaining() < 4 {
		return 0, zfserr.New(zfserr.ProtocolError, "short uint32: have %d bytes", d.remaining())
	}
	v := binary.LittleEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v, nil
}

// Uint64 decodes a little-endian uint64.
func (d *Decoder) Uint64() (uint64, error) {
	if d.remaining() < 8 {
		return 0, zfserr.New(zfserr.ProtocolError, "short uint64: have %d bytes", d.remaining())
	}
	v := binary.LittleEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return v, nil
}

// Bytes decodes a length-prefixed byte string. The returned slice aliases
// the decoder's backing array and must be copied if it outlives the
// message buffer.
func (d *Decoder) Bytes() ([]byte, error) {
	n, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	if d.remaining() < int(n) {
		return nil, zfserr.New(zfserr.ProtocolError, "short bytes field: need %d, have %d", n, d.remaining())
	}
	b := d.buf[d.off : d.off+int(n)]
	d.off += int(n)
	return b, nil
}

// String decodes a length-prefixed string.
func (d *Decoder) String() (string, error) {
	b, err := d.Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// FileHandle decodes an opaque fixed-width file handle.
func (d *Decoder) FileHandle() (FileHandle, error) {
	var h FileHandle
	var err error

	if h.SiteID, err = d.Uint32(); err != nil {
		return FileHandle{}, err
	}
	if h.VolumeID, err = d.Uint32(); err != nil {
		return FileHandle{}, err
	}
	if h.Device, err = d.Uint32(); err != nil {
		return FileHandle{}, err
	}
	if h.Inode, err = d.Uint64(); err != nil {
		return FileHandle{}, err
	}
	if h.Generation, err = d.Uint32(); err != nil {
		return FileHandle{}, err
	}

	return h, nil
}

// FinishDecoding asserts that no trailing bytes remain in the message.
// Trailing bytes are a protocol error: it means the codec's caller
// disagrees with the sender about the message's shape.
func (d *Decoder) FinishDecoding() error {
	if d.remaining() != 0 {
		return zfserr.New(zfserr.ProtocolError, "trailing bytes: %d unread", d.remaining())
	}
	return nil
}
