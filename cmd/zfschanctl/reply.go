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

package main

import "github.com/zlomekfs/zfschan/wire"

// buildRootReply encodes a minimal OK reply to a Root call, carrying a
// zeroed file handle. Only the loopback demo command needs this; a real
// daemon would decode the request's arguments and compute a real reply.
func buildRootReply(id uint32) []byte {
	enc := wire.NewEncoder(nil)
	enc.PutHeader(wire.Header{Direction: wire.DirReply, RequestID: id})
	enc.PutStatus(wire.StatusOK)
	enc.PutFileHandle(wire.FileHandle{})
	return enc.Bytes()
}
