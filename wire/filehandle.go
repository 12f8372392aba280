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

package wire

// FileHandle is the opaque fixed-width identifier for a file on a
// distributed volume: site id, volume id, device, inode, and generation.
// Grounded on struct zfs_fh in the original source's zfs.h.
type FileHandle struct {
	SiteID     uint32
	VolumeID   uint32
	Device     uint32
	Inode      uint64
	Generation uint32
}

// FileHandleWireSize is the encoded size in bytes of a FileHandle.
const FileHandleWireSize = 4 + 4 + 4 + 8 + 4
