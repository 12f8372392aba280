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

package channel

import (
	"github.com/zlomekfs/zfschan/request"
)

// processingTable is the hash table of in-flight Requests that have been
// read by a reader and are awaiting a reply, keyed by id mod
// len(buckets). Bucket chains are unordered; lookup is by exact id match.
// All methods REQUIRE the channel mutex to be held by the caller.
type processingTable struct {
	buckets []map[uint32]*request.Request
}

func newProcessingTable(numBuckets int) *processingTable {
	t := &processingTable{buckets: make([]map[uint32]*request.Request, numBuckets)}
	for i := range t.buckets {
		t.buckets[i] = make(map[uint32]*request.Request)
	}
	return t
}

func (t *processingTable) bucketFor(id uint32) map[uint32]*request.Request {
	return t.buckets[int(id)%len(t.buckets)]
}

func (t *processingTable) insert(r *request.Request) {
	t.bucketFor(r.ID)[r.ID] = r
}

func (t *processingTable) lookup(id uint32) (*request.Request, bool) {
	r, ok := t.bucketFor(id)[id]
	return r, ok
}

func (t *processingTable) remove(id uint32) {
	delete(t.bucketFor(id), id)
}

// all returns every Request currently in the table, for use only during
// shutdown.
func (t *processingTable) all() []*request.Request {
	var out []*request.Request
	for _, b := range t.buckets {
		for _, r := range b {
			out = append(out, r)
		}
	}
	return out
}

func (t *processingTable) reset(numBuckets int) {
	t.buckets = make([]map[uint32]*request.Request, numBuckets)
	for i := range t.buckets {
		t.buckets[i] = make(map[uint32]*request.Request)
	}
}
