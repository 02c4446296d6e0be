// Copyright (c) 2023 Paweł Gaczyński
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

package qbman

import (
	"sync/atomic"

	"github.com/pawelgaczynski/qbman/pkg/freelist"
)

const firstFreeHandle = 1

// handlePool hands out buffer handles. Returned handles are reused before
// new ones are minted.
type handlePool struct {
	free       *freelist.FreeList[uint64]
	nextHandle uint64
}

func (p *handlePool) get() uint64 {
	if handle, ok := p.free.Take(); ok {
		return handle
	}

	return atomic.AddUint64(&p.nextHandle, 1) - 1
}

func (p *handlePool) put(handle uint64) {
	p.free.Put(handle)
}

func newHandlePool() *handlePool {
	return &handlePool{
		free: freelist.New[uint64](),
		// 0 marks a buffer that was never registered
		nextHandle: firstFreeHandle,
	}
}
