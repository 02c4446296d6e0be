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
	"sync"

	"github.com/pawelgaczynski/qbman/pkg/dma"
	qbmanErrors "github.com/pawelgaczynski/qbman/pkg/errors"
	"github.com/pawelgaczynski/qbman/pkg/frame"
)

type BufferKind uint8

const (
	RxBuffer BufferKind = iota
	TxBuffer
)

func (k BufferKind) String() string {
	if k == RxBuffer {
		return "rx"
	}

	return "tx"
}

// PacketBuffer is a DMA buffer that is lent to hardware. The annotation at
// the start of its memory carries its handle, which is how a bare bus
// address coming back from hardware finds its way to this record.
type PacketBuffer struct {
	kind   BufferKind
	handle uint64
	data   []byte
	paddr  uint64
	mapped bool

	// Transmit buffers carry their frame in a scatter/gather table. The
	// table is the mapped annotated memory and payload maps separately.
	sgt       []byte
	sgtPaddr  uint64
	sgtMapped bool
	payload   []uint64
	index     int
	txSeq     uint32
}

func (b *PacketBuffer) Kind() BufferKind {
	return b.kind
}

func (b *PacketBuffer) Handle() uint64 {
	return b.handle
}

// Data is the memory of a receive buffer, annotation area included.
func (b *PacketBuffer) Data() []byte {
	return b.data
}

// Paddr is the bus address hardware knows the buffer by.
func (b *PacketBuffer) Paddr() uint64 {
	if b.kind == TxBuffer {
		return b.sgtPaddr
	}

	return b.paddr
}

func (b *PacketBuffer) Mapped() bool {
	if b.kind == TxBuffer {
		return b.sgtMapped
	}

	return b.mapped
}

// BufferRegistry owns the handles of every buffer lent to hardware. Pools
// and transmit rings sharing a portal share one registry.
type BufferRegistry struct {
	mu      sync.RWMutex
	handles *handlePool
	buffers map[uint64]*PacketBuffer
}

func NewBufferRegistry() *BufferRegistry {
	return &BufferRegistry{
		handles: newHandlePool(),
		buffers: make(map[uint64]*PacketBuffer),
	}
}

// Register gives buf a handle unless it already has one.
func (r *BufferRegistry) Register(buf *PacketBuffer) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if buf.handle == 0 {
		buf.handle = r.handles.get()
	}
	r.buffers[buf.handle] = buf

	return buf.handle
}

func (r *BufferRegistry) Unregister(buf *PacketBuffer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if buf.handle == 0 {
		return
	}
	delete(r.buffers, buf.handle)
	r.handles.put(buf.handle)
	buf.handle = 0
}

func (r *BufferRegistry) Lookup(handle uint64) (*PacketBuffer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	buf, ok := r.buffers[handle]

	return buf, ok
}

func (r *BufferRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.buffers)
}

// Resolve finds the buffer a bus address returned by hardware belongs to.
func (r *BufferRegistry) Resolve(mem dma.Resolver, paddr uint64) (*PacketBuffer, error) {
	area, err := mem.Bytes(paddr, frame.AnnotationAreaSize)
	if err != nil {
		return nil, err
	}
	ann := frame.DecodeAnnotation(area)
	if !ann.Valid() {
		return nil, qbmanErrors.ErrorBadAnnotation(paddr)
	}
	buf, ok := r.Lookup(ann.Handle)
	if !ok {
		return nil, qbmanErrors.ErrorBadAnnotation(paddr)
	}
	if buf.Paddr() != paddr {
		return nil, qbmanErrors.ErrorUnexpectedAddress(buf.Paddr(), paddr)
	}

	return buf, nil
}

func annotate(area []byte, handle, aux uint64) {
	ann := frame.Annotation{Magic: frame.AnnotationMagic, Handle: handle, Aux: aux}
	ann.Encode(area)
}
