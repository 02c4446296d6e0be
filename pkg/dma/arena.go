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

package dma

import (
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	qbmanErrors "github.com/pawelgaczynski/qbman/pkg/errors"
	"github.com/pawelgaczynski/qbman/pkg/freelist"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	// DefaultBusBase is the bus address of the first byte of an arena.
	DefaultBusBase uint64 = 0x8_0000_0000
	// Alignment of every chunk handed out by an arena.
	Alignment = 64
)

var pageSize = os.Getpagesize()

func AdjustSize(size int) int {
	adjustedSize := math.Ceil(float64(size)/float64(pageSize)) * float64(pageSize)

	return int(adjustedSize)
}

// Arena is an anonymous memory mapping cut into equally sized chunks. It
// allocates, maps and resolves buffers with bus addresses at a fixed
// distance from their virtual addresses, which is what an identity-mapped
// IOMMU domain gives the device.
type Arena struct {
	mu        sync.Mutex
	mem       []byte
	base      uintptr
	busBase   uint64
	chunkSize int
	chunks    int
	free      *freelist.FreeList[int]
	allocated []bool
	mapped    map[uint64]struct{}
	syncs     uint64
}

func NewArena(chunkSize, chunks int) (*Arena, error) {
	return NewArenaAt(DefaultBusBase, chunkSize, chunks)
}

func NewArenaAt(busBase uint64, chunkSize, chunks int) (*Arena, error) {
	if chunkSize <= 0 || chunks <= 0 {
		return nil, fmt.Errorf("%w, chunk size: %d, chunks: %d", qbmanErrors.ErrInvalidArgument, chunkSize, chunks)
	}
	chunkSize = (chunkSize + Alignment - 1) &^ (Alignment - 1)
	mem, err := unix.Mmap(-1, 0, AdjustSize(chunkSize*chunks),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrapf(qbmanErrors.ErrNoMemory, "mmap: %v", err)
	}
	arena := &Arena{
		mem:       mem,
		base:      uintptr(unsafe.Pointer(&mem[0])),
		busBase:   busBase,
		chunkSize: chunkSize,
		chunks:    chunks,
		free:      freelist.New[int](),
		allocated: make([]bool, chunks),
		mapped:    make(map[uint64]struct{}),
	}
	for i := chunks - 1; i >= 0; i-- {
		arena.free.Put(i)
	}

	return arena, nil
}

func (a *Arena) ChunkSize() int {
	return a.chunkSize
}

func (a *Arena) offsetOf(buf []byte) (int, bool) {
	if len(buf) == 0 {
		return 0, false
	}
	ptr := uintptr(unsafe.Pointer(&buf[0]))
	if ptr < a.base || ptr >= a.base+uintptr(len(a.mem)) {
		return 0, false
	}

	return int(ptr - a.base), true
}

func (a *Arena) Alloc(size int) ([]byte, error) {
	if size <= 0 || size > a.chunkSize {
		return nil, qbmanErrors.ErrorInvalidArgument("size", size)
	}
	idx, ok := a.free.Take()
	if !ok {
		return nil, qbmanErrors.ErrNoMemory
	}
	a.mu.Lock()
	a.allocated[idx] = true
	a.mu.Unlock()
	off := idx * a.chunkSize

	return a.mem[off : off+size : off+a.chunkSize], nil
}

func (a *Arena) Free(buf []byte) {
	off, ok := a.offsetOf(buf)
	if !ok || off%a.chunkSize != 0 {
		panic("dma: free of a buffer outside of the arena")
	}
	idx := off / a.chunkSize
	a.mu.Lock()
	if !a.allocated[idx] {
		a.mu.Unlock()
		panic(fmt.Sprintf("dma: double free of chunk %d", idx))
	}
	a.allocated[idx] = false
	a.mu.Unlock()
	a.free.Put(idx)
}

func (a *Arena) Map(buf []byte) (uint64, error) {
	off, ok := a.offsetOf(buf)
	if !ok {
		return 0, fmt.Errorf("%w: buffer outside of the arena", qbmanErrors.ErrNoMemory)
	}
	paddr := a.busBase + uint64(off)
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.mapped[paddr]; ok {
		return 0, qbmanErrors.ErrorInvalidState("map", fmt.Sprintf("mapped at %#x", paddr))
	}
	a.mapped[paddr] = struct{}{}

	return paddr, nil
}

func (a *Arena) Unmap(paddr uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.mapped[paddr]; !ok {
		return fmt.Errorf("%w, paddr: %#x is not mapped", qbmanErrors.ErrUnexpectedAddress, paddr)
	}
	delete(a.mapped, paddr)

	return nil
}

// Sync is a barrier only. Arena memory is coherent with the CPU.
func (a *Arena) Sync(uint64, Direction) {
	atomic.AddUint64(&a.syncs, 1)
}

func (a *Arena) Syncs() uint64 {
	return atomic.LoadUint64(&a.syncs)
}

func (a *Arena) Mapped(paddr uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.mapped[paddr]

	return ok
}

func (a *Arena) MappedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.mapped)
}

func (a *Arena) Bytes(paddr uint64, n int) ([]byte, error) {
	if paddr < a.busBase || n < 0 || paddr-a.busBase+uint64(n) > uint64(len(a.mem)) {
		return nil, fmt.Errorf("%w, paddr: %#x, length: %d", qbmanErrors.ErrUnexpectedAddress, paddr, n)
	}
	off := paddr - a.busBase

	return a.mem[off : off+uint64(n)], nil
}

func (a *Arena) Close() error {
	if a.mem == nil {
		return nil
	}
	err := unix.Munmap(a.mem)
	a.mem = nil

	return err
}
