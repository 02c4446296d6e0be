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

package hwsim

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
)

// Access is one recorded store, or a barrier.
type Access struct {
	Offset  uint32
	Width   int
	Barrier bool
}

type (
	writeHook func(offset uint32, width int)
	readHook  func(offset uint32) (uint32, bool)
)

// Memory is a byte addressable register window living in process memory.
// Stores can be recorded and observed by hooks, which is how the simulator
// reacts to verb bytes and doorbells. Accesses after Close are ignored and
// counted as violations.
type Memory struct {
	mu         sync.Mutex
	data       []byte
	record     bool
	log        []Access
	onWrite    writeHook
	onRead     readHook
	closed     atomic.Bool
	violations atomic.Int64
}

func NewMemory(size int) *Memory {
	return &Memory{data: make([]byte, size)}
}

// Record starts or stops recording stores.
func (m *Memory) Record(on bool) {
	m.mu.Lock()
	m.record = on
	m.log = nil
	m.mu.Unlock()
}

// Log returns the stores recorded since Record(true).
func (m *Memory) Log() []Access {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Access(nil), m.log...)
}

func (m *Memory) Violations() int64 {
	return m.violations.Load()
}

func (m *Memory) Closed() bool {
	return m.closed.Load()
}

func (m *Memory) alive() bool {
	if m.closed.Load() {
		m.violations.Add(1)

		return false
	}

	return true
}

func (m *Memory) store(offset uint32, src []byte, notify bool) {
	if !m.alive() {
		return
	}
	m.mu.Lock()
	copy(m.data[offset:], src)
	if m.record {
		m.log = append(m.log, Access{Offset: offset, Width: len(src)})
	}
	hook := m.onWrite
	m.mu.Unlock()
	if notify && hook != nil {
		hook(offset, len(src))
	}
}

func (m *Memory) load(offset uint32, dst []byte) {
	if !m.alive() {
		return
	}
	m.mu.Lock()
	copy(dst, m.data[offset:offset+uint32(len(dst))])
	m.mu.Unlock()
}

func (m *Memory) Read8(offset uint32) uint8 {
	var b [1]byte
	m.load(offset, b[:])

	return b[0]
}

func (m *Memory) Write8(offset uint32, value uint8) {
	m.store(offset, []byte{value}, true)
}

func (m *Memory) Read32(offset uint32) uint32 {
	checkAlignment(offset, 4)
	m.mu.Lock()
	hook := m.onRead
	m.mu.Unlock()
	if hook != nil && !m.closed.Load() {
		if value, ok := hook(offset); ok {
			return value
		}
	}
	var b [4]byte
	m.load(offset, b[:])

	return binary.LittleEndian.Uint32(b[:])
}

func (m *Memory) Write32(offset uint32, value uint32) {
	checkAlignment(offset, 4)
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], value)
	m.store(offset, b[:], true)
}

func (m *Memory) Read64(offset uint32) uint64 {
	checkAlignment(offset, 8)
	var b [8]byte
	m.load(offset, b[:])

	return binary.LittleEndian.Uint64(b[:])
}

func (m *Memory) Write64(offset uint32, value uint64) {
	checkAlignment(offset, 8)
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], value)
	m.store(offset, b[:], true)
}

func (m *Memory) ReadBlock(offset uint32, dst []byte) {
	m.load(offset, dst)
}

func (m *Memory) WriteBlock(offset uint32, src []byte) {
	m.store(offset, src, true)
}

func (m *Memory) Barrier() {
	if !m.alive() {
		return
	}
	m.mu.Lock()
	if m.record {
		m.log = append(m.log, Access{Offset: 0, Barrier: true})
	}
	m.mu.Unlock()
}

func (m *Memory) Size() int {
	return len(m.data)
}

func (m *Memory) Close() error {
	m.closed.Store(true)

	return nil
}

// poke writes without recording or notifying; hardware side stores use it.
func (m *Memory) poke(offset uint32, src []byte) {
	m.mu.Lock()
	copy(m.data[offset:], src)
	m.mu.Unlock()
}

func (m *Memory) poke32(offset uint32, value uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], value)
	m.poke(offset, b[:])
}

func (m *Memory) peek(offset uint32, dst []byte) {
	m.mu.Lock()
	copy(dst, m.data[offset:offset+uint32(len(dst))])
	m.mu.Unlock()
}

func (m *Memory) peek32(offset uint32) uint32 {
	var b [4]byte
	m.peek(offset, b[:])

	return binary.LittleEndian.Uint32(b[:])
}

func checkAlignment(offset uint32, width uint32) {
	if offset%width != 0 {
		panic(fmt.Sprintf("hwsim: unaligned %d byte access at %#x", width, offset))
	}
}
