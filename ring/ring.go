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

package ring

import (
	"fmt"

	"github.com/pawelgaczynski/qbman/pkg/frame"
)

type Kind uint8

const (
	EnqueueRing Kind = iota
	DequeueRing
	ReleaseRing
)

func (k Kind) String() string {
	switch k {
	case EnqueueRing:
		return "EQCR"
	case DequeueRing:
		return "DQRR"
	case ReleaseRing:
		return "RCR"
	}

	return fmt.Sprintf("ring kind %d", k)
}

const (
	MinSize = 4
	MaxSize = 32

	// SlotSize is the distance between consecutive ring slots.
	SlotSize = frame.Size
)

// Ring is the software shadow of one hardware ring.
//
// Producer rings keep both indices in the doubled index space [0, 2*size):
// the bit above the slot index mirrors the valid bit, which lets a full ring
// be told apart from an empty one. The dequeue ring is a consumer ring: its
// consumer index stays in [0, size) and the valid bit is tracked separately.
type Ring struct {
	kind     Kind
	size     uint32
	pi       uint32
	ci       uint32
	vb       uint8
	credit   uint32
	reserved uint32
}

func New(kind Kind, size uint32) *Ring {
	if size < MinSize || size > MaxSize || size&(size-1) != 0 {
		panic(fmt.Sprintf("ring: invalid %s size %d", kind, size))
	}

	return &Ring{
		kind:   kind,
		size:   size,
		vb:     frame.ValidBit,
		credit: size,
	}
}

func (r *Ring) Kind() Kind {
	return r.kind
}

func (r *Ring) Size() uint32 {
	return r.size
}

// FullMask masks an index into the doubled index space.
func (r *Ring) FullMask() uint32 {
	return r.size<<1 - 1
}

// HalfMask masks an index into a slot number.
func (r *Ring) HalfMask() uint32 {
	return r.size - 1
}

func (r *Ring) ProducerIndex() uint32 {
	return r.pi
}

func (r *Ring) ConsumerIndex() uint32 {
	return r.ci
}

// ConsumerFullIndex is the consumer index of a consumer ring in the doubled
// index space.
func (r *Ring) ConsumerFullIndex() uint32 {
	if r.vb == 0 {
		return r.ci | r.size
	}

	return r.ci
}

func (r *Ring) ValidBit() uint8 {
	return r.vb
}

func (r *Ring) Credit() uint32 {
	return r.credit
}

func (r *Ring) validBitFor(index uint32) uint8 {
	if index&r.size == 0 {
		return frame.ValidBit
	}

	return 0
}

// CycleDistance is the number of steps from first to last in the doubled
// index space of a ring with size slots.
func CycleDistance(size, first, last uint32) uint32 {
	if first <= last {
		return last - first
	}

	return 2*size - (first - last)
}

// Restore rehydrates a producer ring from live hardware indices, both given
// in the doubled index space.
func (r *Ring) Restore(pi, ci uint32) {
	r.pi = pi & r.FullMask()
	r.ci = ci & r.FullMask()
	distance := CycleDistance(r.size, r.ci, r.pi)
	if distance > r.size {
		panic(fmt.Sprintf("ring: %s distance %d exceeds size %d (pi %d, ci %d)", r.kind, distance, r.size, r.pi, r.ci))
	}
	r.credit = r.size - distance
	r.reserved = 0
	r.vb = r.validBitFor(r.pi)
}

// RestoreConsumer rehydrates a consumer ring from the hardware's extended
// consumer index.
func (r *Ring) RestoreConsumer(extended uint32) {
	r.ci = extended & r.HalfMask()
	r.vb = r.validBitFor(extended)
}

// AdvanceConsumer frees the slot at the consumer index and flips the valid
// bit when the index wraps.
func (r *Ring) AdvanceConsumer() {
	if r.kind != DequeueRing {
		panic(fmt.Sprintf("ring: advance consumer on %s", r.kind))
	}
	r.ci++
	if r.ci == r.size {
		r.ci = 0
		r.vb ^= frame.ValidBit
	}
}

// RefreshCredit adopts the hardware consumer index and returns the number of
// slots freed since the previous refresh.
func (r *Ring) RefreshCredit(hwCI uint32) uint32 {
	previous := r.ci
	r.ci = hwCI & r.FullMask()
	freed := CycleDistance(r.size, previous, r.ci)
	if r.credit+r.reserved+freed > r.size {
		panic(fmt.Sprintf("ring: %s credit %d exceeds size %d", r.kind, r.credit+r.reserved+freed, r.size))
	}
	r.credit += freed

	return freed
}

// Reserve takes up to n slots of credit and returns how many were taken.
func (r *Ring) Reserve(n uint32) uint32 {
	if n > r.credit {
		n = r.credit
	}
	r.credit -= n
	r.reserved += n

	return n
}

// Publish consumes one reserved slot. It returns the slot number and the
// valid bit its verb must carry.
func (r *Ring) Publish() (uint32, uint8) {
	if r.reserved == 0 {
		panic(fmt.Sprintf("ring: %s publish without reservation", r.kind))
	}
	r.reserved--
	slot, vb := r.pi&r.HalfMask(), r.vb
	r.pi = (r.pi + 1) & r.FullMask()
	if r.pi&r.HalfMask() == 0 {
		r.vb ^= frame.ValidBit
	}

	return slot, vb
}

// Follow moves the producer index past a slot the hardware allocated itself.
func (r *Ring) Follow(slot uint32, vb uint8) {
	index := slot & r.HalfMask()
	if vb == 0 {
		index |= r.size
	}
	r.pi = (index + 1) & r.FullMask()
	r.vb = r.validBitFor(r.pi)
}
