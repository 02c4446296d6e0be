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

package ring_test

import (
	"testing"

	"github.com/pawelgaczynski/qbman/pkg/frame"
	"github.com/pawelgaczynski/qbman/pkg/hwsim"
	"github.com/pawelgaczynski/qbman/ring"
	. "github.com/stretchr/testify/require"
)

func TestNewRejectsInvalidSizes(t *testing.T) {
	for _, size := range []uint32{0, 2, 3, 6, 12, 64} {
		Panics(t, func() { ring.New(ring.EnqueueRing, size) }, "size %d", size)
	}
	for _, size := range []uint32{4, 8, 16, 32} {
		r := ring.New(ring.EnqueueRing, size)
		Equal(t, size, r.Credit())
		Equal(t, frame.ValidBit, r.ValidBit())
	}
}

func TestReserveWithinCapacityAcceptsEverything(t *testing.T) {
	r := ring.New(ring.EnqueueRing, 8)
	var accepted uint32
	for _, n := range []uint32{1, 3, 2, 2} {
		got := r.Reserve(n)
		for i := uint32(0); i < got; i++ {
			r.Publish()
		}
		accepted += got
	}
	Equal(t, uint32(8), accepted)
	Equal(t, uint32(0), r.Credit())
	Equal(t, uint32(0), r.Reserve(1))
}

func TestPublishFlipsValidBitOncePerTraversal(t *testing.T) {
	for _, size := range []uint32{4, 8, 32} {
		r := ring.New(ring.EnqueueRing, size)
		before := r.ValidBit()
		r.Reserve(size)
		for i := uint32(0); i < size; i++ {
			slot, vb := r.Publish()
			Equal(t, i, slot)
			Equal(t, before, vb)
		}
		NotEqual(t, before, r.ValidBit())
		Equal(t, size, r.ProducerIndex())
	}
}

func TestPublishWithoutReservationPanics(t *testing.T) {
	r := ring.New(ring.ReleaseRing, 8)
	Panics(t, func() { r.Publish() })
}

func TestAdvanceConsumer(t *testing.T) {
	r := ring.New(ring.DequeueRing, 8)
	ci, vb := r.ConsumerIndex(), r.ValidBit()

	for i := 0; i < 8; i++ {
		r.AdvanceConsumer()
	}
	Equal(t, ci, r.ConsumerIndex())
	Equal(t, vb^frame.ValidBit, r.ValidBit())

	for i := 0; i < 8; i++ {
		r.AdvanceConsumer()
	}
	Equal(t, ci, r.ConsumerIndex())
	Equal(t, vb, r.ValidBit())

	Panics(t, func() { ring.New(ring.EnqueueRing, 8).AdvanceConsumer() })
}

func TestRefreshCredit(t *testing.T) {
	r := ring.New(ring.EnqueueRing, 8)
	r.Reserve(8)
	for i := 0; i < 8; i++ {
		r.Publish()
	}
	Equal(t, uint32(0), r.Credit())

	Equal(t, uint32(3), r.RefreshCredit(3))
	Equal(t, uint32(3), r.Credit())
	Equal(t, uint32(5), r.RefreshCredit(8))
	Equal(t, uint32(8), r.Credit())

	Panics(t, func() { r.RefreshCredit(9) })
}

func TestRefreshCreditAcrossIndexWrap(t *testing.T) {
	r := ring.New(ring.EnqueueRing, 4)
	r.Restore(14, 14)
	r.Reserve(4)
	for i := 0; i < 4; i++ {
		r.Publish()
	}
	Equal(t, uint32(2), r.ProducerIndex())
	Equal(t, uint32(3), r.RefreshCredit(1))
}

func TestRestore(t *testing.T) {
	r := ring.New(ring.EnqueueRing, 8)
	r.Restore(13, 10)
	Equal(t, uint32(13), r.ProducerIndex())
	Equal(t, uint32(10), r.ConsumerIndex())
	Equal(t, uint32(5), r.Credit())
	Equal(t, uint8(0), r.ValidBit())

	r.Restore(2, 14)
	Equal(t, uint32(4), r.Credit())
	Equal(t, frame.ValidBit, r.ValidBit())

	Panics(t, func() { r.Restore(10, 1) })
}

func TestRestoreConsumer(t *testing.T) {
	r := ring.New(ring.DequeueRing, 8)
	r.RestoreConsumer(11)
	Equal(t, uint32(3), r.ConsumerIndex())
	Equal(t, uint8(0), r.ValidBit())

	r.RestoreConsumer(5)
	Equal(t, uint32(5), r.ConsumerIndex())
	Equal(t, frame.ValidBit, r.ValidBit())
}

func TestFollow(t *testing.T) {
	r := ring.New(ring.ReleaseRing, 8)
	r.Follow(7, frame.ValidBit)
	Equal(t, uint32(8), r.ProducerIndex())
	Equal(t, uint8(0), r.ValidBit())

	r.Follow(7, 0)
	Equal(t, uint32(0), r.ProducerIndex())
	Equal(t, frame.ValidBit, r.ValidBit())
}

func TestCycleDistance(t *testing.T) {
	Equal(t, uint32(3), ring.CycleDistance(8, 2, 5))
	Equal(t, uint32(0), ring.CycleDistance(8, 5, 5))
	Equal(t, uint32(3), ring.CycleDistance(8, 14, 1))
	Equal(t, uint32(8), ring.CycleDistance(8, 8, 0))
}

func TestWriteSlotOrdersBodyBarrierVerb(t *testing.T) {
	mem := hwsim.NewMemory(ring.CENASize)
	mem.Record(true)

	var f [frame.Size]byte
	for i := range f {
		f[i] = byte(i)
	}
	f[0] = 0x16
	ring.WriteSlot(mem, ring.EQCR(2), &f, frame.ValidBit)

	log := mem.Log()
	Len(t, log, 3)
	Equal(t, hwsim.Access{Offset: ring.EQCR(2) + 1, Width: frame.Size - 1}, log[0])
	True(t, log[1].Barrier)
	Equal(t, hwsim.Access{Offset: ring.EQCR(2), Width: 1}, log[2])
	Equal(t, uint8(0x96), mem.Read8(ring.EQCR(2)))
}

func TestPollSlotRoundTrip(t *testing.T) {
	mem := hwsim.NewMemory(ring.CENASize)

	fd := frame.FrameDescriptor{Addr: 0x8_0000_1000, Len: 1500, BPIDIvpBmt: 7}
	fd.SetLayout(64, frame.FormatSingle)
	slot := frame.EncodeEnqueue(&frame.EnqueueDescriptor{TargetID: 42}, &fd)

	_, ok := ring.PollSlot(mem, ring.EQCR(1), frame.ValidBit)
	False(t, ok)

	ring.WriteSlot(mem, ring.EQCR(1), &slot, frame.ValidBit)
	got, ok := ring.PollSlot(mem, ring.EQCR(1), frame.ValidBit)
	True(t, ok)
	Equal(t, slot[1:], got[1:])
	_, decoded, _ := frame.DecodeEnqueue(got[:])
	Equal(t, fd, decoded)

	_, ok = ring.PollSlot(mem, ring.EQCR(1), 0)
	False(t, ok)
}

func TestDetector(t *testing.T) {
	Equal(t, ring.ValidBitMode, ring.NewDetector(ring.Rev4100).Mode())
	Equal(t, ring.ValidBitMode, ring.NewDetector(ring.Rev5000).Mode())

	d := ring.NewDetector(ring.Rev4000)
	Equal(t, ring.ProducerIndexFallback, d.Mode())

	False(t, d.Pending(0, 0, 4))
	True(t, d.Pending(1, 0, 4))
	True(t, d.Pending(3, 1, 4))
	True(t, d.Pending(3, 2, 4))
	Equal(t, ring.ProducerIndexFallback, d.Mode())
	True(t, d.Pending(4, 3, 4))
	Equal(t, ring.ValidBitMode, d.Mode())

	False(t, d.Pending(7, 0, 4))
	Equal(t, ring.ValidBitMode, d.Mode())

	// A ring filled before the first read is full, not empty.
	d = ring.NewDetector(ring.Rev4000)
	True(t, d.Pending(4, 0, 4))
	False(t, d.Pending(4, 4, 4))
	Equal(t, ring.ProducerIndexFallback, d.Mode())
}

func TestConsumerFullIndex(t *testing.T) {
	r := ring.New(ring.DequeueRing, 4)
	for i := uint32(0); i < 8; i++ {
		Equal(t, i, r.ConsumerFullIndex())
		r.AdvanceConsumer()
	}
	Equal(t, uint32(0), r.ConsumerFullIndex())

	r.RestoreConsumer(6)
	Equal(t, uint32(6), r.ConsumerFullIndex())
}

func TestRevisionSizes(t *testing.T) {
	Equal(t, uint32(8), ring.EnqueueRingSize(ring.Rev4000))
	Equal(t, uint32(8), ring.EnqueueRingSize(ring.Rev4100))
	Equal(t, uint32(32), ring.EnqueueRingSize(ring.Rev5000))
	Equal(t, uint32(4), ring.DequeueRingSize(ring.Rev4000))
	Equal(t, uint32(8), ring.DequeueRingSize(ring.Rev4100|0x1234))
	True(t, ring.HasDequeueResetBug(ring.Rev4000))
	False(t, ring.HasDequeueResetBug(ring.Rev4100))
	Equal(t, "5.0", ring.RevisionString(ring.Rev5000))
}

func TestSelectWritePath(t *testing.T) {
	cena, cinh := hwsim.NewMemory(ring.CENASize), hwsim.NewMemory(ring.CINHSize)
	w := ring.Windows{CENA: cena, CINH: cinh}

	inhibited := ring.SelectWritePath(ring.Rev4000, w)
	Equal(t, "cache-inhibited", inhibited.Name())
	win, off := inhibited.CommandSlot()
	Same(t, cinh, win)
	Equal(t, ring.CENACR, off)

	enabled := ring.SelectWritePath(ring.Rev4100, w)
	Equal(t, "cache-enabled", enabled.Name())
	False(t, enabled.MemoryBacked())
	win, off = enabled.EnqueueSlot(3)
	Same(t, cena, win)
	Equal(t, ring.EQCR(3), off)

	backed := ring.SelectWritePath(ring.Rev5000, w)
	Equal(t, "memory-backed", backed.Name())
	True(t, backed.MemoryBacked())
	win, off = backed.DequeueSlot(2)
	Same(t, cena, win)
	Equal(t, ring.DQRRMem(2), off)

	cinh.Record(true)
	backed.EnqueueDoorbell(5, frame.ValidBit)
	Equal(t, ring.RTMode|5|uint32(frame.ValidBit), cinh.Read32(ring.CINHEQCRPI))
	backed.ReleaseDoorbell(3)
	Equal(t, ring.RTMode, cinh.Read32(ring.RCRDoorbell(3)))
	Equal(t, []hwsim.Access{
		{Offset: ring.CINHEQCRPI, Width: 4},
		{Offset: ring.RCRDoorbell(3), Width: 4},
	}, cinh.Log())
}

func TestRegisterEncodings(t *testing.T) {
	idx, vb, ok := ring.RAR(ring.EncodeRAR(5, frame.ValidBit, true))
	Equal(t, uint32(5), idx)
	Equal(t, frame.ValidBit, vb)
	True(t, ok)
	_, _, ok = ring.RAR(ring.EncodeRAR(1, 0, false))
	False(t, ok)

	Equal(t, uint32(0x21bb0000), ring.SDQCRBase)
	Equal(t, uint32(0x0005), ring.SDQCRSources(ring.SDQCRBase|0x5))

	cfg := ring.Config{DQRRMaxFill: 8, WriteNonCached: true, RCRMode: 1, DequeueAck: 1, EQCRMode: 2}
	Equal(t, uint32(8<<20|1<<14|1<<12|1<<10|2<<8), cfg.Encode())
	cfg.MemoryBacked = true
	Equal(t, uint32(8<<20|1<<15|1<<14|1<<13|1<<12|1<<10|2<<8), cfg.Encode())
}
