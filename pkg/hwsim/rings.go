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
	"github.com/pawelgaczynski/qbman/pkg/frame"
	"github.com/pawelgaczynski/qbman/ring"
)

func (s *Sim) slotWindow() *Memory {
	if s.memBacked {
		return s.cena
	}

	return s.direct
}

// ConsumeEQCR takes up to n frames off the enqueue ring in ring order and
// advances the hardware consumer index. It returns how many were taken.
// Frames whose target has a route land on the routed channel.
func (s *Sim) ConsumeEQCR(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	mask := 2*s.eqSize - 1
	win := s.slotWindow()
	consumed := 0
	for consumed < n {
		if s.memBacked && s.eqCI == s.eqDoorbell {
			break
		}
		var raw [frame.Size]byte
		win.peek(ring.EQCR(s.eqCI&(s.eqSize-1)), raw[:])
		if raw[0]&frame.ValidBit != validBitFor(s.eqCI, s.eqSize) {
			break
		}
		desc, fd, dca := frame.DecodeEnqueue(raw[:])
		s.enqueued = append(s.enqueued, Enqueued{Desc: desc, FD: fd, DCA: dca})
		if dca&frame.ValidBit != 0 {
			s.consumeDQRR(uint32(dca) & (s.dqSize - 1))
		}
		if channelID, ok := s.routes[desc.TargetID]; ok {
			s.addToChannel(channelID, Entry{FQID: desc.TargetID, Ctx: s.fqCtx[desc.TargetID], FD: fd})
		}
		s.eqCI = (s.eqCI + 1) & mask
		consumed++
	}
	s.cinh.poke32(ring.CINHEQCRCI, s.eqCI)
	s.cena.poke32(ring.CENAEQCRCIMemBack, s.eqCI)
	if consumed > 0 {
		s.raise(ring.IRQEnqueueDone)
	}

	return consumed
}

// Enqueued returns every frame taken off the enqueue ring so far.
func (s *Sim) Enqueued() []Enqueued {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Enqueued(nil), s.enqueued...)
}

// PushDQRR writes an entry into the next dequeue ring slot. It reports false
// when the ring is full.
func (s *Sim) PushDQRR(entry [frame.Size]byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pushDQRR(entry)
}

// PushFrame pushes a frame dequeue entry for a frame queue.
func (s *Sim) PushFrame(fqid uint32, ctx uint64, fd frame.FrameDescriptor) bool {
	resp := frame.DequeueResponse{
		Verb:   frame.ResultFrameDequeue,
		Stat:   frame.StatValidFrame,
		FQID:   fqid,
		FQDCtx: ctx,
		FD:     fd,
	}
	var raw [frame.Size]byte
	resp.Encode(raw[:])

	return s.PushDQRR(raw)
}

func (s *Sim) pushDQRR(entry [frame.Size]byte) bool {
	if ring.CycleDistance(s.dqSize, s.dqCI, s.dqPI) >= s.dqSize {
		return false
	}
	slot := s.dqPI & (s.dqSize - 1)
	s.writeDQRR(slot, entry, validBitFor(s.dqPI, s.dqSize))

	s.dqPI = (s.dqPI + 1) & (2*s.dqSize - 1)
	s.cinh.poke32(ring.CINHDQPI, s.dqPI)
	s.raise(ring.IRQDequeueRing)

	return true
}

func (s *Sim) writeDQRR(slot uint32, entry [frame.Size]byte, vb uint8) {
	offset := ring.DQRR(slot)
	if s.memBacked {
		offset = ring.DQRRMem(slot)
	}
	win := s.slotWindow()
	win.poke(offset+1, entry[1:])
	win.poke(offset, []byte{entry[0]&^frame.ValidBit | vb})
}

// StaleContext marks the frame queue context of stale dequeue ring entries.
const StaleContext uint64 = 0x57a1e

func (s *Sim) fillStaleDQRR() {
	resp := frame.DequeueResponse{
		Verb:   frame.ResultFrameDequeue,
		Stat:   frame.StatValidFrame,
		FQDCtx: StaleContext,
	}
	var raw [frame.Size]byte
	resp.Encode(raw[:])
	for slot := uint32(0); slot < s.dqSize; slot++ {
		s.writeDQRR(slot, raw, frame.ValidBit)
	}
}

func (s *Sim) consumeDQRR(idx uint32) {
	s.dcap = append(s.dcap, idx)
	if s.dqCI != s.dqPI {
		s.dqCI = (s.dqCI + 1) & (2*s.dqSize - 1)
	}
	s.cinh.poke32(ring.CINHDCAP, s.dqCI)
}

// DCAPLog returns the dequeue ring indices acknowledged so far.
func (s *Sim) DCAPLog() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]uint32(nil), s.dcap...)
}

// DequeuePending is the number of dequeue ring entries not yet acknowledged.
func (s *Sim) DequeuePending() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return ring.CycleDistance(s.dqSize, s.dqCI, s.dqPI)
}
