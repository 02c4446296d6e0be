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

// StallCommands stops the simulator from answering management commands.
func (s *Sim) StallCommands(stall bool) {
	s.mu.Lock()
	s.stallCommands = stall
	s.mu.Unlock()
}

// SetResult makes every following command with the given id answer result.
func (s *Sim) SetResult(cmd, result uint8) {
	s.mu.Lock()
	s.results[cmd] = result
	s.mu.Unlock()
}

// Commands returns the ids of every management command received.
func (s *Sim) Commands() []uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]uint8(nil), s.commands...)
}

func (s *Sim) command(win *Memory, offset uint32) {
	var cmd [frame.Size]byte
	win.peek(offset, cmd[:])
	if cmd[0]&frame.ValidBit != s.crVB {
		return
	}
	s.crVB ^= frame.ValidBit
	id := cmd[0] &^ frame.ValidBit
	s.commands = append(s.commands, id)
	if s.stallCommands {
		s.stalled = append(s.stalled, cmd)

		return
	}
	s.answer(cmd)
}

// AnswerStalled answers, in order, the commands that arrived while commands
// were stalled, as a queue manager that is merely slow would. It returns how
// many were answered.
func (s *Sim) AnswerStalled() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.stalled)
	for _, cmd := range s.stalled {
		s.answer(cmd)
	}
	s.stalled = nil

	return n
}

func (s *Sim) answer(cmd [frame.Size]byte) {
	id := cmd[0] &^ frame.ValidBit
	result := frame.ResultOK
	if override, ok := s.results[id]; ok {
		result = override
	}
	resp := frame.NewResponse(id, result, cmd[frame.CommandTokenOffset])

	switch id {
	case frame.CmdAcquire:
		poolID, count := frame.DecodeAcquire(cmd[:])
		free := s.pools[poolID]
		if count > len(free) {
			count = len(free)
		}
		frame.EncodeAcquireResult(&resp, free[:count])
		s.pools[poolID] = free[count:]
	case frame.CmdQueryBufferPool:
		poolID := frame.DecodeQueryBufferPool(cmd[:])
		frame.EncodeBufferPoolQueryResult(&resp, frame.BufferPoolQuery{Free: uint32(len(s.pools[poolID]))})
	case frame.CmdQueryFrameQueue:
		fqid := frame.DecodeQueryFrameQueue(cmd[:])
		frame.EncodeFrameQueueQueryResult(&resp, s.frameQueueState(fqid))
	case frame.CmdConfigureChannel:
		n := frame.DecodeChannelNotification(cmd[:])
		ch := s.channel(uint32(n.ChannelID))
		ch.armed, ch.ctx = n.Enable, n.Ctx
		if ch.armed && len(ch.queue) > 0 {
			s.notify(uint32(n.ChannelID), ch)
		}
	default:
		resp = frame.NewResponse(id, ResultUnknownCommand, cmd[frame.CommandTokenOffset])
	}

	if s.memBacked {
		resp[0] |= s.rrVB
		s.rrVB ^= frame.ValidBit
		s.cena.poke(ring.CENARRMem+1, resp[1:])
		s.cena.poke(ring.CENARRMem, resp[:1])

		return
	}
	rr := ring.RR(cmd[0] & frame.ValidBit)
	s.direct.poke(rr+1, resp[1:])
	s.direct.poke(rr, resp[:1])
}

func (s *Sim) frameQueueState(fqid uint32) frame.FrameQueueQuery {
	var q frame.FrameQueueQuery
	for _, ch := range s.channels {
		for i := range ch.queue {
			if ch.queue[i].FQID == fqid {
				q.Frames++
				q.Bytes += ch.queue[i].FD.Length()
			}
		}
	}

	return q
}

// SetRARBusy makes release slot allocation fail.
func (s *Sim) SetRARBusy(busy bool) {
	s.mu.Lock()
	s.rarBusy = busy
	s.mu.Unlock()
}

func (s *Sim) allocateRelease() uint32 {
	if s.rarBusy || s.rcrInFlight >= ring.ReleaseRingSize {
		return ring.EncodeRAR(0, 0, false)
	}
	idx := s.rcrAlloc & (ring.ReleaseRingSize - 1)
	vb := validBitFor(s.rcrAlloc, ring.ReleaseRingSize)
	s.rcrAlloc = (s.rcrAlloc + 1) & (2*ring.ReleaseRingSize - 1)
	s.rcrInFlight++
	s.cinh.poke32(ring.CINHRCRPI, s.rcrAlloc)

	return ring.EncodeRAR(idx, vb, true)
}

func (s *Sim) release(win *Memory, offset uint32) {
	var cmd [frame.Size]byte
	win.peek(offset, cmd[:])
	if cmd[0]&0x20 == 0 || s.rcrInFlight == 0 {
		return
	}
	s.rcrInFlight--
	s.releases++
	poolID, addrs := frame.DecodeRelease(cmd[:])
	s.pools[poolID] = append(s.pools[poolID], addrs...)
	s.raise(ring.IRQReleaseDone)
}

// Releases is the number of release commands processed.
func (s *Sim) Releases() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.releases
}

// PoolBuffers returns the free buffer addresses held by a pool.
func (s *Sim) PoolBuffers(poolID uint16) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]uint64(nil), s.pools[poolID]...)
}

// TakePoolBuffer removes the oldest free buffer of a pool, the way hardware
// does when a frame arrives.
func (s *Sim) TakePoolBuffer(poolID uint16) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.takePoolBuffer(poolID)
}

func (s *Sim) takePoolBuffer(poolID uint16) (uint64, bool) {
	free := s.pools[poolID]
	if len(free) == 0 {
		return 0, false
	}
	s.pools[poolID] = free[1:]

	return free[0], true
}
