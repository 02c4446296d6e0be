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
	"fmt"

	qbmanErrors "github.com/pawelgaczynski/qbman/pkg/errors"
	"github.com/pawelgaczynski/qbman/pkg/frame"
	"github.com/pawelgaczynski/qbman/ring"
)

const pullStat = frame.StatValidFrame | frame.StatVolatile

func (s *Sim) channel(channelID uint32) *channelState {
	ch, ok := s.channels[channelID]
	if !ok {
		ch = &channelState{}
		s.channels[channelID] = ch
	}

	return ch
}

// EnqueueToChannel makes a frame available on a channel.
func (s *Sim) EnqueueToChannel(channelID uint32, entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.addToChannel(channelID, entry)
}

func (s *Sim) addToChannel(channelID uint32, entry Entry) {
	ch := s.channel(channelID)
	ch.queue = append(ch.queue, entry)
	if ch.armed {
		s.notify(channelID, ch)
	}
}

// notify delivers a data availability notification for a channel and disarms
// it. The notification stays pending while the dequeue ring is full.
func (s *Sim) notify(channelID uint32, ch *channelState) {
	n := frame.Notification{
		Verb:   frame.ResultCDAN,
		RIDTok: channelID,
		Ctx:    ch.ctx,
	}
	var raw [frame.Size]byte
	n.Encode(raw[:])
	if s.pushDQRR(raw) {
		ch.armed = false
	}
}

// Route delivers frames enqueued to a frame queue onto a channel.
func (s *Sim) Route(fqid, channelID uint32) {
	s.mu.Lock()
	s.routes[fqid] = channelID
	s.mu.Unlock()
}

// SetFrameQueueContext sets the context returned with frames of a frame queue.
func (s *Sim) SetFrameQueueContext(fqid uint32, ctx uint64) {
	s.mu.Lock()
	s.fqCtx[fqid] = ctx
	s.mu.Unlock()
}

// ChannelNotification reports whether a channel is armed for notification
// and its context.
func (s *Sim) ChannelNotification(channelID uint32) (bool, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := s.channel(channelID)

	return ch.armed, ch.ctx
}

// Pending is the number of frames waiting on a channel.
func (s *Sim) Pending(channelID uint32) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.channel(channelID).queue)
}

// StallPulls stops the simulator from answering volatile dequeue commands.
func (s *Sim) StallPulls(stall bool) {
	s.mu.Lock()
	s.stallPulls = stall
	s.mu.Unlock()
}

// Pulls returns every volatile dequeue command received.
func (s *Sim) Pulls() []frame.PullCommand {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]frame.PullCommand(nil), s.pulls...)
}

// PullErrors counts volatile dequeue commands whose storage could not be
// resolved.
func (s *Sim) PullErrors() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pullErrors
}

func (s *Sim) pull(win *Memory, offset uint32) {
	var raw [frame.Size]byte
	win.peek(offset, raw[:])
	if raw[0]&frame.ValidBit != s.vdqVB {
		return
	}
	s.vdqVB ^= frame.ValidBit
	cmd := frame.DecodePull(raw[:])
	s.pulls = append(s.pulls, cmd)
	if s.stallPulls {
		return
	}
	if s.cfg.Resolver == nil {
		s.pullErrors++

		return
	}
	storage, err := s.cfg.Resolver.Bytes(cmd.RspAddr, cmd.Frames*frame.Size)
	if err != nil {
		s.pullErrors++

		return
	}

	ch := s.channel(cmd.SourceID)
	count := cmd.Frames
	if count > len(ch.queue) {
		count = len(ch.queue)
	}
	if count == 0 {
		resp := frame.DequeueResponse{
			Verb:  frame.ResultFrameDequeue,
			Stat:  frame.StatExpired | frame.StatFQEmpty | frame.StatVolatile,
			Token: cmd.Token,
		}
		resp.Encode(storage[:frame.Size])
		s.raise(ring.IRQVolatileDone)

		return
	}
	for i := 0; i < count; i++ {
		entry := ch.queue[i]
		resp := frame.DequeueResponse{
			Verb:   frame.ResultFrameDequeue,
			Stat:   pullStat,
			Token:  cmd.Token,
			FQID:   entry.FQID,
			FQDCtx: entry.Ctx,
			FD:     entry.FD,
		}
		if i == count-1 {
			resp.Stat |= frame.StatExpired
			if count == len(ch.queue) {
				resp.Stat |= frame.StatFQEmpty
			}
		}
		resp.FQFrmCnt = uint32(len(ch.queue) - i - 1)
		resp.Encode(storage[i*frame.Size : (i+1)*frame.Size])
	}
	ch.queue = ch.queue[count:]
	s.raise(ring.IRQVolatileDone)
}

// ReceiveFrame plays the role of the network side: it takes a free buffer
// from a pool, writes payload into it and queues the frame on a channel.
func (s *Sim) ReceiveFrame(channelID, fqid uint32, poolID uint16, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.Resolver == nil {
		return fmt.Errorf("%w: no resolver", qbmanErrors.ErrInvalidConfig)
	}
	paddr, ok := s.takePoolBuffer(poolID)
	if !ok {
		return fmt.Errorf("%w, pool: %d", qbmanErrors.ErrPoolExhausted, poolID)
	}
	data, err := s.cfg.Resolver.Bytes(paddr+uint64(s.cfg.DataOffset), len(payload))
	if err != nil {
		s.pools[poolID] = append(s.pools[poolID], paddr)

		return err
	}
	copy(data, payload)

	fd := frame.FrameDescriptor{
		Addr:       paddr,
		Len:        uint32(len(payload)),
		BPIDIvpBmt: poolID,
	}
	fd.SetLayout(s.cfg.DataOffset, frame.FormatSingle)
	s.addToChannel(channelID, Entry{FQID: fqid, Ctx: s.fqCtx[fqid], FD: fd})

	return nil
}
