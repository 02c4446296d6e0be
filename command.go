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
	"fmt"
	"math"

	qbmanErrors "github.com/pawelgaczynski/qbman/pkg/errors"
	"github.com/pawelgaczynski/qbman/pkg/frame"
	"github.com/pawelgaczynski/qbman/ring"
)

// inquiry commands only read hardware state; overrun and underrun results
// on them still carry a usable answer.
func inquiry(cmd uint8) bool {
	return cmd == frame.CmdQueryBufferPool || cmd == frame.CmdQueryFrameQueue
}

// exchange issues one management command and waits for its response. It
// must be called with the portal locked.
func (p *Portal) exchange(id uint8, cmd [frame.Size]byte) (frame.Response, error) {
	token := p.nextToken()
	cmd[0] = id
	cmd[frame.CommandTokenOffset] = token

	vb := p.crVB
	win, offset := p.path.CommandSlot()
	ring.WriteSlot(win, offset, &cmd, vb)
	p.crVB ^= frame.ValidBit
	p.path.CommandDoorbell()

	var resp frame.Response
	rwin, roffset := p.path.ResponseSlot(vb)
	attempts, done := p.config.CommandRetry.Do(p.config.Clock, func() bool {
		if p.path.MemoryBacked() {
			raw, ok := ring.PollSlot(rwin, roffset, p.rrVB)
			if ok {
				// Every response written to the slot is consumed, including
				// late answers to commands that already timed out.
				p.rrVB ^= frame.ValidBit
				if raw[frame.ResponseTokenOffset] != token {
					p.logDebug().Uint8("token", raw[frame.ResponseTokenOffset]).Msg("Stale command response skipped")

					return false
				}
				resp = frame.DecodeResponse(raw[:])

				return true
			}
			// A late answer overwritten by ours before it was seen leaves the
			// slot one valid bit ahead.
			raw, ok = ring.PollSlot(rwin, roffset, p.rrVB^frame.ValidBit)
			if !ok || raw[frame.ResponseTokenOffset] != token || raw[0]&^frame.ValidBit != id {
				return false
			}
			resp = frame.DecodeResponse(raw[:])

			return true
		}
		raw := ring.ReadSlot(rwin, roffset)
		if raw[0]&^frame.ValidBit == 0 || raw[frame.ResponseTokenOffset] != token {
			return false
		}
		resp = frame.DecodeResponse(raw[:])

		return true
	})
	if !done {
		p.metrics.commandTimeouts.Inc(1)
		p.logWarn().Str("command", frame.CommandName(id)).Int("attempts", attempts).Msg("Management command timed out")

		return resp, qbmanErrors.ErrorTimeout(frame.CommandName(id), attempts)
	}
	if resp.Command() != id {
		p.metrics.commandFailures.Inc(1)

		return resp, qbmanErrors.ErrorInvalidState(frame.CommandName(id), fmt.Sprintf("response verb %#x", resp.Verb))
	}
	switch {
	case resp.Result == frame.ResultOK:
	case inquiry(id) && (resp.Result == frame.ResultOverrun || resp.Result == frame.ResultUnderrun):
		p.logDebug().Str("command", frame.CommandName(id)).Uint8("result", resp.Result).Msg("Benign command result")
	default:
		p.metrics.commandFailures.Inc(1)
		err := &qbmanErrors.CommandError{Command: id, Result: resp.Result}
		p.logWarn().Err(err).Msg("Management command failed")

		return resp, err
	}

	return resp, nil
}

// ConfigureChannelNotification arms or disarms the data availability
// notification of a channel. ctx comes back with the notification.
func (p *Portal) ConfigureChannelNotification(channelID uint32, enable bool, ctx uint64) error {
	if channelID > math.MaxUint16 {
		return qbmanErrors.ErrorInvalidArgument("channel id", int(channelID))
	}
	if err := p.lock(); err != nil {
		return err
	}
	defer p.mu.Unlock()

	_, err := p.exchange(frame.CmdConfigureChannel, frame.EncodeChannelNotification(&frame.ChannelNotification{
		ChannelID: uint16(channelID),
		Enable:    enable,
		Ctx:       ctx,
	}))

	return err
}

func (p *Portal) QueryBufferPool(poolID uint16) (frame.BufferPoolQuery, error) {
	if err := p.lock(); err != nil {
		return frame.BufferPoolQuery{}, err
	}
	defer p.mu.Unlock()

	resp, err := p.exchange(frame.CmdQueryBufferPool, frame.EncodeQueryBufferPool(poolID))
	if err != nil {
		return frame.BufferPoolQuery{}, err
	}

	return resp.BufferPoolQuery(), nil
}

func (p *Portal) QueryFrameQueue(fqid uint32) (frame.FrameQueueQuery, error) {
	if err := p.lock(); err != nil {
		return frame.FrameQueueQuery{}, err
	}
	defer p.mu.Unlock()

	resp, err := p.exchange(frame.CmdQueryFrameQueue, frame.EncodeQueryFrameQueue(fqid))
	if err != nil {
		return frame.FrameQueueQuery{}, err
	}

	return resp.FrameQueueQuery(), nil
}

// AcquireBuffers takes up to count free buffers out of a pool. Fewer, or
// none, are returned when the pool runs dry.
func (p *Portal) AcquireBuffers(poolID uint16, count int) ([]uint64, error) {
	if count < 1 || count > frame.MaxReleaseBuffers {
		return nil, qbmanErrors.ErrorInvalidArgument("count", count)
	}
	if err := p.lock(); err != nil {
		return nil, err
	}
	defer p.mu.Unlock()

	resp, err := p.exchange(frame.CmdAcquire, frame.EncodeAcquire(poolID, count))
	if err != nil {
		return nil, err
	}

	return resp.AcquiredBuffers(), nil
}

// ReleaseBuffers hands up to frame.MaxReleaseBuffers buffers to a pool. It
// returns ErrBusy when no release ring slot is available.
func (p *Portal) ReleaseBuffers(poolID uint16, addrs []uint64) error {
	if len(addrs) == 0 || len(addrs) > frame.MaxReleaseBuffers {
		return qbmanErrors.ErrorInvalidArgument("buffers", len(addrs))
	}
	if err := p.lock(); err != nil {
		return err
	}
	defer p.mu.Unlock()

	idx, vb, ok := ring.RAR(p.cinh.Read32(ring.CINHRAR))
	if !ok {
		return qbmanErrors.ErrBusy
	}
	cmd := frame.EncodeRelease(poolID, addrs)
	win, offset := p.path.ReleaseSlot(idx)
	ring.WriteSlot(win, offset, &cmd, vb)
	p.rcr.Follow(idx, vb)
	p.path.ReleaseDoorbell(idx)

	return nil
}
