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
	qbmanErrors "github.com/pawelgaczynski/qbman/pkg/errors"
	"github.com/pawelgaczynski/qbman/pkg/frame"
	"github.com/pawelgaczynski/qbman/ring"
)

// DequeueEntry is one entry taken off the dequeue ring. Index must be handed
// back to DQRRConsume, or carried by a DCA enqueue flag, once the entry has
// been processed.
type DequeueEntry struct {
	Index    uint32
	Response frame.DequeueResponse
	Raw      [frame.Size]byte
}

// Notification decodes the entry as a state change notification.
func (e *DequeueEntry) Notification() frame.Notification {
	return frame.DecodeNotification(e.Raw[:])
}

// DQRRNext returns the next dequeue ring entry, or nil when hardware has
// produced nothing new. It never blocks.
func (p *Portal) DQRRNext() (*DequeueEntry, error) {
	if err := p.lock(); err != nil {
		return nil, err
	}
	defer p.mu.Unlock()

	next := p.dqrr.ConsumerIndex()
	win, offset := p.path.DequeueSlot(next)

	var raw [frame.Size]byte
	if p.detector.Mode() == ring.ProducerIndexFallback {
		// Slots may hold stale entries that look valid until hardware has
		// written each of them once.
		if !p.detector.Pending(p.cinh.Read32(ring.CINHDQPI), p.dqrr.ConsumerFullIndex(), p.dqrr.Size()) {
			return nil, nil
		}
		raw = ring.ReadSlot(win, offset)
	} else {
		var ok bool
		if raw, ok = ring.PollSlot(win, offset, p.dqrr.ValidBit()); !ok {
			return nil, nil
		}
	}
	p.dqrr.AdvanceConsumer()
	p.metrics.dqrrFrames.Inc(1)

	return &DequeueEntry{Index: next, Response: frame.DecodeDequeue(raw[:]), Raw: raw}, nil
}

// DQRRConsume acknowledges a dequeue ring entry to hardware.
func (p *Portal) DQRRConsume(index uint32) error {
	if err := p.lock(); err != nil {
		return err
	}
	defer p.mu.Unlock()
	p.cinh.Write32(ring.CINHDCAP, index&p.dqrr.HalfMask())

	return nil
}

// DequeueStorage is DMA memory a volatile dequeue writes its responses into.
type DequeueStorage struct {
	Data  []byte
	Paddr uint64
}

// Entry returns the raw bytes of response slot i.
func (s *DequeueStorage) Entry(i int) []byte {
	return s.Data[i*frame.Size : (i+1)*frame.Size]
}

// Slots is the number of responses the storage holds.
func (s *DequeueStorage) Slots() int {
	return len(s.Data) / frame.Size
}

// Pull issues a volatile dequeue of up to frames frames from a channel into
// storage and waits until hardware marks the command expired. Only one pull
// may be in flight per portal.
func (p *Portal) Pull(channelID uint32, storage *DequeueStorage, frames int) error {
	if frames < 1 || frames > frame.MaxPullFrames {
		return qbmanErrors.ErrorInvalidArgument("frames", frames)
	}
	if storage == nil || storage.Slots() < frames {
		return qbmanErrors.ErrorInvalidArgument("storage slots", frames)
	}
	if err := p.lock(); err != nil {
		return err
	}
	if p.vdqBusy {
		p.mu.Unlock()

		return qbmanErrors.ErrBusy
	}
	token := p.nextToken()
	for i := 0; i < frames; i++ {
		storage.Entry(i)[frame.DequeueTokenOffset] = 0
	}
	cmd := frame.EncodePull(&frame.PullCommand{
		Type:     frame.PullActive,
		Source:   frame.PullFromChannel,
		Stash:    p.desc.Stashing,
		Frames:   frames,
		Token:    token,
		SourceID: channelID,
		RspAddr:  storage.Paddr,
	})
	p.vdqBusy = true
	win, offset := p.path.PullSlot()
	ring.WriteSlot(win, offset, &cmd, p.vdqVB)
	p.vdqVB ^= frame.ValidBit
	p.path.PullDoorbell()
	p.mu.Unlock()

	// Completion is signalled through the storage, not through the windows.
	attempts, done := p.config.PullRetry.Do(p.config.Clock, func() bool {
		return pullExpired(storage, frames, token)
	})

	p.mu.Lock()
	p.vdqBusy = false
	p.mu.Unlock()

	if !done {
		p.metrics.pullTimeouts.Inc(1)
		p.logWarn().Uint32("channel id", channelID).Int("attempts", attempts).Msg("Volatile dequeue timed out")

		return qbmanErrors.ErrorTimeout("pull", attempts)
	}

	return nil
}

func pullExpired(storage *DequeueStorage, frames int, token uint8) bool {
	for i := 0; i < frames; i++ {
		entry := storage.Entry(i)
		if entry[frame.DequeueTokenOffset] == token && entry[frame.DequeueStatOffset]&frame.StatExpired != 0 {
			return true
		}
	}

	return false
}
