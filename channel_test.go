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

package qbman_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/pawelgaczynski/qbman"
	qbmanErrors "github.com/pawelgaczynski/qbman/pkg/errors"
	"github.com/pawelgaczynski/qbman/pkg/frame"
	"github.com/pawelgaczynski/qbman/pkg/hwsim"
	"github.com/pawelgaczynski/qbman/ring"
	. "github.com/stretchr/testify/require"
)

const (
	testFQID  = 20
	testFQCtx = 0xabc
)

type received struct {
	mu       sync.Mutex
	payloads []string
}

func (r *received) handle(fqid uint32, payload []byte) {
	r.mu.Lock()
	r.payloads = append(r.payloads, fmt.Sprintf("%d:%s", fqid, payload))
	r.mu.Unlock()
}

func (r *received) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.payloads...)
}

func TestNextFrameIdle(t *testing.T) {
	f := newFixture(t, ring.Rev4100, testChunks)
	ch := f.newChannel(t, testChannelID)

	status, resp := ch.NextFrame()
	Equal(t, qbman.FrameEmpty, status)
	Nil(t, resp)
}

func TestChannelPullAndNextFrame(t *testing.T) {
	for _, revision := range allRevisions {
		f := newFixture(t, revision, testChunks)
		ch := f.newChannel(t, testChannelID)

		for i := 0; i < 20; i++ {
			f.sim.EnqueueToChannel(testChannelID, hwsim.Entry{FQID: testFQID, Ctx: uint64(i)})
		}
		NoError(t, ch.Pull())
		ErrorIs(t, ch.Pull(), qbmanErrors.ErrInvalidState)
		for i := 0; i < qbman.StorageFrames; i++ {
			status, resp := ch.NextFrame()
			NotNil(t, resp)
			Equal(t, uint64(i), resp.FQDCtx)
			if i < qbman.StorageFrames-1 {
				Equal(t, qbman.FrameInProgress, status)
			} else {
				Equal(t, qbman.FrameExpired, status)
			}
		}

		NoError(t, ch.Pull())
		for i := 16; i < 20; i++ {
			status, resp := ch.NextFrame()
			NotNil(t, resp)
			Equal(t, uint64(i), resp.FQDCtx)
			if i < 19 {
				Equal(t, qbman.FrameInProgress, status)
			} else {
				Equal(t, qbman.FrameEmpty, status)
			}
		}

		// An empty pull answers with a single entry that carries no frame.
		NoError(t, ch.Pull())
		status, resp := ch.NextFrame()
		Equal(t, qbman.FrameEmpty, status)
		Nil(t, resp)
		Zero(t, f.sim.Pending(testChannelID))
	}
}

func TestChannelPoll(t *testing.T) {
	for _, revision := range allRevisions {
		f := newFixture(t, revision, testChunks)
		_, err := f.pool.SeedPool(14)
		NoError(t, err)
		ch := f.newChannel(t, testChannelID)
		got := &received{}
		rx := qbman.NewRxConsumer(f.pool, got.handle)
		ch.RegisterConsumer(testFQCtx, rx)
		f.sim.SetFrameQueueContext(testFQID, testFQCtx)

		for i := 0; i < 3; i++ {
			NoError(t, f.sim.ReceiveFrame(testChannelID, testFQID, testPoolID, []byte(fmt.Sprintf("frame-%d", i))))
		}
		frames, err := ch.Poll()
		NoError(t, err)
		Equal(t, 3, frames)
		Equal(t, []string{"20:frame-0", "20:frame-1", "20:frame-2"}, got.all())
		Equal(t, int64(3), f.count("channel.3.rx_frames"))

		armed, ctx := f.sim.ChannelNotification(testChannelID)
		True(t, armed)
		Equal(t, ch.Context(), ctx)

		Equal(t, 3, rx.Pending())
		Len(t, f.sim.PoolBuffers(testPoolID), 11)
		NoError(t, rx.Flush())
		Zero(t, rx.Pending())
		Len(t, f.sim.PoolBuffers(testPoolID), 14)
		NoError(t, rx.Flush())
	}
}

func TestChannelPollRecyclesFullBatches(t *testing.T) {
	f := newFixture(t, ring.Rev5000, testChunks, qbman.WithMaxBuffers(21))
	_, err := f.pool.SeedPool(21)
	NoError(t, err)
	ch := f.newChannel(t, testChannelID)
	got := &received{}
	rx := qbman.NewRxConsumer(f.pool, got.handle)
	ch.RegisterConsumer(testFQCtx, rx)
	f.sim.SetFrameQueueContext(testFQID, testFQCtx)

	for i := 0; i < 18; i++ {
		NoError(t, f.sim.ReceiveFrame(testChannelID, testFQID, testPoolID, []byte{byte(i)}))
	}
	frames, err := ch.Poll()
	NoError(t, err)
	Equal(t, 18, frames)
	Len(t, got.all(), 18)
	Equal(t, 4, rx.Pending())
	Len(t, f.sim.PoolBuffers(testPoolID), 17)
	Equal(t, 21, f.pool.Allocated())
}

func TestChannelDropsUnknownFrameQueue(t *testing.T) {
	f := newFixture(t, ring.Rev4100, testChunks)
	_, err := f.pool.SeedPool(7)
	NoError(t, err)
	ch := f.newChannel(t, testChannelID)

	NoError(t, f.sim.ReceiveFrame(testChannelID, testFQID+1, testPoolID, []byte("lost")))
	Len(t, f.sim.PoolBuffers(testPoolID), 6)
	frames, err := ch.Poll()
	NoError(t, err)
	Equal(t, 1, frames)
	Equal(t, int64(1), f.count("channel.3.rx_dropped"))
	Len(t, f.sim.PoolBuffers(testPoolID), 7)
}

func TestChannelErrorQueue(t *testing.T) {
	f := newFixture(t, ring.Rev4100, testChunks)
	_, err := f.pool.SeedPool(7)
	NoError(t, err)
	ch := f.newChannel(t, testChannelID)
	ch.RegisterConsumer(testFQCtx, qbman.NewRxErrorConsumer(f.pool))
	f.sim.SetFrameQueueContext(testFQID, testFQCtx)

	NoError(t, f.sim.ReceiveFrame(testChannelID, testFQID, testPoolID, []byte("bad")))
	NoError(t, f.sim.ReceiveFrame(testChannelID, testFQID, testPoolID, []byte("worse")))
	frames, err := ch.Poll()
	NoError(t, err)
	Equal(t, 2, frames)
	Zero(t, f.count("channel.3.rx_frames"))
	Len(t, f.sim.PoolBuffers(testPoolID), 7)
	// Error frames go back without being unmapped.
	Equal(t, 8, f.arena.MappedCount())
}

func TestChannelConsumerFunc(t *testing.T) {
	f := newFixture(t, ring.Rev4100, testChunks)
	ch := f.newChannel(t, testChannelID)
	var seen []uint32
	ch.RegisterConsumer(testFQCtx, qbman.FrameConsumerFunc(func(c *qbman.Channel, resp *frame.DequeueResponse) error {
		Same(t, ch, c)
		seen = append(seen, resp.FQID)

		return nil
	}))

	f.sim.EnqueueToChannel(testChannelID, hwsim.Entry{FQID: 41, Ctx: testFQCtx})
	f.sim.EnqueueToChannel(testChannelID, hwsim.Entry{FQID: 42, Ctx: testFQCtx})
	frames, err := ch.Poll()
	NoError(t, err)
	Equal(t, 2, frames)
	Equal(t, []uint32{41, 42}, seen)
}

func TestChannelPollTimeout(t *testing.T) {
	f := newFixture(t, ring.Rev4100, testChunks)
	ch := f.newChannel(t, testChannelID)

	f.sim.EnqueueToChannel(testChannelID, hwsim.Entry{FQID: testFQID})
	f.sim.StallPulls(true)
	frames, err := ch.Poll()
	ErrorIs(t, err, qbmanErrors.ErrTimeout)
	Zero(t, frames)
	armed, _ := f.sim.ChannelNotification(testChannelID)
	// Rearming with a frame queued fires the notification at once.
	False(t, armed)
	Len(t, f.sim.Pulls(), 1)
	entry, err := f.DQRRNext()
	NoError(t, err)
	NotNil(t, entry)
	Equal(t, frame.ResultCDAN, entry.Response.Type())

	f.sim.StallPulls(false)
	status, resp := ch.NextFrame()
	Equal(t, qbman.FrameEmpty, status)
	Nil(t, resp)
	NoError(t, ch.Pull())
}

func TestChannelClose(t *testing.T) {
	f := newFixture(t, ring.Rev4100, testChunks)
	ch, err := qbman.NewChannel(f.Portal, f.pool, testChannelID)
	NoError(t, err)
	Equal(t, 1, f.arena.MappedCount())

	NoError(t, ch.Close())
	NoError(t, ch.Close())
	Zero(t, f.arena.MappedCount())
}
