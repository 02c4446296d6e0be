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
	"testing"

	"github.com/pawelgaczynski/qbman"
	qbmanErrors "github.com/pawelgaczynski/qbman/pkg/errors"
	"github.com/pawelgaczynski/qbman/pkg/frame"
	"github.com/pawelgaczynski/qbman/pkg/hwsim"
	"github.com/pawelgaczynski/qbman/ring"
	. "github.com/stretchr/testify/require"
)

const testTxFQID = 50

func (f *fixture) txRing(t *testing.T, size int) *qbman.TxRing {
	t.Helper()
	tx, err := qbman.NewTxRing(f.Portal, f.buffers, f.arena, testTxFQID, size)
	NoError(t, err)
	t.Cleanup(func() { _ = tx.Close() })

	return tx
}

func (f *fixture) segments(t *testing.T, sizes ...int) [][]byte {
	t.Helper()
	segments := make([][]byte, len(sizes))
	for i, size := range sizes {
		data, err := f.arena.Alloc(size)
		NoError(t, err)
		for j := range data {
			data[j] = byte(i + 1)
		}
		segments[i] = data
	}

	return segments
}

func TestTransmit(t *testing.T) {
	for _, revision := range allRevisions {
		f := newFixture(t, revision, testChunks)
		tx := f.txRing(t, 4)
		Equal(t, 4, tx.Available())
		Equal(t, 4, f.buffers.Len())
		Zero(t, f.arena.MappedCount())

		NoError(t, tx.Transmit(f.segments(t, 100, 200)))
		Equal(t, 3, tx.Available())
		Equal(t, 3, f.arena.MappedCount())
		Equal(t, int64(1), f.count("txring.50.frames"))

		Equal(t, 1, f.sim.ConsumeEQCR(8))
		enqueued := f.sim.Enqueued()
		Len(t, enqueued, 1)
		Equal(t, frame.TargetFrameQueue, enqueued[0].Desc.Target)
		Equal(t, uint32(testTxFQID), enqueued[0].Desc.TargetID)

		fd := enqueued[0].FD
		Equal(t, frame.FormatScatterGather, fd.Format())
		Equal(t, uint16(frame.AnnotationAreaSize), fd.Offset())
		Equal(t, uint32(300), fd.Length())
		Equal(t, uint32(0x00800000), fd.Ctrl)

		table, err := f.arena.Bytes(fd.Addr+frame.AnnotationAreaSize, 2*frame.SGEntrySize)
		NoError(t, err)
		first := frame.DecodeSGEntry(table)
		second := frame.DecodeSGEntry(table[frame.SGEntrySize:])
		Equal(t, uint32(100), first.Len)
		False(t, first.Final())
		Equal(t, uint32(200), second.Len)
		True(t, second.Final())
		payload, err := f.arena.Bytes(second.Addr, 200)
		NoError(t, err)
		Equal(t, byte(2), payload[199])

		NoError(t, tx.Confirm(&fd))
		Equal(t, 4, tx.Available())
		Zero(t, f.arena.MappedCount())
	}
}

func TestTransmitConfirmedThroughChannel(t *testing.T) {
	f := newFixture(t, ring.Rev5000, testChunks)
	tx := f.txRing(t, 2)
	ch := f.newChannel(t, testChannelID)
	ch.RegisterConsumer(0x77, tx)
	f.sim.Route(testTxFQID, testChannelID)
	f.sim.SetFrameQueueContext(testTxFQID, 0x77)

	for i := 0; i < 3; i++ {
		NoError(t, tx.Transmit(f.segments(t, 64)))
		NoError(t, tx.Transmit(f.segments(t, 64, 64)))
		Zero(t, tx.Available())
		Equal(t, 2, f.sim.ConsumeEQCR(8))

		frames, err := ch.Poll()
		NoError(t, err)
		Equal(t, 2, frames)
		Equal(t, 2, tx.Available())
		Equal(t, 1, f.arena.MappedCount())
	}
}

func TestTransmitExhausted(t *testing.T) {
	f := newFixture(t, ring.Rev4100, testChunks)
	tx := f.txRing(t, 2)

	NoError(t, tx.Transmit(f.segments(t, 64)))
	NoError(t, tx.Transmit(f.segments(t, 64)))
	err := tx.Transmit(f.segments(t, 64))
	ErrorIs(t, err, qbmanErrors.ErrIsEmpty)
	Equal(t, int64(1), f.count("txring.50.dropped"))
	Equal(t, 4, f.arena.MappedCount())

	ErrorIs(t, tx.Transmit(nil), qbmanErrors.ErrInvalidArgument)
	ErrorIs(t, tx.Transmit(make([][]byte, qbman.MaxTxSegments+1)), qbmanErrors.ErrInvalidArgument)
	Equal(t, int64(3), f.count("txring.50.dropped"))
}

func TestTransmitWithoutCredit(t *testing.T) {
	arena := newTestArena(t, testChunks)
	portal := newTestPortal(t, hwsim.Config{Revision: ring.Rev4100, Resolver: arena}, qbman.WithEnqueueRetries(2))
	registry := qbman.NewBufferRegistry()
	tx, err := qbman.NewTxRing(portal.Portal, registry, arena, testTxFQID, 9)
	NoError(t, err)
	defer func() { NoError(t, tx.Close()) }()

	segment, err := arena.Alloc(128)
	NoError(t, err)
	for i := 0; i < 8; i++ {
		NoError(t, tx.Transmit([][]byte{segment[i*16 : (i+1)*16]}))
	}
	extra, err := arena.Alloc(16)
	NoError(t, err)
	err = tx.Transmit([][]byte{extra})
	ErrorIs(t, err, qbmanErrors.ErrTimeout)
	Equal(t, 1, tx.Available())
	Equal(t, int64(1), portal.count("txring.50.dropped"))
	Equal(t, int64(2), portal.count("portal.1.enqueue.no_credit"))

	Equal(t, 8, portal.sim.ConsumeEQCR(8))
	NoError(t, tx.Transmit([][]byte{extra}))
}

func TestConfirmRejectsForeignBuffers(t *testing.T) {
	f := newFixture(t, ring.Rev4100, testChunks)
	_, err := f.pool.SeedPool(1)
	NoError(t, err)
	tx := f.txRing(t, 1)

	rx := f.sim.PoolBuffers(testPoolID)[0]
	ErrorIs(t, tx.Confirm(&frame.FrameDescriptor{Addr: rx}), qbmanErrors.ErrUnexpectedAddress)

	NoError(t, tx.Transmit(f.segments(t, 32)))
	Equal(t, 1, f.sim.ConsumeEQCR(1))
	fd := f.sim.Enqueued()[0].FD
	ErrorIs(t, tx.Confirm(&frame.FrameDescriptor{Addr: fd.Addr + 64}), qbmanErrors.ErrBadAnnotation)
	NoError(t, tx.Confirm(&fd))
}

func TestConfirmRejectsStaleFrames(t *testing.T) {
	f := newFixture(t, ring.Rev4100, testChunks)
	tx := f.txRing(t, 1)

	NoError(t, tx.Transmit(f.segments(t, 32)))
	Equal(t, 1, f.sim.ConsumeEQCR(1))
	first := f.sim.Enqueued()[0].FD
	NoError(t, tx.Confirm(&first))

	// The only buffer goes out again at the same bus address.
	NoError(t, tx.Transmit(f.segments(t, 48)))
	Equal(t, 1, f.sim.ConsumeEQCR(1))
	second := f.sim.Enqueued()[1].FD
	Equal(t, first.Addr, second.Addr)
	NotEqual(t, first.FrameCtx, second.FrameCtx)

	mapped := f.arena.MappedCount()
	ErrorIs(t, tx.Confirm(&first), qbmanErrors.ErrInvalidState)
	Equal(t, mapped, f.arena.MappedCount())
	Zero(t, tx.Available())

	NoError(t, tx.Confirm(&second))
	Equal(t, 1, tx.Available())
	Zero(t, f.arena.MappedCount())
}

func TestTxRingClose(t *testing.T) {
	f := newFixture(t, ring.Rev4100, testChunks)
	tx, err := qbman.NewTxRing(f.Portal, f.buffers, f.arena, testTxFQID, 3)
	NoError(t, err)
	NoError(t, tx.Transmit(f.segments(t, 32)))

	NoError(t, tx.Close())
	Zero(t, f.arena.MappedCount())
	Zero(t, f.buffers.Len())

	_, err = qbman.NewTxRing(f.Portal, f.buffers, f.arena, testTxFQID, 0)
	ErrorIs(t, err, qbmanErrors.ErrInvalidArgument)
}
