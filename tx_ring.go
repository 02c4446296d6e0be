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
	"sync/atomic"

	"github.com/pawelgaczynski/qbman/logger"
	"github.com/pawelgaczynski/qbman/pkg/dma"
	qbmanErrors "github.com/pawelgaczynski/qbman/pkg/errors"
	"github.com/pawelgaczynski/qbman/pkg/frame"
	"github.com/pawelgaczynski/qbman/pkg/freelist"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

const (
	// MaxTxSegments is the largest number of segments of one transmitted frame.
	MaxTxSegments = 16

	sgtSize     = frame.AnnotationAreaSize + MaxTxSegments*frame.SGEntrySize
	txFrameCtrl = 0x00800000
)

// TxRing transmits frames to one frame queue through a fixed set of
// transmit buffers. A buffer is busy from Transmit until the matching
// Confirm. Every transmitted frame carries a sequence number in its frame
// context, so a confirmation of an earlier use of a buffer is told apart
// from the frame in flight.
type TxRing struct {
	seq      uint32
	fqid     uint32
	portal   *Portal
	registry *BufferRegistry
	mem      dma.Memory
	bufs     []*PacketBuffer
	free     *freelist.FreeList[int]
	desc     frame.EnqueueDescriptor
	logger   zerolog.Logger
	metrics  txMetrics
}

func NewTxRing(portal *Portal, registry *BufferRegistry, mem dma.Memory, fqid uint32, size int) (*TxRing, error) {
	if size <= 0 {
		return nil, qbmanErrors.ErrorInvalidArgument("tx ring size", size)
	}
	tx := &TxRing{
		fqid:     fqid,
		portal:   portal,
		registry: registry,
		mem:      mem,
		bufs:     make([]*PacketBuffer, 0, size),
		free:     freelist.New[int](),
		desc:     frame.EnqueueDescriptor{Target: frame.TargetFrameQueue, TargetID: fqid},
		logger:   logger.NewLogger(logger.TxRing, portal.config.LoggerLevel, portal.config.PrettyLogger),
		metrics:  newTxMetrics(portal.config.Metrics, fqid),
	}
	for i := 0; i < size; i++ {
		buf := &PacketBuffer{kind: TxBuffer, index: i}
		if err := tx.SeedTx(buf); err != nil {
			registry.Unregister(buf)

			return nil, multierr.Append(errors.Wrapf(err, "tx ring %d", fqid), tx.Close())
		}
		tx.bufs = append(tx.bufs, buf)
		tx.free.Put(i)
	}

	return tx, nil
}

func (r *TxRing) FQID() uint32 {
	return r.fqid
}

// Available is the number of buffers ready to transmit.
func (r *TxRing) Available() int {
	return r.free.Len()
}

// SeedTx prepares a transmit buffer. Only the scatter/gather table is
// allocated; the payload is mapped when the frame is transmitted.
func (r *TxRing) SeedTx(buf *PacketBuffer) error {
	if buf.kind != TxBuffer {
		return qbmanErrors.ErrorInvalidState("seed tx buffer", buf.kind.String())
	}
	r.registry.Register(buf)
	if buf.sgt == nil {
		sgt, err := r.mem.Alloc(sgtSize)
		if err != nil {
			return errors.Wrap(err, "allocate s/g table")
		}
		buf.sgt = sgt
	}

	return nil
}

// Transmit sends a frame made of segments. Every segment must be memory
// the ring's mapper can map.
func (r *TxRing) Transmit(segments [][]byte) error {
	if len(segments) == 0 || len(segments) > MaxTxSegments {
		r.metrics.dropped.Inc(1)

		return qbmanErrors.ErrorInvalidArgument("segments", len(segments))
	}
	idx, ok := r.free.Take()
	if !ok {
		r.metrics.dropped.Inc(1)

		return errors.Wrapf(qbmanErrors.ErrIsEmpty, "tx ring %d: no free buffer", r.fqid)
	}
	buf := r.bufs[idx]

	fd, err := r.load(buf, segments)
	if err != nil {
		err = multierr.Append(err, r.unload(buf))
		r.free.Put(idx)
		r.metrics.dropped.Inc(1)
		r.logWarn().Err(err).Msg("Frame not loaded")

		return err
	}

	fds := []frame.FrameDescriptor{fd}
	retries := r.portal.config.EnqueueRetries
	if retries < 1 {
		retries = 1
	}
	var enqueued int
	for i := 0; i < retries && enqueued == 0; i++ {
		if enqueued, err = r.portal.Enqueue(&r.desc, fds, nil); err != nil {
			break
		}
	}
	if enqueued == 0 {
		if err == nil {
			err = qbmanErrors.ErrorTimeout("enqueue", retries)
		}
		err = multierr.Append(err, r.unload(buf))
		r.free.Put(idx)
		r.metrics.dropped.Inc(1)
		r.logWarn().Err(err).Msg("Frame dropped")

		return err
	}
	r.metrics.frames.Inc(1)

	return nil
}

// load maps the payload and the scatter/gather table of buf and returns the
// frame descriptor pointing at the table.
func (r *TxRing) load(buf *PacketBuffer, segments [][]byte) (frame.FrameDescriptor, error) {
	var length uint32
	for i, segment := range segments {
		paddr, err := r.mem.Map(segment)
		if err != nil {
			return frame.FrameDescriptor{}, errors.Wrapf(err, "map segment %d", i)
		}
		buf.payload = append(buf.payload, paddr)
		entry := frame.SGEntry{Addr: paddr, Len: uint32(len(segment))}
		if i == len(segments)-1 {
			entry.OffsetFmt |= frame.SGFinal
		}
		entry.Encode(buf.sgt[frame.AnnotationAreaSize+i*frame.SGEntrySize:])
		length += uint32(len(segment))
		r.mem.Sync(paddr, dma.ToDevice)
	}
	seq := r.nextSeq()
	buf.txSeq = seq
	annotate(buf.sgt[:frame.AnnotationAreaSize], buf.handle, uint64(seq)<<32|uint64(buf.index))

	paddr, err := r.mem.Map(buf.sgt)
	if err != nil {
		return frame.FrameDescriptor{}, errors.Wrap(err, "map s/g table")
	}
	buf.sgtPaddr, buf.sgtMapped = paddr, true
	r.mem.Sync(paddr, dma.ToDevice)

	fd := frame.FrameDescriptor{Addr: paddr, Len: length, FrameCtx: seq, Ctrl: txFrameCtrl}
	fd.SetLayout(frame.AnnotationAreaSize, frame.FormatScatterGather)

	return fd, nil
}

// nextSeq never returns zero.
func (r *TxRing) nextSeq() uint32 {
	for {
		if seq := atomic.AddUint32(&r.seq, 1); seq != 0 {
			return seq
		}
	}
}

func (r *TxRing) unload(buf *PacketBuffer) error {
	var err error
	for _, paddr := range buf.payload {
		r.mem.Sync(paddr, dma.FromDevice)
		err = multierr.Append(err, r.mem.Unmap(paddr))
	}
	buf.payload = buf.payload[:0]
	if buf.sgtMapped {
		err = multierr.Append(err, r.mem.Unmap(buf.sgtPaddr))
		buf.sgtMapped = false
	}

	return err
}

// Confirm completes the transmission of the frame fd describes and makes
// its buffer available again.
func (r *TxRing) Confirm(fd *frame.FrameDescriptor) error {
	buf, err := r.registry.Resolve(r.mem, fd.Addr)
	if err != nil {
		return err
	}
	if buf.kind != TxBuffer || buf.index >= len(r.bufs) || r.bufs[buf.index] != buf {
		return qbmanErrors.ErrorUnexpectedAddress(0, fd.Addr)
	}
	if !buf.sgtMapped {
		return qbmanErrors.ErrorInvalidState("confirm", "idle")
	}
	if fd.FrameCtx != buf.txSeq {
		return qbmanErrors.ErrorInvalidState("confirm", fmt.Sprintf("frame %d, in flight %d", fd.FrameCtx, buf.txSeq))
	}
	err = r.unload(buf)
	r.free.Put(buf.index)

	return err
}

// ConsumeFrame makes the ring a consumer of its confirmation queue.
func (r *TxRing) ConsumeFrame(_ *Channel, resp *frame.DequeueResponse) error {
	return r.Confirm(&resp.FD)
}

// Close frees every scatter/gather table. Buffers still in flight are
// unmapped first.
func (r *TxRing) Close() error {
	var err error
	for _, buf := range r.bufs {
		err = multierr.Append(err, r.unload(buf))
		if buf.sgt != nil {
			r.mem.Free(buf.sgt)
			buf.sgt = nil
		}
		r.registry.Unregister(buf)
	}

	return err
}

func (r *TxRing) logWarn() *zerolog.Event {
	return r.logger.Warn().Uint32("fqid", r.fqid)
}
