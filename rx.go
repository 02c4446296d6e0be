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
	"sync"

	qbmanErrors "github.com/pawelgaczynski/qbman/pkg/errors"
	"github.com/pawelgaczynski/qbman/pkg/frame"
	"go.uber.org/multierr"
)

// Frame errors reported by the queue manager in the frame descriptor.
const (
	frameErrEnqueueRejected = 1
	frameErrIEOI            = 2
)

// RxHandler receives the payload of one frame. payload is only valid until
// the handler returns; the buffer is recycled afterwards.
type RxHandler func(fqid uint32, payload []byte)

// RxConsumer consumes frames received into buffers of a pool. Buffers are
// recycled to the pool in batches of frame.MaxReleaseBuffers.
type RxConsumer struct {
	mu      sync.Mutex
	pool    *BufferPool
	handler RxHandler
	// errorQueue consumers return buffers without looking at the payload.
	errorQueue bool
	recycled   []*PacketBuffer
}

func NewRxConsumer(pool *BufferPool, handler RxHandler) *RxConsumer {
	return &RxConsumer{
		pool:     pool,
		handler:  handler,
		recycled: make([]*PacketBuffer, 0, frame.MaxReleaseBuffers),
	}
}

// NewRxErrorConsumer consumes frames of an error queue: their buffers go
// straight back to the pool.
func NewRxErrorConsumer(pool *BufferPool) *RxConsumer {
	return &RxConsumer{pool: pool, errorQueue: true}
}

func (r *RxConsumer) ConsumeFrame(ch *Channel, resp *frame.DequeueResponse) error {
	fd := &resp.FD
	buf, err := r.pool.Resolve(fd.Addr)
	if err != nil {
		ch.metrics.rxDropped.Inc(1)

		return err
	}
	if r.errorQueue {
		return r.pool.ReleaseOne(buf)
	}

	switch fd.Error() {
	case frameErrEnqueueRejected:
		ch.metrics.rxEnqRejected.Inc(1)
	case frameErrIEOI:
		ch.logDebug().Uint32("fqid", resp.FQID).Msg("Frame with IEOI error")
	}
	if fd.Format() == frame.FormatScatterGather {
		ch.metrics.rxSGFrames.Inc(1)
	}

	if err := r.pool.Reclaim(buf); err != nil {
		ch.metrics.rxDropped.Inc(1)

		return err
	}
	start, end := int(fd.Offset()), int(fd.Offset())+int(fd.Length())
	if end > len(buf.data) {
		ch.metrics.rxDropped.Inc(1)
		err = qbmanErrors.ErrorInvalidArgument("frame end", end)
	} else {
		r.handler(resp.FQID, buf.data[start:end])
		ch.metrics.rxFrames.Inc(1)
	}

	return r.keep(buf, err)
}

// keep adds a buffer to the recycle batch and recycles a full batch.
func (r *RxConsumer) keep(buf *PacketBuffer, frameErr error) error {
	r.mu.Lock()
	r.recycled = append(r.recycled, buf)
	if len(r.recycled) < frame.MaxReleaseBuffers {
		r.mu.Unlock()

		return frameErr
	}
	batch := r.recycled
	r.recycled = make([]*PacketBuffer, 0, frame.MaxReleaseBuffers)
	r.mu.Unlock()

	return multierr.Append(frameErr, r.pool.Recycle(batch))
}

// Flush recycles a partial batch.
func (r *RxConsumer) Flush() error {
	r.mu.Lock()
	batch := r.recycled
	r.recycled = make([]*PacketBuffer, 0, frame.MaxReleaseBuffers)
	r.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	return r.pool.Recycle(batch)
}

// Pending is the number of buffers waiting to be recycled.
func (r *RxConsumer) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.recycled)
}
