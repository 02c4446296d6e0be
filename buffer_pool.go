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
	"sync/atomic"

	"github.com/alitto/pond"
	"github.com/pawelgaczynski/qbman/logger"
	"github.com/pawelgaczynski/qbman/pkg/dma"
	qbmanErrors "github.com/pawelgaczynski/qbman/pkg/errors"
	"github.com/pawelgaczynski/qbman/pkg/frame"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// BufferPool keeps a hardware buffer pool stocked with receive buffers.
type BufferPool struct {
	mu          sync.Mutex
	id          uint16
	portal      *Portal
	registry    *BufferRegistry
	mem         dma.Memory
	config      BufferPoolConfig
	logger      zerolog.Logger
	metrics     poolMetrics
	allocated   int64
	workers     *pond.WorkerPool
	ownsWorkers bool
	rebalancing int32
}

func NewBufferPool(
	portal *Portal, registry *BufferRegistry, mem dma.Memory, poolID uint16, opts ...BufferPoolOption,
) (*BufferPool, error) {
	config := NewBufferPoolConfig(opts...)
	if config.BufferSize <= frame.AnnotationAreaSize {
		return nil, errors.Wrapf(qbmanErrors.ErrInvalidConfig, "pool %d: buffer size %d", poolID, config.BufferSize)
	}
	if config.MaxBuffers <= 0 {
		return nil, errors.Wrapf(qbmanErrors.ErrInvalidConfig, "pool %d: max buffers %d", poolID, config.MaxBuffers)
	}
	pool := &BufferPool{
		id:       poolID,
		portal:   portal,
		registry: registry,
		mem:      mem,
		config:   config,
		logger:   logger.NewLogger(logger.BPool, portal.config.LoggerLevel, portal.config.PrettyLogger),
		metrics:  newPoolMetrics(portal.config.Metrics, poolID),
		workers:  config.Workers,
	}
	if pool.workers == nil {
		pool.workers = pond.New(defaultRebalanceWorker, defaultRebalanceQueue)
		pool.ownsWorkers = true
	}

	return pool, nil
}

func (p *BufferPool) ID() uint16 {
	return p.id
}

// Allocated is the number of buffers the pool currently owns, wherever they are.
func (p *BufferPool) Allocated() int {
	return int(atomic.LoadInt64(&p.allocated))
}

// SeedPool allocates up to count new buffers and releases them to hardware
// in batches. It returns the number of buffers released. On failure the
// buffers prepared for the current batch are released before the error is
// returned; buffers that cannot be released are unmapped and freed.
func (p *BufferPool) SeedPool(count int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if room := p.config.MaxBuffers - p.Allocated(); count > room {
		count = room
	}
	if count <= 0 {
		return 0, errors.Wrapf(qbmanErrors.ErrPoolExhausted, "pool %d: %d buffers", p.id, p.Allocated())
	}

	var (
		seeded int
		batch  = make([]*PacketBuffer, 0, frame.MaxReleaseBuffers)
	)
	for seeded+len(batch) < count {
		buf := &PacketBuffer{kind: RxBuffer}
		if err := p.SeedOne(buf); err != nil {
			p.discard(buf)
			released := len(batch)
			flushErr := p.flush(batch)
			if flushErr == nil {
				seeded += released
			}
			p.logWarn().Err(err).Int("seeded", seeded).Msg("Seeding stopped")

			return seeded, multierr.Append(err, flushErr)
		}
		batch = append(batch, buf)
		if len(batch) == frame.MaxReleaseBuffers || seeded+len(batch) == count {
			released := len(batch)
			if err := p.flush(batch); err != nil {
				return seeded, err
			}
			seeded += released
			batch = batch[:0]
		}
	}
	p.logDebug().Int("seeded", seeded).Int("allocated", p.Allocated()).Msg("Pool seeded")

	return seeded, nil
}

// flush releases a batch of seeded buffers. Buffers of a batch that cannot
// be released are discarded.
func (p *BufferPool) flush(batch []*PacketBuffer) error {
	if len(batch) == 0 {
		return nil
	}
	addrs := make([]uint64, len(batch))
	for i, buf := range batch {
		addrs[i] = buf.paddr
	}
	if err := p.release(addrs); err != nil {
		for _, buf := range batch {
			p.discard(buf)
		}

		return err
	}

	return nil
}

// release retries while the release ring has no free slot.
func (p *BufferPool) release(addrs []uint64) error {
	var err error
	p.portal.config.CommandRetry.Do(p.portal.config.Clock, func() bool {
		err = p.portal.ReleaseBuffers(p.id, addrs)

		return !errors.Is(err, qbmanErrors.ErrBusy)
	})
	if err != nil {
		return errors.Wrapf(err, "pool %d: release %d buffers", p.id, len(addrs))
	}
	p.metrics.released.Inc(int64(len(addrs)))

	return nil
}

// SeedOne prepares a receive buffer for hardware. Memory is allocated and
// mapped only when missing, so a recycled buffer keeps both.
func (p *BufferPool) SeedOne(buf *PacketBuffer) error {
	if buf.kind != RxBuffer {
		return qbmanErrors.ErrorInvalidState("seed rx buffer", buf.kind.String())
	}
	p.registry.Register(buf)
	if buf.data == nil {
		data, err := p.mem.Alloc(p.config.BufferSize)
		if err != nil {
			p.metrics.seedFailures.Inc(1)

			return errors.Wrapf(err, "pool %d: allocate buffer", p.id)
		}
		buf.data = data
		atomic.AddInt64(&p.allocated, 1)
	}
	if !buf.mapped {
		paddr, err := p.mem.Map(buf.data)
		if err != nil {
			p.metrics.seedFailures.Inc(1)

			return errors.Wrapf(err, "pool %d: map buffer", p.id)
		}
		buf.paddr, buf.mapped = paddr, true
	}
	annotate(buf.data[:frame.AnnotationAreaSize], buf.handle, uint64(p.id))
	p.mem.Sync(buf.paddr, dma.ToDevice)
	p.metrics.seeded.Inc(1)

	return nil
}

// discard gives up on a buffer for good.
func (p *BufferPool) discard(buf *PacketBuffer) {
	if buf.mapped {
		if err := p.mem.Unmap(buf.paddr); err != nil {
			p.logError(err).Uint64("paddr", buf.paddr).Msg("Unmap of discarded buffer failed")
		}
		buf.mapped = false
	}
	if buf.data != nil {
		p.mem.Free(buf.data)
		buf.data = nil
		atomic.AddInt64(&p.allocated, -1)
	}
	p.registry.Unregister(buf)
}

// Resolve finds the receive buffer hardware returned at paddr.
func (p *BufferPool) Resolve(paddr uint64) (*PacketBuffer, error) {
	buf, err := p.registry.Resolve(p.mem, paddr)
	if err != nil {
		return nil, err
	}
	if buf.kind != RxBuffer {
		return nil, qbmanErrors.ErrorInvalidState("resolve rx buffer", buf.kind.String())
	}

	return buf, nil
}

// Reclaim takes a buffer hardware handed back out of its DMA mapping.
func (p *BufferPool) Reclaim(buf *PacketBuffer) error {
	if !buf.mapped {
		return qbmanErrors.ErrorInvalidState("reclaim", "unmapped")
	}
	p.mem.Sync(buf.paddr, dma.FromDevice)
	if err := p.mem.Unmap(buf.paddr); err != nil {
		return err
	}
	buf.mapped = false

	return nil
}

// Recycle seeds reclaimed buffers again and releases them in one command.
// Buffers that fail to seed are discarded.
func (p *BufferPool) Recycle(bufs []*PacketBuffer) error {
	if len(bufs) > frame.MaxReleaseBuffers {
		return qbmanErrors.ErrorInvalidArgument("buffers", len(bufs))
	}
	p.ScheduleRebalance()

	ready := make([]*PacketBuffer, 0, len(bufs))
	for _, buf := range bufs {
		if err := p.SeedOne(buf); err != nil {
			p.logWarn().Err(err).Msg("Recycled buffer not seeded")
			p.discard(buf)

			continue
		}
		ready = append(ready, buf)
	}

	return p.flush(ready)
}

// ReleaseOne returns a single reclaimed buffer as it is. Used for frames
// hardware rejected, whose buffers were never unmapped.
func (p *BufferPool) ReleaseOne(buf *PacketBuffer) error {
	return p.release([]uint64{buf.paddr})
}

// Rebalance doubles the pool when fewer than a quarter of its buffers are
// free in hardware.
func (p *BufferPool) Rebalance() error {
	state, err := p.portal.QueryBufferPool(p.id)
	if err != nil {
		return err
	}
	allocated := p.Allocated()
	if int(state.Free) >= allocated>>2 {
		return nil
	}
	seeded, err := p.SeedPool(allocated)
	p.logDebug().Uint32("free", state.Free).Int("seeded", seeded).Msg("Pool rebalanced")

	return err
}

// ScheduleRebalance queues a rebalance unless one is already queued.
func (p *BufferPool) ScheduleRebalance() {
	if !atomic.CompareAndSwapInt32(&p.rebalancing, 0, 1) {
		return
	}
	p.workers.Submit(func() {
		defer atomic.StoreInt32(&p.rebalancing, 0)
		if err := p.Rebalance(); err != nil && !errors.Is(err, qbmanErrors.ErrPoolExhausted) {
			p.logWarn().Err(err).Msg("Rebalance failed")
		}
	})
}

// Drain takes every free buffer back from hardware and frees it.
func (p *BufferPool) Drain() (int, error) {
	drained := 0
	for {
		addrs, err := p.portal.AcquireBuffers(p.id, frame.MaxReleaseBuffers)
		if err != nil {
			return drained, err
		}
		if len(addrs) == 0 {
			return drained, nil
		}
		for _, paddr := range addrs {
			buf, err := p.Resolve(paddr)
			if err != nil {
				p.logError(err).Msg("Drained buffer not resolved")

				continue
			}
			p.discard(buf)
			drained++
		}
	}
}

// Close waits for a queued rebalance to finish.
func (p *BufferPool) Close() {
	if p.ownsWorkers {
		p.workers.StopAndWait()
	}
}

func (p *BufferPool) logDebug() *zerolog.Event {
	return p.logger.Debug().Uint16("pool id", p.id)
}

func (p *BufferPool) logWarn() *zerolog.Event {
	return p.logger.Warn().Uint16("pool id", p.id)
}

func (p *BufferPool) logError(err error) *zerolog.Event {
	return p.logger.Error().Uint16("pool id", p.id).Err(err)
}
