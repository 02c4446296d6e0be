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
	"sync"
	"testing"
	"time"

	"github.com/pawelgaczynski/qbman"
	"github.com/pawelgaczynski/qbman/logger"
	"github.com/pawelgaczynski/qbman/pkg/dma"
	"github.com/pawelgaczynski/qbman/pkg/frame"
	"github.com/pawelgaczynski/qbman/pkg/hwsim"
	"github.com/rcrowley/go-metrics"
	. "github.com/stretchr/testify/require"
)

const (
	testPortalID   = 1
	testPoolID     = 7
	testChannelID  = 3
	testChunkSize  = 2048
	testChunks     = 128
	testClockRatio = 1000
)

var testRetry = qbman.RetryPolicy{Attempts: 16, Interval: time.Microsecond}

type fakeClock struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.slept = append(c.slept, d)
	c.mu.Unlock()
}

func (c *fakeClock) Slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]time.Duration(nil), c.slept...)
}

type testPortal struct {
	*qbman.Portal
	sim      *hwsim.Sim
	clock    *fakeClock
	registry metrics.Registry
}

func newTestPortal(t *testing.T, cfg hwsim.Config, opts ...qbman.PortalOption) *testPortal {
	t.Helper()
	sim := hwsim.New(cfg)
	clock := &fakeClock{}
	registry := metrics.NewRegistry()
	opts = append([]qbman.PortalOption{
		qbman.WithClock(clock),
		qbman.WithMetrics(registry),
		qbman.WithLoggerLevel(logger.Disabled),
		qbman.WithCommandRetry(testRetry),
		qbman.WithPullRetry(testRetry),
	}, opts...)
	portal, err := qbman.NewPortal(qbman.Descriptor{
		ID:         testPortalID,
		Revision:   cfg.Revision,
		ClockRatio: testClockRatio,
		Windows:    sim.Windows(),
	}, opts...)
	NoError(t, err)

	return &testPortal{Portal: portal, sim: sim, clock: clock, registry: registry}
}

func (p *testPortal) count(name string) int64 {
	c, ok := p.registry.Get(name).(metrics.Counter)
	if !ok {
		return 0
	}

	return c.Count()
}

func newTestArena(t *testing.T, chunks int) *dma.Arena {
	t.Helper()
	arena, err := dma.NewArena(testChunkSize, chunks)
	NoError(t, err)
	t.Cleanup(func() { _ = arena.Close() })

	return arena
}

// fixture is a portal on a simulator that resolves bus addresses through an
// arena, with a buffer pool on top.
type fixture struct {
	*testPortal
	arena   *dma.Arena
	buffers *qbman.BufferRegistry
	pool    *qbman.BufferPool
}

func newFixture(t *testing.T, revision uint32, chunks int, poolOpts ...qbman.BufferPoolOption) *fixture {
	t.Helper()
	arena := newTestArena(t, chunks)
	portal := newTestPortal(t, hwsim.Config{Revision: revision, Resolver: arena})
	buffers := qbman.NewBufferRegistry()
	poolOpts = append([]qbman.BufferPoolOption{
		qbman.WithBufferSize(testChunkSize),
		qbman.WithMaxBuffers(64),
	}, poolOpts...)
	pool, err := qbman.NewBufferPool(portal.Portal, buffers, arena, testPoolID, poolOpts...)
	NoError(t, err)
	t.Cleanup(pool.Close)

	return &fixture{testPortal: portal, arena: arena, buffers: buffers, pool: pool}
}

func (f *fixture) newChannel(t *testing.T, channelID uint32) *qbman.Channel {
	t.Helper()
	ch, err := qbman.NewChannel(f.Portal, f.pool, channelID)
	NoError(t, err)
	t.Cleanup(func() { _ = ch.Close() })

	return ch
}

func (f *fixture) storage(t *testing.T, slots int) *qbman.DequeueStorage {
	t.Helper()
	data, err := f.arena.Alloc(slots * frame.Size)
	NoError(t, err)
	paddr, err := f.arena.Map(data)
	NoError(t, err)

	return &qbman.DequeueStorage{Data: data, Paddr: paddr}
}
