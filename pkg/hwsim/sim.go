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

// Package hwsim simulates the queue manager side of a software portal. It
// owns the two register windows and reacts to verb bytes, doorbells and
// register writes the way the hardware does, closely enough to drive the
// portal through every write path.
package hwsim

import (
	"sync"

	"github.com/pawelgaczynski/qbman/pkg/dma"
	"github.com/pawelgaczynski/qbman/pkg/frame"
	"github.com/pawelgaczynski/qbman/ring"
)

// ResultUnknownCommand answers commands the simulator does not implement.
const ResultUnknownCommand uint8 = 0xff

type Config struct {
	Revision uint32
	// DisableConfig makes the configuration register read back as zero.
	DisableConfig bool
	// StaleDequeueEntries leaves every dequeue ring slot holding an old entry
	// whose valid bit matches the first traversal, the way the memory of
	// revisions with the dequeue reset defect looks after reset.
	StaleDequeueEntries bool
	// Live register values found by a portal that attaches.
	EnqueuePI uint32
	EnqueueCI uint32
	DequeueCI uint32
	ReleasePI uint32
	// Resolver gives access to pull storage and to received frame buffers.
	Resolver dma.Resolver
	// DataOffset is where received frame data is written inside a buffer.
	DataOffset uint16
}

// Entry is a frame waiting on a channel.
type Entry struct {
	FQID uint32
	Ctx  uint64
	FD   frame.FrameDescriptor
}

// Enqueued is a frame the simulator took off the enqueue ring.
type Enqueued struct {
	Desc frame.EnqueueDescriptor
	FD   frame.FrameDescriptor
	DCA  uint8
}

type channelState struct {
	queue []Entry
	armed bool
	ctx   uint64
}

// Sim is a simulated queue manager portal.
type Sim struct {
	mu        sync.Mutex
	cfg       Config
	cena      *Memory
	cinh      *Memory
	direct    *Memory
	memBacked bool
	eqSize    uint32
	dqSize    uint32

	eqCI       uint32
	eqDoorbell uint32
	enqueued   []Enqueued

	dqPI uint32
	dqCI uint32
	dcap []uint32

	crVB          uint8
	rrVB          uint8
	stallCommands bool
	stalled       [][frame.Size]byte
	results       map[uint8]uint8
	commands      []uint8

	rcrAlloc    uint32
	rcrInFlight uint32
	rarBusy     bool
	releases    int
	pools       map[uint16][]uint64

	vdqVB      uint8
	stallPulls bool
	pulls      []frame.PullCommand
	pullErrors int
	channels   map[uint32]*channelState
	routes     map[uint32]uint32
	fqCtx      map[uint32]uint64

	isr uint32
	irq chan struct{}
}

func New(cfg Config) *Sim {
	if cfg.DataOffset == 0 {
		cfg.DataOffset = frame.AnnotationAreaSize
	}
	s := &Sim{
		cfg:       cfg,
		cena:      NewMemory(ring.CENASize),
		cinh:      NewMemory(ring.CINHSize),
		memBacked: cfg.Revision&ring.RevMask >= ring.Rev5000,
		eqSize:    ring.EnqueueRingSize(cfg.Revision),
		dqSize:    ring.DequeueRingSize(cfg.Revision),
		crVB:      frame.ValidBit,
		rrVB:      frame.ValidBit,
		vdqVB:     frame.ValidBit,
		results:   make(map[uint8]uint8),
		pools:     make(map[uint16][]uint64),
		channels:  make(map[uint32]*channelState),
		routes:    make(map[uint32]uint32),
		fqCtx:     make(map[uint32]uint64),
		irq:       make(chan struct{}, 1),
	}
	s.direct = s.cena
	if cfg.Revision&ring.RevMask < ring.Rev4100 {
		s.direct = s.cinh
	}

	eqMask := 2*s.eqSize - 1
	s.eqCI = cfg.EnqueueCI & eqMask
	s.eqDoorbell = cfg.EnqueuePI & eqMask
	s.cinh.poke32(ring.CINHEQCRPI, cfg.EnqueuePI&eqMask)
	s.cinh.poke32(ring.CINHEQCRCI, s.eqCI)
	s.cena.poke32(ring.CENAEQCRCIMemBack, s.eqCI)

	dqMask := 2*s.dqSize - 1
	s.dqCI = cfg.DequeueCI & dqMask
	s.dqPI = s.dqCI
	s.cinh.poke32(ring.CINHDCAP, s.dqCI)
	s.cinh.poke32(ring.CINHDQPI, s.dqPI)
	if cfg.StaleDequeueEntries && ring.HasDequeueResetBug(cfg.Revision) {
		s.fillStaleDQRR()
	}

	s.rcrAlloc = cfg.ReleasePI & (2*ring.ReleaseRingSize - 1)
	s.cinh.poke32(ring.CINHRCRPI, s.rcrAlloc)

	s.cena.onWrite = func(offset uint32, width int) { s.onCENAWrite(offset, width) }
	s.cinh.onWrite = func(offset uint32, width int) { s.onCINHWrite(offset, width) }
	s.cinh.onRead = s.onCINHRead

	return s
}

func (s *Sim) Windows() ring.Windows {
	return ring.Windows{CENA: s.cena, CINH: s.cinh}
}

func (s *Sim) CENA() *Memory {
	return s.cena
}

func (s *Sim) CINH() *Memory {
	return s.cinh
}

func (s *Sim) Revision() uint32 {
	return s.cfg.Revision
}

// Register returns the raw content of a cache-inhibited register.
func (s *Sim) Register(offset uint32) uint32 {
	return s.cinh.peek32(offset)
}

// SetRegister presets a cache-inhibited register without side effects.
func (s *Sim) SetRegister(offset, value uint32) {
	s.cinh.poke32(offset, value)
}

// Violations counts window accesses made after the windows were closed.
func (s *Sim) Violations() int64 {
	return s.cena.Violations() + s.cinh.Violations()
}

// IRQ is signalled when an enabled, uninhibited interrupt source is asserted.
func (s *Sim) IRQ() <-chan struct{} {
	return s.irq
}

func validBitFor(index, size uint32) uint8 {
	if index&size == 0 {
		return frame.ValidBit
	}

	return 0
}

func (s *Sim) onCENAWrite(offset uint32, width int) {
	if width != 1 || s.memBacked || s.direct != s.cena {
		return
	}
	s.directVerb(offset)
}

func (s *Sim) onCINHWrite(offset uint32, width int) {
	if width == 1 {
		if !s.memBacked && s.direct == s.cinh {
			s.directVerb(offset)
		}

		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case offset == ring.CINHDCAP:
		s.consumeDQRR(s.cinh.peek32(ring.CINHDCAP) & (s.dqSize - 1))
	case offset == ring.CINHISR:
		s.isr &^= s.cinh.peek32(ring.CINHISR)
		s.cinh.poke32(ring.CINHISR, s.isr)
	case offset == ring.CINHIER || offset == ring.CINHIIR:
		s.signal()
	case !s.memBacked:
		return
	case offset == ring.CINHEQCRPI:
		s.eqDoorbell = s.cinh.peek32(ring.CINHEQCRPI) & (2*s.eqSize - 1)
	case offset == ring.CINHCRRT:
		s.command(s.cena, ring.CENACRMem)
	case offset == ring.CINHVDQCRRT:
		s.pull(s.cena, ring.CENAVDQCRMem)
	case offset >= ring.CINHRCRAMRT && offset < ring.RCRDoorbell(ring.ReleaseRingSize):
		s.release(s.cena, ring.RCRMem((offset-ring.CINHRCRAMRT)/4))
	}
}

func (s *Sim) onCINHRead(offset uint32) (uint32, bool) {
	switch offset {
	case ring.CINHCFG:
		if s.cfg.DisableConfig {
			return 0, true
		}
	case ring.CINHRAR:
		s.mu.Lock()
		defer s.mu.Unlock()

		return s.allocateRelease(), true
	}

	return 0, false
}

// directVerb handles a verb byte written into a command slot of a direct
// write path.
func (s *Sim) directVerb(offset uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case offset == ring.CENACR:
		s.command(s.direct, ring.CENACR)
	case offset == ring.CENAVDQCR:
		s.pull(s.direct, ring.CENAVDQCR)
	case offset >= ring.RCR(0) && offset < ring.RCR(ring.ReleaseRingSize) && offset%ring.SlotSize == 0:
		s.release(s.direct, offset)
	}
}

func (s *Sim) raise(bits uint32) {
	s.isr |= bits
	s.cinh.poke32(ring.CINHISR, s.isr)
	s.signal()
}

func (s *Sim) signal() {
	if s.isr&s.cinh.peek32(ring.CINHIER) == 0 || s.cinh.peek32(ring.CINHIIR) != 0 {
		return
	}
	select {
	case s.irq <- struct{}{}:
	default:
	}
}

// RaiseIRQ asserts interrupt sources.
func (s *Sim) RaiseIRQ(bits uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raise(bits)
}
