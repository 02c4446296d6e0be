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

package ring

import (
	"github.com/pawelgaczynski/qbman/pkg/mmio"
)

// Windows are the two register regions of a portal.
type Windows struct {
	// CENA holds ring data and is mapped cache-enabled.
	CENA mmio.Window
	// CINH holds index and control registers and is mapped cache-inhibited.
	CINH mmio.Window
}

// WritePath says where command frames go and how hardware learns about them.
// It is chosen once per portal from the hardware revision.
type WritePath interface {
	Name() string
	// MemoryBacked paths flag fresh management responses with a valid bit;
	// direct paths rely on the response token only.
	MemoryBacked() bool

	EnqueueSlot(slot uint32) (mmio.Window, uint32)
	// EnqueueConsumerIndex reads the hardware consumer index of the enqueue ring.
	EnqueueConsumerIndex() uint32
	EnqueueDoorbell(pi uint32, vb uint8)

	DequeueSlot(slot uint32) (mmio.Window, uint32)

	ReleaseSlot(slot uint32) (mmio.Window, uint32)
	ReleaseDoorbell(slot uint32)

	CommandSlot() (mmio.Window, uint32)
	CommandDoorbell()
	ResponseSlot(vb uint8) (mmio.Window, uint32)

	PullSlot() (mmio.Window, uint32)
	PullDoorbell()
}

// SelectWritePath picks the write path for a hardware revision.
func SelectWritePath(revision uint32, w Windows) WritePath {
	switch rev := revision & RevMask; {
	case rev >= Rev5000:
		return &memoryBackedPath{w: w}
	case rev >= Rev4100:
		return &directPath{name: "cache-enabled", w: w, target: w.CENA}
	default:
		return &directPath{name: "cache-inhibited", w: w, target: w.CINH}
	}
}

// directPath writes command frames straight into their slots. Writing the
// verb byte is what hands a frame to hardware.
type directPath struct {
	name   string
	w      Windows
	target mmio.Window
}

func (p *directPath) Name() string {
	return p.name
}

func (p *directPath) MemoryBacked() bool {
	return false
}

func (p *directPath) EnqueueSlot(slot uint32) (mmio.Window, uint32) {
	return p.target, EQCR(slot)
}

func (p *directPath) EnqueueConsumerIndex() uint32 {
	return p.w.CINH.Read32(CINHEQCRCI)
}

func (p *directPath) EnqueueDoorbell(uint32, uint8) {}

func (p *directPath) DequeueSlot(slot uint32) (mmio.Window, uint32) {
	return p.target, DQRR(slot)
}

func (p *directPath) ReleaseSlot(slot uint32) (mmio.Window, uint32) {
	return p.target, RCR(slot)
}

func (p *directPath) ReleaseDoorbell(uint32) {}

func (p *directPath) CommandSlot() (mmio.Window, uint32) {
	return p.target, CENACR
}

func (p *directPath) CommandDoorbell() {}

func (p *directPath) ResponseSlot(vb uint8) (mmio.Window, uint32) {
	return p.target, RR(vb)
}

func (p *directPath) PullSlot() (mmio.Window, uint32) {
	return p.target, CENAVDQCR
}

func (p *directPath) PullDoorbell() {}

// memoryBackedPath writes command frames into memory-backed rings and then
// rings a read-trigger doorbell in the cache-inhibited window.
type memoryBackedPath struct {
	w Windows
}

func (p *memoryBackedPath) Name() string {
	return "memory-backed"
}

func (p *memoryBackedPath) MemoryBacked() bool {
	return true
}

func (p *memoryBackedPath) EnqueueSlot(slot uint32) (mmio.Window, uint32) {
	return p.w.CENA, EQCR(slot)
}

func (p *memoryBackedPath) EnqueueConsumerIndex() uint32 {
	return p.w.CENA.Read32(CENAEQCRCIMemBack)
}

func (p *memoryBackedPath) EnqueueDoorbell(pi uint32, vb uint8) {
	p.w.CENA.Barrier()
	p.w.CINH.Write32(CINHEQCRPI, RTMode|pi|uint32(vb))
}

func (p *memoryBackedPath) DequeueSlot(slot uint32) (mmio.Window, uint32) {
	return p.w.CENA, DQRRMem(slot)
}

func (p *memoryBackedPath) ReleaseSlot(slot uint32) (mmio.Window, uint32) {
	return p.w.CENA, RCRMem(slot)
}

func (p *memoryBackedPath) ReleaseDoorbell(slot uint32) {
	p.w.CENA.Barrier()
	p.w.CINH.Write32(RCRDoorbell(slot), RTMode)
}

func (p *memoryBackedPath) CommandSlot() (mmio.Window, uint32) {
	return p.w.CENA, CENACRMem
}

func (p *memoryBackedPath) CommandDoorbell() {
	p.w.CENA.Barrier()
	p.w.CINH.Write32(CINHCRRT, RTMode)
}

func (p *memoryBackedPath) ResponseSlot(uint8) (mmio.Window, uint32) {
	return p.w.CENA, CENARRMem
}

func (p *memoryBackedPath) PullSlot() (mmio.Window, uint32) {
	return p.w.CENA, CENAVDQCRMem
}

func (p *memoryBackedPath) PullDoorbell() {
	p.w.CENA.Barrier()
	p.w.CINH.Write32(CINHVDQCRRT, RTMode)
}
