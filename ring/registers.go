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

// Cache-inhibited window registers.
const (
	CINHEQCRPI   uint32 = 0x800
	CINHEQCRCI   uint32 = 0x840
	CINHCRRT     uint32 = 0x900
	CINHVDQCRRT  uint32 = 0x940
	CINHRCRAMRT  uint32 = 0x9c0
	CINHDQPI     uint32 = 0xa00
	CINHDQRRITR  uint32 = 0xa80
	CINHDCAP     uint32 = 0xac0
	CINHSDQCR    uint32 = 0xb00
	CINHRCRPI    uint32 = 0xc00
	CINHRAR      uint32 = 0xcc0
	CINHCFG      uint32 = 0xd00
	CINHISR      uint32 = 0xe00
	CINHIER      uint32 = 0xe40
	CINHISDR     uint32 = 0xe80
	CINHIIR      uint32 = 0xec0
	CINHITPR     uint32 = 0xf40
	CINHSize            = 0x1000
	RTMode       uint32 = 0x100
	slotShift           = 6
	dqpiMask     uint32 = 0xf
	rarIdxMask   uint32 = 0x7
	rarVBMask    uint32 = 0x80
	rarSuccess   uint32 = 0x100
	sdqcrSrcMask uint32 = 0xffff
)

// Cache-enabled window offsets.
const (
	CENAEQCRBase      uint32 = 0x000
	CENADQRRBase      uint32 = 0x200
	CENARCRBase       uint32 = 0x400
	CENACR            uint32 = 0x600
	CENARRBase        uint32 = 0x700
	CENAVDQCR         uint32 = 0x780
	CENADQRRMemBase   uint32 = 0x800
	CENARCRMemBase    uint32 = 0x1400
	CENACRMem         uint32 = 0x1600
	CENARRMem         uint32 = 0x1680
	CENAVDQCRMem      uint32 = 0x1780
	CENAEQCRCIMemBack uint32 = 0x1840
	CENASize                 = 0x10000
)

func EQCR(n uint32) uint32 {
	return CENAEQCRBase + n<<slotShift
}

func DQRR(n uint32) uint32 {
	return CENADQRRBase + n<<slotShift
}

func RCR(n uint32) uint32 {
	return CENARCRBase + n<<slotShift
}

// RR returns the response slot selected by the management valid bit.
func RR(vb uint8) uint32 {
	return CENARRBase + uint32(vb)>>1
}

func DQRRMem(n uint32) uint32 {
	return CENADQRRMemBase + n<<slotShift
}

func RCRMem(n uint32) uint32 {
	return CENARCRMemBase + n<<slotShift
}

// RCRDoorbell is the read trigger register of release ring slot n.
func RCRDoorbell(n uint32) uint32 {
	return CINHRCRAMRT + n*4
}

// DQPI extracts the producer index from the dequeue producer index register.
func DQPI(value uint32) uint32 {
	return value & dqpiMask
}

// RAR decodes a release array allocation register value.
func RAR(value uint32) (idx uint32, vb uint8, ok bool) {
	return value & rarIdxMask, uint8(value & rarVBMask), value&rarSuccess != 0
}

// EncodeRAR is the inverse of RAR.
func EncodeRAR(idx uint32, vb uint8, ok bool) uint32 {
	value := idx&rarIdxMask | uint32(vb)&rarVBMask
	if ok {
		value |= rarSuccess
	}

	return value
}

// Configuration register fields.
const (
	cfgDQRRMaxFillShift = 20
	cfgEQCRCIStashShift = 16
	cfgCPBSShift        = 15
	cfgWNShift          = 14
	cfgVPMShift         = 13
	cfgRPMShift         = 12
	cfgDCMShift         = 10
	cfgEPMShift         = 8
	cfgSDShift          = 5
	cfgSPShift          = 4
	cfgSEShift          = 3
	cfgDPShift          = 2
	cfgDEShift          = 1
	cfgEPShift          = 0
)

// Config is the decoded content of the portal configuration register.
type Config struct {
	DQRRMaxFill     uint32
	WriteNonCached  bool
	EQCRCIStash     uint32
	RCRMode         uint32
	DequeueAck      uint32
	EQCRMode        uint32
	StashDrop       bool
	StashPriority   bool
	StashEnable     bool
	DequeuePriority bool
	DequeueStash    bool
	EQCRCIPriority  bool
	// MemoryBacked selects memory-backed rings with explicit read triggers.
	MemoryBacked    bool
}

func b2u(v bool) uint32 {
	if v {
		return 1
	}

	return 0
}

func (c *Config) Encode() uint32 {
	return c.DQRRMaxFill<<cfgDQRRMaxFillShift |
		c.EQCRCIStash<<cfgEQCRCIStashShift |
		b2u(c.WriteNonCached)<<cfgWNShift |
		c.RCRMode<<cfgRPMShift |
		c.DequeueAck<<cfgDCMShift |
		c.EQCRMode<<cfgEPMShift |
		b2u(c.StashDrop)<<cfgSDShift |
		b2u(c.StashPriority)<<cfgSPShift |
		b2u(c.StashEnable)<<cfgSEShift |
		b2u(c.DequeuePriority)<<cfgDPShift |
		b2u(c.DequeueStash)<<cfgDEShift |
		b2u(c.EQCRCIPriority)<<cfgEPShift |
		b2u(c.MemoryBacked)<<cfgCPBSShift |
		b2u(c.MemoryBacked)<<cfgVPMShift
}

// Static dequeue command register fields.
const (
	sdqcrDCTShift = 24
	sdqcrFCShift  = 29
	sdqcrTokShift = 16

	sdqcrDCTPriorityICS = 1
	sdqcrFCUpTo3        = 1
	SDQCRToken          = 0xbb
)

// SDQCRBase is the static dequeue command with an empty source bitmap.
const SDQCRBase uint32 = sdqcrDCTPriorityICS<<sdqcrDCTShift | sdqcrFCUpTo3<<sdqcrFCShift | SDQCRToken<<sdqcrTokShift

// SDQCRSources extracts the channel source bitmap of a static dequeue command.
func SDQCRSources(sdq uint32) uint32 {
	return sdq & sdqcrSrcMask
}

// MaxInterruptTimeout is the largest interrupt timeout period in hardware units.
const MaxInterruptTimeout uint32 = 4096

// Interrupt sources, as found in ISR, IER and ISDR.
const (
	IRQEnqueueRing  uint32 = 0x01
	IRQEnqueueDone  uint32 = 0x02
	IRQDequeueRing  uint32 = 0x04
	IRQReleaseRing  uint32 = 0x08
	IRQReleaseDone  uint32 = 0x10
	IRQVolatileDone uint32 = 0x20
	IRQAll          uint32 = 0x3f
)
