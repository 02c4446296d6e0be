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

package frame

import (
	"encoding/binary"
	"fmt"
)

// MaxReleaseBuffers is the number of buffer addresses one release or acquire command carries.
const MaxReleaseBuffers = 7

const (
	rcVerb = 0
	rcBPID = 2
	rcBufs = 8

	rcVerbCommandValid = 1 << 5
	rcVerbCountMask    = 0x7
)

// EncodeRelease builds a release ring command for up to MaxReleaseBuffers
// addresses. The valid bit is left clear.
func EncodeRelease(poolID uint16, addrs []uint64) [Size]byte {
	if len(addrs) == 0 || len(addrs) > MaxReleaseBuffers {
		panic(fmt.Sprintf("frame: release of %d buffers", len(addrs)))
	}
	var cmd [Size]byte
	cmd[rcVerb] = rcVerbCommandValid | uint8(len(addrs))
	binary.LittleEndian.PutUint16(cmd[rcBPID:], poolID)
	for i, addr := range addrs {
		binary.LittleEndian.PutUint64(cmd[rcBufs+i*8:], addr)
	}

	return cmd
}

func DecodeRelease(src []byte) (uint16, []uint64) {
	_ = src[Size-1]
	count := int(src[rcVerb] & rcVerbCountMask)
	addrs := make([]uint64, count)
	for i := range addrs {
		addrs[i] = binary.LittleEndian.Uint64(src[rcBufs+i*8:])
	}

	return binary.LittleEndian.Uint16(src[rcBPID:]), addrs
}

type PullType uint8

const (
	PullPriority PullType = iota + 1
	PullActive
	PullActiveNoICS
)

type PullSource uint8

const (
	PullFromChannel PullSource = iota + 1
	PullFromWorkQueue
	PullFromFrameQueue
)

// MaxPullFrames is the largest frame count of one volatile dequeue command.
const MaxPullFrames = 16

const (
	pcVerb        = 0
	pcNumF        = 1
	pcTok         = 2
	pcDQSrc       = 4
	pcRspAddr     = 8
	pcRspAddrVirt = 16

	pcVerbDCTMask  = 0x3
	pcVerbDTShift  = 2
	pcVerbDTMask   = 0x3
	pcVerbRelease  = 1 << 4
	pcVerbWriteAll = 1 << 5
)

// PullCommand is a volatile dequeue command.
type PullCommand struct {
	Type        PullType
	Source      PullSource
	Stash       bool
	Frames      int
	Token       uint8
	SourceID    uint32
	RspAddr     uint64
	RspAddrVirt uint64
}

func EncodePull(c *PullCommand) [Size]byte {
	if c.Frames < 1 || c.Frames > MaxPullFrames {
		panic(fmt.Sprintf("frame: pull of %d frames", c.Frames))
	}
	var cmd [Size]byte
	verb := uint8(c.Type)&pcVerbDCTMask | (uint8(c.Source)&pcVerbDTMask)<<pcVerbDTShift
	if c.RspAddr != 0 {
		verb |= pcVerbRelease
	}
	if c.Stash {
		verb |= pcVerbWriteAll
	}
	cmd[pcVerb] = verb
	cmd[pcNumF] = uint8(c.Frames - 1)
	cmd[pcTok] = c.Token
	binary.LittleEndian.PutUint32(cmd[pcDQSrc:], c.SourceID)
	binary.LittleEndian.PutUint64(cmd[pcRspAddr:], c.RspAddr)
	binary.LittleEndian.PutUint64(cmd[pcRspAddrVirt:], c.RspAddrVirt)

	return cmd
}

func DecodePull(src []byte) PullCommand {
	_ = src[Size-1]
	verb := src[pcVerb] &^ ValidBit

	return PullCommand{
		Type:        PullType(verb & pcVerbDCTMask),
		Source:      PullSource((verb >> pcVerbDTShift) & pcVerbDTMask),
		Stash:       verb&pcVerbWriteAll != 0,
		Frames:      int(src[pcNumF]) + 1,
		Token:       src[pcTok],
		SourceID:    binary.LittleEndian.Uint32(src[pcDQSrc:]),
		RspAddr:     binary.LittleEndian.Uint64(src[pcRspAddr:]),
		RspAddrVirt: binary.LittleEndian.Uint64(src[pcRspAddrVirt:]),
	}
}
