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

import "encoding/binary"

// ValidBit is the position of the valid bit inside the first byte of every
// ring slot and command frame.
const ValidBit uint8 = 0x80

type ResponseMode uint8

const (
	RespondNever ResponseMode = iota
	RespondAlways
	RespondRejectsToFQ
)

type TargetType uint8

const (
	TargetFrameQueue TargetType = iota
	TargetQueuingDestination
)

const (
	eqVerb    = 0
	eqDCA     = 1
	eqSeqNum  = 2
	eqORPID   = 4
	eqTgtID   = 8
	eqTag     = 12
	eqQDBin   = 16
	eqQPri    = 18
	eqWAE     = 22
	eqRSPID   = 23
	eqRspAddr = 24

	// EnqueueFDOffset is where the frame descriptor starts inside an enqueue slot.
	EnqueueFDOffset = 32

	eqVerbRespMask  = 0x3
	eqVerbORPEnable = 1 << 2
	eqVerbTargetQD  = 1 << 4

	eqDCAEnable  = 1 << 7
	eqDCAIdxMask = 0x0f
)

// EnqueueFlagDCA requests a discrete consumption acknowledgement of the DQRR
// entry whose index is carried in the low four bits of the same flag word.
const EnqueueFlagDCA uint32 = 1 << 31

// EnqueueDescriptor is the command half of an enqueue ring slot.
type EnqueueDescriptor struct {
	Response  ResponseMode
	ORPEnable bool
	Target    TargetType
	SeqNum    uint16
	ORPID     uint16
	TargetID  uint32
	Tag       uint32
	QDBin     uint16
	QPri      uint8
	WAE       uint8
	RspID     uint8
	RspAddr   uint64
}

func (d *EnqueueDescriptor) verb() uint8 {
	verb := uint8(d.Response) & eqVerbRespMask
	if d.ORPEnable {
		verb |= eqVerbORPEnable
	}
	if d.Target == TargetQueuingDestination {
		verb |= eqVerbTargetQD
	}

	return verb
}

// EncodeEnqueue builds a complete enqueue slot. The valid bit of byte 0 is
// left clear; the ring layer ORs it in when committing the slot.
func EncodeEnqueue(d *EnqueueDescriptor, fd *FrameDescriptor) [Size]byte {
	var slot [Size]byte
	slot[eqVerb] = d.verb()
	binary.LittleEndian.PutUint16(slot[eqSeqNum:], d.SeqNum)
	binary.LittleEndian.PutUint16(slot[eqORPID:], d.ORPID)
	binary.LittleEndian.PutUint32(slot[eqTgtID:], d.TargetID)
	binary.LittleEndian.PutUint32(slot[eqTag:], d.Tag)
	binary.LittleEndian.PutUint16(slot[eqQDBin:], d.QDBin)
	slot[eqQPri] = d.QPri
	slot[eqWAE] = d.WAE
	slot[eqRSPID] = d.RspID
	binary.LittleEndian.PutUint64(slot[eqRspAddr:], d.RspAddr)
	fd.Encode(slot[EnqueueFDOffset:])

	return slot
}

// SetDCA writes the consumption acknowledgement byte for flags into slot.
// It reports whether flags requested one.
func SetDCA(slot *[Size]byte, flags uint32) bool {
	if flags&EnqueueFlagDCA == 0 {
		return false
	}
	slot[eqDCA] = eqDCAEnable | uint8(flags)&eqDCAIdxMask

	return true
}

// DecodeEnqueue is the inverse of EncodeEnqueue. The valid bit is dropped.
func DecodeEnqueue(slot []byte) (EnqueueDescriptor, FrameDescriptor, uint8) {
	_ = slot[Size-1]
	verb := slot[eqVerb] &^ ValidBit
	d := EnqueueDescriptor{
		Response:  ResponseMode(verb & eqVerbRespMask),
		ORPEnable: verb&eqVerbORPEnable != 0,
		SeqNum:    binary.LittleEndian.Uint16(slot[eqSeqNum:]),
		ORPID:     binary.LittleEndian.Uint16(slot[eqORPID:]),
		TargetID:  binary.LittleEndian.Uint32(slot[eqTgtID:]),
		Tag:       binary.LittleEndian.Uint32(slot[eqTag:]),
		QDBin:     binary.LittleEndian.Uint16(slot[eqQDBin:]),
		QPri:      slot[eqQPri],
		WAE:       slot[eqWAE],
		RspID:     slot[eqRSPID],
		RspAddr:   binary.LittleEndian.Uint64(slot[eqRspAddr:]),
	}
	if verb&eqVerbTargetQD != 0 {
		d.Target = TargetQueuingDestination
	}

	return d, DecodeFrameDescriptor(slot[EnqueueFDOffset:]), slot[eqDCA]
}
