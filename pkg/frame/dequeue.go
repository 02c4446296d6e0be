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

// Response types carried in the low seven bits of a dequeue ring entry verb.
const (
	ResultMask uint8 = 0x7f

	ResultFrameDequeue uint8 = 0x60
	ResultFQRN         uint8 = 0x21
	ResultFQRNI        uint8 = 0x22
	ResultFQPN         uint8 = 0x24
	ResultFQDAN        uint8 = 0x25
	ResultCDAN         uint8 = 0x26
	ResultCSCNMem      uint8 = 0x27
	ResultCGCU         uint8 = 0x28
	ResultBPSCN        uint8 = 0x29
	ResultCSCNWQ       uint8 = 0x2a
)

// Dequeue status bits.
const (
	StatFQEmpty       uint8 = 0x80
	StatHeldActive    uint8 = 0x40
	StatForceEligible uint8 = 0x20
	StatValidFrame    uint8 = 0x10
	StatODPValid      uint8 = 0x04
	StatVolatile      uint8 = 0x02
	StatExpired       uint8 = 0x01
)

const (
	// DequeueStatOffset is the position of the status byte in a dequeue entry.
	DequeueStatOffset = 1
	// DequeueTokenOffset is the position of the command token in a dequeue entry.
	DequeueTokenOffset = 7
)

const (
	dqVerb      = 0
	dqStat      = 1
	dqSeqNum    = 2
	dqORPRID    = 4
	dqFQID      = 8
	dqFQByteCnt = 16
	dqFQFrmCnt  = 20
	dqFQDCtx    = 24
	dqFD        = 32

	scnState  = 2
	scnRIDTok = 4
	scnCtx    = 8
)

// DequeueResponse is one 64 byte entry of the dequeue ring or of a pull
// storage buffer.
type DequeueResponse struct {
	Verb      uint8
	Stat      uint8
	SeqNum    uint16
	ORPRID    uint16
	Token     uint8
	FQID      uint32
	FQByteCnt uint32
	FQFrmCnt  uint32
	FQDCtx    uint64
	FD        FrameDescriptor
}

func (r *DequeueResponse) Type() uint8 {
	return r.Verb & ResultMask
}

func (r *DequeueResponse) IsFrameDequeue() bool {
	return r.Type() == ResultFrameDequeue
}

func (r *DequeueResponse) IsNotification() bool {
	t := r.Type()

	return t >= ResultFQRN && t <= ResultCSCNWQ
}

func (r *DequeueResponse) HasFrame() bool {
	return r.Stat&StatValidFrame != 0
}

func (r *DequeueResponse) Expired() bool {
	return r.Stat&StatExpired != 0
}

func (r *DequeueResponse) QueueEmpty() bool {
	return r.Stat&StatFQEmpty != 0
}

func (r *DequeueResponse) Encode(dst []byte) {
	_ = dst[Size-1]
	dst[dqVerb] = r.Verb
	dst[dqStat] = r.Stat
	binary.LittleEndian.PutUint16(dst[dqSeqNum:], r.SeqNum)
	binary.LittleEndian.PutUint16(dst[dqORPRID:], r.ORPRID)
	dst[DequeueTokenOffset] = r.Token
	binary.LittleEndian.PutUint32(dst[dqFQID:], r.FQID)
	binary.LittleEndian.PutUint32(dst[dqFQByteCnt:], r.FQByteCnt)
	binary.LittleEndian.PutUint32(dst[dqFQFrmCnt:], r.FQFrmCnt)
	binary.LittleEndian.PutUint64(dst[dqFQDCtx:], r.FQDCtx)
	r.FD.Encode(dst[dqFD:])
}

func DecodeDequeue(src []byte) DequeueResponse {
	_ = src[Size-1]

	return DequeueResponse{
		Verb:      src[dqVerb],
		Stat:      src[dqStat],
		SeqNum:    binary.LittleEndian.Uint16(src[dqSeqNum:]),
		ORPRID:    binary.LittleEndian.Uint16(src[dqORPRID:]),
		Token:     src[DequeueTokenOffset],
		FQID:      binary.LittleEndian.Uint32(src[dqFQID:]),
		FQByteCnt: binary.LittleEndian.Uint32(src[dqFQByteCnt:]),
		FQFrmCnt:  binary.LittleEndian.Uint32(src[dqFQFrmCnt:]),
		FQDCtx:    binary.LittleEndian.Uint64(src[dqFQDCtx:]),
		FD:        DecodeFrameDescriptor(src[dqFD:]),
	}
}

// Notification is the state change notification variant of a dequeue entry.
type Notification struct {
	Verb   uint8
	Stat   uint8
	State  uint8
	RIDTok uint32
	Ctx    uint64
}

func (n *Notification) Type() uint8 {
	return n.Verb & ResultMask
}

func (n *Notification) Encode(dst []byte) {
	_ = dst[Size-1]
	dst[dqVerb] = n.Verb
	dst[dqStat] = n.Stat
	dst[scnState] = n.State
	binary.LittleEndian.PutUint32(dst[scnRIDTok:], n.RIDTok)
	binary.LittleEndian.PutUint64(dst[scnCtx:], n.Ctx)
}

func DecodeNotification(src []byte) Notification {
	_ = src[Size-1]

	return Notification{
		Verb:   src[dqVerb],
		Stat:   src[dqStat],
		State:  src[scnState],
		RIDTok: binary.LittleEndian.Uint32(src[scnRIDTok:]),
		Ctx:    binary.LittleEndian.Uint64(src[scnCtx:]),
	}
}
