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

// Package frame encodes and decodes the fixed-size records exchanged with the
// queue manager. All multi-byte fields are little endian. Nothing here relies
// on Go struct layout: every field is placed at an explicit byte offset.
package frame

import "encoding/binary"

const (
	// Size is the size of every ring slot and command frame.
	Size = 64
	// DescriptorSize is the size of a frame descriptor and of an enqueue descriptor.
	DescriptorSize = 32
)

type Format uint8

const (
	FormatSingle Format = iota
	FormatList
	FormatScatterGather
)

const (
	fdAddr        = 0
	fdLen         = 8
	fdBPID        = 12
	fdOffsetFmtSL = 14
	fdFrameCtx    = 16
	fdCtrl        = 20
	fdFlowCtx     = 24

	fdOffsetMask  = 0x0fff
	fdFormatShift = 12
	fdFormatMask  = 0x3
	fdShortLength = 1 << 14
	fdBPIDMask    = 0x3fff
	fdErrorMask   = 0xff

	// MaxFrameLength is the largest length a long-format descriptor carries.
	MaxFrameLength = 0x3ffff
)

// FrameDescriptor describes the location and layout of one frame in memory.
type FrameDescriptor struct {
	Addr        uint64
	Len         uint32
	BPIDIvpBmt  uint16
	OffsetFmtSL uint16
	FrameCtx    uint32
	Ctrl        uint32
	FlowCtx     uint64
}

func (fd *FrameDescriptor) Offset() uint16 {
	return fd.OffsetFmtSL & fdOffsetMask
}

func (fd *FrameDescriptor) Format() Format {
	return Format((fd.OffsetFmtSL >> fdFormatShift) & fdFormatMask)
}

func (fd *FrameDescriptor) ShortLength() bool {
	return fd.OffsetFmtSL&fdShortLength != 0
}

func (fd *FrameDescriptor) PoolID() uint16 {
	return fd.BPIDIvpBmt & fdBPIDMask
}

// Error returns the frame error bits reported by hardware.
func (fd *FrameDescriptor) Error() uint8 {
	return uint8(fd.Ctrl & fdErrorMask)
}

func (fd *FrameDescriptor) Length() uint32 {
	return fd.Len & MaxFrameLength
}

// SetLayout sets offset and format, clearing the short-length bit.
func (fd *FrameDescriptor) SetLayout(offset uint16, format Format) {
	fd.OffsetFmtSL = uint16(format)<<fdFormatShift | offset&fdOffsetMask
}

func (fd *FrameDescriptor) Encode(dst []byte) {
	_ = dst[DescriptorSize-1]
	binary.LittleEndian.PutUint64(dst[fdAddr:], fd.Addr)
	binary.LittleEndian.PutUint32(dst[fdLen:], fd.Len)
	binary.LittleEndian.PutUint16(dst[fdBPID:], fd.BPIDIvpBmt)
	binary.LittleEndian.PutUint16(dst[fdOffsetFmtSL:], fd.OffsetFmtSL)
	binary.LittleEndian.PutUint32(dst[fdFrameCtx:], fd.FrameCtx)
	binary.LittleEndian.PutUint32(dst[fdCtrl:], fd.Ctrl)
	binary.LittleEndian.PutUint64(dst[fdFlowCtx:], fd.FlowCtx)
}

func DecodeFrameDescriptor(src []byte) FrameDescriptor {
	_ = src[DescriptorSize-1]

	return FrameDescriptor{
		Addr:        binary.LittleEndian.Uint64(src[fdAddr:]),
		Len:         binary.LittleEndian.Uint32(src[fdLen:]),
		BPIDIvpBmt:  binary.LittleEndian.Uint16(src[fdBPID:]),
		OffsetFmtSL: binary.LittleEndian.Uint16(src[fdOffsetFmtSL:]),
		FrameCtx:    binary.LittleEndian.Uint32(src[fdFrameCtx:]),
		Ctrl:        binary.LittleEndian.Uint32(src[fdCtrl:]),
		FlowCtx:     binary.LittleEndian.Uint64(src[fdFlowCtx:]),
	}
}

const (
	// SGEntrySize is the size of one scatter/gather table entry.
	SGEntrySize = 16
	// SGFinal marks the last entry of a scatter/gather table.
	SGFinal uint16 = 0x8000

	sgAddr      = 0
	sgLen       = 8
	sgBPID      = 12
	sgOffsetFmt = 14
)

type SGEntry struct {
	Addr      uint64
	Len       uint32
	BPID      uint16
	OffsetFmt uint16
}

func (e *SGEntry) Final() bool {
	return e.OffsetFmt&SGFinal != 0
}

func (e *SGEntry) Encode(dst []byte) {
	_ = dst[SGEntrySize-1]
	binary.LittleEndian.PutUint64(dst[sgAddr:], e.Addr)
	binary.LittleEndian.PutUint32(dst[sgLen:], e.Len)
	binary.LittleEndian.PutUint16(dst[sgBPID:], e.BPID)
	binary.LittleEndian.PutUint16(dst[sgOffsetFmt:], e.OffsetFmt)
}

func DecodeSGEntry(src []byte) SGEntry {
	_ = src[SGEntrySize-1]

	return SGEntry{
		Addr:      binary.LittleEndian.Uint64(src[sgAddr:]),
		Len:       binary.LittleEndian.Uint32(src[sgLen:]),
		BPID:      binary.LittleEndian.Uint16(src[sgBPID:]),
		OffsetFmt: binary.LittleEndian.Uint16(src[sgOffsetFmt:]),
	}
}
