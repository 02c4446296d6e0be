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

// Management command identifiers.
const (
	CmdAcquire          uint8 = 0x30
	CmdQueryBufferPool  uint8 = 0x32
	CmdQueryFrameQueue  uint8 = 0x45
	CmdConfigureChannel uint8 = 0x46
)

// Management result codes.
const (
	ResultOK       uint8 = 0xf0
	ResultOverrun  uint8 = 0xf1
	ResultUnderrun uint8 = 0xf2
)

const (
	// CommandTokenOffset is where the caller token sits in a management command.
	CommandTokenOffset = 1

	// ResponseResultOffset is where the result code sits in a management response.
	ResponseResultOffset = 1

	// ResponseTokenOffset is where the echoed caller token sits in a management response.
	ResponseTokenOffset = 2

	mcBPID     = 2
	mcAcqNum   = 4
	mcFQID     = 4
	mcChannel  = 2
	mcWE       = 4
	mcCtrl     = 5
	mcCDANCtx  = 8
	mrAcqNum   = 3
	mrAcqBufs  = 8
	mrState    = 3
	mrBPFree   = 4
	mrFQFrames = 4
	mrFQBytes  = 8

	cdanWEEnable  = 0x1
	cdanWEContext = 0x4
)

func CommandName(id uint8) string {
	switch id &^ ValidBit {
	case CmdAcquire:
		return "acquire"
	case CmdQueryBufferPool:
		return "query buffer pool"
	case CmdQueryFrameQueue:
		return "query frame queue"
	case CmdConfigureChannel:
		return "configure channel"
	}

	return fmt.Sprintf("command %#x", id)
}

// Response is a decoded management response frame.
type Response struct {
	Verb   uint8
	Result uint8
	Token  uint8
	Raw    [Size]byte
}

func (r *Response) Command() uint8 {
	return r.Verb &^ ValidBit
}

func DecodeResponse(src []byte) Response {
	var resp Response
	copy(resp.Raw[:], src[:Size])
	resp.Verb = resp.Raw[0]
	resp.Result = resp.Raw[ResponseResultOffset]
	resp.Token = resp.Raw[ResponseTokenOffset]

	return resp
}

// NewResponse builds the fixed header of a management response.
func NewResponse(cmd, result, token uint8) [Size]byte {
	var resp [Size]byte
	resp[0] = cmd
	resp[ResponseResultOffset] = result
	resp[ResponseTokenOffset] = token

	return resp
}

func EncodeAcquire(poolID uint16, count int) [Size]byte {
	if count < 1 || count > MaxReleaseBuffers {
		panic(fmt.Sprintf("frame: acquire of %d buffers", count))
	}
	var cmd [Size]byte
	cmd[0] = CmdAcquire
	binary.LittleEndian.PutUint16(cmd[mcBPID:], poolID)
	cmd[mcAcqNum] = uint8(count)

	return cmd
}

func DecodeAcquire(src []byte) (uint16, int) {
	return binary.LittleEndian.Uint16(src[mcBPID:]), int(src[mcAcqNum])
}

func EncodeAcquireResult(resp *[Size]byte, addrs []uint64) {
	resp[mrAcqNum] = uint8(len(addrs))
	for i, addr := range addrs {
		binary.LittleEndian.PutUint64(resp[mrAcqBufs+i*8:], addr)
	}
}

func (r *Response) AcquiredBuffers() []uint64 {
	count := int(r.Raw[mrAcqNum])
	if count > MaxReleaseBuffers {
		count = MaxReleaseBuffers
	}
	addrs := make([]uint64, count)
	for i := range addrs {
		addrs[i] = binary.LittleEndian.Uint64(r.Raw[mrAcqBufs+i*8:])
	}

	return addrs
}

func EncodeQueryBufferPool(poolID uint16) [Size]byte {
	var cmd [Size]byte
	cmd[0] = CmdQueryBufferPool
	binary.LittleEndian.PutUint16(cmd[mcBPID:], poolID)

	return cmd
}

func DecodeQueryBufferPool(src []byte) uint16 {
	return binary.LittleEndian.Uint16(src[mcBPID:])
}

// BufferPoolQuery is the result of a buffer pool query.
type BufferPoolQuery struct {
	State uint8
	Free  uint32
}

func EncodeBufferPoolQueryResult(resp *[Size]byte, q BufferPoolQuery) {
	resp[mrState] = q.State
	binary.LittleEndian.PutUint32(resp[mrBPFree:], q.Free)
}

func (r *Response) BufferPoolQuery() BufferPoolQuery {
	return BufferPoolQuery{
		State: r.Raw[mrState],
		Free:  binary.LittleEndian.Uint32(r.Raw[mrBPFree:]),
	}
}

func EncodeQueryFrameQueue(fqid uint32) [Size]byte {
	var cmd [Size]byte
	cmd[0] = CmdQueryFrameQueue
	binary.LittleEndian.PutUint32(cmd[mcFQID:], fqid)

	return cmd
}

func DecodeQueryFrameQueue(src []byte) uint32 {
	return binary.LittleEndian.Uint32(src[mcFQID:])
}

// FrameQueueQuery is the result of a frame queue query.
type FrameQueueQuery struct {
	State  uint8
	Frames uint32
	Bytes  uint32
}

func EncodeFrameQueueQueryResult(resp *[Size]byte, q FrameQueueQuery) {
	resp[mrState] = q.State
	binary.LittleEndian.PutUint32(resp[mrFQFrames:], q.Frames)
	binary.LittleEndian.PutUint32(resp[mrFQBytes:], q.Bytes)
}

func (r *Response) FrameQueueQuery() FrameQueueQuery {
	return FrameQueueQuery{
		State:  r.Raw[mrState],
		Frames: binary.LittleEndian.Uint32(r.Raw[mrFQFrames:]),
		Bytes:  binary.LittleEndian.Uint32(r.Raw[mrFQBytes:]),
	}
}

// ChannelNotification configures data availability notifications of a channel.
type ChannelNotification struct {
	ChannelID uint16
	Enable    bool
	Ctx       uint64
}

func EncodeChannelNotification(n *ChannelNotification) [Size]byte {
	var cmd [Size]byte
	cmd[0] = CmdConfigureChannel
	binary.LittleEndian.PutUint16(cmd[mcChannel:], n.ChannelID)
	cmd[mcWE] = cdanWEEnable | cdanWEContext
	if n.Enable {
		cmd[mcCtrl] = 1
	}
	binary.LittleEndian.PutUint64(cmd[mcCDANCtx:], n.Ctx)

	return cmd
}

func DecodeChannelNotification(src []byte) ChannelNotification {
	return ChannelNotification{
		ChannelID: binary.LittleEndian.Uint16(src[mcChannel:]),
		Enable:    src[mcCtrl]&1 != 0,
		Ctx:       binary.LittleEndian.Uint64(src[mcCDANCtx:]),
	}
}
