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

package mmio

// Window is an addressable register region of a portal. Offsets are in bytes
// from the start of the window. 32 and 64 bit accesses must be naturally
// aligned.
type Window interface {
	Read8(offset uint32) uint8
	Write8(offset uint32, value uint8)
	Read32(offset uint32) uint32
	Write32(offset uint32, value uint32)
	Read64(offset uint32) uint64
	Write64(offset uint32, value uint64)
	// ReadBlock copies len(dst) bytes starting at offset.
	ReadBlock(offset uint32, dst []byte)
	// WriteBlock copies src into the window starting at offset.
	WriteBlock(offset uint32, src []byte)
	// Barrier orders every store issued before it ahead of every store issued after it.
	Barrier()
	Size() int
	Close() error
}
