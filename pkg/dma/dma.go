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

package dma

type Direction uint8

const (
	// ToDevice makes CPU writes visible to the device.
	ToDevice Direction = iota
	// FromDevice makes device writes visible to the CPU.
	FromDevice
)

// Allocator hands out buffers that can be mapped for DMA.
type Allocator interface {
	Alloc(size int) ([]byte, error)
	Free(buf []byte)
}

// Mapper maps buffers into the device's bus address space.
type Mapper interface {
	Map(buf []byte) (uint64, error)
	Unmap(paddr uint64) error
	Sync(paddr uint64, dir Direction)
}

// Resolver gives the CPU view of n bytes at a bus address.
type Resolver interface {
	Bytes(paddr uint64, n int) ([]byte, error)
}

// Memory is everything the buffer layer needs from the platform.
type Memory interface {
	Allocator
	Mapper
	Resolver
}
