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

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Region is a Window backed by a shared memory mapping of a device node or a file.
type Region struct {
	data  []byte
	fence uint32
}

// Map maps size bytes of the file at path, starting at offset, as a
// read-write shared mapping. The file descriptor is closed once mapped.
func Map(path string, offset int64, size int) (*Region, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer file.Close()

	data, err := unix.Mmap(int(file.Fd()), offset, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap %s at %#x", path, offset)
	}

	return &Region{data: data}, nil
}

func (r *Region) ptr(offset uint32, width uint32) unsafe.Pointer {
	if offset%width != 0 {
		panic(fmt.Sprintf("mmio: unaligned %d byte access at %#x", width, offset))
	}

	_ = r.data[offset+width-1]

	return unsafe.Pointer(&r.data[offset])
}

func (r *Region) Read8(offset uint32) uint8 {
	return r.data[offset]
}

func (r *Region) Write8(offset uint32, value uint8) {
	r.data[offset] = value
}

func (r *Region) Read32(offset uint32) uint32 {
	return atomic.LoadUint32((*uint32)(r.ptr(offset, 4)))
}

func (r *Region) Write32(offset uint32, value uint32) {
	atomic.StoreUint32((*uint32)(r.ptr(offset, 4)), value)
}

func (r *Region) Read64(offset uint32) uint64 {
	return atomic.LoadUint64((*uint64)(r.ptr(offset, 8)))
}

func (r *Region) Write64(offset uint32, value uint64) {
	atomic.StoreUint64((*uint64)(r.ptr(offset, 8)), value)
}

func (r *Region) ReadBlock(offset uint32, dst []byte) {
	copy(dst, r.data[offset:offset+uint32(len(dst))])
}

func (r *Region) WriteBlock(offset uint32, src []byte) {
	copy(r.data[offset:offset+uint32(len(src))], src)
}

// Barrier issues a sequentially consistent atomic store, which the Go memory
// model keeps ordered against the plain stores around it.
func (r *Region) Barrier() {
	atomic.AddUint32(&r.fence, 1)
}

func (r *Region) Size() int {
	return len(r.data)
}

func (r *Region) Close() error {
	if r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil

	return errors.Wrap(err, "munmap")
}
