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

import "fmt"

const (
	RevMask uint32 = 0xffff0000
	Rev4000 uint32 = 0x04000000
	Rev4100 uint32 = 0x04010000
	Rev5000 uint32 = 0x05000000

	ReleaseRingSize uint32 = 8
)

func EnqueueRingSize(revision uint32) uint32 {
	if revision&RevMask >= Rev5000 {
		return 32
	}

	return 8
}

func DequeueRingSize(revision uint32) uint32 {
	if revision&RevMask < Rev4100 {
		return 4
	}

	return 8
}

// HasDequeueResetBug reports revisions whose dequeue ring valid bits are
// unreliable until the first full traversal.
func HasDequeueResetBug(revision uint32) bool {
	return revision&RevMask < Rev4100
}

func RevisionString(revision uint32) string {
	return fmt.Sprintf("%d.%d", revision>>24, (revision>>16)&0xff)
}
