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

import (
	"github.com/pawelgaczynski/qbman/pkg/frame"
	"github.com/pawelgaczynski/qbman/pkg/mmio"
)

// WriteSlot writes f into the slot at offset. Bytes 1..63 go out first, then
// a barrier, then byte 0 carrying vb, so hardware never sees a torn frame.
func WriteSlot(w mmio.Window, offset uint32, f *[frame.Size]byte, vb uint8) {
	WriteBody(w, offset, f)
	w.Barrier()
	CommitVerb(w, offset, f[0], vb)
}

// WriteBody writes everything but the verb byte.
func WriteBody(w mmio.Window, offset uint32, f *[frame.Size]byte) {
	w.WriteBlock(offset+1, f[1:])
}

// CommitVerb makes a slot written with WriteBody visible to hardware.
func CommitVerb(w mmio.Window, offset uint32, verb, vb uint8) {
	w.Write8(offset, verb&^frame.ValidBit|vb)
}

// PollSlot reads the verb byte first and returns the slot only when its
// valid bit equals vb.
func PollSlot(w mmio.Window, offset uint32, vb uint8) ([frame.Size]byte, bool) {
	var f [frame.Size]byte
	verb := w.Read8(offset)
	if verb&frame.ValidBit != vb {
		return f, false
	}
	f[0] = verb
	w.ReadBlock(offset+1, f[1:])

	return f, true
}

// ReadSlot reads a slot without looking at its valid bit.
func ReadSlot(w mmio.Window, offset uint32) [frame.Size]byte {
	var f [frame.Size]byte
	f[0] = w.Read8(offset)
	w.ReadBlock(offset+1, f[1:])

	return f
}
