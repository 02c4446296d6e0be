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

type DequeueMode uint8

const (
	// ProducerIndexFallback finds new dequeue entries through the DQPI register.
	ProducerIndexFallback DequeueMode = iota
	// ValidBitMode finds new dequeue entries through their valid bit.
	ValidBitMode
)

func (m DequeueMode) String() string {
	if m == ProducerIndexFallback {
		return "producer index fallback"
	}

	return "valid bit"
}

// Detector decides how new dequeue ring entries are recognised. Revisions
// before 4.1 do not set valid bits reliably until the ring has been traversed
// once after reset, so those portals start in ProducerIndexFallback and move
// to ValidBitMode for good once the last slot is reached.
type Detector struct {
	mode DequeueMode
}

func NewDetector(revision uint32) *Detector {
	mode := ValidBitMode
	if HasDequeueResetBug(revision) {
		mode = ProducerIndexFallback
	}

	return &Detector{mode: mode}
}

func (d *Detector) Mode() DequeueMode {
	return d.mode
}

// Pending reports, in fallback mode, whether the entry at consumer holds
// something new given the raw DQPI register value. consumer is the
// consumer index in the doubled index space so that a full ring differs
// from an empty one. Reaching the last slot switches the detector to
// ValidBitMode.
func (d *Detector) Pending(dqpi, consumer, size uint32) bool {
	if d.mode != ProducerIndexFallback {
		return false
	}
	mask := 2*size - 1
	if DQPI(dqpi)&mask == consumer&mask {
		return false
	}
	if consumer&(size-1) == size-1 {
		d.mode = ValidBitMode
	}

	return true
}
