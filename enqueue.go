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

package qbman

import (
	qbmanErrors "github.com/pawelgaczynski/qbman/pkg/errors"
	"github.com/pawelgaczynski/qbman/pkg/frame"
	"github.com/pawelgaczynski/qbman/ring"
)

// Enqueue submits frames described by fds to the target of desc and returns
// how many were accepted. It never blocks: with no ring credit left it
// returns 0 and the caller resubmits the remainder later.
//
// flags is either nil or holds one word per frame; frame.EnqueueFlagDCA in a
// word acknowledges the dequeue ring entry whose index it carries.
func (p *Portal) Enqueue(desc *frame.EnqueueDescriptor, fds []frame.FrameDescriptor, flags []uint32) (int, error) {
	if flags != nil && len(flags) != len(fds) {
		return 0, qbmanErrors.ErrorInvalidArgument("flags", len(flags))
	}
	if len(fds) == 0 {
		return 0, nil
	}
	if err := p.lock(); err != nil {
		return 0, err
	}
	defer p.mu.Unlock()

	if p.eqcr.Credit() == 0 {
		freed := p.eqcr.RefreshCredit(p.path.EnqueueConsumerIndex())
		if freed == 0 {
			p.metrics.enqueueNoCredit.Inc(1)

			return 0, nil
		}
	}
	reserved := p.eqcr.Reserve(uint32(len(fds)))

	var verbs [ring.MaxSize]uint8
	pi := p.eqcr.ProducerIndex()
	win, _ := p.path.EnqueueSlot(0)
	for i := uint32(0); i < reserved; i++ {
		slot := frame.EncodeEnqueue(desc, &fds[i])
		if flags != nil {
			frame.SetDCA(&slot, flags[i])
		}
		_, offset := p.path.EnqueueSlot((pi + i) & p.eqcr.HalfMask())
		ring.WriteBody(win, offset, &slot)
		verbs[i] = slot[0]
	}
	win.Barrier()
	for i := uint32(0); i < reserved; i++ {
		idx, vb := p.eqcr.Publish()
		_, offset := p.path.EnqueueSlot(idx)
		ring.CommitVerb(win, offset, verbs[i], vb)
	}
	p.path.EnqueueDoorbell(p.eqcr.ProducerIndex(), p.eqcr.ValidBit())
	p.metrics.enqueueFrames.Inc(int64(reserved))

	return int(reserved), nil
}
