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

package qbman_test

import (
	"errors"
	"testing"

	qbmanErrors "github.com/pawelgaczynski/qbman/pkg/errors"
	"github.com/pawelgaczynski/qbman/pkg/frame"
	"github.com/pawelgaczynski/qbman/pkg/hwsim"
	"github.com/pawelgaczynski/qbman/ring"
	. "github.com/stretchr/testify/require"
)

var allRevisions = []uint32{ring.Rev4000, ring.Rev4100, ring.Rev5000}

func TestReleaseAndAcquire(t *testing.T) {
	for _, revision := range allRevisions {
		portal := newTestPortal(t, hwsim.Config{Revision: revision})
		addrs := []uint64{0x1000, 0x2000, 0x3000, 0x4000, 0x5000}

		NoError(t, portal.ReleaseBuffers(testPoolID, addrs))
		NoError(t, portal.ReleaseBuffers(testPoolID, addrs[:2]))
		Equal(t, 2, portal.sim.Releases())

		state, err := portal.QueryBufferPool(testPoolID)
		NoError(t, err)
		Equal(t, uint32(7), state.Free)

		acquired, err := portal.AcquireBuffers(testPoolID, 3)
		NoError(t, err)
		Equal(t, addrs[:3], acquired)
		acquired, err = portal.AcquireBuffers(testPoolID, 7)
		NoError(t, err)
		Equal(t, []uint64{0x4000, 0x5000, 0x1000, 0x2000}, acquired)
		acquired, err = portal.AcquireBuffers(testPoolID, 7)
		NoError(t, err)
		Empty(t, acquired)

		Equal(t, []uint8{
			frame.CmdQueryBufferPool, frame.CmdAcquire, frame.CmdAcquire, frame.CmdAcquire,
		}, portal.sim.Commands())
	}
}

func TestReleaseRingWraps(t *testing.T) {
	for _, revision := range allRevisions {
		portal := newTestPortal(t, hwsim.Config{Revision: revision})
		n := int(3 * ring.ReleaseRingSize)
		for i := 0; i < n; i++ {
			NoError(t, portal.ReleaseBuffers(testPoolID, []uint64{uint64(i+1) << 12}))
		}
		Equal(t, n, portal.sim.Releases())
		Len(t, portal.sim.PoolBuffers(testPoolID), n)
	}
}

func TestCommandArguments(t *testing.T) {
	portal := newTestPortal(t, hwsim.Config{Revision: ring.Rev4100})

	_, err := portal.AcquireBuffers(testPoolID, 0)
	ErrorIs(t, err, qbmanErrors.ErrInvalidArgument)
	_, err = portal.AcquireBuffers(testPoolID, frame.MaxReleaseBuffers+1)
	ErrorIs(t, err, qbmanErrors.ErrInvalidArgument)
	ErrorIs(t, portal.ReleaseBuffers(testPoolID, nil), qbmanErrors.ErrInvalidArgument)
	ErrorIs(t, portal.ReleaseBuffers(testPoolID, make([]uint64, frame.MaxReleaseBuffers+1)), qbmanErrors.ErrInvalidArgument)
	Empty(t, portal.sim.Commands())
	Zero(t, portal.sim.Releases())
}

func TestCommandTimeout(t *testing.T) {
	for _, revision := range allRevisions {
		portal := newTestPortal(t, hwsim.Config{Revision: revision})
		NoError(t, portal.ReleaseBuffers(testPoolID, []uint64{0x1000}))

		portal.sim.StallCommands(true)
		_, err := portal.QueryBufferPool(testPoolID)
		ErrorIs(t, err, qbmanErrors.ErrTimeout)
		Equal(t, int64(1), portal.count("portal.1.command.timeouts"))
		Len(t, portal.clock.Slept(), testRetry.Attempts-1)

		// The stale slot of the lost command must not answer the next one.
		portal.sim.StallCommands(false)
		for i := 0; i < 3; i++ {
			state, err := portal.QueryBufferPool(testPoolID)
			NoError(t, err)
			Equal(t, uint32(1), state.Free)
		}
	}
}

func TestLateCommandResponse(t *testing.T) {
	for _, revision := range allRevisions {
		portal := newTestPortal(t, hwsim.Config{Revision: revision})
		NoError(t, portal.ReleaseBuffers(testPoolID, []uint64{0x1000}))

		portal.sim.StallCommands(true)
		_, err := portal.QueryBufferPool(testPoolID)
		ErrorIs(t, err, qbmanErrors.ErrTimeout)
		Equal(t, 1, portal.sim.AnswerStalled())

		// The late answer to the first query is not taken for the second one.
		NoError(t, portal.ReleaseBuffers(testPoolID, []uint64{0x2000}))
		_, err = portal.QueryBufferPool(testPoolID)
		ErrorIs(t, err, qbmanErrors.ErrTimeout)
		Equal(t, int64(2), portal.count("portal.1.command.timeouts"))

		// Its answer lands and is overwritten by the next one before the
		// portal looks at the slot.
		Equal(t, 1, portal.sim.AnswerStalled())
		portal.sim.StallCommands(false)
		for i := 0; i < 3; i++ {
			state, err := portal.QueryBufferPool(testPoolID)
			NoError(t, err)
			Equal(t, uint32(2), state.Free)
		}
		Equal(t, int64(2), portal.count("portal.1.command.timeouts"))
	}
}

func TestCommandFailure(t *testing.T) {
	for _, revision := range allRevisions {
		portal := newTestPortal(t, hwsim.Config{Revision: revision})

		portal.sim.SetResult(frame.CmdAcquire, 0xe1)
		_, err := portal.AcquireBuffers(testPoolID, 1)
		ErrorIs(t, err, qbmanErrors.ErrCommandFailed)
		var cmdErr *qbmanErrors.CommandError
		True(t, errors.As(err, &cmdErr))
		Equal(t, frame.CmdAcquire, cmdErr.Command)
		Equal(t, uint8(0xe1), cmdErr.Result)
		Equal(t, int64(1), portal.count("portal.1.command.failures"))
	}
}

func TestBenignCommandResults(t *testing.T) {
	portal := newTestPortal(t, hwsim.Config{Revision: ring.Rev4100})
	NoError(t, portal.ReleaseBuffers(testPoolID, []uint64{0x1000, 0x2000}))

	portal.sim.SetResult(frame.CmdQueryBufferPool, frame.ResultOverrun)
	state, err := portal.QueryBufferPool(testPoolID)
	NoError(t, err)
	Equal(t, uint32(2), state.Free)

	portal.sim.SetResult(frame.CmdQueryFrameQueue, frame.ResultUnderrun)
	_, err = portal.QueryFrameQueue(4)
	NoError(t, err)

	portal.sim.SetResult(frame.CmdAcquire, frame.ResultOverrun)
	_, err = portal.AcquireBuffers(testPoolID, 1)
	ErrorIs(t, err, qbmanErrors.ErrCommandFailed)
	Zero(t, portal.count("portal.1.command.timeouts"))
}

func TestReleaseBusy(t *testing.T) {
	portal := newTestPortal(t, hwsim.Config{Revision: ring.Rev4100})

	portal.sim.SetRARBusy(true)
	ErrorIs(t, portal.ReleaseBuffers(testPoolID, []uint64{0x1000}), qbmanErrors.ErrBusy)
	Zero(t, portal.sim.Releases())

	portal.sim.SetRARBusy(false)
	NoError(t, portal.ReleaseBuffers(testPoolID, []uint64{0x1000}))
	Equal(t, []uint64{0x1000}, portal.sim.PoolBuffers(testPoolID))
}

func TestQueryFrameQueue(t *testing.T) {
	portal := newTestPortal(t, hwsim.Config{Revision: ring.Rev5000})
	for i := 0; i < 3; i++ {
		portal.sim.EnqueueToChannel(testChannelID, hwsim.Entry{FQID: 12, FD: frame.FrameDescriptor{Len: 100}})
	}
	portal.sim.EnqueueToChannel(testChannelID, hwsim.Entry{FQID: 13, FD: frame.FrameDescriptor{Len: 100}})

	state, err := portal.QueryFrameQueue(12)
	NoError(t, err)
	Equal(t, uint32(3), state.Frames)
	Equal(t, uint32(300), state.Bytes)

	state, err = portal.QueryFrameQueue(99)
	NoError(t, err)
	Zero(t, state.Frames)
}
