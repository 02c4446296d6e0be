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
	"testing"

	"github.com/pawelgaczynski/qbman"
	qbmanErrors "github.com/pawelgaczynski/qbman/pkg/errors"
	"github.com/pawelgaczynski/qbman/pkg/frame"
	"github.com/pawelgaczynski/qbman/ring"
	. "github.com/stretchr/testify/require"
)

func TestBufferRegistry(t *testing.T) {
	registry := qbman.NewBufferRegistry()
	first, second := &qbman.PacketBuffer{}, &qbman.PacketBuffer{}

	handle := registry.Register(first)
	NotZero(t, handle)
	Equal(t, handle, registry.Register(first))
	NotEqual(t, handle, registry.Register(second))
	Equal(t, 2, registry.Len())

	found, ok := registry.Lookup(handle)
	True(t, ok)
	Same(t, first, found)

	registry.Unregister(first)
	Zero(t, first.Handle())
	_, ok = registry.Lookup(handle)
	False(t, ok)
	registry.Unregister(first)
	Equal(t, 1, registry.Len())

	// Released handles are handed out again.
	third := &qbman.PacketBuffer{}
	Equal(t, handle, registry.Register(third))
}

func TestBufferRegistryResolve(t *testing.T) {
	f := newFixture(t, ring.Rev4100, testChunks)
	_, err := f.pool.SeedPool(1)
	NoError(t, err)
	paddr := f.sim.PoolBuffers(testPoolID)[0]

	buf, err := f.buffers.Resolve(f.arena, paddr)
	NoError(t, err)
	Equal(t, paddr, buf.Paddr())

	_, err = f.buffers.Resolve(f.arena, 0x10)
	ErrorIs(t, err, qbmanErrors.ErrUnexpectedAddress)

	blank, err := f.arena.Alloc(frame.AnnotationAreaSize)
	NoError(t, err)
	blankPaddr, err := f.arena.Map(blank)
	NoError(t, err)
	_, err = f.buffers.Resolve(f.arena, blankPaddr)
	ErrorIs(t, err, qbmanErrors.ErrBadAnnotation)

	// A copied annotation points at a buffer living elsewhere.
	copy(blank, buf.Data()[:frame.AnnotationAreaSize])
	_, err = f.buffers.Resolve(f.arena, blankPaddr)
	ErrorIs(t, err, qbmanErrors.ErrUnexpectedAddress)

	f.buffers.Unregister(buf)
	_, err = f.buffers.Resolve(f.arena, paddr)
	ErrorIs(t, err, qbmanErrors.ErrBadAnnotation)
}
