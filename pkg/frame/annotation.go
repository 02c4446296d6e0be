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

import "encoding/binary"

const (
	// AnnotationMagic tags a software annotation written at the start of a buffer.
	AnnotationMagic uint64 = 0xd4a2_a0b1_5eed_f00d
	// AnnotationAreaSize is the software annotation area reserved at the start
	// of every buffer handed to hardware. Frame data starts after it.
	AnnotationAreaSize = 64

	annMagic  = 0
	annHandle = 8
	annAux    = 16
)

// Annotation lets a bare bus address returned by hardware be resolved back
// to the record that owns the buffer.
type Annotation struct {
	Magic  uint64
	Handle uint64
	Aux    uint64
}

func (a *Annotation) Valid() bool {
	return a.Magic == AnnotationMagic
}

func (a *Annotation) Encode(dst []byte) {
	_ = dst[AnnotationAreaSize-1]
	binary.LittleEndian.PutUint64(dst[annMagic:], a.Magic)
	binary.LittleEndian.PutUint64(dst[annHandle:], a.Handle)
	binary.LittleEndian.PutUint64(dst[annAux:], a.Aux)
}

func DecodeAnnotation(src []byte) Annotation {
	_ = src[annAux+7]

	return Annotation{
		Magic:  binary.LittleEndian.Uint64(src[annMagic:]),
		Handle: binary.LittleEndian.Uint64(src[annHandle:]),
		Aux:    binary.LittleEndian.Uint64(src[annAux:]),
	}
}
