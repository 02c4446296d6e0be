// Copyright (c) 2023 Paweł Gaczyński
// Copyright (c) 2019 Andy Pan
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

package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNoMemory occurs when a portal window, a buffer or a DMA mapping cannot be obtained.
	ErrNoMemory = errors.New("no memory")
	// ErrPortalDisabled occurs when the portal configuration register reads back as zero.
	ErrPortalDisabled = errors.New("portal is not enabled")
	// ErrInvalidConfig occurs when a portal descriptor or an option is not usable.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrDestroyed occurs when an operation is called on a destroyed portal.
	ErrDestroyed = errors.New("portal destroyed")
	// ErrTimeout occurs when hardware does not answer within the bounded number of attempts.
	ErrTimeout = errors.New("timeout")
	// ErrBusy occurs when the hardware resource needed by an operation is taken.
	ErrBusy = errors.New("busy")
	// ErrInvalidArgument occurs when an argument is out of the range hardware accepts.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrCommandFailed occurs when a management command returns a failure result code.
	ErrCommandFailed = errors.New("command failed")
	// ErrBadAnnotation occurs when a buffer returned by hardware carries no valid annotation.
	ErrBadAnnotation = errors.New("bad frame annotation")
	// ErrUnexpectedAddress occurs when a bus address does not match the buffer it resolves to.
	ErrUnexpectedAddress = errors.New("unexpected address")
	// ErrPoolExhausted occurs when a buffer pool reached its maximum number of buffers.
	ErrPoolExhausted = errors.New("buffer pool exhausted")
	// ErrIsEmpty indicates that a ring, a pool or a queue holds nothing to take.
	ErrIsEmpty = errors.New("is empty")
	// ErrInvalidState occurs when operation is called in invalid state.
	ErrInvalidState = errors.New("invalid state")
)

// CommandError is a management command answered with a failure result code.
type CommandError struct {
	Command uint8
	Result  uint8
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s, cmd: %#x, result: %#x", ErrCommandFailed, e.Command, e.Result)
}

func (e *CommandError) Unwrap() error {
	return ErrCommandFailed
}

func ErrorTimeout(op string, attempts int) error {
	return fmt.Errorf("%w, op: %s, attempts: %d", ErrTimeout, op, attempts)
}

func ErrorInvalidArgument(name string, value int) error {
	return fmt.Errorf("%w, %s: %d", ErrInvalidArgument, name, value)
}

func ErrorUnexpectedAddress(expected, got uint64) error {
	return fmt.Errorf("%w, expected: %#x, got: %#x", ErrUnexpectedAddress, expected, got)
}

func ErrorBadAnnotation(paddr uint64) error {
	return fmt.Errorf("%w, paddr: %#x", ErrBadAnnotation, paddr)
}

func ErrorInvalidState(op, state string) error {
	return fmt.Errorf("%w, op: %s, state: %s", ErrInvalidState, op, state)
}
