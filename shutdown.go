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
	"sync"
)

// shutdowner lets one goroutine ask a loop to stop and wait until it did.
// A loop that was not started yet when shutdown is requested never starts.
type shutdowner struct {
	mu       sync.Mutex
	stopped  bool
	finished chan struct{}
	stop     chan struct{}
}

// start registers a running loop. It reports false once shutdown was
// requested.
func (s *shutdowner) start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.finished = make(chan struct{})

	return true
}

func (s *shutdowner) notifyFinish() {
	s.mu.Lock()
	close(s.finished)
	s.mu.Unlock()
}

// stopping is closed once shutdown was requested.
func (s *shutdowner) stopping() <-chan struct{} {
	return s.stop
}

func (s *shutdowner) shutdown() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.stop)
	}
	finished := s.finished
	s.mu.Unlock()
	if finished != nil {
		<-finished
	}
}

func newShutdowner() *shutdowner {
	return &shutdowner{stop: make(chan struct{})}
}
