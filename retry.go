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
	"time"

	"github.com/jpillora/backoff"
)

// Clock is the time source of spin-waits and of the destroy drain delay.
type Clock interface {
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Sleep(d time.Duration) {
	time.Sleep(d)
}

func SystemClock() Clock {
	return systemClock{}
}

// RetryPolicy bounds a spin-wait: at most Attempts checks, separated by
// Interval. A Factor above 1 grows the interval up to MaxInterval.
type RetryPolicy struct {
	Attempts    int
	Interval    time.Duration
	MaxInterval time.Duration
	Factor      float64
}

// Do calls done until it reports true or the attempts run out. It returns
// the number of attempts made and whether done succeeded.
func (p RetryPolicy) Do(clock Clock, done func() bool) (int, bool) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	b := p.backoff()
	for attempt := 1; ; attempt++ {
		if done() {
			return attempt, true
		}
		if attempt == attempts {
			return attempt, false
		}
		if p.Interval > 0 {
			clock.Sleep(b.Duration())
		}
	}
}

func (p RetryPolicy) backoff() *backoff.Backoff {
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	maxInterval := p.MaxInterval
	if maxInterval < p.Interval {
		maxInterval = p.Interval
	}

	return &backoff.Backoff{
		Min:    p.Interval,
		Max:    maxInterval,
		Factor: factor,
	}
}
