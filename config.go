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

	"github.com/alitto/pond"
	"github.com/rcrowley/go-metrics"
	"github.com/rs/zerolog"
)

const (
	defaultDrainDelay      = 10 * time.Millisecond
	defaultCommandAttempts = 2000
	defaultCommandInterval = 100 * time.Nanosecond
	defaultPullAttempts    = 2000
	defaultPullInterval    = 100 * time.Nanosecond
	defaultEnqueueRetries  = 1000
	defaultMaxBuffers      = 1 << 15
	defaultBufferSize      = 9216
	defaultRebalanceWorker = 1
	defaultRebalanceQueue  = 16
	defaultMaxEvents       = 64
)

// InitialBuffers is the number of buffers a pool is usually seeded with first.
const InitialBuffers = 5 * 7

type ConfigOption[T any] func(*T)

type PortalOption ConfigOption[PortalConfig]

type BufferPoolOption ConfigOption[BufferPoolConfig]

type PollerOption ConfigOption[PollerConfig]

// PortalConfig holds the software side settings of a portal. Everything the
// hardware reports is read from the registers instead.
type PortalConfig struct {
	// DrainDelay is how long Destroy waits between marking the portal and
	// closing its windows. It must exceed the latency of a single operation.
	DrainDelay time.Duration
	// CommandRetry bounds the wait for a management response.
	CommandRetry RetryPolicy
	// PullRetry bounds the wait for a volatile dequeue to expire.
	PullRetry RetryPolicy
	// EnqueueRetries is how many times a transmit attempts to enqueue one
	// frame before dropping it.
	EnqueueRetries int
	Clock          Clock
	LoggerLevel    zerolog.Level
	PrettyLogger   bool
	Metrics        metrics.Registry
}

func WithDrainDelay(drainDelay time.Duration) PortalOption {
	return func(c *PortalConfig) {
		c.DrainDelay = drainDelay
	}
}

func WithCommandRetry(policy RetryPolicy) PortalOption {
	return func(c *PortalConfig) {
		c.CommandRetry = policy
	}
}

func WithPullRetry(policy RetryPolicy) PortalOption {
	return func(c *PortalConfig) {
		c.PullRetry = policy
	}
}

func WithEnqueueRetries(retries int) PortalOption {
	return func(c *PortalConfig) {
		c.EnqueueRetries = retries
	}
}

func WithClock(clock Clock) PortalOption {
	return func(c *PortalConfig) {
		c.Clock = clock
	}
}

func WithLoggerLevel(loggerLevel zerolog.Level) PortalOption {
	return func(c *PortalConfig) {
		c.LoggerLevel = loggerLevel
	}
}

func WithPrettyLogger(prettyLogger bool) PortalOption {
	return func(c *PortalConfig) {
		c.PrettyLogger = prettyLogger
	}
}

// WithMetrics registers portal counters, and the counters of every pool,
// channel and transmit ring built on the portal, in registry.
func WithMetrics(registry metrics.Registry) PortalOption {
	return func(c *PortalConfig) {
		c.Metrics = registry
	}
}

func NewPortalConfig(opts ...PortalOption) PortalConfig {
	config := PortalConfig{
		DrainDelay:     defaultDrainDelay,
		CommandRetry:   RetryPolicy{Attempts: defaultCommandAttempts, Interval: defaultCommandInterval},
		PullRetry:      RetryPolicy{Attempts: defaultPullAttempts, Interval: defaultPullInterval},
		EnqueueRetries: defaultEnqueueRetries,
		Clock:          SystemClock(),
		LoggerLevel:    zerolog.ErrorLevel,
		PrettyLogger:   false,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NewRegistry()
	}
	if config.Clock == nil {
		config.Clock = SystemClock()
	}

	return config
}

// BufferPoolConfig holds the settings of a receive buffer pool.
type BufferPoolConfig struct {
	// MaxBuffers caps the number of buffers ever seeded into the pool.
	MaxBuffers int
	// BufferSize is the size of every buffer, annotation area included.
	BufferSize int
	// Workers runs rebalancing tasks. A pool built without one owns a
	// single worker pool of its own.
	Workers *pond.WorkerPool
}

func WithMaxBuffers(maxBuffers int) BufferPoolOption {
	return func(c *BufferPoolConfig) {
		c.MaxBuffers = maxBuffers
	}
}

func WithBufferSize(bufferSize int) BufferPoolOption {
	return func(c *BufferPoolConfig) {
		c.BufferSize = bufferSize
	}
}

func WithWorkerPool(workers *pond.WorkerPool) BufferPoolOption {
	return func(c *BufferPoolConfig) {
		c.Workers = workers
	}
}

func NewBufferPoolConfig(opts ...BufferPoolOption) BufferPoolConfig {
	config := BufferPoolConfig{
		MaxBuffers: defaultMaxBuffers,
		BufferSize: defaultBufferSize,
	}
	for _, opt := range opts {
		opt(&config)
	}

	return config
}

type PollerConfig struct {
	// MaxEvents bounds the dequeue ring entries handled per interrupt.
	MaxEvents int
	// LockOSThread pins the polling goroutine to an OS thread running on CPU.
	LockOSThread    bool
	CPU             int
	ProcessPriority bool
}

func WithMaxEvents(maxEvents int) PollerOption {
	return func(c *PollerConfig) {
		c.MaxEvents = maxEvents
	}
}

func WithLockOSThread(cpu int) PollerOption {
	return func(c *PollerConfig) {
		c.LockOSThread = true
		c.CPU = cpu
	}
}

func WithProcessPriority(processPriority bool) PollerOption {
	return func(c *PollerConfig) {
		c.ProcessPriority = processPriority
	}
}

func NewPollerConfig(opts ...PollerOption) PollerConfig {
	config := PollerConfig{
		MaxEvents: defaultMaxEvents,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.MaxEvents < 1 {
		config.MaxEvents = 1
	}

	return config
}
