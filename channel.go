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

	"github.com/pawelgaczynski/qbman/logger"
	qbmanErrors "github.com/pawelgaczynski/qbman/pkg/errors"
	"github.com/pawelgaczynski/qbman/pkg/frame"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// StorageFrames is the number of frames a channel pulls at once. The
// storage holds one slot more.
const StorageFrames = 16

type FrameStatus uint8

const (
	// FrameInProgress is a response with more to follow in the storage.
	FrameInProgress FrameStatus = iota
	// FrameExpired is the last response of a pull.
	FrameExpired
	// FrameEmpty is the last response of a pull that drained the queue.
	FrameEmpty
)

func (s FrameStatus) String() string {
	switch s {
	case FrameInProgress:
		return "in progress"
	case FrameExpired:
		return "expired"
	}

	return "empty"
}

type storageState uint8

const (
	storageIdle storageState = iota
	storagePulled
	storageDraining
)

func (s storageState) String() string {
	switch s {
	case storageIdle:
		return "idle"
	case storagePulled:
		return "pulled"
	}

	return "draining"
}

// FrameConsumer processes frames of one frame queue.
type FrameConsumer interface {
	ConsumeFrame(ch *Channel, resp *frame.DequeueResponse) error
}

type FrameConsumerFunc func(ch *Channel, resp *frame.DequeueResponse) error

func (f FrameConsumerFunc) ConsumeFrame(ch *Channel, resp *frame.DequeueResponse) error {
	return f(ch, resp)
}

// Channel drains a hardware channel through volatile dequeues into its own
// storage. Frames are dispatched by the frame queue context they carry.
type Channel struct {
	mu        sync.Mutex
	id        uint32
	portal    *Portal
	pool      *BufferPool
	data      []byte
	storage   DequeueStorage
	cursor    int
	state     storageState
	ctx       uint64
	consumers map[uint64]FrameConsumer
	logger    zerolog.Logger
	metrics   channelMetrics
}

func NewChannel(portal *Portal, pool *BufferPool, channelID uint32) (*Channel, error) {
	data, err := pool.mem.Alloc((StorageFrames + 1) * frame.Size)
	if err != nil {
		return nil, errors.Wrapf(err, "channel %d: allocate storage", channelID)
	}
	paddr, err := pool.mem.Map(data)
	if err != nil {
		pool.mem.Free(data)

		return nil, errors.Wrapf(err, "channel %d: map storage", channelID)
	}
	for i := range data {
		data[i] = 0
	}

	return &Channel{
		id:        channelID,
		portal:    portal,
		pool:      pool,
		data:      data,
		storage:   DequeueStorage{Data: data, Paddr: paddr},
		ctx:       uint64(channelID),
		consumers: make(map[uint64]FrameConsumer),
		logger:    logger.NewLogger(logger.Channel, portal.config.LoggerLevel, portal.config.PrettyLogger),
		metrics:   newChannelMetrics(portal.config.Metrics, channelID),
	}, nil
}

func (c *Channel) ID() uint32 {
	return c.id
}

// Context is what data availability notifications of the channel carry.
func (c *Channel) Context() uint64 {
	return c.ctx
}

func (c *Channel) Pool() *BufferPool {
	return c.pool
}

// RegisterConsumer routes frames whose frame queue context is fqCtx.
func (c *Channel) RegisterConsumer(fqCtx uint64, consumer FrameConsumer) {
	c.mu.Lock()
	c.consumers[fqCtx] = consumer
	c.mu.Unlock()
}

func (c *Channel) consumes(fqCtx uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.consumers[fqCtx]

	return ok
}

// ArmNotification asks hardware for one notification once frames are
// available on the channel.
func (c *Channel) ArmNotification() error {
	return c.portal.ConfigureChannelNotification(c.id, true, c.ctx)
}

// Pull fills the storage with up to StorageFrames frames. The previous pull
// must have been drained.
func (c *Channel) Pull() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != storageIdle {
		return qbmanErrors.ErrorInvalidState("pull", c.state.String())
	}
	if err := c.portal.Pull(c.id, &c.storage, StorageFrames); err != nil {
		return err
	}
	c.cursor = 0
	c.state = storagePulled

	return nil
}

// NextFrame returns the next response of the last pull. The response is nil
// when the entry carries no frame. Terminal statuses reset the cursor.
func (c *Channel) NextFrame() (FrameStatus, *frame.DequeueResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == storageIdle {
		return FrameEmpty, nil
	}
	c.state = storageDraining
	resp := frame.DecodeDequeue(c.storage.Entry(c.cursor))
	c.cursor++

	status := FrameInProgress
	switch {
	case resp.QueueEmpty():
		status = FrameEmpty
	case resp.Expired() || c.cursor == StorageFrames:
		status = FrameExpired
	}
	if status != FrameInProgress {
		c.cursor = 0
		c.state = storageIdle
	}
	if !resp.HasFrame() {
		return status, nil
	}

	return status, &resp
}

// consume dispatches every frame of the last pull.
func (c *Channel) consume() (FrameStatus, int) {
	frames := 0
	for {
		status, resp := c.NextFrame()
		if resp != nil {
			c.dispatch(resp)
			frames++
		}
		if status != FrameInProgress {
			return status, frames
		}
	}
}

func (c *Channel) dispatch(resp *frame.DequeueResponse) {
	c.mu.Lock()
	consumer, ok := c.consumers[resp.FQDCtx]
	c.mu.Unlock()
	if !ok {
		c.metrics.rxDropped.Inc(1)
		c.logWarn().Uint32("fqid", resp.FQID).Uint64("fq ctx", resp.FQDCtx).Msg("Frame of unknown frame queue")
		c.returnBuffer(resp)

		return
	}
	if err := consumer.ConsumeFrame(c, resp); err != nil {
		c.logWarn().Err(err).Uint32("fqid", resp.FQID).Msg("Frame not consumed")
	}
}

// returnBuffer gives the buffer of an unwanted frame back to its pool.
func (c *Channel) returnBuffer(resp *frame.DequeueResponse) {
	if resp.FD.PoolID() != c.pool.ID() {
		return
	}
	buf, err := c.pool.Resolve(resp.FD.Addr)
	if err != nil {
		c.logError(err).Msg("Buffer of dropped frame not resolved")

		return
	}
	if err := c.pool.ReleaseOne(buf); err != nil {
		c.logError(err).Msg("Buffer of dropped frame not released")
	}
}

// Poll pulls and dispatches frames until the channel is empty and then
// arms the channel notification again. It returns the number of frames
// dispatched.
func (c *Channel) Poll() (int, error) {
	var (
		total   int
		pullErr error
	)
	for {
		if pullErr = c.Pull(); pullErr != nil {
			c.logWarn().Err(pullErr).Msg("Pull failed")

			break
		}
		status, frames := c.consume()
		total += frames
		if status == FrameEmpty {
			break
		}
	}
	rearmErr := c.ArmNotification()
	if rearmErr != nil {
		c.logError(rearmErr).Msg("Channel not rearmed")
	}
	c.logDebug().Int("frames", total).Msg("Channel polled")

	return total, multierr.Append(pullErr, rearmErr)
}

// Close unmaps and frees the storage.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.data == nil {
		return nil
	}
	err := c.pool.mem.Unmap(c.storage.Paddr)
	c.pool.mem.Free(c.data)
	c.data = nil
	c.storage = DequeueStorage{}

	return err
}

func (c *Channel) logDebug() *zerolog.Event {
	return c.logger.Debug().Uint32("channel id", c.id)
}

func (c *Channel) logWarn() *zerolog.Event {
	return c.logger.Warn().Uint32("channel id", c.id)
}

func (c *Channel) logError(err error) *zerolog.Event {
	return c.logger.Error().Uint32("channel id", c.id).Err(err)
}
