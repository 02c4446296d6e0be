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
	"context"
	"runtime"
	"sync"

	"github.com/pawelgaczynski/qbman/logger"
	qbmanErrors "github.com/pawelgaczynski/qbman/pkg/errors"
	"github.com/pawelgaczynski/qbman/pkg/frame"
	"github.com/pawelgaczynski/qbman/ring"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// DequeueHandler processes entries taken off the dequeue ring. The entry is
// acknowledged to hardware after HandleDequeue returns, whatever the result.
type DequeueHandler interface {
	HandleDequeue(entry *DequeueEntry) error
}

type DequeueHandlerFunc func(entry *DequeueEntry) error

func (f DequeueHandlerFunc) HandleDequeue(entry *DequeueEntry) error {
	return f(entry)
}

// Poller drains the dequeue ring of one portal each time the portal
// interrupt fires.
type Poller struct {
	portal  *Portal
	handler DequeueHandler
	config  PollerConfig
	logger  zerolog.Logger
	*shutdowner
}

func NewPoller(portal *Portal, handler DequeueHandler, opts ...PollerOption) *Poller {
	return &Poller{
		portal:     portal,
		handler:    handler,
		config:     NewPollerConfig(opts...),
		logger:     logger.NewLogger(logger.Poller, portal.config.LoggerLevel, portal.config.PrettyLogger),
		shutdowner: newShutdowner(),
	}
}

func (p *Poller) prepare() error {
	if p.config.ProcessPriority {
		if err := setProcessPriority(); err != nil {
			return err
		}
	}
	if p.config.LockOSThread {
		if err := setAffinity(p.config.CPU); err != nil {
			return err
		}
	}
	if err := p.portal.SetIRQTrigger(ring.IRQDequeueRing); err != nil {
		return err
	}

	return p.portal.SetIRQInhibit(false)
}

// Run handles interrupt signals from irq until ctx is done, irq is closed,
// Stop is called or the portal is destroyed. One Run at a time per Poller.
func (p *Poller) Run(ctx context.Context, irq <-chan struct{}) error {
	if !p.start() {
		return nil
	}
	defer p.notifyFinish()

	if p.config.LockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}
	if err := p.prepare(); err != nil {
		return errors.Wrap(err, "poller")
	}
	p.logDebug().Msg("Poller started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.stopping():
			return nil
		case _, ok := <-irq:
			if !ok {
				return nil
			}
		}
		// A drain that used its whole budget may have left entries behind
		// that will not assert the interrupt again.
		for {
			handled, err := p.Service()
			if err != nil {
				if errors.Is(err, qbmanErrors.ErrDestroyed) {
					p.logDebug().Msg("Portal destroyed")

					return nil
				}
				p.logWarn().Err(err).Msg("Dequeue ring service failed")
			}
			if handled < p.config.MaxEvents || ctx.Err() != nil {
				break
			}
			select {
			case <-p.stopping():
				return nil
			default:
			}
		}
	}
}

// Service handles one interrupt: it inhibits further interrupts,
// acknowledges the sources found asserted and drains the dequeue ring.
// Sources are acknowledged before the drain so that entries landing during
// it assert the interrupt again once it is uninhibited.
func (p *Poller) Service() (int, error) {
	if err := p.portal.SetIRQInhibit(true); err != nil {
		return 0, err
	}
	status, err := p.portal.ReadIRQStatus()
	if err != nil {
		return 0, err
	}
	if err := p.portal.ClearIRQStatus(status); err != nil {
		return 0, err
	}
	handled, drainErr := p.Drain()

	return handled, multierr.Append(drainErr, p.portal.SetIRQInhibit(false))
}

// Drain hands up to MaxEvents dequeue ring entries to the handler. Handler
// errors are collected; draining goes on.
func (p *Poller) Drain() (int, error) {
	var (
		handled int
		errs    error
	)
	for handled < p.config.MaxEvents {
		entry, err := p.portal.DQRRNext()
		if err != nil {
			return handled, multierr.Append(errs, err)
		}
		if entry == nil {
			break
		}
		handleErr := p.handler.HandleDequeue(entry)
		if handleErr != nil {
			errs = multierr.Append(errs, handleErr)
		}
		if err := p.portal.DQRRConsume(entry.Index); err != nil {
			return handled, multierr.Append(errs, err)
		}
		handled++
	}

	return handled, errs
}

// Stop makes Run return and waits for it.
func (p *Poller) Stop() {
	p.shutdown()
}

func (p *Poller) logDebug() *zerolog.Event {
	return p.logger.Debug().Int("portal id", p.portal.ID())
}

func (p *Poller) logWarn() *zerolog.Event {
	return p.logger.Warn().Int("portal id", p.portal.ID())
}

// ChannelDispatcher routes dequeue ring entries of a portal to channels.
// Data availability notifications trigger a poll of the notified channel;
// frames pushed onto the ring go to whichever channel consumes their frame
// queue.
type ChannelDispatcher struct {
	mu       sync.RWMutex
	channels map[uint64]*Channel
}

func NewChannelDispatcher(channels ...*Channel) *ChannelDispatcher {
	d := &ChannelDispatcher{channels: make(map[uint64]*Channel, len(channels))}
	for _, ch := range channels {
		d.AddChannel(ch)
	}

	return d
}

func (d *ChannelDispatcher) AddChannel(ch *Channel) {
	d.mu.Lock()
	d.channels[ch.Context()] = ch
	d.mu.Unlock()
}

func (d *ChannelDispatcher) HandleDequeue(entry *DequeueEntry) error {
	resp := &entry.Response
	switch {
	case resp.Type() == frame.ResultCDAN:
		n := entry.Notification()
		d.mu.RLock()
		ch, ok := d.channels[n.Ctx]
		d.mu.RUnlock()
		if !ok {
			return qbmanErrors.ErrorInvalidArgument("notification context", int(n.Ctx))
		}
		_, err := ch.Poll()

		return err
	case resp.IsFrameDequeue() && resp.HasFrame():
		d.mu.RLock()
		defer d.mu.RUnlock()
		for _, ch := range d.channels {
			if ch.consumes(resp.FQDCtx) {
				ch.dispatch(resp)

				return nil
			}
		}

		return qbmanErrors.ErrorInvalidArgument("frame queue context", int(resp.FQDCtx))
	}

	return nil
}
