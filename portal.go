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
	"fmt"
	"sync"

	"github.com/pawelgaczynski/qbman/logger"
	qbmanErrors "github.com/pawelgaczynski/qbman/pkg/errors"
	"github.com/pawelgaczynski/qbman/pkg/frame"
	"github.com/pawelgaczynski/qbman/pkg/mmio"
	"github.com/pawelgaczynski/qbman/ring"
	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

const (
	rcrModeArray    = 3
	dequeueAckDCA   = 2
	eqcrModeArray   = 2
	maxPushChannels = 16
)

// Portal is one software portal of the queue manager. All ring index
// mutation and every command exchange happen under its mutex.
type Portal struct {
	mu        sync.Mutex
	desc      Descriptor
	config    PortalConfig
	logger    zerolog.Logger
	metrics   portalMetrics
	cinh      mmio.Window
	path      ring.WritePath
	eqcr      *ring.Ring
	dqrr      *ring.Ring
	rcr       *ring.Ring
	detector  *ring.Detector
	crVB      uint8
	rrVB      uint8
	vdqVB     uint8
	vdqBusy   bool
	token     uint8
	sdq       uint32
	threshold uint32
	itp       uint32
	destroyed bool
}

// NewPortal attaches to a portal. Shadow ring indices are taken from the
// live registers, so a portal left with work in flight can be reattached.
func NewPortal(desc Descriptor, opts ...PortalOption) (*Portal, error) {
	if desc.Windows.CENA == nil || desc.Windows.CINH == nil {
		return nil, errors.Wrapf(qbmanErrors.ErrNoMemory, "portal %d: register window missing", desc.ID)
	}
	if desc.ClockRatio == 0 {
		return nil, errors.Wrapf(qbmanErrors.ErrInvalidConfig, "portal %d: clock ratio is zero", desc.ID)
	}
	config := NewPortalConfig(opts...)
	portal := &Portal{
		desc:     desc,
		config:   config,
		logger:   logger.NewLogger(logger.Portal, config.LoggerLevel, config.PrettyLogger),
		metrics:  newPortalMetrics(config.Metrics, desc.ID),
		cinh:     desc.Windows.CINH,
		path:     ring.SelectWritePath(desc.Revision, desc.Windows),
		eqcr:     ring.New(ring.EnqueueRing, ring.EnqueueRingSize(desc.Revision)),
		dqrr:     ring.New(ring.DequeueRing, ring.DequeueRingSize(desc.Revision)),
		rcr:      ring.New(ring.ReleaseRing, ring.ReleaseRingSize),
		detector: ring.NewDetector(desc.Revision),
		crVB:     frame.ValidBit,
		rrVB:     frame.ValidBit,
		vdqVB:    frame.ValidBit,
	}
	if err := portal.init(); err != nil {
		return nil, errors.Wrapf(err, "portal %d", desc.ID)
	}
	portal.logInfo().
		Str("revision", ring.RevisionString(desc.Revision)).
		Str("write path", portal.path.Name()).
		Uint32("eqcr pi", portal.eqcr.ProducerIndex()).
		Uint32("eqcr ci", portal.eqcr.ConsumerIndex()).
		Uint32("dqrr ci", portal.dqrr.ConsumerIndex()).
		Str("dqrr mode", portal.detector.Mode().String()).
		Msg("Portal attached")

	return portal, nil
}

func (p *Portal) init() error {
	cfg := ring.Config{
		DQRRMaxFill:    p.dqrr.Size(),
		WriteNonCached: true,
		RCRMode:        rcrModeArray,
		DequeueAck:     dequeueAckDCA,
		EQCRMode:       eqcrModeArray,
		MemoryBacked:   p.path.MemoryBacked(),
	}
	if p.desc.Stashing {
		cfg.StashEnable = true
		cfg.DequeueStash = true
		cfg.EQCRCIStash = 1
	}
	p.cinh.Write32(ring.CINHCFG, cfg.Encode())
	if p.cinh.Read32(ring.CINHCFG) == 0 {
		return qbmanErrors.ErrPortalDisabled
	}
	// An empty static dequeue source bitmap requires the whole register to be zero.
	p.cinh.Write32(ring.CINHSDQCR, 0)

	pi := p.cinh.Read32(ring.CINHEQCRPI) & p.eqcr.FullMask()
	ci := p.path.EnqueueConsumerIndex() & p.eqcr.FullMask()
	if distance := ring.CycleDistance(p.eqcr.Size(), ci, pi); distance > p.eqcr.Size() {
		return qbmanErrors.ErrorInvalidState("restore enqueue ring", fmt.Sprintf("pi %d ci %d", pi, ci))
	}
	p.eqcr.Restore(pi, ci)
	p.dqrr.RestoreConsumer(p.cinh.Read32(ring.CINHDCAP))
	rcrPI := p.cinh.Read32(ring.CINHRCRPI)
	p.rcr.Restore(rcrPI, rcrPI)

	p.setIRQCoalescing(p.dqrr.Size()-1, 0)

	return nil
}

func (p *Portal) ID() int {
	return p.desc.ID
}

func (p *Portal) Revision() uint32 {
	return p.desc.Revision
}

// Metrics is the registry holding the counters of the portal and of
// everything built on top of it.
func (p *Portal) Metrics() metrics.Registry {
	return p.config.Metrics
}

func (p *Portal) lock() error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()

		return qbmanErrors.ErrDestroyed
	}

	return nil
}

// Destroy marks the portal destroyed, waits the drain delay so operations
// that raced the mark can finish and then closes both windows.
func (p *Portal) Destroy() error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()

		return qbmanErrors.ErrDestroyed
	}
	p.destroyed = true
	p.mu.Unlock()

	p.config.Clock.Sleep(p.config.DrainDelay)
	p.logInfo().Msg("Portal destroyed")

	return multierr.Combine(p.desc.Windows.CENA.Close(), p.desc.Windows.CINH.Close())
}

func (p *Portal) SetIRQTrigger(mask uint32) error {
	if err := p.lock(); err != nil {
		return err
	}
	defer p.mu.Unlock()
	p.cinh.Write32(ring.CINHIER, mask&ring.IRQAll)

	return nil
}

func (p *Portal) IRQTrigger() (uint32, error) {
	if err := p.lock(); err != nil {
		return 0, err
	}
	defer p.mu.Unlock()

	return p.cinh.Read32(ring.CINHIER), nil
}

func (p *Portal) ReadIRQStatus() (uint32, error) {
	if err := p.lock(); err != nil {
		return 0, err
	}
	defer p.mu.Unlock()

	return p.cinh.Read32(ring.CINHISR), nil
}

// ClearIRQStatus acknowledges the interrupt sources set in mask.
func (p *Portal) ClearIRQStatus(mask uint32) error {
	if err := p.lock(); err != nil {
		return err
	}
	defer p.mu.Unlock()
	p.cinh.Write32(ring.CINHISR, mask&ring.IRQAll)

	return nil
}

func (p *Portal) SetIRQInhibit(inhibit bool) error {
	if err := p.lock(); err != nil {
		return err
	}
	defer p.mu.Unlock()
	var value uint32
	if inhibit {
		value = 1
	}
	p.cinh.Write32(ring.CINHIIR, value)

	return nil
}

// SetPushDequeue subscribes the portal to, or unsubscribes it from, push
// dequeues of one channel index.
func (p *Portal) SetPushDequeue(channelIndex int, enabled bool) error {
	if channelIndex < 0 || channelIndex >= maxPushChannels {
		return qbmanErrors.ErrorInvalidArgument("channel index", channelIndex)
	}
	if err := p.lock(); err != nil {
		return err
	}
	defer p.mu.Unlock()

	if enabled {
		p.sdq |= 1 << channelIndex
	} else {
		p.sdq &^= 1 << channelIndex
	}
	var sdqcr uint32
	if p.sdq != 0 {
		sdqcr = ring.SDQCRBase | p.sdq
	}
	p.cinh.Write32(ring.CINHSDQCR, sdqcr)
	p.logDebug().Uint32("sdqcr", sdqcr).Msg("Static dequeue updated")

	return nil
}

// SetIRQCoalescing sets the dequeue ring fill threshold and the interrupt
// holdoff, in microseconds, of the portal.
func (p *Portal) SetIRQCoalescing(threshold, holdoffUs uint32) error {
	if err := p.lock(); err != nil {
		return err
	}
	defer p.mu.Unlock()
	p.setIRQCoalescing(threshold, holdoffUs)

	return nil
}

func (p *Portal) setIRQCoalescing(threshold, holdoffUs uint32) {
	if maxThreshold := p.dqrr.Size() - 1; threshold > maxThreshold {
		threshold = maxThreshold
	}
	itp := uint64(holdoffUs) * 1000 / uint64(p.desc.ClockRatio)
	if itp > uint64(ring.MaxInterruptTimeout) {
		itp = uint64(ring.MaxInterruptTimeout)
	}
	p.threshold, p.itp = threshold, uint32(itp)
	p.cinh.Write32(ring.CINHDQRRITR, p.threshold)
	p.cinh.Write32(ring.CINHITPR, p.itp)
}

// IRQCoalescing returns the effective threshold and holdoff.
func (p *Portal) IRQCoalescing() (uint32, uint32, error) {
	if err := p.lock(); err != nil {
		return 0, 0, err
	}
	defer p.mu.Unlock()

	return p.threshold, uint32(uint64(p.itp) * uint64(p.desc.ClockRatio) / 1000), nil
}

// RingState is a snapshot of the shadow state of the portal rings.
type RingState struct {
	WritePath     string
	EnqueuePI     uint32
	EnqueueCI     uint32
	EnqueueCredit uint32
	EnqueueVB     uint8
	DequeueCI     uint32
	DequeueVB     uint8
	DequeueMode   ring.DequeueMode
	ReleasePI     uint32
}

func (p *Portal) RingState() RingState {
	p.mu.Lock()
	defer p.mu.Unlock()

	return RingState{
		WritePath:     p.path.Name(),
		EnqueuePI:     p.eqcr.ProducerIndex(),
		EnqueueCI:     p.eqcr.ConsumerIndex(),
		EnqueueCredit: p.eqcr.Credit(),
		EnqueueVB:     p.eqcr.ValidBit(),
		DequeueCI:     p.dqrr.ConsumerIndex(),
		DequeueVB:     p.dqrr.ValidBit(),
		DequeueMode:   p.detector.Mode(),
		ReleasePI:     p.rcr.ProducerIndex(),
	}
}

func (p *Portal) nextToken() uint8 {
	p.token++
	if p.token == 0 {
		p.token = 1
	}

	return p.token
}

func (p *Portal) logDebug() *zerolog.Event {
	return p.logger.Debug().Int("portal id", p.desc.ID)
}

func (p *Portal) logInfo() *zerolog.Event {
	return p.logger.Info().Int("portal id", p.desc.ID)
}

func (p *Portal) logWarn() *zerolog.Event {
	return p.logger.Warn().Int("portal id", p.desc.ID)
}

func (p *Portal) logError(err error) *zerolog.Event {
	return p.logger.Error().Int("portal id", p.desc.ID).Err(err)
}
