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

	"github.com/rcrowley/go-metrics"
)

type portalMetrics struct {
	enqueueFrames   metrics.Counter
	enqueueNoCredit metrics.Counter
	dqrrFrames      metrics.Counter
	pullTimeouts    metrics.Counter
	commandTimeouts metrics.Counter
	commandFailures metrics.Counter
}

func counter(registry metrics.Registry, prefix string, id interface{}, name string) metrics.Counter {
	return metrics.GetOrRegisterCounter(fmt.Sprintf("%s.%v.%s", prefix, id, name), registry)
}

func newPortalMetrics(registry metrics.Registry, id int) portalMetrics {
	return portalMetrics{
		enqueueFrames:   counter(registry, "portal", id, "enqueue.frames"),
		enqueueNoCredit: counter(registry, "portal", id, "enqueue.no_credit"),
		dqrrFrames:      counter(registry, "portal", id, "dqrr.frames"),
		pullTimeouts:    counter(registry, "portal", id, "pull.timeouts"),
		commandTimeouts: counter(registry, "portal", id, "command.timeouts"),
		commandFailures: counter(registry, "portal", id, "command.failures"),
	}
}

type poolMetrics struct {
	seeded       metrics.Counter
	released     metrics.Counter
	seedFailures metrics.Counter
}

func newPoolMetrics(registry metrics.Registry, id uint16) poolMetrics {
	return poolMetrics{
		seeded:       counter(registry, "bpool", id, "seeded"),
		released:     counter(registry, "bpool", id, "released"),
		seedFailures: counter(registry, "bpool", id, "seed_failures"),
	}
}

type channelMetrics struct {
	rxFrames      metrics.Counter
	rxDropped     metrics.Counter
	rxEnqRejected metrics.Counter
	rxSGFrames    metrics.Counter
}

func newChannelMetrics(registry metrics.Registry, id uint32) channelMetrics {
	return channelMetrics{
		rxFrames:      counter(registry, "channel", id, "rx_frames"),
		rxDropped:     counter(registry, "channel", id, "rx_dropped"),
		rxEnqRejected: counter(registry, "channel", id, "rx_enq_rejected"),
		rxSGFrames:    counter(registry, "channel", id, "rx_sg_frames"),
	}
}

type txMetrics struct {
	frames  metrics.Counter
	dropped metrics.Counter
}

func newTxMetrics(registry metrics.Registry, fqid uint32) txMetrics {
	return txMetrics{
		frames:  counter(registry, "txring", fqid, "frames"),
		dropped: counter(registry, "txring", fqid, "dropped"),
	}
}
