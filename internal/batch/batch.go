// Package batch implements the advertisement batcher (§4.4): one current
// batch plus a single timer keyed by the batch's eldest arrival. A batch
// flushes the moment it reaches BatchMax, or when its eldest element has
// aged past FlushInterval, whichever comes first. The ticker-driven
// select loop follows the teacher's Bridge.runTransformationEngine, here
// reduced to one timer instead of a fixed-period ticker since flush
// timing is keyed to the batch's age, not wall-clock ticks.
package batch

import (
	"context"
	"time"

	"github.com/srg/bleproxy/internal/wireproto"
)

// DefaultMax is BATCH_MAX: the cardinality at which a batch flushes
// immediately regardless of age.
const DefaultMax = 16

// DefaultFlushInterval is FLUSH_INTERVAL: the maximum age of a batch's
// eldest element before it flushes regardless of size.
const DefaultFlushInterval = 50 * time.Millisecond

// Batcher is single-producer, single-consumer: Run owns all state and
// must not be driven concurrently with itself. Feed advertisements in via
// the channel passed to Run; OnFlush receives each completed batch in
// scanner-delivery order.
type Batcher struct {
	max           int
	flushInterval time.Duration
	onFlush       func([]wireproto.Ad)

	cur []wireproto.Ad
}

// New returns a Batcher. max <= 0 defaults to DefaultMax; flushInterval
// <= 0 defaults to DefaultFlushInterval.
func New(max int, flushInterval time.Duration, onFlush func([]wireproto.Ad)) *Batcher {
	if max <= 0 {
		max = DefaultMax
	}
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	return &Batcher{max: max, flushInterval: flushInterval, onFlush: onFlush}
}

// Run drains ads, applying §4.4's size/age flush rules, until ctx is
// cancelled or ads is closed. Any partial batch still held at that point
// is dropped, not flushed — shutdown does not synthesize a short batch.
func (b *Batcher) Run(ctx context.Context, ads <-chan wireproto.Ad) {
	timer := time.NewTimer(b.flushInterval)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	timerActive := false

	stopTimer := func() {
		if timerActive {
			if !timer.Stop() {
				<-timer.C
			}
			timerActive = false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ad, ok := <-ads:
			if !ok {
				return
			}
			b.cur = append(b.cur, ad)
			if len(b.cur) == 1 {
				timer.Reset(b.flushInterval)
				timerActive = true
			}
			if len(b.cur) >= b.max {
				stopTimer()
				b.flush()
			}
		case <-timer.C:
			timerActive = false
			b.flush()
		}
	}
}

func (b *Batcher) flush() {
	if len(b.cur) == 0 {
		return
	}
	batch := b.cur
	b.cur = nil
	if b.onFlush != nil {
		b.onFlush(batch)
	}
}
