package replication

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// maxRetransmits bounds the per-record retransmit counter (spec §4.G:
// "re-sends ... up to a bound"). A record that exhausts this is left in
// place — the keyholder never gives up on a pending version, it simply
// stops hammering the chain with it and relies on the operator noticing
// the stalled region via the coordinator's health signal.
const maxRetransmits = 32

// Retransmitter periodically re-sends the head of every keyholder's
// pending_updates to its next hop, tolerating transient drops by the
// transport layer (spec §4.G "Retransmission"). One Retransmitter serves
// an entire Registry; it sweeps on a short fixed tick, but each record
// decides for itself whether it is actually due for a resend via an
// exponential backoff (github.com/cenkalti/backoff/v4), so a persistently
// stuck record backs off instead of retransmitting at the sweep's tight
// interval forever.
type Retransmitter struct {
	reg      *Registry
	interval time.Duration
	logger   *zap.Logger

	stop   chan struct{}
	stopWG sync.WaitGroup
}

// NewRetransmitter builds a Retransmitter that ticks every interval.
func NewRetransmitter(reg *Registry, interval time.Duration, logger *zap.Logger) *Retransmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Retransmitter{reg: reg, interval: interval, logger: logger, stop: make(chan struct{})}
}

// Start launches the background retransmit loop. Call Stop to halt it.
func (rt *Retransmitter) Start() {
	rt.stopWG.Add(1)
	go rt.run()
}

// Stop halts the retransmit loop and waits for it to exit.
func (rt *Retransmitter) Stop() {
	close(rt.stop)
	rt.stopWG.Wait()
}

func (rt *Retransmitter) run() {
	defer rt.stopWG.Done()
	ticker := time.NewTicker(rt.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rt.tick()
		case <-rt.stop:
			return
		}
	}
}

func (rt *Retransmitter) tick() {
	ctx := context.Background()
	for _, s := range rt.reg.stripes {
		s.mu.Lock()
		for _, kh := range s.keyholders {
			rt.retransmitOne(ctx, kh)
		}
		s.mu.Unlock()
	}
}

// retransmitOne re-sends the head of kh's pending_updates if it has gone a
// tick without ACK progress. Called with kh's stripe already locked.
func (rt *Retransmitter) retransmitOne(ctx context.Context, kh *Keyholder) {
	kh.mu.Lock()
	defer kh.mu.Unlock()

	if len(kh.pending) == 0 {
		return
	}
	rec := kh.pending[0]
	if rec.State != statusProposed {
		return
	}
	if rec.RetransmitCount >= maxRetransmits {
		return
	}
	if !rec.dueForRetransmit(time.Now()) {
		return
	}
	rec.RetransmitCount++

	// processAdmittedLocked resends to the next hop, or, for a record that
	// rebindEndpoints left without one, applies it and acks upstream.
	if err := kh.processAdmittedLocked(ctx, rec); err != nil {
		rt.logger.Warn("retransmit failed",
			zap.String("key", kh.key),
			zap.Uint64("version", rec.Version),
			zap.Int("attempt", rec.RetransmitCount),
			zap.Error(err))
	}
}
