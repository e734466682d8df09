package delaycla

import (
	"context"

	"github.com/opd-ai/delaycla/interfaces"
	"github.com/opd-ai/delaycla/limits"
	"github.com/opd-ai/delaycla/metrics"
	"github.com/opd-ai/delaycla/queue"
	"github.com/opd-ai/delaycla/scheduler"
	"github.com/sirupsen/logrus"
)

// NewOutduct builds an engine that takes bundles from core, holds each one
// for the configured delay and sends it to the peer behind sender, paced by
// the neighbor's transmit rate. Run closes sender.
func NewOutduct(cfg *interfaces.EngineConfig, sender interfaces.PacketSender, core OutductCore, opts ...Option) (*Engine, error) {
	if sender == nil {
		return nil, ErrNilLink
	}
	if core == nil {
		return nil, ErrNilCore
	}

	e, err := newEngine(Outduct, cfg, opts)
	if err != nil {
		return nil, err
	}
	e.sender = sender
	e.outCore = core
	return e, nil
}

// dequeueLoop admits bundles from the core until ctx is done or the core
// reports it is closed.
func (e *Engine) dequeueLoop(ctx context.Context) error {
	for ctx.Err() == nil {
		out, err := e.outCore.Dequeue(ctx, DequeueTimeout)
		if err != nil {
			if ctx.Err() != nil || scheduler.IsBenign(err) {
				return nil
			}
			logrus.WithFields(logrus.Fields{
				"function": "dequeueLoop",
				"op":       "dequeue",
				"error":    err.Error(),
			}).Warn("Dequeue failed")
			if err := e.sleeper.Sleep(ctx, e.cfg.PollQuantum); err != nil {
				return nil
			}
			continue
		}

		switch out.Status {
		case interfaces.DequeueEmpty:
			continue
		case interfaces.DequeueCorrupt:
			logrus.WithFields(logrus.Fields{
				"function": "dequeueLoop",
				"op":       "dequeue",
			}).Warn("Skipping corrupt bundle")
			continue
		case interfaces.DequeueClosed:
			logrus.WithField("function", "dequeueLoop").Info("Bundle core closed the outduct")
			return nil
		}

		if err := limits.ValidateBundle(out.Payload); err != nil {
			e.rejected("oversize", newOpError("dequeue", nil, err))
			continue
		}

		item := queue.NewItem(out.Payload, nil)
		if e.lostAtAdmission(item) {
			continue
		}
		if err := e.queue.AdmitWait(ctx, item, e.cfg.AdmitWait); err != nil {
			if scheduler.IsBenign(err) || ctx.Err() != nil {
				return nil
			}
			e.rejected(rejectReason(err), newOpError("admit", e.sender.PeerAddr(), err))
			continue
		}
		e.admitted(item)
	}
	return nil
}

// sendToPeer paces and sends a released item to the peer.
func (e *Engine) sendToPeer(ctx context.Context, item *queue.Item) error {
	if e.lostAtRelease(item) {
		return nil
	}

	payload := item.TakePayload()
	peer := e.sender.PeerAddr()

	rate, ok := e.outCore.TransmitRate()
	if !ok {
		rate = e.cfg.TransmitRate
	}
	if e.limiter.Enabled && rate > 0 {
		slept, err := e.limiter.Bill(ctx, len(payload), rate)
		if err != nil {
			return e.failed(newOpError("pace", peer, err))
		}
		metrics.PacingSeconds.WithLabelValues(string(e.duct)).Observe(slept.Seconds())
	}

	n, err := e.sender.SendPacket(payload)
	if err != nil {
		return e.failed(newOpError("send", peer, err))
	}
	e.delivered(item, n)
	return nil
}
