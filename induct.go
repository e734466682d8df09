package delaycla

import (
	"context"
	"fmt"
	"net"

	"github.com/opd-ai/delaycla/interfaces"
	"github.com/opd-ai/delaycla/limits"
	"github.com/opd-ai/delaycla/queue"
	"github.com/opd-ai/delaycla/transport"
	"github.com/sirupsen/logrus"
)

// NewInduct builds an engine that reads datagrams from receiver, holds each
// one for the configured delay and hands it to core. Run closes receiver.
func NewInduct(cfg *interfaces.EngineConfig, receiver interfaces.PacketReceiver, core interfaces.Acquirer, opts ...Option) (*Engine, error) {
	if receiver == nil {
		return nil, ErrNilLink
	}
	if core == nil {
		return nil, ErrNilCore
	}

	e, err := newEngine(Induct, cfg, opts)
	if err != nil {
		return nil, err
	}
	e.receiver = receiver
	e.acquirer = core
	return e, nil
}

// receiveLoop admits every datagram read from the socket until ctx is done
// or a stop datagram arrives.
func (e *Engine) receiveLoop(ctx context.Context) error {
	buf := make([]byte, limits.ReceiveBufferSize)

	for ctx.Err() == nil {
		n, from, err := e.receiver.ReadPacket(buf, ReceivePollInterval)
		if err != nil {
			if transport.IsTimeout(err) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return newOpError("receive", e.receiver.LocalAddr(), err)
		}

		if n == 0 {
			continue
		}
		if limits.IsStopSentinel(n) {
			if ctx.Err() == nil {
				logrus.WithFields(logrus.Fields{
					"function": "receiveLoop",
					"peer":     addrString(from),
				}).Info("Stop datagram received")
			}
			e.Shutdown()
			return nil
		}

		if err := limits.ValidateBundle(buf[:n]); err != nil {
			e.rejected("oversize", newOpError("receive", from, err))
			continue
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		item := queue.NewItem(payload, from)
		if e.lostAtAdmission(item) {
			continue
		}
		if err := e.queue.Admit(item); err != nil {
			e.rejected(rejectReason(err), newOpError("admit", from, err))
			continue
		}
		e.admitted(item)
	}
	return nil
}

// wakeReceiver sends a stop datagram to the induct socket so a blocked read
// returns at once.
func (e *Engine) wakeReceiver() {
	if err := transport.SendTo(e.receiver.LocalAddr(), limits.StopSentinel()); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "wakeReceiver",
			"error":    err.Error(),
		}).Debug("Could not wake receiver, waiting for read deadline")
	}
}

// deliverToCore hands a released item to the bundle core through the
// acquisition steps.
func (e *Engine) deliverToCore(_ context.Context, item *queue.Item) error {
	if e.lostAtRelease(item) {
		return nil
	}

	payload := item.TakePayload()
	if err := e.acquire(payload); err != nil {
		return e.failed(newOpError("acquire", item.Origin, err))
	}
	e.delivered(item, len(payload))
	return nil
}

// acquire runs Begin, Continue and End, cancelling the acquisition if a
// step after Begin fails. The core accepts a single acquisition at a time,
// so concurrent delivery tasks queue up here.
func (e *Engine) acquire(payload []byte) error {
	e.acquireMu.Lock()
	defer e.acquireMu.Unlock()

	if err := e.acquirer.BeginAcquisition(); err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := e.acquirer.ContinueAcquisition(payload); err != nil {
		e.cancelAcquisition()
		return fmt.Errorf("continue: %w", err)
	}
	if err := e.acquirer.EndAcquisition(); err != nil {
		e.cancelAcquisition()
		return fmt.Errorf("end: %w", err)
	}
	return nil
}

func (e *Engine) cancelAcquisition() {
	if err := e.acquirer.CancelAcquisition(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "cancelAcquisition",
			"error":    err.Error(),
		}).Debug("Cancel acquisition failed")
	}
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
