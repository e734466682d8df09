package delaycla

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/opd-ai/delaycla/factory"
	"github.com/opd-ai/delaycla/interfaces"
	"github.com/opd-ai/delaycla/queue"
	simulation "github.com/opd-ai/delaycla/testing"
	"github.com/opd-ai/delaycla/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(opts ...factory.ConfigOption) *interfaces.EngineConfig {
	return factory.NewEngineFactory().TestConfig(opts...)
}

// runEngine starts e.Run and registers a cleanup that stops it.
func runEngine(t *testing.T, e *Engine) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Run(context.Background())
	}()
	t.Cleanup(func() {
		e.Shutdown()
		select {
		case <-e.Done():
		case <-time.After(5 * time.Second):
			t.Error("engine did not stop")
		}
	})
	return errCh
}

func waitRun(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func loopbackReceiver(t *testing.T) *transport.Receiver {
	t.Helper()
	r, err := transport.ListenAddr("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func dialTo(t *testing.T, addr net.Addr) *transport.Sender {
	t.Helper()
	udp := addr.(*net.UDPAddr)
	s, err := transport.Dial(transport.Endpoint{Host: "127.0.0.1", Port: udp.Port})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConstructorValidation(t *testing.T) {
	core := simulation.NewSimulatedBundleCore(nil)
	receiver := loopbackReceiver(t)

	_, err := NewInduct(nil, receiver, core)
	assert.ErrorIs(t, err, ErrNilConfig)

	_, err = NewInduct(testConfig(), nil, core)
	assert.ErrorIs(t, err, ErrNilLink)

	_, err = NewInduct(testConfig(), receiver, nil)
	assert.ErrorIs(t, err, ErrNilCore)

	_, err = NewInduct(testConfig(factory.WithQueueCapacity(0)), receiver, core)
	assert.ErrorIs(t, err, interfaces.ErrInvalidCapacity)

	_, err = NewOutduct(testConfig(), nil, core)
	assert.ErrorIs(t, err, ErrNilLink)
}

func TestStrategyDefaultsPerDuct(t *testing.T) {
	core := simulation.NewSimulatedBundleCore(nil)
	receiver := loopbackReceiver(t)
	sender := dialTo(t, receiver.LocalAddr())

	in, err := NewInduct(testConfig(), receiver, core)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StrategyPolling, in.Strategy())
	assert.Equal(t, Induct, in.Duct())

	out, err := NewOutduct(testConfig(), sender, core)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StrategyDispatch, out.Strategy())
	assert.Equal(t, Outduct, out.Duct())

	cfg := testConfig()
	cfg.Strategy = interfaces.StrategyDispatch
	in, err = NewInduct(cfg, receiver, core)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StrategyDispatch, in.Strategy())
}

func TestEngineReportsModels(t *testing.T) {
	core := simulation.NewSimulatedBundleCore(nil)
	e, err := NewInduct(testConfig(factory.WithFixedDelay(3*time.Second), factory.WithLossPercent(12.5)),
		loopbackReceiver(t), core)
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, e.CurrentDelay())
	assert.Equal(t, 12.5, e.LossPercent())
	assert.Equal(t, "at-release", e.LossPolicy().String())

	cfg := testConfig()
	cfg.LossPolicy = interfaces.LossAtAdmission
	e, err = NewInduct(cfg, loopbackReceiver(t), core)
	require.NoError(t, err)
	assert.Equal(t, "at-admission", e.LossPolicy().String())
}

func TestRunTwiceFails(t *testing.T) {
	core := simulation.NewSimulatedBundleCore(nil)
	e, err := NewInduct(testConfig(), loopbackReceiver(t), core)
	require.NoError(t, err)

	errCh := runEngine(t, e)
	time.Sleep(20 * time.Millisecond)
	assert.ErrorIs(t, e.Run(context.Background()), ErrAlreadyRunning)

	e.Shutdown()
	assert.NoError(t, waitRun(t, errCh))
}

func TestShutdownBeforeRun(t *testing.T) {
	core := simulation.NewSimulatedBundleCore(nil)
	e, err := NewInduct(testConfig(), loopbackReceiver(t), core)
	require.NoError(t, err)

	e.Shutdown()
	e.Shutdown()
	assert.True(t, e.Stopping())
	select {
	case <-e.Stopped():
	default:
		t.Fatal("Stopped channel still open after Shutdown")
	}

	start := time.Now()
	assert.NoError(t, e.Run(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
}

func TestRunStopsWithParentContext(t *testing.T) {
	core := simulation.NewSimulatedBundleCore(nil)
	e, err := NewInduct(testConfig(), loopbackReceiver(t), core)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, e.Run(ctx))
}

func TestOpError(t *testing.T) {
	peer := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 4556}
	err := newOpError("send", peer, queue.ErrQueueFull)

	assert.Equal(t, "delaycla send 10.0.0.1:4556: queue full", err.Error())
	assert.True(t, errors.Is(err, queue.ErrQueueFull))
	assert.Equal(t, "send", err.Operation())

	bare := newOpError("dequeue", nil, interfaces.ErrCoreShutdown)
	assert.Equal(t, "delaycla dequeue: bundle core shutting down", bare.Error())
	assert.Empty(t, bare.Peer)
}
