package real

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/delaycla/interfaces"
	"github.com/opd-ai/delaycla/limits"
	"github.com/opd-ai/delaycla/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockAddr implements net.Addr for testing
type mockAddr struct {
	network string
	address string
}

func (m *mockAddr) Network() string { return m.network }
func (m *mockAddr) String() string  { return m.address }

// mockSleeper records sleeps without actually sleeping
type mockSleeper struct {
	mu         sync.Mutex
	sleepCalls []time.Duration
}

func (m *mockSleeper) Sleep(_ context.Context, d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sleepCalls = append(m.sleepCalls, d)
	return nil
}

func (m *mockSleeper) getSleepCalls() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]time.Duration, len(m.sleepCalls))
	copy(result, m.sleepCalls)
	return result
}

// mockSender implements interfaces.PacketSender, failing the first failures sends.
type mockSender struct {
	mu       sync.Mutex
	sent     [][]byte
	failures int
	sendErr  error
	closed   bool
}

func (m *mockSender) SendPacket(data []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, transport.ErrClosed
	}
	if m.failures > 0 {
		m.failures--
		return 0, m.sendErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.sent = append(m.sent, cp)
	return len(data), nil
}

func (m *mockSender) PeerAddr() net.Addr {
	return &mockAddr{network: "udp", address: "127.0.0.1:4600"}
}

func (m *mockSender) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockSender) sentPackets() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent
}

func newCore(sender *mockSender) (*RelayCore, *mockSleeper) {
	core := NewRelayCore(sender, nil, &interfaces.EngineConfig{TransmitRate: 1000})
	sleeper := &mockSleeper{}
	core.SetSleeper(sleeper)
	return core, sleeper
}

func TestAcquisitionForwardsOneDatagram(t *testing.T) {
	sender := &mockSender{}
	core, _ := newCore(sender)

	require.NoError(t, core.BeginAcquisition())
	require.NoError(t, core.ContinueAcquisition([]byte("dtn:")))
	require.NoError(t, core.ContinueAcquisition([]byte("//mars")))
	require.NoError(t, core.EndAcquisition())

	sent := sender.sentPackets()
	require.Len(t, sent, 1)
	assert.Equal(t, []byte("dtn://mars"), sent[0])
	assert.Equal(t, uint64(1), core.GetTypedStats().Forwarded)
	assert.False(t, core.IsSimulation())

	rate, ok := core.TransmitRate()
	assert.True(t, ok)
	assert.Equal(t, 1000.0, rate)
}

func TestForwardRetriesWithBackoff(t *testing.T) {
	sender := &mockSender{failures: 2, sendErr: errors.New("connection refused")}
	core, sleeper := newCore(sender)

	require.NoError(t, core.BeginAcquisition())
	require.NoError(t, core.ContinueAcquisition([]byte("b")))
	require.NoError(t, core.EndAcquisition())

	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, sleeper.getSleepCalls())
	assert.Len(t, sender.sentPackets(), 1)
}

func TestForwardFailureLeavesAcquisitionOpenForCancel(t *testing.T) {
	sender := &mockSender{failures: 10, sendErr: errors.New("connection refused")}
	core, sleeper := newCore(sender)
	core.SetRetryAttempts(2)

	require.NoError(t, core.BeginAcquisition())
	require.NoError(t, core.ContinueAcquisition([]byte("b")))
	err := core.EndAcquisition()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Len(t, sleeper.getSleepCalls(), 1)

	require.NoError(t, core.CancelAcquisition())
	st := core.GetTypedStats()
	assert.Equal(t, uint64(1), st.ForwardFailed)
	assert.Equal(t, uint64(1), st.Cancelled)

	// A new acquisition can start after the cancel.
	require.NoError(t, core.BeginAcquisition())
}

func TestAcquisitionErrors(t *testing.T) {
	core := NewRelayCore(nil, nil, nil)
	assert.ErrorIs(t, core.BeginAcquisition(), ErrNoForwarder)

	core, _ = newCore(&mockSender{})
	assert.ErrorIs(t, core.ContinueAcquisition([]byte("x")), ErrNoAcquisition)
	assert.ErrorIs(t, core.EndAcquisition(), ErrNoAcquisition)
	assert.ErrorIs(t, core.CancelAcquisition(), ErrNoAcquisition)

	require.NoError(t, core.BeginAcquisition())
	assert.ErrorIs(t, core.BeginAcquisition(), ErrAcquisitionInProgress)
	assert.ErrorIs(t, core.EndAcquisition(), limits.ErrBundleEmpty)
	assert.ErrorIs(t, core.ContinueAcquisition(make([]byte, limits.MaxDatagramPayload+1)), limits.ErrBundleTooLarge)
}

func TestClosedCoreReportsShutdown(t *testing.T) {
	sender := &mockSender{}
	core, _ := newCore(sender)
	require.NoError(t, core.Close())
	require.NoError(t, core.Close())

	assert.ErrorIs(t, core.BeginAcquisition(), interfaces.ErrCoreShutdown)
	assert.True(t, sender.closed)

	out, err := core.Dequeue(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, interfaces.DequeueClosed, out.Status)
}

func TestDequeueFromFeedSocket(t *testing.T) {
	feed, err := transport.ListenAddr("127.0.0.1:0")
	require.NoError(t, err)
	core := NewRelayCore(nil, feed, nil)
	defer core.Close()

	_, ok := core.TransmitRate()
	assert.False(t, ok)

	out, err := core.Dequeue(context.Background(), 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, interfaces.DequeueEmpty, out.Status)

	require.NoError(t, transport.SendTo(feed.LocalAddr(), []byte("outbound bundle")))
	out, err = core.Dequeue(context.Background(), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, interfaces.DequeueBundle, out.Status)
	assert.Equal(t, []byte("outbound bundle"), out.Payload)

	require.NoError(t, transport.SendTo(feed.LocalAddr(), []byte{}))
	out, err = core.Dequeue(context.Background(), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, interfaces.DequeueCorrupt, out.Status)

	st := core.GetTypedStats()
	assert.Equal(t, uint64(1), st.Dequeued)
	assert.Equal(t, uint64(1), st.Corrupt)
}

func TestDequeueWithoutFeedIsClosed(t *testing.T) {
	core := NewRelayCore(&mockSender{}, nil, nil)
	out, err := core.Dequeue(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, interfaces.DequeueClosed, out.Status)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = core.Dequeue(ctx, time.Millisecond)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDialRelayCoreEndToEnd(t *testing.T) {
	agent, err := transport.ListenAddr("127.0.0.1:0")
	require.NoError(t, err)
	defer agent.Close()

	core, err := DialRelayCore(&interfaces.EngineConfig{
		CoreForwardAddr: agent.LocalAddr().String(),
		CoreFeedAddr:    "127.0.0.1:0",
	}, BothSides)
	require.NoError(t, err)
	defer core.Close()

	require.NoError(t, core.BeginAcquisition())
	require.NoError(t, core.ContinueAcquisition([]byte("to the agent")))
	require.NoError(t, core.EndAcquisition())

	buf := make([]byte, 64)
	n, _, err := agent.ReadPacket(buf, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "to the agent", string(buf[:n]))
}

func TestDialRelayCoreBadAddress(t *testing.T) {
	_, err := DialRelayCore(&interfaces.EngineConfig{CoreFeedAddr: "host:notaport"}, FeedSide)
	assert.ErrorIs(t, err, transport.ErrInvalidEndpoint)
}

func TestDialRelayCoreOpensRequestedSides(t *testing.T) {
	feed, err := transport.ListenAddr("127.0.0.1:0")
	require.NoError(t, err)
	busy := feed.LocalAddr().String()
	defer feed.Close()

	cfg := &interfaces.EngineConfig{
		CoreForwardAddr: "127.0.0.1:4999",
		CoreFeedAddr:    busy,
	}

	// The feed address is taken, which only matters to a core that binds it.
	forwardOnly, err := DialRelayCore(cfg, ForwardSide)
	require.NoError(t, err)
	defer forwardOnly.Close()

	out, err := forwardOnly.Dequeue(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, interfaces.DequeueClosed, out.Status)
	require.NoError(t, forwardOnly.BeginAcquisition())

	_, err = DialRelayCore(cfg, FeedSide)
	assert.Error(t, err)

	cfg.CoreFeedAddr = "127.0.0.1:0"
	feedOnly, err := DialRelayCore(cfg, FeedSide)
	require.NoError(t, err)
	defer feedOnly.Close()
	assert.ErrorIs(t, feedOnly.BeginAcquisition(), ErrNoForwarder)
}

func TestCloseInterruptsForwardBackoff(t *testing.T) {
	sender := &mockSender{failures: 10, sendErr: errors.New("connection refused")}
	core := NewRelayCore(sender, nil, nil)

	require.NoError(t, core.BeginAcquisition())
	require.NoError(t, core.ContinueAcquisition([]byte("stuck")))

	done := make(chan error, 1)
	start := time.Now()
	go func() { done <- core.EndAcquisition() }()

	time.Sleep(50 * time.Millisecond)
	// The lock is free during the backoff.
	_ = core.GetTypedStats()
	require.NoError(t, core.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, interfaces.ErrCoreShutdown)
		assert.Less(t, time.Since(start), 400*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("EndAcquisition did not return after Close")
	}
	assert.Equal(t, uint64(1), core.GetTypedStats().ForwardFailed)
}
