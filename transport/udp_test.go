package transport

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loopbackEndpoint(t *testing.T, r *Receiver) Endpoint {
	t.Helper()
	addr, ok := r.LocalAddr().(*net.UDPAddr)
	require.True(t, ok)
	return Endpoint{Host: "127.0.0.1", Port: addr.Port}
}

func TestSenderToReceiver(t *testing.T) {
	r, err := ListenAddr("127.0.0.1:0")
	require.NoError(t, err)
	defer r.Close()

	s, err := Dial(loopbackEndpoint(t, r))
	require.NoError(t, err)
	defer s.Close()

	payload := []byte("bundle over udp")
	n, err := s.SendPacket(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	buf := make([]byte, 2048)
	n, from, err := r.ReadPacket(buf, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:n])
	require.NotNil(t, from)

	fromUDP := from.(*net.UDPAddr)
	localUDP := s.LocalAddr().(*net.UDPAddr)
	assert.Equal(t, localUDP.Port, fromUDP.Port)
	assert.Equal(t, s.PeerAddr().String(), r.LocalAddr().String())
}

func TestReadPacketTimeout(t *testing.T) {
	r, err := ListenAddr("127.0.0.1:0")
	require.NoError(t, err)
	defer r.Close()

	start := time.Now()
	_, _, err = r.ReadPacket(make([]byte, 16), 30*time.Millisecond)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestReadAfterClose(t *testing.T) {
	r, err := ListenAddr("127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, _, err = r.ReadPacket(make([]byte, 16), 10*time.Millisecond)
	assert.True(t, errors.Is(err, ErrClosed))
	assert.False(t, IsTimeout(err))
}

func TestSendAfterClose(t *testing.T) {
	s, err := Dial(Endpoint{Host: "127.0.0.1", Port: DefaultPort})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	_, err = s.SendPacket([]byte("x"))
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestSendToWakesWildcardListener(t *testing.T) {
	r, err := ListenAddr("0.0.0.0:0")
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, SendTo(r.LocalAddr(), []byte{0}))

	buf := make([]byte, 16)
	n, _, err := r.ReadPacket(buf, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDialUnresolvable(t *testing.T) {
	_, err := Dial(Endpoint{Host: "no such host.invalid", Port: 1})
	assert.Error(t, err)
}
