package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrPartialWrite indicates only part of a datagram was written.
	ErrPartialWrite = errors.New("partial write")

	// ErrClosed indicates the socket has been closed.
	ErrClosed = errors.New("socket closed")
)

// IsTimeout reports whether err is a read deadline expiry.
func IsTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Receiver is a bound UDP socket read one datagram at a time.
type Receiver struct {
	conn      net.PacketConn
	closeOnce sync.Once
	closeErr  error
}

// Listen binds a UDP socket on ep.
func Listen(ep Endpoint) (*Receiver, error) {
	return ListenAddr(ep.String())
}

// ListenAddr binds a UDP socket on addr.
func ListenAddr(addr string) (*Receiver, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "ListenAddr",
		"local":    conn.LocalAddr().String(),
	}).Debug("UDP receiver bound")

	return &Receiver{conn: conn}, nil
}

// ReadPacket reads one datagram into buf, waiting at most timeout. A timeout
// is reported as an error for which IsTimeout returns true.
func (r *Receiver) ReadPacket(buf []byte, timeout time.Duration) (int, net.Addr, error) {
	if timeout > 0 {
		if err := r.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return 0, nil, r.mapError(err)
		}
	}
	n, addr, err := r.conn.ReadFrom(buf)
	if err != nil {
		return n, addr, r.mapError(err)
	}
	return n, addr, nil
}

// LocalAddr returns the bound address.
func (r *Receiver) LocalAddr() net.Addr {
	return r.conn.LocalAddr()
}

// Close releases the socket. It is safe to call more than once.
func (r *Receiver) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.conn.Close()
	})
	return r.closeErr
}

func (r *Receiver) mapError(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}

// Sender writes datagrams to one fixed peer from an ephemeral local port.
type Sender struct {
	conn      net.PacketConn
	peer      net.Addr
	closeOnce sync.Once
	closeErr  error
}

// Dial resolves ep and opens a socket for sending to it.
func Dial(ep Endpoint) (*Sender, error) {
	peer, err := net.ResolveUDPAddr("udp", ep.String())
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", ep, err)
	}
	conn, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return nil, fmt.Errorf("open sender socket: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Dial",
		"peer":     peer.String(),
		"local":    conn.LocalAddr().String(),
	}).Debug("UDP sender ready")

	return &Sender{conn: conn, peer: peer}, nil
}

// SendPacket writes data to the peer as one datagram.
func (s *Sender) SendPacket(data []byte) (int, error) {
	n, err := s.conn.WriteTo(data, s.peer)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return n, fmt.Errorf("%w: %v", ErrClosed, err)
		}
		return n, err
	}
	if n < len(data) {
		return n, fmt.Errorf("%w: %d of %d bytes", ErrPartialWrite, n, len(data))
	}
	return n, nil
}

// PeerAddr returns the destination address.
func (s *Sender) PeerAddr() net.Addr {
	return s.peer
}

// LocalAddr returns the ephemeral source address.
func (s *Sender) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Close releases the socket. It is safe to call more than once.
func (s *Sender) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// SendTo writes one datagram to addr from a throwaway socket. An unspecified
// IP in addr is replaced by 127.0.0.1 so a listener bound to all interfaces
// can be woken locally.
func SendTo(addr net.Addr, data []byte) error {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		resolved, err := net.ResolveUDPAddr("udp", addr.String())
		if err != nil {
			return fmt.Errorf("resolve %s: %w", addr, err)
		}
		udpAddr = resolved
	}
	target := *udpAddr
	if target.IP == nil || target.IP.IsUnspecified() {
		target.IP = net.IPv4(127, 0, 0, 1)
	}

	conn, err := net.DialUDP("udp", nil, &target)
	if err != nil {
		return fmt.Errorf("dial %s: %w", target.String(), err)
	}
	defer conn.Close()

	n, err := conn.Write(data)
	if err != nil {
		return err
	}
	if n < len(data) {
		return fmt.Errorf("%w: %d of %d bytes", ErrPartialWrite, n, len(data))
	}
	return nil
}
