// Package transport provides the UDP link used by the convergence layer
// adapter: endpoint parsing, a bound datagram receiver and a sender tied to a
// single peer.
//
// # Endpoints
//
// Endpoints are written <host>[:<port>]. The port defaults to DefaultPort,
// the registered BP/UDP port, and an empty host falls back to a caller
// supplied default:
//
//	ep, err := transport.ParseEndpoint("mars-relay:4557", "")
//	ep, err := transport.ParseEndpoint("", "0.0.0.0") // 0.0.0.0:4556
//
// # Receiving
//
// Receiver reads one datagram at a time with a deadline so the caller can
// observe shutdown between reads:
//
//	r, err := transport.Listen(ep)
//	n, from, err := r.ReadPacket(buf, 100*time.Millisecond)
//	if transport.IsTimeout(err) {
//	    // nothing arrived, poll again
//	}
//
// # Sending
//
// Sender writes whole datagrams to a fixed peer. A short write is reported as
// ErrPartialWrite.
package transport
