package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultPort is the registered BP/UDP convergence layer port.
const DefaultPort = 4556

// ErrInvalidEndpoint indicates a malformed <host>[:<port>] string.
var ErrInvalidEndpoint = errors.New("invalid endpoint")

// Endpoint is a UDP host and port.
type Endpoint struct {
	Host string
	Port int
}

// String returns host:port, bracketing IPv6 literals.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// ParseEndpoint parses <host>[:<port>]. A missing port becomes DefaultPort and
// an empty host becomes defaultHost.
func ParseEndpoint(s, defaultHost string) (Endpoint, error) {
	s = strings.TrimSpace(s)
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		// No port present: the whole string is the host.
		host = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
		portStr = ""
		if strings.Count(host, ":") == 1 {
			return Endpoint{}, fmt.Errorf("%w: %q: %v", ErrInvalidEndpoint, s, err)
		}
	}

	if host == "" {
		host = defaultHost
	}
	if host == "" {
		return Endpoint{}, fmt.Errorf("%w: %q: empty host", ErrInvalidEndpoint, s)
	}

	port := DefaultPort
	if portStr != "" {
		port, err = strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return Endpoint{}, fmt.Errorf("%w: %q: bad port %q", ErrInvalidEndpoint, s, portStr)
		}
	}

	return Endpoint{Host: host, Port: port}, nil
}
