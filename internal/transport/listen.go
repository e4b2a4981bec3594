// Package transport carries vendor-defined payloads between a requester and
// the responder over a stream connection.
//
// It stands in for the secure session: every frame carries exactly one
// vendor payload, and requests on one connection are answered strictly in
// order.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/mdlayher/vsock"
)

var ErrUnsupportedNetwork = errors.New("transport: unsupported network")

// Listen opens a listener. network is "tcp", "unix", or "vsock"; for vsock
// addr is the port number.
func Listen(network, addr string) (net.Listener, error) {
	switch network {
	case "tcp", "tcp4", "tcp6", "unix":
		return net.Listen(network, addr)
	case "vsock":
		port, err := parsePort(addr)
		if err != nil {
			return nil, err
		}
		ln, err := vsock.Listen(port, nil)
		if err != nil {
			return nil, fmt.Errorf("transport: listen vsock port %d: %w", port, err)
		}
		return ln, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedNetwork, network)
	}
}

// DialConn connects to a listener opened by Listen. For vsock addr is
// "cid:port".
func DialConn(ctx context.Context, network, addr string) (net.Conn, error) {
	switch network {
	case "tcp", "tcp4", "tcp6", "unix":
		var d net.Dialer
		return d.DialContext(ctx, network, addr)
	case "vsock":
		cidRaw, portRaw, ok := strings.Cut(addr, ":")
		if !ok {
			return nil, fmt.Errorf("transport: vsock address %q must be cid:port", addr)
		}
		cid, err := strconv.ParseUint(cidRaw, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("transport: vsock cid %q: %w", cidRaw, err)
		}
		port, err := parsePort(portRaw)
		if err != nil {
			return nil, err
		}
		conn, err := vsock.Dial(uint32(cid), port, nil)
		if err != nil {
			return nil, fmt.Errorf("transport: dial vsock %d:%d: %w", cid, port, err)
		}
		return conn, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedNetwork, network)
	}
}

func parsePort(raw string) (uint32, error) {
	port, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("transport: vsock port %q: %w", raw, err)
	}
	return uint32(port), nil
}
