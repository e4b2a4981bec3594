package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/danmuck/tdispd/internal/protocol/frame"
)

var (
	ErrSequenceMismatch = errors.New("transport: response sequence mismatch")
	ErrNotResponse      = errors.New("transport: frame is not a response")
)

// Client sends vendor payloads and waits for the matching response. Calls
// are serialized.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	seq    uint32
	limits frame.Limits
}

func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn, limits: frame.DefaultLimits()}
}

// Dial connects and, when sec enables TLS, completes the handshake before
// returning.
func Dial(ctx context.Context, network, addr string, sec Security) (*Client, error) {
	tlsCfg, err := sec.ClientTLSConfig()
	if err != nil {
		return nil, err
	}
	conn, err := DialConn(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		tc := tls.Client(conn, tlsCfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("transport: tls handshake: %w", err)
		}
		conn = tc
	}
	return NewClient(conn), nil
}

// DialRetry calls Dial until it succeeds, attempts run out, or ctx is done.
func DialRetry(ctx context.Context, network, addr string, sec Security, backoff BackoffConfig, attempts int) (*Client, error) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var lastErr error
	for attempt := 1; attempts <= 0 || attempt <= attempts; attempt++ {
		client, err := Dial(ctx, network, addr, sec)
		if err == nil {
			return client, nil
		}
		lastErr = err
		// Configuration errors will not heal with time.
		if errors.Is(err, ErrUnsupportedNetwork) || isSecurityError(err) {
			return nil, err
		}
		timer := time.NewTimer(NextBackoffDelay(backoff, attempt, rng))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("transport: dial %s %s: %w (last error: %v)", network, addr, ctx.Err(), lastErr)
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("transport: dial %s %s: %d attempts: %w", network, addr, attempts, lastErr)
}

func isSecurityError(err error) bool {
	for _, target := range []error{
		ErrInvalidSecurityMode, ErrTLSRequired, ErrMTLSRequired, ErrTLSCertFileRequired,
		ErrTLSKeyFileRequired, ErrTLSCAFileRequired, ErrTLSInsecureSkipNotAllow,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// RoundTrip sends payload and returns the response payload. The context
// deadline, if any, bounds the whole exchange.
func (c *Client) RoundTrip(ctx context.Context, payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	c.seq++
	seq := c.seq
	out := frame.Frame{Header: frame.Header{Sequence: seq}, Payload: payload}
	if err := frame.WriteFrame(c.conn, out, c.limits); err != nil {
		return nil, fmt.Errorf("transport: write request: %w", err)
	}
	in, err := frame.ReadFrame(c.conn, c.limits)
	if err != nil {
		return nil, fmt.Errorf("transport: read response: %w", err)
	}
	if in.Header.Flags&frame.FlagIsResponse == 0 {
		return nil, ErrNotResponse
	}
	if in.Header.Sequence != seq {
		return nil, fmt.Errorf("%w: sent %d got %d", ErrSequenceMismatch, seq, in.Header.Sequence)
	}
	return in.Payload, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
