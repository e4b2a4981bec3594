package transport

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/danmuck/tdispd/internal/testutil/testlog"
	"github.com/danmuck/tdispd/internal/testutil/tlstest"
	"github.com/rs/zerolog"
)

func TestValidateServerProductionRequiresMTLS(t *testing.T) {
	testlog.Start(t)
	sec := Security{Mode: SecurityModeProduction}
	if err := sec.ValidateServer(); !errors.Is(err, ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired, got %v", err)
	}
	sec.TLS.Enabled = true
	if err := sec.ValidateServer(); !errors.Is(err, ErrMTLSRequired) {
		t.Fatalf("expected ErrMTLSRequired, got %v", err)
	}
	sec.TLS.Mutual = true
	if err := sec.ValidateServer(); !errors.Is(err, ErrTLSCertFileRequired) {
		t.Fatalf("expected ErrTLSCertFileRequired, got %v", err)
	}
	sec.TLS.CertFile, sec.TLS.KeyFile = "server.crt", "server.key"
	if err := sec.ValidateServer(); !errors.Is(err, ErrTLSCAFileRequired) {
		t.Fatalf("expected ErrTLSCAFileRequired, got %v", err)
	}
	sec.TLS.CAFile = "ca.crt"
	if err := sec.ValidateServer(); err != nil {
		t.Fatalf("expected valid production server, got %v", err)
	}
}

func TestValidateClientRejectsInsecureSkipInProduction(t *testing.T) {
	testlog.Start(t)
	sec := Security{
		Mode: " Production ",
		TLS: TLSConfig{
			Enabled:            true,
			Mutual:             true,
			CertFile:           "c.crt",
			KeyFile:            "c.key",
			InsecureSkipVerify: true,
		},
	}
	if err := sec.ValidateClient(); !errors.Is(err, ErrTLSInsecureSkipNotAllow) {
		t.Fatalf("expected ErrTLSInsecureSkipNotAllow, got %v", err)
	}
	sec.Mode = "staging"
	if err := sec.ValidateClient(); !errors.Is(err, ErrInvalidSecurityMode) {
		t.Fatalf("expected ErrInvalidSecurityMode, got %v", err)
	}
}

func TestDevelopmentModeIsPlaintext(t *testing.T) {
	testlog.Start(t)
	cfg, err := Security{}.ServerTLSConfig()
	if err != nil || cfg != nil {
		t.Fatalf("expected no tls config, got %v err %v", cfg, err)
	}
}

func TestMutualTLSRoundTrip(t *testing.T) {
	testlog.Start(t)
	m := tlstest.NewMutual(t)
	serverSec := Security{
		Mode: SecurityModeProduction,
		TLS:  TLSConfig{Enabled: true, Mutual: true, CertFile: m.ServerCert, KeyFile: m.ServerKey, CAFile: m.CAFile},
	}
	clientSec := Security{
		Mode: SecurityModeProduction,
		TLS: TLSConfig{
			Enabled:    true,
			Mutual:     true,
			CertFile:   m.ClientCert,
			KeyFile:    m.ClientKey,
			CAFile:     m.CAFile,
			ServerName: "localhost",
		},
	}

	raw, err := Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ln, err := serverSec.SecureListener(raw)
	if err != nil {
		t.Fatalf("secure listener: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = NewServer(echoUpper, zerolog.Nop()).Serve(ctx, ln) }()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()
	client, err := Dial(dialCtx, "tcp", raw.Addr().String(), clientSec)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	got, err := client.RoundTrip(dialCtx, []byte{0x10, 0x81})
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if !bytes.Equal(got, []byte{0x11, 0x82}) {
		t.Fatalf("unexpected response %x", got)
	}
}

func TestMutualTLSRejectsAnonymousClient(t *testing.T) {
	testlog.Start(t)
	m := tlstest.NewMutual(t)
	serverSec := Security{
		TLS: TLSConfig{Enabled: true, Mutual: true, CertFile: m.ServerCert, KeyFile: m.ServerKey, CAFile: m.CAFile},
	}
	clientSec := Security{
		TLS: TLSConfig{Enabled: true, CAFile: m.CAFile, ServerName: "localhost"},
	}

	raw, err := Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ln, err := serverSec.SecureListener(raw)
	if err != nil {
		t.Fatalf("secure listener: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = NewServer(echoUpper, zerolog.Nop()).Serve(ctx, ln) }()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()
	client, err := Dial(dialCtx, "tcp", raw.Addr().String(), clientSec)
	if err != nil {
		return
	}
	defer client.Close()
	// Under TLS 1.3 the server's rejection surfaces on the first read.
	if _, err := client.RoundTrip(dialCtx, []byte{0x01}); err == nil {
		t.Fatalf("expected anonymous client to be refused")
	}
}

func TestDialRetryStopsOnConfigurationError(t *testing.T) {
	testlog.Start(t)
	start := time.Now()
	_, err := DialRetry(context.Background(), "tcp", "127.0.0.1:1", Security{Mode: SecurityModeProduction}, DefaultBackoff(), 0)
	if !errors.Is(err, ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("configuration error should not be retried")
	}
}

func TestDialRetryGivesUpAfterAttempts(t *testing.T) {
	testlog.Start(t)
	ln, err := Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	backoff := BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 2}
	if _, err := DialRetry(context.Background(), "tcp", addr, Security{}, backoff, 2); err == nil {
		t.Fatalf("expected dial to a closed port to fail")
	}
}

func TestNextBackoffDelay(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{InitialDelay: 250 * time.Millisecond, Multiplier: 2.0, MaxDelay: 5 * time.Second}
	for attempt, want := range map[int]time.Duration{
		1: 250 * time.Millisecond,
		2: 500 * time.Millisecond,
		3: time.Second,
		6: 5 * time.Second,
	} {
		if got := NextBackoffDelay(cfg, attempt, nil); got != want {
			t.Fatalf("attempt %d: got %v want %v", attempt, got, want)
		}
	}

	cfg.Jitter = true
	rng := rand.New(rand.NewSource(7))
	if got := NextBackoffDelay(cfg, 3, rng); got < 500*time.Millisecond || got > 1500*time.Millisecond {
		t.Fatalf("jitter out of range: %v", got)
	}
}
