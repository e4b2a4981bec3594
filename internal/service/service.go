// Package service runs the TDISP responder daemon: a Host with one responder
// per configured TDI, the framed transport in front of it, and the admin
// HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/danmuck/tdispd/internal/config"
	"github.com/danmuck/tdispd/internal/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ServiceConfig struct {
	ID               string
	DeviceConfigPath string
	TransportNetwork string
	TransportAddr    string
	Security         transport.Security
	AdminListenAddr  string
	AdminToken       string
	CORSOrigins      []string
	ShutdownTimeout  time.Duration
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ID:               "tdispd",
		DeviceConfigPath: "device.toml",
		TransportNetwork: "tcp",
		TransportAddr:    "127.0.0.1:7300",
		Security:         transport.Security{Mode: transport.SecurityModeDevelopment},
		AdminListenAddr:  "127.0.0.1:7310",
		ShutdownTimeout:  5 * time.Second,
	}
}

type Service struct {
	cfg     ServiceConfig
	host    *Host
	log     zerolog.Logger
	started time.Time
	ready   atomic.Bool
}

func NewService(cfg ServiceConfig, device config.DeviceConfig, opts HostOptions) (*Service, error) {
	defaults := DefaultServiceConfig()
	if strings.TrimSpace(cfg.TransportNetwork) == "" {
		cfg.TransportNetwork = defaults.TransportNetwork
	}
	if strings.TrimSpace(cfg.TransportAddr) == "" {
		cfg.TransportAddr = defaults.TransportAddr
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if opts.Logger == nil {
		l := log.Logger
		opts.Logger = &l
	}
	host, err := NewHost(device, opts)
	if err != nil {
		return nil, err
	}
	return &Service{
		cfg:     cfg,
		host:    host,
		log:     opts.Logger.With().Str("service", cfg.ID).Logger(),
		started: time.Now(),
	}, nil
}

func (s *Service) Host() *Host {
	return s.host
}

// Run serves the transport and, when configured, the admin API until ctx is
// done. It returns nil on a clean shutdown.
func (s *Service) Run(ctx context.Context) error {
	if err := s.cfg.Security.ValidateServer(); err != nil {
		return err
	}
	raw, err := transport.Listen(s.cfg.TransportNetwork, s.cfg.TransportAddr)
	if err != nil {
		return err
	}
	ln, err := s.cfg.Security.SecureListener(raw)
	if err != nil {
		_ = raw.Close()
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run with the transport listener supplied by the caller.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var admin *http.Server
	adminErr := make(chan error, 1)
	if addr := strings.TrimSpace(s.cfg.AdminListenAddr); addr != "" {
		adminLn, err := net.Listen("tcp", addr)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("service: admin listen: %w", err)
		}
		admin = &http.Server{Handler: s.Router(), ReadHeaderTimeout: 5 * time.Second}
		s.log.Info().Str("addr", adminLn.Addr().String()).Msg("admin api listening")
		go func() {
			if err := admin.Serve(adminLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				adminErr <- err
				return
			}
			adminErr <- nil
		}()
	}

	serveErr := make(chan error, 1)
	s.ready.Store(true)
	go func() {
		serveErr <- transport.NewServer(s.host, s.log).Serve(ctx, ln)
	}()
	s.log.Info().
		Str("network", s.cfg.TransportNetwork).
		Str("mode", string(transport.NormalizeSecurityMode(s.cfg.Security.Mode))).
		Bool("tls", s.cfg.Security.TLS.Enabled).
		Msg("tdispd ready")

	var err error
	select {
	case err = <-serveErr:
	case err = <-adminErr:
		if err != nil {
			err = fmt.Errorf("service: admin api: %w", err)
		}
		cancel()
		<-serveErr
	}
	s.ready.Store(false)

	if admin != nil {
		shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
		defer done()
		if serr := admin.Shutdown(shutdownCtx); serr != nil && err == nil {
			err = fmt.Errorf("service: admin shutdown: %w", serr)
		}
	}
	s.log.Info().Msg("tdispd stopped")
	return err
}
