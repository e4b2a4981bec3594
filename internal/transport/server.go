package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/danmuck/tdispd/internal/observability"
	"github.com/danmuck/tdispd/internal/protocol/frame"
	"github.com/rs/zerolog"
)

var ErrUnexpectedResponse = errors.New("transport: response frame sent to responder")

// Handler answers one vendor-defined request. It must always return a
// response.
type Handler interface {
	Handle(ctx context.Context, req *frame.VendorDefinedReqPayload) *frame.VendorDefinedRspPayload
}

type HandlerFunc func(ctx context.Context, req *frame.VendorDefinedReqPayload) *frame.VendorDefinedRspPayload

func (f HandlerFunc) Handle(ctx context.Context, req *frame.VendorDefinedReqPayload) *frame.VendorDefinedRspPayload {
	return f(ctx, req)
}

type Server struct {
	handler Handler
	limits  frame.Limits
	log     zerolog.Logger

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func NewServer(handler Handler, logger zerolog.Logger) *Server {
	return &Server{
		handler: handler,
		limits:  frame.DefaultLimits(),
		log:     logger.With().Str("component", "transport").Logger(),
		conns:   make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections until ctx is done or ln fails. It closes ln and
// every open connection before returning, and returns nil on cancellation.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
		s.closeAll()
	})
	defer stop()
	defer s.wg.Wait()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("transport listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.closeAll()
			return fmt.Errorf("transport: accept: %w", err)
		}
		s.track(conn, true)
		if ctx.Err() != nil {
			_ = conn.Close()
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(conn, false)
			if err := s.ServeConn(ctx, conn); err != nil {
				s.log.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("connection closed")
			}
		}()
	}
}

func (s *Server) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
		return
	}
	delete(s.conns, conn)
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}

// ServeConn answers frames on conn one at a time until the peer closes it or
// a frame cannot be read. A clean close returns nil.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) error {
	defer conn.Close()
	for {
		in, err := frame.ReadFrame(conn, s.limits)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			observability.RecordFrame("in", false)
			return err
		}
		observability.RecordFrame("in", true)
		if in.Header.Flags&frame.FlagIsResponse != 0 {
			return ErrUnexpectedResponse
		}

		req, err := frame.NewRequest(in.Payload)
		if err != nil {
			return err
		}
		rsp := s.handler.Handle(ctx, req)

		out := frame.Frame{
			Header: frame.Header{
				Flags:    frame.FlagIsResponse,
				Sequence: in.Header.Sequence,
			},
			Payload: rsp.Bytes(),
		}
		if err := frame.WriteFrame(conn, out, s.limits); err != nil {
			observability.RecordFrame("out", false)
			return err
		}
		observability.RecordFrame("out", true)
	}
}
