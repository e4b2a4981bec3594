package responder

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/tdispd/internal/observability"
	"github.com/danmuck/tdispd/internal/protocol"
	"github.com/danmuck/tdispd/internal/protocol/frame"
)

// Dispatch handles one request and always returns a response. ctx is carried
// into state transitions only; once a handler starts mutating it runs to
// completion.
func (r *Responder) Dispatch(ctx context.Context, req *frame.VendorDefinedReqPayload) *frame.VendorDefinedRspPayload {
	start := time.Now()
	rsp := &frame.VendorDefinedRspPayload{}
	outcome := "ok"

	h, decoded, err := r.dispatch(context.WithoutCancel(ctx), req.Bytes(), rsp)
	label := requestLabel(h, decoded)
	if err != nil {
		f := failureOf(err)
		outcome = f.Code.String()
		id := r.id
		if f.Code == protocol.ErrorInvalidInterface {
			id = h.Interface
		}
		WriteError(rsp, r.version, id, f.Code, f.Data)
		r.log.Warn().
			Str("request", label).
			Str("code", f.Code.String()).
			Str("state", r.machine.Current().String()).
			Err(f.Err).
			Msg("tdisp request rejected")
	}
	observability.RecordDispatch(r.id.String(), label, outcome, time.Since(start))
	return rsp
}

// requestLabel names a request for logs and metrics. Any decoded header is
// labeled by its type byte, including 0x00.
func requestLabel(h protocol.Header, decoded bool) string {
	if !decoded {
		return "UNDECODABLE"
	}
	return h.Type.String()
}

// dispatch runs the checks in order and routes to the handler. The returned
// header is whatever decoded, for error addressing; decoded reports whether
// the header itself was readable.
func (r *Responder) dispatch(ctx context.Context, b []byte, rsp *frame.VendorDefinedRspPayload) (h protocol.Header, decoded bool, err error) {
	h, err = protocol.DecodeHeader(b)
	if err != nil {
		return protocol.Header{}, false, fail(protocol.ErrorInvalidRequest, fmt.Errorf("%w: %v", ErrMalformed, err))
	}
	if err := r.checkOwnership(h); err != nil {
		return h, true, fail(protocol.ErrorInvalidInterface, err)
	}
	if err := r.checkVersion(h); err != nil {
		return h, true, fail(protocol.ErrorInvalidRequest, err)
	}
	if !supported(h.Type) {
		return h, true, fail(protocol.ErrorUnsupportedRequest, fmt.Errorf("%w: %s", ErrUnsupported, h.Type))
	}
	if err := r.checkEligible(h.Type); err != nil {
		return h, true, fail(protocol.ErrorInvalidInterfaceState, err)
	}
	m, err := protocol.DecodePayload(h.Type, b[protocol.HeaderSize:])
	if err != nil {
		return h, true, fail(protocol.ErrorInvalidRequest, fmt.Errorf("%w: %s: %v", ErrMalformed, h.Type, err))
	}
	return h, true, r.route(ctx, m, rsp)
}

// route is the exhaustive mapping from decoded request to handler.
func (r *Responder) route(ctx context.Context, m protocol.Message, rsp *frame.VendorDefinedRspPayload) error {
	switch req := m.(type) {
	case *protocol.GetVersionRequest:
		return r.getVersion(rsp)
	case *protocol.GetCapabilitiesRequest:
		return r.getCapabilities(req, rsp)
	case *protocol.LockInterfaceRequest:
		return r.lockInterface(ctx, req, rsp)
	case *protocol.GetDeviceInterfaceReportRequest:
		return r.getInterfaceReport(req, rsp)
	case *protocol.GetDeviceInterfaceStateRequest:
		return r.getInterfaceState(rsp)
	case *protocol.StartInterfaceRequest:
		return r.startInterface(ctx, req, rsp)
	case *protocol.StopInterfaceRequest:
		return r.stopInterface(ctx, rsp)
	default:
		return fail(protocol.ErrorUnsupportedRequest, fmt.Errorf("%w: %s", ErrUnsupported, m.Type()))
	}
}

// respond encodes a successful response addressed from the owned interface.
func (r *Responder) respond(rsp *frame.VendorDefinedRspPayload, m protocol.Message) error {
	h := protocol.Header{Version: r.version, Type: m.Type(), Interface: r.id}
	n, err := protocol.Encode(rsp.Payload[:], h, m)
	if err != nil {
		return fail(protocol.ErrorUnspecified, err)
	}
	rsp.RspLength = uint16(n)
	return nil
}
