package responder

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/tdispd/internal/device"
	"github.com/danmuck/tdispd/internal/protocol"
	"github.com/danmuck/tdispd/internal/protocol/frame"
	"github.com/danmuck/tdispd/internal/tdi"
)

func (r *Responder) getVersion(rsp *frame.VendorDefinedRspPayload) error {
	return r.respond(rsp, &protocol.VersionResponse{Versions: []uint8{r.version}})
}

func (r *Responder) capabilities() *protocol.CapabilitiesResponse {
	caps := &protocol.CapabilitiesResponse{
		DSMCaps:                     r.profile.DSMCaps,
		LockInterfaceFlagsSupported: r.profile.SupportedLockFlags,
		DevAddrWidth:                r.profile.DevAddrWidth,
		NumReqThis:                  r.profile.NumReqThis,
		NumReqAll:                   r.profile.NumReqAll,
	}
	for _, t := range protocol.RequestTypes() {
		if supported(t) {
			caps.SetSupported(t)
		}
	}
	return caps
}

func (r *Responder) getCapabilities(req *protocol.GetCapabilitiesRequest, rsp *frame.VendorDefinedRspPayload) error {
	r.log.Debug().Uint32("tsm_caps", req.TSMCaps).Msg("capabilities requested")
	return r.respond(rsp, r.capabilities())
}

func (r *Responder) lockInterface(ctx context.Context, req *protocol.LockInterfaceRequest, rsp *frame.VendorDefinedRspPayload) error {
	if !req.Flags.Subset(r.profile.SupportedLockFlags) {
		return fail(protocol.ErrorInvalidRequest,
			fmt.Errorf("%w: lock flags 0x%04x not supported", ErrMalformed, uint16(req.Flags)))
	}
	if err := r.store.Validate(); err != nil {
		return fail(protocol.ErrorInvalidDeviceConfiguration, err)
	}
	report, err := r.profile.Report(req.MMIOReportingOffset)
	if errors.Is(err, device.ErrInvalidReportingOffset) {
		return fail(protocol.ErrorInvalidRequest, err)
	}
	if err != nil {
		return fail(protocol.ErrorInvalidDeviceConfiguration, err)
	}
	encoded, err := report.MarshalBinary()
	if err != nil {
		return fail(protocol.ErrorInvalidDeviceConfiguration, err)
	}
	nonce, err := r.freshNonce()
	if err != nil {
		return fail(protocol.ErrorInsufficientEntropy, err)
	}
	if err := r.store.Lock(); err != nil {
		return fail(protocol.ErrorInvalidDeviceConfiguration, err)
	}
	if err := r.machine.Fire(ctx, tdi.EventLock); err != nil {
		if uerr := r.store.Unlock(); uerr != nil {
			r.log.Error().Err(uerr).Msg("unlock after refused lock transition failed")
		}
		return fail(protocol.ErrorUnspecified, err)
	}
	r.lock = &lockContext{
		params:     *req,
		nonce:      nonce,
		nonceValid: true,
		report:     encoded,
	}
	r.log.Info().
		Uint16("flags", uint16(req.Flags)).
		Uint8("default_stream_id", req.DefaultStreamID).
		Int("report_bytes", len(encoded)).
		Msg("interface locked")
	return r.respond(rsp, &protocol.LockInterfaceResponse{StartInterfaceNonce: nonce})
}

// freshNonce draws a full nonce from the entropy source. A short read or an
// all-zero draw is treated as missing entropy.
func (r *Responder) freshNonce() (protocol.Nonce, error) {
	var nonce protocol.Nonce
	if _, err := io.ReadFull(r.entropy, nonce[:]); err != nil {
		return protocol.Nonce{}, fmt.Errorf("%w: %v", ErrEntropy, err)
	}
	var zero protocol.Nonce
	if subtle.ConstantTimeCompare(nonce[:], zero[:]) == 1 {
		return protocol.Nonce{}, fmt.Errorf("%w: all-zero nonce", ErrEntropy)
	}
	return nonce, nil
}

func (r *Responder) getInterfaceReport(req *protocol.GetDeviceInterfaceReportRequest, rsp *frame.VendorDefinedRspPayload) error {
	if r.lock == nil {
		return fail(protocol.ErrorInvalidInterfaceState, ErrNotEligible)
	}
	total := len(r.lock.report)
	offset := int(req.Offset)
	if req.Length == 0 || offset >= total {
		return fail(protocol.ErrorInvalidRequest,
			fmt.Errorf("%w: report window offset=%d length=%d size=%d", ErrMalformed, req.Offset, req.Length, total))
	}
	portion := min(int(req.Length), protocol.MaxReportPortion, total-offset)
	remainder := total - offset - portion
	if err := r.respond(rsp, &protocol.DeviceInterfaceReportResponse{
		RemainderLength: uint16(remainder),
		Report:          r.lock.report[offset : offset+portion],
	}); err != nil {
		return err
	}
	if remainder == 0 {
		r.lock.reportDelivered = true
	}
	return nil
}

func (r *Responder) getInterfaceState(rsp *frame.VendorDefinedRspPayload) error {
	return r.respond(rsp, &protocol.DeviceInterfaceStateResponse{State: r.machine.Current()})
}

func (r *Responder) startInterface(ctx context.Context, req *protocol.StartInterfaceRequest, rsp *frame.VendorDefinedRspPayload) error {
	if r.lock == nil {
		return fail(protocol.ErrorInvalidInterfaceState, ErrNotEligible)
	}
	if !r.lock.reportDelivered {
		return fail(protocol.ErrorInvalidRequest, ErrReportPending)
	}
	match := subtle.ConstantTimeCompare(req.StartInterfaceNonce[:], r.lock.nonce[:]) == 1
	if !r.lock.nonceValid || !match {
		return fail(protocol.ErrorInvalidNonce, ErrNonceMismatch)
	}
	if err := r.machine.Fire(ctx, tdi.EventStart); err != nil {
		return fail(protocol.ErrorUnspecified, err)
	}
	r.lock.consumeNonce()
	return r.respond(rsp, &protocol.StartInterfaceResponse{})
}

// stopInterface encodes its response before touching the store. If the scrub
// sequence fails the response is discarded, the state is left as it was, and
// the requester sees INVALID_DEVICE_CONFIGURATION.
func (r *Responder) stopInterface(ctx context.Context, rsp *frame.VendorDefinedRspPayload) error {
	if err := r.respond(rsp, &protocol.StopInterfaceResponse{}); err != nil {
		return err
	}
	if err := r.scrubAndUnlock(); err != nil {
		return fail(protocol.ErrorInvalidDeviceConfiguration, err)
	}
	if err := r.machine.Fire(ctx, tdi.EventStop); err != nil {
		return fail(protocol.ErrorUnspecified, err)
	}
	if r.lock != nil {
		r.lock.consumeNonce()
		r.lock = nil
	}
	r.log.Info().Msg("interface stopped")
	return nil
}
