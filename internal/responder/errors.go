package responder

import (
	"errors"
	"fmt"

	"github.com/danmuck/tdispd/internal/protocol"
	"github.com/danmuck/tdispd/internal/protocol/frame"
)

var (
	ErrInterfaceMismatch = errors.New("responder: interface not owned")
	ErrVersionMismatch   = errors.New("responder: unsupported version")
	ErrNotEligible       = errors.New("responder: operation not allowed in current state")
	ErrUnsupported       = errors.New("responder: unsupported request")
	ErrMalformed         = errors.New("responder: malformed request")
	ErrReportPending     = errors.New("responder: interface report not fully delivered")
	ErrNonceMismatch     = errors.New("responder: start interface nonce mismatch")
	ErrEntropy           = errors.New("responder: insufficient entropy")
)

// Failure is a handler outcome reported to the requester as TDISP_ERROR. Err
// is the local cause and is logged, never sent.
type Failure struct {
	Code protocol.ErrorCode
	Data uint32
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Code, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func fail(code protocol.ErrorCode, err error) *Failure {
	return &Failure{Code: code, Err: err}
}

// failureOf maps any handler error onto a Failure. Errors that are not
// already a Failure become UNSPECIFIED.
func failureOf(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return fail(protocol.ErrorUnspecified, err)
}

// WriteError replaces whatever rsp holds with a TDISP_ERROR addressed from
// version and id. It is the only place error responses are encoded.
func WriteError(rsp *frame.VendorDefinedRspPayload, version uint8, id protocol.InterfaceID, code protocol.ErrorCode, data uint32) {
	rsp.Reset()
	h := protocol.Header{Version: version, Type: protocol.ResponseError, Interface: id}
	n, err := protocol.Encode(rsp.Payload[:], h, &protocol.ErrorResponse{Code: code, Data: data})
	if err != nil {
		// Unreachable: the error layout is fixed and fits by construction.
		return
	}
	rsp.RspLength = uint16(n)
}
