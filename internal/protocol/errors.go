package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrTruncated           = errors.New("protocol: truncated data")
	ErrTrailingData        = errors.New("protocol: trailing data after payload")
	ErrInvalidLength       = errors.New("protocol: invalid length")
	ErrUnknownMessageType  = errors.New("protocol: unknown message type")
	ErrMessageTypeMismatch = errors.New("protocol: message type mismatch")
	ErrBufferTooSmall      = errors.New("protocol: buffer too small")
	ErrInvalidState        = errors.New("protocol: invalid interface state value")
	ErrNilMessage          = errors.New("protocol: nil message")
)

// ErrorCode is the ERROR_CODE field of a TDISP_ERROR response. Values are
// fixed by the TDISP wire contract.
type ErrorCode uint32

const (
	ErrorInvalidRequest             ErrorCode = 0x0001
	ErrorBusy                       ErrorCode = 0x0003
	ErrorInvalidInterfaceState      ErrorCode = 0x0004
	ErrorUnspecified                ErrorCode = 0x0005
	ErrorUnsupportedRequest         ErrorCode = 0x0007
	ErrorVersionMismatch            ErrorCode = 0x0041
	ErrorVendorSpecific             ErrorCode = 0x00FF
	ErrorInvalidInterface           ErrorCode = 0x0101
	ErrorInvalidNonce               ErrorCode = 0x0102
	ErrorInsufficientEntropy        ErrorCode = 0x0103
	ErrorInvalidDeviceConfiguration ErrorCode = 0x0104
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorInvalidRequest:
		return "INVALID_REQUEST"
	case ErrorBusy:
		return "BUSY"
	case ErrorInvalidInterfaceState:
		return "INVALID_INTERFACE_STATE"
	case ErrorUnspecified:
		return "UNSPECIFIED"
	case ErrorUnsupportedRequest:
		return "UNSUPPORTED_REQUEST"
	case ErrorVersionMismatch:
		return "VERSION_MISMATCH"
	case ErrorVendorSpecific:
		return "VENDOR_SPECIFIC_ERROR"
	case ErrorInvalidInterface:
		return "INVALID_INTERFACE"
	case ErrorInvalidNonce:
		return "INVALID_NONCE"
	case ErrorInsufficientEntropy:
		return "INSUFFICIENT_ENTROPY"
	case ErrorInvalidDeviceConfiguration:
		return "INVALID_DEVICE_CONFIGURATION"
	default:
		return fmt.Sprintf("ERROR(0x%04x)", uint32(c))
	}
}
