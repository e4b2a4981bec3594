package protocol

import "fmt"

// Version10 is the only TDISP version this responder speaks.
const Version10 uint8 = 0x10

// HeaderSize is the encoded size of Header.
const HeaderSize = 16

// MessageType is the TDISP request/response code.
type MessageType uint8

const (
	RequestGetVersion               MessageType = 0x81
	RequestGetCapabilities          MessageType = 0x82
	RequestLockInterface            MessageType = 0x83
	RequestGetDeviceInterfaceReport MessageType = 0x84
	RequestGetDeviceInterfaceState  MessageType = 0x85
	RequestStartInterface           MessageType = 0x86
	RequestStopInterface            MessageType = 0x87
	RequestBindP2PStream            MessageType = 0x88
	RequestUnbindP2PStream          MessageType = 0x89
	RequestSetMMIOAttribute         MessageType = 0x8A

	ResponseVersion               MessageType = 0x01
	ResponseCapabilities          MessageType = 0x02
	ResponseLockInterface         MessageType = 0x03
	ResponseDeviceInterfaceReport MessageType = 0x04
	ResponseDeviceInterfaceState  MessageType = 0x05
	ResponseStartInterface        MessageType = 0x06
	ResponseStopInterface         MessageType = 0x07
	ResponseBindP2PStream         MessageType = 0x08
	ResponseUnbindP2PStream       MessageType = 0x09
	ResponseSetMMIOAttribute      MessageType = 0x0A
	ResponseError                 MessageType = 0x7F
)

// RequestTypes lists every request code in wire order.
func RequestTypes() []MessageType {
	return []MessageType{
		RequestGetVersion,
		RequestGetCapabilities,
		RequestLockInterface,
		RequestGetDeviceInterfaceReport,
		RequestGetDeviceInterfaceState,
		RequestStartInterface,
		RequestStopInterface,
		RequestBindP2PStream,
		RequestUnbindP2PStream,
		RequestSetMMIOAttribute,
	}
}

// IsRequest reports whether t is in the request code space.
func (t MessageType) IsRequest() bool {
	return t&0x80 != 0
}

// ResponseType returns the response code paired with request t.
func (t MessageType) ResponseType() MessageType {
	return t & 0x7F
}

func (t MessageType) String() string {
	switch t {
	case RequestGetVersion:
		return "GET_TDISP_VERSION"
	case RequestGetCapabilities:
		return "GET_TDISP_CAPABILITIES"
	case RequestLockInterface:
		return "LOCK_INTERFACE_REQUEST"
	case RequestGetDeviceInterfaceReport:
		return "GET_DEVICE_INTERFACE_REPORT"
	case RequestGetDeviceInterfaceState:
		return "GET_DEVICE_INTERFACE_STATE"
	case RequestStartInterface:
		return "START_INTERFACE_REQUEST"
	case RequestStopInterface:
		return "STOP_INTERFACE_REQUEST"
	case RequestBindP2PStream:
		return "BIND_P2P_STREAM_REQUEST"
	case RequestUnbindP2PStream:
		return "UNBIND_P2P_STREAM_REQUEST"
	case RequestSetMMIOAttribute:
		return "SET_MMIO_ATTRIBUTE_REQUEST"
	case ResponseVersion:
		return "TDISP_VERSION"
	case ResponseCapabilities:
		return "TDISP_CAPABILITIES"
	case ResponseLockInterface:
		return "LOCK_INTERFACE_RESPONSE"
	case ResponseDeviceInterfaceReport:
		return "DEVICE_INTERFACE_REPORT"
	case ResponseDeviceInterfaceState:
		return "DEVICE_INTERFACE_STATE"
	case ResponseStartInterface:
		return "START_INTERFACE_RESPONSE"
	case ResponseStopInterface:
		return "STOP_INTERFACE_RESPONSE"
	case ResponseBindP2PStream:
		return "BIND_P2P_STREAM_RESPONSE"
	case ResponseUnbindP2PStream:
		return "UNBIND_P2P_STREAM_RESPONSE"
	case ResponseSetMMIOAttribute:
		return "SET_MMIO_ATTRIBUTE_RESPONSE"
	case ResponseError:
		return "TDISP_ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(t))
	}
}

// InterfaceID identifies one TDI. Only FUNCTION_ID is significant; the
// trailing reserved bytes are written as zero and ignored on decode.
type InterfaceID struct {
	FunctionID uint32
}

func (id InterfaceID) String() string {
	return fmt.Sprintf("0x%08x", id.FunctionID)
}

// Header prefixes every TDISP request and response.
type Header struct {
	Version   uint8
	Type      MessageType
	Interface InterfaceID
}

// TDIState is the wire encoding of the interface lifecycle state.
type TDIState uint8

const (
	StateConfigUnlocked TDIState = 0
	StateConfigLocked   TDIState = 1
	StateRun            TDIState = 2
	StateError          TDIState = 3
)

func (s TDIState) String() string {
	switch s {
	case StateConfigUnlocked:
		return "CONFIG_UNLOCKED"
	case StateConfigLocked:
		return "CONFIG_LOCKED"
	case StateRun:
		return "RUN"
	case StateError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

// Valid reports whether s is a defined lifecycle state.
func (s TDIState) Valid() bool {
	return s <= StateError
}

// LockFlags are the LOCK_INTERFACE_REQUEST FLAGS bits.
type LockFlags uint16

const (
	LockFlagNoFWUpdate          LockFlags = 1 << 0
	LockFlagSystemCacheLineSize LockFlags = 1 << 1
	LockFlagLockMSIX            LockFlags = 1 << 2
	LockFlagBindP2P             LockFlags = 1 << 3
	LockFlagAllRequestRedirect  LockFlags = 1 << 4
)

// Subset reports whether every bit of f is also set in supported.
func (f LockFlags) Subset(supported LockFlags) bool {
	return f&^supported == 0
}

// NonceSize is the length of START_INTERFACE_NONCE.
const NonceSize = 32

// Nonce is the START_INTERFACE_NONCE handed out on lock.
type Nonce [NonceSize]byte
