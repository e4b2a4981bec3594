package protocol

import "encoding/binary"

// Message is one TDISP payload variant. The set is closed: only types in this
// package implement it, and newMessage enumerates all of them.
type Message interface {
	Type() MessageType
	size() int
	put(b []byte)
	parse(b []byte) error
}

const (
	capabilitiesRequestSize  = 4
	capabilitiesResponseSize = 28
	lockRequestSize          = 20
	lockResponseSize         = NonceSize
	reportRequestSize        = 4
	reportResponseFixedSize  = 4
	stateResponseSize        = 1
	startRequestSize         = NonceSize
	p2pRequestSize           = 1
	mmioRangeSize            = 16
	errorResponseFixedSize   = 8
)

func newMessage(t MessageType) (Message, bool) {
	switch t {
	case RequestGetVersion:
		return &GetVersionRequest{}, true
	case RequestGetCapabilities:
		return &GetCapabilitiesRequest{}, true
	case RequestLockInterface:
		return &LockInterfaceRequest{}, true
	case RequestGetDeviceInterfaceReport:
		return &GetDeviceInterfaceReportRequest{}, true
	case RequestGetDeviceInterfaceState:
		return &GetDeviceInterfaceStateRequest{}, true
	case RequestStartInterface:
		return &StartInterfaceRequest{}, true
	case RequestStopInterface:
		return &StopInterfaceRequest{}, true
	case RequestBindP2PStream:
		return &BindP2PStreamRequest{}, true
	case RequestUnbindP2PStream:
		return &UnbindP2PStreamRequest{}, true
	case RequestSetMMIOAttribute:
		return &SetMMIOAttributeRequest{}, true
	case ResponseVersion:
		return &VersionResponse{}, true
	case ResponseCapabilities:
		return &CapabilitiesResponse{}, true
	case ResponseLockInterface:
		return &LockInterfaceResponse{}, true
	case ResponseDeviceInterfaceReport:
		return &DeviceInterfaceReportResponse{}, true
	case ResponseDeviceInterfaceState:
		return &DeviceInterfaceStateResponse{}, true
	case ResponseStartInterface:
		return &StartInterfaceResponse{}, true
	case ResponseStopInterface:
		return &StopInterfaceResponse{}, true
	case ResponseBindP2PStream:
		return &BindP2PStreamResponse{}, true
	case ResponseUnbindP2PStream:
		return &UnbindP2PStreamResponse{}, true
	case ResponseSetMMIOAttribute:
		return &SetMMIOAttributeResponse{}, true
	case ResponseError:
		return &ErrorResponse{}, true
	default:
		return nil, false
	}
}

// empty is embedded by payload variants that carry nothing past the header.
type empty struct{}

func (empty) size() int { return 0 }
func (empty) put([]byte) {}
func (empty) parse(b []byte) error {
	return exact(b, 0)
}

func exact(b []byte, n int) error {
	if len(b) < n {
		return ErrTruncated
	}
	if len(b) > n {
		return ErrTrailingData
	}
	return nil
}

type GetVersionRequest struct{ empty }

func (*GetVersionRequest) Type() MessageType { return RequestGetVersion }

// VersionResponse lists the TDISP versions the responder supports.
type VersionResponse struct {
	Versions []uint8
}

func (*VersionResponse) Type() MessageType { return ResponseVersion }

func (m *VersionResponse) size() int { return 1 + len(m.Versions) }

func (m *VersionResponse) put(b []byte) {
	b[0] = uint8(len(m.Versions))
	copy(b[1:], m.Versions)
}

func (m *VersionResponse) parse(b []byte) error {
	if len(b) < 1 {
		return ErrTruncated
	}
	count := int(b[0])
	if err := exact(b[1:], count); err != nil {
		return err
	}
	m.Versions = append([]uint8(nil), b[1:]...)
	return nil
}

type GetCapabilitiesRequest struct {
	TSMCaps uint32
}

func (*GetCapabilitiesRequest) Type() MessageType { return RequestGetCapabilities }
func (*GetCapabilitiesRequest) size() int { return capabilitiesRequestSize }

func (m *GetCapabilitiesRequest) put(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], m.TSMCaps)
}

func (m *GetCapabilitiesRequest) parse(b []byte) error {
	if err := exact(b, capabilitiesRequestSize); err != nil {
		return err
	}
	m.TSMCaps = binary.LittleEndian.Uint32(b[0:4])
	return nil
}

// CapabilitiesResponse advertises what the device security manager supports.
// ReqMsgsSupported has bit (code - 0x80) set for every supported request code.
type CapabilitiesResponse struct {
	DSMCaps                     uint32
	ReqMsgsSupported            [16]byte
	LockInterfaceFlagsSupported LockFlags
	DevAddrWidth                uint8
	NumReqThis                  uint8
	NumReqAll                   uint8
}

func (*CapabilitiesResponse) Type() MessageType { return ResponseCapabilities }
func (*CapabilitiesResponse) size() int { return capabilitiesResponseSize }

func (m *CapabilitiesResponse) put(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], m.DSMCaps)
	copy(b[4:20], m.ReqMsgsSupported[:])
	binary.LittleEndian.PutUint16(b[20:22], uint16(m.LockInterfaceFlagsSupported))
	b[22], b[23], b[24] = 0, 0, 0
	b[25] = m.DevAddrWidth
	b[26] = m.NumReqThis
	b[27] = m.NumReqAll
}

func (m *CapabilitiesResponse) parse(b []byte) error {
	if err := exact(b, capabilitiesResponseSize); err != nil {
		return err
	}
	m.DSMCaps = binary.LittleEndian.Uint32(b[0:4])
	copy(m.ReqMsgsSupported[:], b[4:20])
	m.LockInterfaceFlagsSupported = LockFlags(binary.LittleEndian.Uint16(b[20:22]))
	m.DevAddrWidth = b[25]
	m.NumReqThis = b[26]
	m.NumReqAll = b[27]
	return nil
}

// Supports reports whether request code t is set in ReqMsgsSupported.
func (m *CapabilitiesResponse) Supports(t MessageType) bool {
	if !t.IsRequest() {
		return false
	}
	bit := int(t - 0x80)
	return m.ReqMsgsSupported[bit/8]&(1<<(bit%8)) != 0
}

// SetSupported marks request code t in ReqMsgsSupported.
func (m *CapabilitiesResponse) SetSupported(t MessageType) {
	if !t.IsRequest() {
		return
	}
	bit := int(t - 0x80)
	m.ReqMsgsSupported[bit/8] |= 1 << (bit % 8)
}

type LockInterfaceRequest struct {
	Flags               LockFlags
	DefaultStreamID     uint8
	MMIOReportingOffset uint64
	BindP2PAddressMask  uint64
}

func (*LockInterfaceRequest) Type() MessageType { return RequestLockInterface }
func (*LockInterfaceRequest) size() int { return lockRequestSize }

func (m *LockInterfaceRequest) put(b []byte) {
	binary.LittleEndian.PutUint16(b[0:2], uint16(m.Flags))
	b[2] = m.DefaultStreamID
	b[3] = 0
	binary.LittleEndian.PutUint64(b[4:12], m.MMIOReportingOffset)
	binary.LittleEndian.PutUint64(b[12:20], m.BindP2PAddressMask)
}

func (m *LockInterfaceRequest) parse(b []byte) error {
	if err := exact(b, lockRequestSize); err != nil {
		return err
	}
	m.Flags = LockFlags(binary.LittleEndian.Uint16(b[0:2]))
	m.DefaultStreamID = b[2]
	m.MMIOReportingOffset = binary.LittleEndian.Uint64(b[4:12])
	m.BindP2PAddressMask = binary.LittleEndian.Uint64(b[12:20])
	return nil
}

type LockInterfaceResponse struct {
	StartInterfaceNonce Nonce
}

func (*LockInterfaceResponse) Type() MessageType { return ResponseLockInterface }
func (*LockInterfaceResponse) size() int { return lockResponseSize }

func (m *LockInterfaceResponse) put(b []byte) {
	copy(b[:NonceSize], m.StartInterfaceNonce[:])
}

func (m *LockInterfaceResponse) parse(b []byte) error {
	if err := exact(b, lockResponseSize); err != nil {
		return err
	}
	copy(m.StartInterfaceNonce[:], b)
	return nil
}

type GetDeviceInterfaceReportRequest struct {
	Offset uint16
	Length uint16
}

func (*GetDeviceInterfaceReportRequest) Type() MessageType {
	return RequestGetDeviceInterfaceReport
}
func (*GetDeviceInterfaceReportRequest) size() int { return reportRequestSize }

func (m *GetDeviceInterfaceReportRequest) put(b []byte) {
	binary.LittleEndian.PutUint16(b[0:2], m.Offset)
	binary.LittleEndian.PutUint16(b[2:4], m.Length)
}

func (m *GetDeviceInterfaceReportRequest) parse(b []byte) error {
	if err := exact(b, reportRequestSize); err != nil {
		return err
	}
	m.Offset = binary.LittleEndian.Uint16(b[0:2])
	m.Length = binary.LittleEndian.Uint16(b[2:4])
	return nil
}

// DeviceInterfaceReportResponse carries one portion of the encoded interface
// report. PORTION_LENGTH is len(Report).
type DeviceInterfaceReportResponse struct {
	RemainderLength uint16
	Report          []byte
}

func (*DeviceInterfaceReportResponse) Type() MessageType { return ResponseDeviceInterfaceReport }

func (m *DeviceInterfaceReportResponse) size() int {
	return reportResponseFixedSize + len(m.Report)
}

func (m *DeviceInterfaceReportResponse) put(b []byte) {
	binary.LittleEndian.PutUint16(b[0:2], uint16(len(m.Report)))
	binary.LittleEndian.PutUint16(b[2:4], m.RemainderLength)
	copy(b[4:], m.Report)
}

func (m *DeviceInterfaceReportResponse) parse(b []byte) error {
	if len(b) < reportResponseFixedSize {
		return ErrTruncated
	}
	portion := int(binary.LittleEndian.Uint16(b[0:2]))
	if err := exact(b[4:], portion); err != nil {
		return err
	}
	m.RemainderLength = binary.LittleEndian.Uint16(b[2:4])
	m.Report = append([]byte(nil), b[4:]...)
	return nil
}

type GetDeviceInterfaceStateRequest struct{ empty }

func (*GetDeviceInterfaceStateRequest) Type() MessageType { return RequestGetDeviceInterfaceState }

type DeviceInterfaceStateResponse struct {
	State TDIState
}

func (*DeviceInterfaceStateResponse) Type() MessageType { return ResponseDeviceInterfaceState }
func (*DeviceInterfaceStateResponse) size() int { return stateResponseSize }

func (m *DeviceInterfaceStateResponse) put(b []byte) {
	b[0] = uint8(m.State)
}

func (m *DeviceInterfaceStateResponse) parse(b []byte) error {
	if err := exact(b, stateResponseSize); err != nil {
		return err
	}
	s := TDIState(b[0])
	if !s.Valid() {
		return ErrInvalidState
	}
	m.State = s
	return nil
}

type StartInterfaceRequest struct {
	StartInterfaceNonce Nonce
}

func (*StartInterfaceRequest) Type() MessageType { return RequestStartInterface }
func (*StartInterfaceRequest) size() int { return startRequestSize }

func (m *StartInterfaceRequest) put(b []byte) {
	copy(b[:NonceSize], m.StartInterfaceNonce[:])
}

func (m *StartInterfaceRequest) parse(b []byte) error {
	if err := exact(b, startRequestSize); err != nil {
		return err
	}
	copy(m.StartInterfaceNonce[:], b)
	return nil
}

type StartInterfaceResponse struct{ empty }

func (*StartInterfaceResponse) Type() MessageType { return ResponseStartInterface }

type StopInterfaceRequest struct{ empty }

func (*StopInterfaceRequest) Type() MessageType { return RequestStopInterface }

type StopInterfaceResponse struct{ empty }

func (*StopInterfaceResponse) Type() MessageType { return ResponseStopInterface }

type BindP2PStreamRequest struct {
	P2PStreamID uint8
}

func (*BindP2PStreamRequest) Type() MessageType { return RequestBindP2PStream }
func (*BindP2PStreamRequest) size() int { return p2pRequestSize }
func (m *BindP2PStreamRequest) put(b []byte) { b[0] = m.P2PStreamID }

func (m *BindP2PStreamRequest) parse(b []byte) error {
	if err := exact(b, p2pRequestSize); err != nil {
		return err
	}
	m.P2PStreamID = b[0]
	return nil
}

type BindP2PStreamResponse struct{ empty }

func (*BindP2PStreamResponse) Type() MessageType { return ResponseBindP2PStream }

type UnbindP2PStreamRequest struct {
	P2PStreamID uint8
}

func (*UnbindP2PStreamRequest) Type() MessageType { return RequestUnbindP2PStream }
func (*UnbindP2PStreamRequest) size() int { return p2pRequestSize }
func (m *UnbindP2PStreamRequest) put(b []byte) { b[0] = m.P2PStreamID }

func (m *UnbindP2PStreamRequest) parse(b []byte) error {
	if err := exact(b, p2pRequestSize); err != nil {
		return err
	}
	m.P2PStreamID = b[0]
	return nil
}

type UnbindP2PStreamResponse struct{ empty }

func (*UnbindP2PStreamResponse) Type() MessageType { return ResponseUnbindP2PStream }

type SetMMIOAttributeRequest struct {
	Range MMIORange
}

func (*SetMMIOAttributeRequest) Type() MessageType { return RequestSetMMIOAttribute }
func (*SetMMIOAttributeRequest) size() int { return mmioRangeSize }
func (m *SetMMIOAttributeRequest) put(b []byte) { m.Range.put(b) }

func (m *SetMMIOAttributeRequest) parse(b []byte) error {
	if err := exact(b, mmioRangeSize); err != nil {
		return err
	}
	m.Range = parseMMIORange(b)
	return nil
}

type SetMMIOAttributeResponse struct{ empty }

func (*SetMMIOAttributeResponse) Type() MessageType { return ResponseSetMMIOAttribute }

// ErrorResponse is the TDISP_ERROR payload.
type ErrorResponse struct {
	Code         ErrorCode
	Data         uint32
	ExtendedData []byte
}

func (*ErrorResponse) Type() MessageType { return ResponseError }

func (m *ErrorResponse) size() int { return errorResponseFixedSize + len(m.ExtendedData) }

func (m *ErrorResponse) put(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(m.Code))
	binary.LittleEndian.PutUint32(b[4:8], m.Data)
	copy(b[8:], m.ExtendedData)
}

func (m *ErrorResponse) parse(b []byte) error {
	if len(b) < errorResponseFixedSize {
		return ErrTruncated
	}
	m.Code = ErrorCode(binary.LittleEndian.Uint32(b[0:4]))
	m.Data = binary.LittleEndian.Uint32(b[4:8])
	if len(b) > errorResponseFixedSize {
		m.ExtendedData = append([]byte(nil), b[8:]...)
	}
	return nil
}
