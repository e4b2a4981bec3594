package frame

import "errors"

// MaxPayloadSize bounds one vendor-defined payload in either direction.
const MaxPayloadSize = 1024

var ErrPayloadOverflow = errors.New("frame: vendor payload exceeds capacity")

// VendorDefinedReqPayload is one inbound vendor-defined request as delivered by
// the secure session. Only Payload[:ReqLength] is meaningful.
type VendorDefinedReqPayload struct {
	ReqLength uint16
	Payload   [MaxPayloadSize]byte
}

// NewRequest copies b into a request buffer.
func NewRequest(b []byte) (*VendorDefinedReqPayload, error) {
	if len(b) > MaxPayloadSize {
		return nil, ErrPayloadOverflow
	}
	req := &VendorDefinedReqPayload{ReqLength: uint16(len(b))}
	copy(req.Payload[:], b)
	return req, nil
}

// Bytes returns the meaningful request bytes. A declared length beyond the
// buffer capacity is clamped.
func (p *VendorDefinedReqPayload) Bytes() []byte {
	n := int(p.ReqLength)
	if n > MaxPayloadSize {
		n = MaxPayloadSize
	}
	return p.Payload[:n]
}

// VendorDefinedRspPayload is one outbound vendor-defined response. Bytes past
// RspLength are padding and never interpreted.
type VendorDefinedRspPayload struct {
	RspLength uint16
	Payload   [MaxPayloadSize]byte
}

// Bytes returns the meaningful response bytes.
func (p *VendorDefinedRspPayload) Bytes() []byte {
	n := int(p.RspLength)
	if n > MaxPayloadSize {
		n = MaxPayloadSize
	}
	return p.Payload[:n]
}

// Reset zeroes the buffer so a discarded response leaves nothing behind.
func (p *VendorDefinedRspPayload) Reset() {
	p.RspLength = 0
	clear(p.Payload[:])
}
