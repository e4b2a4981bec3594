package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/danmuck/tdispd/internal/protocol/frame"
)

// MaxReportPortion is the largest report slice one DEVICE_INTERFACE_REPORT
// response can carry inside a vendor payload.
const MaxReportPortion = frame.MaxPayloadSize - HeaderSize - reportResponseFixedSize

// maxVersionEntries bounds VERSION_NUM_COUNT so a VersionResponse always fits.
const maxVersionEntries = 255

// Every fixed-layout response, and the largest variable ones, must fit in one
// vendor payload. A negative difference here is a compile error.
const (
	_ = uint(frame.MaxPayloadSize - HeaderSize - capabilitiesResponseSize)
	_ = uint(frame.MaxPayloadSize - HeaderSize - lockResponseSize)
	_ = uint(frame.MaxPayloadSize - HeaderSize - errorResponseFixedSize)
	_ = uint(frame.MaxPayloadSize - HeaderSize - 1 - maxVersionEntries)
	_ = uint(MaxReportPortion)
)

// EncodedLen returns the number of bytes Encode writes for m.
func EncodedLen(m Message) int {
	return HeaderSize + m.size()
}

// Encode writes h followed by m into dst and returns the bytes written. h.Type
// must name m's message type. Messages that do not fit one vendor payload, or
// whose count fields would wrap, are rejected with ErrInvalidLength.
func Encode(dst []byte, h Header, m Message) (int, error) {
	if m == nil {
		return 0, ErrNilMessage
	}
	if h.Type != m.Type() {
		return 0, ErrMessageTypeMismatch
	}
	n := EncodedLen(m)
	if n > frame.MaxPayloadSize {
		return 0, fmt.Errorf("%w: %s needs %d bytes", ErrInvalidLength, m.Type(), n)
	}
	if v, ok := m.(*VersionResponse); ok && len(v.Versions) > maxVersionEntries {
		return 0, fmt.Errorf("%w: %d version entries", ErrInvalidLength, len(v.Versions))
	}
	if n > len(dst) {
		return 0, ErrBufferTooSmall
	}
	putHeader(dst[:HeaderSize], h)
	m.put(dst[HeaderSize:n])
	return n, nil
}

// Marshal returns the encoded form of h and m.
func Marshal(h Header, m Message) ([]byte, error) {
	if m == nil {
		return nil, ErrNilMessage
	}
	buf := make([]byte, EncodedLen(m))
	if _, err := Encode(buf, h, m); err != nil {
		return nil, err
	}
	return buf, nil
}

// DecodeHeader reads the fixed header at the start of b. Any message type is
// accepted here; payload decoding rejects unknown ones.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrTruncated
	}
	return Header{
		Version: b[0],
		Type:    MessageType(b[1]),
		Interface: InterfaceID{
			FunctionID: binary.LittleEndian.Uint32(b[4:8]),
		},
	}, nil
}

// DecodePayload parses body as the payload of message type t. body must hold
// exactly one payload.
func DecodePayload(t MessageType, body []byte) (Message, error) {
	m, ok := newMessage(t)
	if !ok {
		return nil, ErrUnknownMessageType
	}
	if err := m.parse(body); err != nil {
		return nil, err
	}
	return m, nil
}

// Decode parses one complete message from b. On error neither value is usable.
func Decode(b []byte) (Header, Message, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return Header{}, nil, err
	}
	m, err := DecodePayload(h.Type, b[HeaderSize:])
	if err != nil {
		return Header{}, nil, err
	}
	return h, m, nil
}

func putHeader(b []byte, h Header) {
	b[0] = h.Version
	b[1] = uint8(h.Type)
	b[2], b[3] = 0, 0
	binary.LittleEndian.PutUint32(b[4:8], h.Interface.FunctionID)
	clear(b[8:16])
}
