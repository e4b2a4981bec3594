package frame

import (
	"bytes"
	"errors"
	"testing"
)

func TestReadWriteFrameRoundTrip(t *testing.T) {
	payload := []byte{0x10, 0x87, 0, 0, 0x01, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	in := Frame{
		Header:  Header{Sequence: 42},
		Payload: payload,
	}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, in, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	out, err := ReadFrame(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if out.Header.Magic != Magic || out.Header.Sequence != 42 || out.Header.PayloadLen != uint32(len(payload)) {
		t.Fatalf("header mismatch: got=%+v", out.Header)
	}
	if !bytes.Equal(out.Payload, payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestReadFrameMalformedHeaderIsDeterministic(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{1, 2, 3}), DefaultLimits())
	if !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestReadFrameInvalidMagic(t *testing.T) {
	buf := EncodeHeader(Header{Magic: 1, Version: Version})
	_, err := ReadFrame(bytes.NewReader(buf), DefaultLimits())
	if !errors.Is(err, ErrInvalidMagic) {
		t.Fatalf("expected ErrInvalidMagic, got %v", err)
	}
}

func TestReadFramePayloadLimit(t *testing.T) {
	buf := EncodeHeader(Header{Magic: Magic, Version: Version, PayloadLen: MaxPayloadSize + 1})
	_, err := ReadFrame(bytes.NewReader(buf), DefaultLimits())
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, Frame{Payload: make([]byte, MaxPayloadSize+1)}, DefaultLimits())
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected nothing written, got %d bytes", buf.Len())
	}
}

func TestVendorPayloadBuffers(t *testing.T) {
	if _, err := NewRequest(make([]byte, MaxPayloadSize+1)); !errors.Is(err, ErrPayloadOverflow) {
		t.Fatalf("expected ErrPayloadOverflow, got %v", err)
	}
	req, err := NewRequest([]byte{1, 2, 3})
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if !bytes.Equal(req.Bytes(), []byte{1, 2, 3}) {
		t.Fatalf("unexpected request bytes: %v", req.Bytes())
	}

	req.ReqLength = MaxPayloadSize + 100
	if len(req.Bytes()) != MaxPayloadSize {
		t.Fatalf("expected clamped length, got %d", len(req.Bytes()))
	}

	var rsp VendorDefinedRspPayload
	rsp.Payload[0] = 0xaa
	rsp.RspLength = 1
	rsp.Reset()
	if rsp.RspLength != 0 || rsp.Payload[0] != 0 {
		t.Fatalf("reset left data behind: len=%d first=%#x", rsp.RspLength, rsp.Payload[0])
	}
}
