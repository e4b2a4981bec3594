package service

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/danmuck/tdispd/internal/config"
	"github.com/danmuck/tdispd/internal/protocol"
	"github.com/danmuck/tdispd/internal/protocol/frame"
	"github.com/danmuck/tdispd/internal/tdi"
	"github.com/danmuck/tdispd/internal/testutil/testlog"
	"github.com/rs/zerolog"
)

const (
	vf0 uint32 = 0x00010000
	vf1 uint32 = 0x00010001
)

type patternReader struct{ next byte }

func (p *patternReader) Read(b []byte) (int, error) {
	for i := range b {
		p.next++
		if p.next == 0 {
			p.next = 1
		}
		b[i] = p.next
	}
	return len(b), nil
}

var errDrained = errors.New("entropy drained")

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errDrained }

func testDevice() config.DeviceConfig {
	return config.DeviceConfig{
		Device: "test-nic",
		Interfaces: []config.InterfaceConfig{
			{
				Name:         "vf0",
				FunctionID:   vf0,
				LockFlags:    []string{"no_fw_update"},
				DevAddrWidth: 52,
				NumReqThis:   1,
				NumReqAll:    2,
				MMIORanges:   []config.MMIORangeConfig{{FirstPage: 0x80000, Pages: 4}},
				Secrets:      []config.SecretSeedConfig{{Name: "ide-key", Size: 32}},
			},
			{
				Name:         "vf1",
				FunctionID:   vf1,
				LockFlags:    []string{"no_fw_update"},
				DevAddrWidth: 52,
				MMIORanges:   []config.MMIORangeConfig{{FirstPage: 0x90000, Pages: 1}},
			},
		},
	}
}

func newTestHost(t *testing.T, entropy io.Reader) *Host {
	t.Helper()
	testlog.Start(t)
	logger := zerolog.Nop()
	if entropy == nil {
		entropy = &patternReader{}
	}
	h, err := NewHost(testDevice(), HostOptions{Entropy: entropy, Logger: &logger})
	if err != nil {
		t.Fatalf("new host: %v", err)
	}
	return h
}

func handle(t *testing.T, h *Host, functionID uint32, m protocol.Message) (protocol.Header, protocol.Message) {
	t.Helper()
	b, err := protocol.Marshal(protocol.Header{
		Version:   protocol.Version10,
		Type:      m.Type(),
		Interface: protocol.InterfaceID{FunctionID: functionID},
	}, m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return handleRaw(t, h, b)
}

func handleRaw(t *testing.T, h *Host, b []byte) (protocol.Header, protocol.Message) {
	t.Helper()
	req, err := frame.NewRequest(b)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	hdr, m, err := protocol.Decode(h.Handle(context.Background(), req).Bytes())
	if err != nil {
		t.Fatalf("response does not decode: %v", err)
	}
	return hdr, m
}

func expectCode(t *testing.T, m protocol.Message, code protocol.ErrorCode) {
	t.Helper()
	er, ok := m.(*protocol.ErrorResponse)
	if !ok {
		t.Fatalf("expected %s, got %s", code, m.Type())
	}
	if er.Code != code {
		t.Fatalf("expected %s, got %s", code, er.Code)
	}
}

func lock(t *testing.T, h *Host, functionID uint32) {
	t.Helper()
	_, m := handle(t, h, functionID, &protocol.LockInterfaceRequest{Flags: protocol.LockFlagNoFWUpdate})
	if _, ok := m.(*protocol.LockInterfaceResponse); !ok {
		t.Fatalf("expected lock response, got %s", m.Type())
	}
}

func TestHostRoutesByFunctionID(t *testing.T) {
	h := newTestHost(t, nil)
	lock(t, h, vf0)

	_, m := handle(t, h, vf0, &protocol.GetDeviceInterfaceStateRequest{})
	if got := m.(*protocol.DeviceInterfaceStateResponse).State; got != protocol.StateConfigLocked {
		t.Fatalf("expected vf0 locked, got %s", got)
	}
	hdr, m := handle(t, h, vf1, &protocol.GetDeviceInterfaceStateRequest{})
	if got := m.(*protocol.DeviceInterfaceStateResponse).State; got != protocol.StateConfigUnlocked {
		t.Fatalf("expected vf1 untouched, got %s", got)
	}
	if hdr.Interface.FunctionID != vf1 {
		t.Fatalf("expected response from vf1, got %s", hdr.Interface)
	}
}

func TestHostUnknownFunctionIsInvalidInterface(t *testing.T) {
	h := newTestHost(t, nil)
	hdr, m := handle(t, h, 0x00020000, &protocol.GetVersionRequest{})
	expectCode(t, m, protocol.ErrorInvalidInterface)
	if hdr.Interface.FunctionID != 0x00020000 {
		t.Fatalf("expected requested id echoed, got %s", hdr.Interface)
	}
	for _, view := range h.Interfaces() {
		if view.StateCode != uint8(protocol.StateConfigUnlocked) {
			t.Fatalf("%s changed state", view.Name)
		}
	}
}

func TestHostUndecodableHeader(t *testing.T) {
	h := newTestHost(t, nil)
	hdr, m := handleRaw(t, h, []byte{0x10, 0x81, 0x00})
	expectCode(t, m, protocol.ErrorInvalidRequest)
	if hdr.Interface != (protocol.InterfaceID{}) {
		t.Fatalf("expected zero interface id, got %s", hdr.Interface)
	}
}

func TestHostBusyWhileRequestInFlight(t *testing.T) {
	h := newTestHost(t, nil)
	s := h.slots[vf0]
	s.mu.Lock()
	hdr, m := handle(t, h, vf0, &protocol.GetDeviceInterfaceStateRequest{})
	s.mu.Unlock()
	expectCode(t, m, protocol.ErrorBusy)
	if hdr.Interface.FunctionID != vf0 {
		t.Fatalf("expected busy from vf0, got %s", hdr.Interface)
	}

	// Other TDIs are unaffected.
	s.mu.Lock()
	_, m = handle(t, h, vf1, &protocol.GetDeviceInterfaceStateRequest{})
	s.mu.Unlock()
	if _, ok := m.(*protocol.DeviceInterfaceStateResponse); !ok {
		t.Fatalf("expected vf1 to answer, got %s", m.Type())
	}
}

func TestHostProvisionsSecretsOnLockAndScrubsOnStop(t *testing.T) {
	h := newTestHost(t, nil)
	lock(t, h, vf0)
	view, err := h.Interface(vf0)
	if err != nil {
		t.Fatalf("interface: %v", err)
	}
	if len(view.Secrets) != 1 || view.Secrets[0] != "ide-key" {
		t.Fatalf("expected ide-key resident, got %v", view.Secrets)
	}

	_, m := handle(t, h, vf0, &protocol.StopInterfaceRequest{})
	if _, ok := m.(*protocol.StopInterfaceResponse); !ok {
		t.Fatalf("expected stop response, got %s", m.Type())
	}
	status := h.slots[vf0].store.Status()
	if status.Locked || !status.ConfidentialErased {
		t.Fatalf("expected scrubbed and unlocked store, got %+v", status)
	}
}

func TestHostFaultsWhenSecretsCannotBeProvisioned(t *testing.T) {
	// Enough entropy for the nonce, none for the secret.
	entropy := io.MultiReader(io.LimitReader(&patternReader{}, protocol.NonceSize), failingReader{})
	h := newTestHost(t, entropy)
	lock(t, h, vf0)

	view, err := h.Interface(vf0)
	if err != nil {
		t.Fatalf("interface: %v", err)
	}
	if view.StateCode != uint8(protocol.StateError) {
		t.Fatalf("expected ERROR, got %s", view.State)
	}
	if view.FaultReason == "" {
		t.Fatalf("expected a fault reason")
	}
}

func TestHostFaultAndReset(t *testing.T) {
	h := newTestHost(t, nil)
	ctx := context.Background()
	lock(t, h, vf0)

	if _, err := h.Reset(ctx, vf0); !errors.Is(err, tdi.ErrIllegalTransition) {
		t.Fatalf("expected reset outside ERROR to be refused, got %v", err)
	}
	view, err := h.Fault(ctx, vf0, "link down")
	if err != nil {
		t.Fatalf("fault: %v", err)
	}
	if view.StateCode != uint8(protocol.StateError) || view.FaultReason != "link down" {
		t.Fatalf("unexpected view after fault: %+v", view)
	}
	if _, err := h.Fault(ctx, vf0, "again"); !errors.Is(err, tdi.ErrIllegalTransition) {
		t.Fatalf("expected fault from ERROR to be refused, got %v", err)
	}

	view, err = h.Reset(ctx, vf0)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if view.StateCode != uint8(protocol.StateConfigUnlocked) || view.Locked || len(view.Secrets) != 0 {
		t.Fatalf("unexpected view after reset: %+v", view)
	}
	if _, err := h.Fault(ctx, 0xdead, "x"); !errors.Is(err, ErrUnknownInterface) {
		t.Fatalf("expected ErrUnknownInterface, got %v", err)
	}
}

func TestNewHostRejectsInvalidDevice(t *testing.T) {
	testlog.Start(t)
	cfg := testDevice()
	cfg.Interfaces[1].FunctionID = vf0
	if _, err := NewHost(cfg, HostOptions{}); err == nil {
		t.Fatalf("expected duplicate function id to be rejected")
	}
}
