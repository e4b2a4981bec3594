package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/danmuck/tdispd/internal/config"
	"github.com/danmuck/tdispd/internal/device"
	"github.com/danmuck/tdispd/internal/protocol"
	"github.com/danmuck/tdispd/internal/protocol/frame"
	"github.com/danmuck/tdispd/internal/responder"
	"github.com/danmuck/tdispd/internal/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrUnknownInterface = errors.New("service: unknown interface")

// HostOptions are shared by every responder the host creates.
type HostOptions struct {
	// Entropy feeds nonces and provisioned secrets. Defaults to crypto/rand.
	Entropy io.Reader
	Logger  *zerolog.Logger
}

// slot owns one TDI. mu admits one request at a time.
type slot struct {
	mu      sync.Mutex
	name    string
	secrets []config.SecretSeedConfig
	store   *device.MemoryStore
	rsp     *responder.Responder
}

// Host routes vendor payloads to the responder that owns the addressed
// function. A TDI that is already handling a request answers BUSY.
type Host struct {
	device  string
	slots   map[uint32]*slot
	order   []uint32
	entropy io.Reader
	log     zerolog.Logger
}

var _ transport.Handler = (*Host)(nil)

func NewHost(cfg config.DeviceConfig, opts HostOptions) (*Host, error) {
	if err := config.ValidateDeviceConfig(cfg); err != nil {
		return nil, err
	}
	parent := log.Logger
	if opts.Logger != nil {
		parent = *opts.Logger
	}
	entropy := opts.Entropy
	if entropy == nil {
		entropy = rand.Reader
	}
	h := &Host{
		device:  cfg.Device,
		slots:   make(map[uint32]*slot, len(cfg.Interfaces)),
		entropy: entropy,
		log:     parent.With().Str("device", cfg.Device).Logger(),
	}
	for _, ifc := range cfg.Interfaces {
		profile, err := ifc.Profile()
		if err != nil {
			return nil, fmt.Errorf("service: interface %q: %w", ifc.Name, err)
		}
		store := device.NewMemoryStore(profile)
		rspLog := h.log.With().Str("interface", ifc.Name).Logger()
		h.slots[ifc.FunctionID] = &slot{
			name:    ifc.Name,
			secrets: ifc.Secrets,
			store:   store,
			rsp: responder.New(responder.Config{
				Interface: ifc.InterfaceID(),
				Entropy:   entropy,
				Logger:    &rspLog,
			}, store, profile),
		}
		h.order = append(h.order, ifc.FunctionID)
	}
	sort.Slice(h.order, func(i, j int) bool { return h.order[i] < h.order[j] })
	return h, nil
}

func (h *Host) Device() string {
	return h.device
}

// Handle answers one request. It never blocks on another request for the
// same TDI.
func (h *Host) Handle(ctx context.Context, req *frame.VendorDefinedReqPayload) *frame.VendorDefinedRspPayload {
	hdr, err := protocol.DecodeHeader(req.Bytes())
	if err != nil {
		rsp := &frame.VendorDefinedRspPayload{}
		responder.WriteError(rsp, protocol.Version10, protocol.InterfaceID{}, protocol.ErrorInvalidRequest, 0)
		h.log.Warn().Err(err).Msg("undecodable request header")
		return rsp
	}
	s, ok := h.slots[hdr.Interface.FunctionID]
	if !ok {
		rsp := &frame.VendorDefinedRspPayload{}
		responder.WriteError(rsp, protocol.Version10, hdr.Interface, protocol.ErrorInvalidInterface, 0)
		h.log.Warn().Str("tdi", hdr.Interface.String()).Str("request", hdr.Type.String()).Msg("request for unhosted interface")
		return rsp
	}
	if !s.mu.TryLock() {
		rsp := &frame.VendorDefinedRspPayload{}
		responder.WriteError(rsp, protocol.Version10, s.rsp.Interface(), protocol.ErrorBusy, 0)
		return rsp
	}
	defer s.mu.Unlock()

	before := s.rsp.State()
	rsp := s.rsp.Dispatch(ctx, req)
	if before == protocol.StateConfigUnlocked && s.rsp.State() == protocol.StateConfigLocked {
		h.provision(ctx, s)
	}
	return rsp
}

// provision binds the interface's confidential secrets once its
// configuration is locked. A TDI whose secrets cannot be bound is faulted.
func (h *Host) provision(ctx context.Context, s *slot) {
	for _, seed := range s.secrets {
		value := make([]byte, seed.Size)
		err := func() error {
			defer clear(value)
			if _, err := io.ReadFull(h.entropy, value); err != nil {
				return err
			}
			return s.store.BindSecret(seed.Name, value)
		}()
		if err == nil {
			continue
		}
		h.log.Error().Err(err).Str("interface", s.name).Str("secret", seed.Name).Msg("secret provisioning failed")
		if ferr := s.rsp.Fault(ctx, "secret provisioning failed"); ferr != nil {
			h.log.Error().Err(ferr).Str("interface", s.name).Msg("fault after provisioning failure")
		}
		return
	}
}

// InterfaceView is the admin view of one TDI. Secret names are listed,
// values never are.
type InterfaceView struct {
	Name string `json:"name"`
	responder.Snapshot
	Secrets []string `json:"secrets_resident"`
}

func (s *slot) view() InterfaceView {
	status := s.store.Status()
	return InterfaceView{Name: s.name, Snapshot: s.rsp.Snapshot(), Secrets: status.Secrets}
}

func (h *Host) lookup(functionID uint32) (*slot, error) {
	s, ok := h.slots[functionID]
	if !ok {
		return nil, fmt.Errorf("%w: 0x%08x", ErrUnknownInterface, functionID)
	}
	return s, nil
}

// Interfaces returns every hosted TDI ordered by function id. It waits for
// in-flight requests.
func (h *Host) Interfaces() []InterfaceView {
	out := make([]InterfaceView, 0, len(h.order))
	for _, id := range h.order {
		s := h.slots[id]
		s.mu.Lock()
		out = append(out, s.view())
		s.mu.Unlock()
	}
	return out
}

func (h *Host) Interface(functionID uint32) (InterfaceView, error) {
	s, err := h.lookup(functionID)
	if err != nil {
		return InterfaceView{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view(), nil
}

func (h *Host) Fault(ctx context.Context, functionID uint32, reason string) (InterfaceView, error) {
	s, err := h.lookup(functionID)
	if err != nil {
		return InterfaceView{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.rsp.Fault(ctx, reason); err != nil {
		return s.view(), err
	}
	return s.view(), nil
}

func (h *Host) Reset(ctx context.Context, functionID uint32) (InterfaceView, error) {
	s, err := h.lookup(functionID)
	if err != nil {
		return InterfaceView{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.rsp.Reset(ctx); err != nil {
		return s.view(), err
	}
	return s.view(), nil
}
