// Package responder is the TDISP responder core for one TDI.
//
// A Responder owns its state machine, configuration store, and lock context
// for the lifetime of one TDI association. Dispatch turns one vendor-defined
// request into one vendor-defined response and never fails: every problem is
// reported as an encoded TDISP_ERROR.
//
// A Responder handles one request at a time. Callers that share one across
// goroutines must serialize Dispatch, Fault, and Reset.
package responder

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/danmuck/tdispd/internal/device"
	"github.com/danmuck/tdispd/internal/observability"
	"github.com/danmuck/tdispd/internal/protocol"
	"github.com/danmuck/tdispd/internal/tdi"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config selects the interface a responder governs.
type Config struct {
	Interface protocol.InterfaceID
	// Entropy sources START_INTERFACE_NONCE values. Defaults to crypto/rand.
	Entropy io.Reader
	// Logger is the parent logger. Defaults to the global logger.
	Logger *zerolog.Logger
}

// lockContext is what LOCK_INTERFACE established. It lives until the
// interface returns to CONFIG_UNLOCKED.
type lockContext struct {
	params          protocol.LockInterfaceRequest
	nonce           protocol.Nonce
	nonceValid      bool
	report          []byte
	reportDelivered bool
}

func (lc *lockContext) consumeNonce() {
	clear(lc.nonce[:])
	lc.nonceValid = false
}

type Responder struct {
	id          protocol.InterfaceID
	association uuid.UUID
	version     uint8
	store       device.ConfigStore
	profile     device.Profile
	machine     *tdi.Machine
	entropy     io.Reader
	log         zerolog.Logger

	lock        *lockContext
	faultReason string
}

// New returns a responder for cfg.Interface in CONFIG_UNLOCKED.
func New(cfg Config, store device.ConfigStore, profile device.Profile) *Responder {
	parent := log.Logger
	if cfg.Logger != nil {
		parent = *cfg.Logger
	}
	entropy := cfg.Entropy
	if entropy == nil {
		entropy = rand.Reader
	}
	r := &Responder{
		id:          cfg.Interface,
		association: uuid.New(),
		version:     protocol.Version10,
		store:       store,
		profile:     profile,
		entropy:     entropy,
	}
	r.log = parent.With().
		Str("tdi", r.id.String()).
		Str("association", r.association.String()).
		Logger()
	r.machine = tdi.NewMachine(r.onTransition)
	observability.SetTDIState(r.id.String(), uint8(protocol.StateConfigUnlocked))
	return r
}

func (r *Responder) onTransition(from, to protocol.TDIState, ev tdi.Event) {
	r.log.Info().
		Str("event", string(ev)).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("tdi transition")
	observability.RecordTransition(r.id.String(), string(ev), from.String(), to.String(), uint8(to))
}

func (r *Responder) Interface() protocol.InterfaceID {
	return r.id
}

func (r *Responder) Association() uuid.UUID {
	return r.association
}

func (r *Responder) State() protocol.TDIState {
	return r.machine.Current()
}

// Snapshot is a loggable view of the responder. It carries no secrets.
type Snapshot struct {
	Interface       string `json:"interface"`
	FunctionID      uint32 `json:"function_id"`
	Association     string `json:"association"`
	State           string `json:"state"`
	StateCode       uint8  `json:"state_code"`
	Locked          bool   `json:"locked"`
	LockFlags       uint16 `json:"lock_flags,omitempty"`
	ReportDelivered bool   `json:"report_delivered"`
	FaultReason     string `json:"fault_reason,omitempty"`
}

func (r *Responder) Snapshot() Snapshot {
	state := r.machine.Current()
	s := Snapshot{
		Interface:   r.id.String(),
		FunctionID:  r.id.FunctionID,
		Association: r.association.String(),
		State:       state.String(),
		StateCode:   uint8(state),
		FaultReason: r.faultReason,
	}
	if r.lock != nil {
		s.Locked = true
		s.LockFlags = uint16(r.lock.params.Flags)
		s.ReportDelivered = r.lock.reportDelivered
	}
	return s
}

// Fault moves the interface to ERROR. Only Reset leaves ERROR.
func (r *Responder) Fault(ctx context.Context, reason string) error {
	if err := r.machine.Fire(context.WithoutCancel(ctx), tdi.EventFault); err != nil {
		return err
	}
	r.faultReason = reason
	if r.lock != nil {
		r.lock.consumeNonce()
	}
	r.log.Warn().Str("reason", reason).Msg("tdi faulted")
	return nil
}

// Reset recovers ERROR to CONFIG_UNLOCKED. It scrubs confidential
// configuration before unlocking, exactly as STOP_INTERFACE does, and leaves
// the interface in ERROR if either step fails.
func (r *Responder) Reset(ctx context.Context) error {
	if !r.machine.Can(tdi.EventReset) {
		return fmt.Errorf("%w: reset from %s", tdi.ErrIllegalTransition, r.machine.Current())
	}
	if err := r.scrubAndUnlock(); err != nil {
		r.log.Error().Err(err).Msg("tdi reset failed")
		return err
	}
	if err := r.machine.Fire(context.WithoutCancel(ctx), tdi.EventReset); err != nil {
		return err
	}
	r.lock = nil
	r.faultReason = ""
	return nil
}

// scrubAndUnlock erases confidential configuration and then unlocks. Unlock
// is never attempted if erase fails.
func (r *Responder) scrubAndUnlock() error {
	if err := r.store.EraseConfidentialConfig(); err != nil {
		return err
	}
	return r.store.Unlock()
}
