// Package device models the device-held configuration governed by one TDI.
//
// A store is either unlocked (configuration writable by the host) or locked.
// Confidential secrets may only be bound while locked, and the store refuses
// to unlock until every secret has been erased.
package device

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrAlreadyLocked          = errors.New("device: configuration already locked")
	ErrNotLocked              = errors.New("device: configuration not locked")
	ErrSecretsResident        = errors.New("device: confidential configuration still resident")
	ErrInvalidProfile         = errors.New("device: invalid profile")
	ErrInvalidReportingOffset = errors.New("device: invalid reporting offset")
	ErrInjected               = errors.New("device: injected failure")
)

// Op names one ConfigStore operation.
type Op string

const (
	OpLock     Op = "lock"
	OpUnlock   Op = "unlock"
	OpErase    Op = "erase_confidential_config"
	OpValidate Op = "validate"
)

// ConfigError is returned by every failing ConfigStore operation.
type ConfigError struct {
	Op  Op
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("device: %s: %v", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ConfigStore is the synchronous configuration backend a responder drives.
type ConfigStore interface {
	Lock() error
	Unlock() error
	EraseConfidentialConfig() error
	Validate() error
}

// Status is a point-in-time view of a store. It never carries secret bytes.
type Status struct {
	Locked             bool     `json:"locked"`
	ConfidentialErased bool     `json:"confidential_erased"`
	Secrets            []string `json:"secrets,omitempty"`
}

// MemoryStore is an in-process ConfigStore. It is safe for concurrent use.
type MemoryStore struct {
	mu       sync.Mutex
	profile  Profile
	locked   bool
	secrets  map[string][]byte
	failures map[Op]error
}

func NewMemoryStore(profile Profile) *MemoryStore {
	return &MemoryStore{
		profile:  profile,
		secrets:  make(map[string][]byte),
		failures: make(map[Op]error),
	}
}

// InjectFailure makes op fail with err until cleared with a nil err.
func (s *MemoryStore) InjectFailure(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

func (s *MemoryStore) injected(op Op) error {
	if err, ok := s.failures[op]; ok {
		return &ConfigError{Op: op, Err: err}
	}
	return nil
}

// Profile returns the device profile backing the store.
func (s *MemoryStore) Profile() Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

func (s *MemoryStore) Validate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(OpValidate); err != nil {
		return err
	}
	if err := s.profile.Validate(); err != nil {
		return &ConfigError{Op: OpValidate, Err: err}
	}
	return nil
}

func (s *MemoryStore) Lock() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(OpLock); err != nil {
		return err
	}
	if s.locked {
		return &ConfigError{Op: OpLock, Err: ErrAlreadyLocked}
	}
	s.locked = true
	return nil
}

// Unlock is idempotent on an unlocked store and refuses while any secret is
// resident.
func (s *MemoryStore) Unlock() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(OpUnlock); err != nil {
		return err
	}
	if len(s.secrets) > 0 {
		return &ConfigError{Op: OpUnlock, Err: ErrSecretsResident}
	}
	s.locked = false
	return nil
}

// EraseConfidentialConfig zeroes and drops every bound secret.
func (s *MemoryStore) EraseConfidentialConfig() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(OpErase); err != nil {
		return err
	}
	for name, secret := range s.secrets {
		clear(secret)
		delete(s.secrets, name)
	}
	return nil
}

// BindSecret stores a copy of value under name. Secrets can only be bound to
// a locked configuration.
func (s *MemoryStore) BindSecret(name string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.locked {
		return &ConfigError{Op: OpLock, Err: ErrNotLocked}
	}
	if old, ok := s.secrets[name]; ok {
		clear(old)
	}
	s.secrets[name] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStore) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.secrets))
	for name := range s.secrets {
		names = append(names, name)
	}
	sort.Strings(names)
	return Status{
		Locked:             s.locked,
		ConfidentialErased: len(s.secrets) == 0,
		Secrets:            names,
	}
}
