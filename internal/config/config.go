package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// DeviceConfig is the device profile file: every TDI the daemon hosts.
type DeviceConfig struct {
	Device     string            `toml:"device"`
	Interfaces []InterfaceConfig `toml:"interfaces"`
}

type InterfaceConfig struct {
	Name               string             `toml:"name"`
	FunctionID         uint32             `toml:"function_id"`
	InterfaceInfo      []string           `toml:"interface_info"`
	MSIXMessageControl uint16             `toml:"msix_message_control"`
	LNRControl         uint16             `toml:"lnr_control"`
	TPHControl         uint32             `toml:"tph_control"`
	DeviceSpecificInfo string             `toml:"device_specific_info"`
	DSMCaps            uint32             `toml:"dsm_caps"`
	LockFlags          []string           `toml:"lock_flags"`
	DevAddrWidth       uint8              `toml:"dev_addr_width"`
	NumReqThis         uint8              `toml:"num_req_this"`
	NumReqAll          uint8              `toml:"num_req_all"`
	MMIORanges         []MMIORangeConfig  `toml:"mmio_ranges"`
	Secrets            []SecretSeedConfig `toml:"secrets"`
}

type MMIORangeConfig struct {
	FirstPage  uint64   `toml:"first_page"`
	Pages      uint32   `toml:"pages"`
	RangeID    uint16   `toml:"range_id"`
	Attributes []string `toml:"attributes"`
}

// SecretSeedConfig names confidential material provisioned whenever the
// interface is locked. The value itself is drawn at lock time, never read
// from disk.
type SecretSeedConfig struct {
	Name string `toml:"name"`
	Size int    `toml:"size"`
}

func LoadDeviceConfig(path string) (DeviceConfig, error) {
	var cfg DeviceConfig
	if err := loadToml(path, &cfg); err != nil {
		return DeviceConfig{}, err
	}
	if cfg.Device == "" {
		cfg.Device = "tdisp-device"
	}
	if err := ValidateDeviceConfig(cfg); err != nil {
		return DeviceConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateDeviceConfig(cfg DeviceConfig) error {
	if len(cfg.Interfaces) == 0 {
		return fmt.Errorf("device config has no interfaces")
	}
	seen := make(map[uint32]string, len(cfg.Interfaces))
	for i, iface := range cfg.Interfaces {
		if err := ValidateInterface(iface); err != nil {
			return fmt.Errorf("interface[%d] invalid: %w", i, err)
		}
		if prev, dup := seen[iface.FunctionID]; dup {
			return fmt.Errorf("interface[%d] function_id 0x%08x already used by %q", i, iface.FunctionID, prev)
		}
		seen[iface.FunctionID] = iface.Name
	}
	return nil
}

// ValidateInterface checks one entry, including that it converts to a valid
// device profile.
func ValidateInterface(cfg InterfaceConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("name is required")
	}
	for i, s := range cfg.Secrets {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("secret[%d] name is required", i)
		}
		if s.Size <= 0 || s.Size > 4096 {
			return fmt.Errorf("secret %q size %d out of range", s.Name, s.Size)
		}
	}
	profile, err := cfg.Profile()
	if err != nil {
		return err
	}
	return profile.Validate()
}
