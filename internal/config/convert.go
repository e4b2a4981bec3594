package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/danmuck/tdispd/internal/device"
	"github.com/danmuck/tdispd/internal/protocol"
)

var lockFlagNames = map[string]protocol.LockFlags{
	"no_fw_update":           protocol.LockFlagNoFWUpdate,
	"system_cache_line_size": protocol.LockFlagSystemCacheLineSize,
	"lock_msix":              protocol.LockFlagLockMSIX,
	"bind_p2p":               protocol.LockFlagBindP2P,
	"all_request_redirect":   protocol.LockFlagAllRequestRedirect,
}

var interfaceInfoNames = map[string]uint16{
	"no_fw_update":   protocol.InfoNoFWUpdate,
	"dma_no_pasid":   protocol.InfoDMANoPASID,
	"dma_with_pasid": protocol.InfoDMAWithPASID,
	"ats_supported":  protocol.InfoATSSupported,
	"prs_supported":  protocol.InfoPRSSupported,
}

var rangeAttrNames = map[string]uint16{
	"msix_table":         protocol.RangeAttrMSIXTable,
	"msix_pba":           protocol.RangeAttrMSIXPBA,
	"non_tee_mem":        protocol.RangeAttrIsNonTEEMem,
	"mem_attr_updatable": protocol.RangeAttrIsMemAttrUpdatable,
}

func bits[T ~uint16](names []string, table map[string]T, kind string) (T, error) {
	var out T
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		bit, ok := table[name]
		if !ok {
			return 0, fmt.Errorf("unknown %s %q", kind, raw)
		}
		out |= bit
	}
	return out, nil
}

func (c InterfaceConfig) InterfaceID() protocol.InterfaceID {
	return protocol.InterfaceID{FunctionID: c.FunctionID}
}

// Profile converts the file entry into a device profile.
func (c InterfaceConfig) Profile() (device.Profile, error) {
	info, err := bits(c.InterfaceInfo, interfaceInfoNames, "interface_info bit")
	if err != nil {
		return device.Profile{}, err
	}
	flags, err := bits(c.LockFlags, lockFlagNames, "lock flag")
	if err != nil {
		return device.Profile{}, err
	}
	var dsi []byte
	if s := strings.TrimSpace(c.DeviceSpecificInfo); s != "" {
		if dsi, err = hex.DecodeString(s); err != nil {
			return device.Profile{}, fmt.Errorf("device_specific_info: %w", err)
		}
	}
	ranges := make([]protocol.MMIORange, 0, len(c.MMIORanges))
	for _, r := range c.MMIORanges {
		attrs, err := bits(r.Attributes, rangeAttrNames, "range attribute")
		if err != nil {
			return device.Profile{}, err
		}
		ranges = append(ranges, protocol.MMIORange{
			FirstPage:       r.FirstPage,
			NumberOfPages:   r.Pages,
			RangeAttributes: attrs,
			RangeID:         r.RangeID,
		})
	}
	return device.Profile{
		InterfaceInfo:      info,
		MSIXMessageControl: c.MSIXMessageControl,
		LNRControl:         c.LNRControl,
		TPHControl:         c.TPHControl,
		MMIORanges:         ranges,
		DeviceSpecificInfo: dsi,
		DSMCaps:            c.DSMCaps,
		SupportedLockFlags: flags,
		DevAddrWidth:       c.DevAddrWidth,
		NumReqThis:         c.NumReqThis,
		NumReqAll:          c.NumReqAll,
	}, nil
}
