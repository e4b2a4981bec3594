package device

import (
	"fmt"
	"math"
	"sort"

	"github.com/danmuck/tdispd/internal/protocol"
)

const (
	pageShift = 12
	// maxPage bounds range ends so that page numbers stay addressable in bytes.
	maxPage = math.MaxUint64 >> pageShift
)

// Profile describes what a device function reports about itself and which
// lock options it accepts.
type Profile struct {
	InterfaceInfo      uint16
	MSIXMessageControl uint16
	LNRControl         uint16
	TPHControl         uint32
	MMIORanges         []protocol.MMIORange
	DeviceSpecificInfo []byte

	DSMCaps            uint32
	SupportedLockFlags protocol.LockFlags
	DevAddrWidth       uint8
	NumReqThis         uint8
	NumReqAll          uint8
}

// Validate rejects profiles whose report could not be produced or whose MMIO
// ranges overlap.
func (p Profile) Validate() error {
	if p.DevAddrWidth > 64 {
		return fmt.Errorf("%w: dev addr width %d", ErrInvalidProfile, p.DevAddrWidth)
	}
	ranges := append([]protocol.MMIORange(nil), p.MMIORanges...)
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].FirstPage < ranges[j].FirstPage })
	for i, r := range ranges {
		if r.NumberOfPages == 0 {
			return fmt.Errorf("%w: mmio range %d is empty", ErrInvalidProfile, r.RangeID)
		}
		if r.FirstPage > maxPage-uint64(r.NumberOfPages) {
			return fmt.Errorf("%w: mmio range %d overflows", ErrInvalidProfile, r.RangeID)
		}
		if i > 0 {
			prev := ranges[i-1]
			if prev.FirstPage+uint64(prev.NumberOfPages) > r.FirstPage {
				return fmt.Errorf("%w: mmio ranges %d and %d overlap", ErrInvalidProfile, prev.RangeID, r.RangeID)
			}
		}
	}
	if n := p.report(0).Size(); n > math.MaxUint16 {
		return fmt.Errorf("%w: report size %d", ErrInvalidProfile, n)
	}
	return nil
}

// Report returns the interface report with every range shifted by
// reportingOffset bytes. Offset problems wrap ErrInvalidReportingOffset; a
// range that is out of bounds on its own wraps ErrInvalidProfile.
func (p Profile) Report(reportingOffset uint64) (protocol.InterfaceReport, error) {
	if reportingOffset&(1<<pageShift-1) != 0 {
		return protocol.InterfaceReport{}, fmt.Errorf("%w: %#x not page aligned", ErrInvalidReportingOffset, reportingOffset)
	}
	shift := reportingOffset >> pageShift
	for _, r := range p.MMIORanges {
		if r.FirstPage > maxPage-uint64(r.NumberOfPages) {
			return protocol.InterfaceReport{}, fmt.Errorf("%w: mmio range %d overflows", ErrInvalidProfile, r.RangeID)
		}
		if end := r.FirstPage + uint64(r.NumberOfPages); shift > maxPage-end {
			return protocol.InterfaceReport{}, fmt.Errorf("%w: %#x overflows range %d", ErrInvalidReportingOffset, reportingOffset, r.RangeID)
		}
	}
	return p.report(shift), nil
}

func (p Profile) report(pages uint64) protocol.InterfaceReport {
	var ranges []protocol.MMIORange
	for _, r := range p.MMIORanges {
		r.FirstPage += pages
		ranges = append(ranges, r)
	}
	return protocol.InterfaceReport{
		InterfaceInfo:      p.InterfaceInfo,
		MSIXMessageControl: p.MSIXMessageControl,
		LNRControl:         p.LNRControl,
		TPHControl:         p.TPHControl,
		MMIORanges:         ranges,
		DeviceSpecificInfo: append([]byte(nil), p.DeviceSpecificInfo...),
	}
}
