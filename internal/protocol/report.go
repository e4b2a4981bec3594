package protocol

import (
	"encoding/binary"
	"fmt"
)

// MMIO range attribute bits.
const (
	RangeAttrMSIXTable          uint16 = 1 << 0
	RangeAttrMSIXPBA            uint16 = 1 << 1
	RangeAttrIsNonTEEMem        uint16 = 1 << 2
	RangeAttrIsMemAttrUpdatable uint16 = 1 << 3
)

// Interface info bits.
const (
	InfoNoFWUpdate   uint16 = 1 << 0
	InfoDMANoPASID   uint16 = 1 << 1
	InfoDMAWithPASID uint16 = 1 << 2
	InfoATSSupported uint16 = 1 << 3
	InfoPRSSupported uint16 = 1 << 4
)

// MMIORange is one reported MMIO range in 4K pages.
type MMIORange struct {
	FirstPage       uint64
	NumberOfPages   uint32
	RangeAttributes uint16
	RangeID         uint16
}

func (r MMIORange) put(b []byte) {
	binary.LittleEndian.PutUint64(b[0:8], r.FirstPage)
	binary.LittleEndian.PutUint32(b[8:12], r.NumberOfPages)
	binary.LittleEndian.PutUint16(b[12:14], r.RangeAttributes)
	binary.LittleEndian.PutUint16(b[14:16], r.RangeID)
}

func parseMMIORange(b []byte) MMIORange {
	return MMIORange{
		FirstPage:       binary.LittleEndian.Uint64(b[0:8]),
		NumberOfPages:   binary.LittleEndian.Uint32(b[8:12]),
		RangeAttributes: binary.LittleEndian.Uint16(b[12:14]),
		RangeID:         binary.LittleEndian.Uint16(b[14:16]),
	}
}

const reportFixedSize = 16

// InterfaceReport is the TDI report returned in portions by
// GET_DEVICE_INTERFACE_REPORT.
type InterfaceReport struct {
	InterfaceInfo      uint16
	MSIXMessageControl uint16
	LNRControl         uint16
	TPHControl         uint32
	MMIORanges         []MMIORange
	DeviceSpecificInfo []byte
}

// Size returns the encoded report length.
func (r InterfaceReport) Size() int {
	return reportFixedSize + mmioRangeSize*len(r.MMIORanges) + 4 + len(r.DeviceSpecificInfo)
}

// MarshalBinary encodes the full report. Reports larger than the 16-bit
// OFFSET/LENGTH space cannot be transferred and are rejected.
func (r InterfaceReport) MarshalBinary() ([]byte, error) {
	n := r.Size()
	if n > 0xFFFF {
		return nil, fmt.Errorf("%w: report size %d", ErrInvalidLength, n)
	}
	b := make([]byte, n)
	binary.LittleEndian.PutUint16(b[0:2], r.InterfaceInfo)
	binary.LittleEndian.PutUint16(b[4:6], r.MSIXMessageControl)
	binary.LittleEndian.PutUint16(b[6:8], r.LNRControl)
	binary.LittleEndian.PutUint32(b[8:12], r.TPHControl)
	binary.LittleEndian.PutUint32(b[12:16], uint32(len(r.MMIORanges)))
	off := reportFixedSize
	for _, mr := range r.MMIORanges {
		mr.put(b[off : off+mmioRangeSize])
		off += mmioRangeSize
	}
	binary.LittleEndian.PutUint32(b[off:off+4], uint32(len(r.DeviceSpecificInfo)))
	copy(b[off+4:], r.DeviceSpecificInfo)
	return b, nil
}

// UnmarshalBinary decodes a complete report reassembled from its portions.
func (r *InterfaceReport) UnmarshalBinary(b []byte) error {
	if len(b) < reportFixedSize+4 {
		return ErrTruncated
	}
	count := binary.LittleEndian.Uint32(b[12:16])
	rest := b[reportFixedSize:]
	if uint64(count)*mmioRangeSize > uint64(len(rest)) {
		return ErrTruncated
	}
	var ranges []MMIORange
	for i := uint32(0); i < count; i++ {
		ranges = append(ranges, parseMMIORange(rest[:mmioRangeSize]))
		rest = rest[mmioRangeSize:]
	}
	if len(rest) < 4 {
		return ErrTruncated
	}
	infoLen := int(binary.LittleEndian.Uint32(rest[0:4]))
	if err := exact(rest[4:], infoLen); err != nil {
		return err
	}

	*r = InterfaceReport{
		InterfaceInfo:      binary.LittleEndian.Uint16(b[0:2]),
		MSIXMessageControl: binary.LittleEndian.Uint16(b[4:6]),
		LNRControl:         binary.LittleEndian.Uint16(b[6:8]),
		TPHControl:         binary.LittleEndian.Uint32(b[8:12]),
		MMIORanges:         ranges,
	}
	if infoLen > 0 {
		r.DeviceSpecificInfo = append([]byte(nil), rest[4:]...)
	}
	return nil
}
