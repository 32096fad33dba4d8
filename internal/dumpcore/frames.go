// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package dumpcore

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/pdiddy/xen2raw/pkg/types"
)

const frameEntrySize = 8

// LoadFrameTable decodes a frame-number section into a table, preserving
// file order.
func LoadFrameTable(data []byte) (types.FrameTable, error) {
	if len(data)%frameEntrySize != 0 {
		return nil, fmt.Errorf("%w: frame section is %d bytes, not a multiple of %d",
			ErrFormat, len(data), frameEntrySize)
	}
	table := make(types.FrameTable, len(data)/frameEntrySize)
	for i := range table {
		table[i] = binary.LittleEndian.Uint64(data[i*frameEntrySize:])
	}
	return table, nil
}

// Stats summarizes table for a given page size. ImageSize saturates at
// the maximum uint64 if the highest frame cannot be addressed.
func Stats(table types.FrameTable, pageSize uint64) types.FrameStats {
	st := types.FrameStats{Slots: len(table)}
	for _, pfn := range table {
		if pfn == types.InvalidFrame {
			st.Invalid++
			continue
		}
		if st.Mapped == 0 || pfn > st.HighestFrame {
			st.HighestFrame = pfn
		}
		st.Mapped++
	}
	if st.Mapped > 0 {
		hi, lo := bits.Mul64(st.HighestFrame+1, pageSize)
		if hi != 0 {
			lo = ^uint64(0)
		}
		st.ImageSize = lo
	}
	return st
}
