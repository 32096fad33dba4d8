// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package dumpcore

import (
	"encoding/binary"
	"fmt"

	"github.com/pdiddy/xen2raw/pkg/types"
)

// HeaderDescSize is the size of the header note descriptor: four
// little-endian uint64 fields.
const HeaderDescSize = 32

// ExtractHeader recovers the dump header from the Xen notes. The marker
// note must be present (its payload is ignored) and the header note must
// carry a 32-byte descriptor with a recognized magic.
func ExtractHeader(notes NoteSet) (types.DumpHeader, error) {
	if !notes.Has(NoteNone) {
		return types.DumpHeader{}, fmt.Errorf("%w: missing %v note", ErrFormat, NoteNone)
	}
	desc, ok := notes[NoteHeader]
	if !ok {
		return types.DumpHeader{}, fmt.Errorf("%w: missing %v note", ErrFormat, NoteHeader)
	}
	if len(desc) != HeaderDescSize {
		return types.DumpHeader{}, fmt.Errorf("%w: %v note is %d bytes, want %d",
			ErrFormat, NoteHeader, len(desc), HeaderDescSize)
	}

	h := types.DumpHeader{
		Magic:     binary.LittleEndian.Uint64(desc[0:8]),
		VCPUCount: binary.LittleEndian.Uint64(desc[8:16]),
		PageCount: binary.LittleEndian.Uint64(desc[16:24]),
		PageSize:  binary.LittleEndian.Uint64(desc[24:32]),
	}
	if h.GuestKind() == "" {
		return types.DumpHeader{}, fmt.Errorf("%w: bad header magic %#x", ErrFormat, h.Magic)
	}
	if h.PageSize == 0 {
		return types.DumpHeader{}, fmt.Errorf("%w: page size is zero", ErrFormat)
	}
	return h, nil
}

// FormatVersion returns the dump-core format version note value, if the
// dump carries one.
func FormatVersion(notes NoteSet) (uint64, bool) {
	desc, ok := notes[NoteFormatVersion]
	if !ok || len(desc) != 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(desc), true
}
