// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package dumpcore

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// NoteType is the type tag of an ELF note record.
type NoteType uint32

// Xen dump-core note types, see xen/include/public/elfnote.h.
const (
	NoteNone          NoteType = 0x2000000
	NoteHeader        NoteType = 0x2000001
	NoteXenVersion    NoteType = 0x2000002
	NoteFormatVersion NoteType = 0x2000003
)

func (t NoteType) String() string {
	switch t {
	case NoteNone:
		return "DUMPCORE_NONE"
	case NoteHeader:
		return "DUMPCORE_HEADER"
	case NoteXenVersion:
		return "DUMPCORE_XEN_VERSION"
	case NoteFormatVersion:
		return "DUMPCORE_FORMAT_VERSION"
	}
	return fmt.Sprintf("note(%#x)", uint32(t))
}

// xenNoteName is the owner name of every dump-core note.
const xenNoteName = "Xen"

const noteHeaderSize = 12

// NoteSet maps a note type to its descriptor bytes.
type NoteSet map[NoteType][]byte

// Has reports whether a note of type t is present.
func (s NoteSet) Has(t NoteType) bool {
	_, ok := s[t]
	return ok
}

// ParseNotes decodes the records of a note section. Only notes owned by
// "Xen" are kept; records of other owners are skipped. A record running
// past the end of data, or a second Xen note of the same type, is a
// format error.
func ParseNotes(data []byte, order binary.ByteOrder) (NoteSet, error) {
	notes := make(NoteSet)
	off := 0
	for off < len(data) {
		if len(data)-off < noteHeaderSize {
			return nil, fmt.Errorf("%w: note at offset %d: %d trailing bytes, want a %d-byte record header",
				ErrFormat, off, len(data)-off, noteHeaderSize)
		}
		namesz := int(order.Uint32(data[off:]))
		descsz := int(order.Uint32(data[off+4:]))
		typ := NoteType(order.Uint32(data[off+8:]))

		nameStart := off + noteHeaderSize
		descStart := nameStart + align4(namesz)
		descEnd := descStart + descsz
		if namesz < 0 || descsz < 0 || descStart > len(data) || descEnd > len(data) || descEnd < descStart {
			return nil, fmt.Errorf("%w: note %v at offset %d runs past end of section (namesz %d, descsz %d, section %d bytes)",
				ErrFormat, typ, off, namesz, descsz, len(data))
		}

		name := string(bytes.TrimRight(data[nameStart:nameStart+namesz], "\x00"))
		if name == xenNoteName {
			if notes.Has(typ) {
				return nil, fmt.Errorf("%w: duplicate %v note", ErrFormat, typ)
			}
			notes[typ] = data[descStart:descEnd]
		}

		off = descStart + align4(descsz)
	}
	return notes, nil
}

func align4(n int) int {
	return (n + 3) &^ 3
}
